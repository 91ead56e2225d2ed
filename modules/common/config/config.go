package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config - every environment-driven setting of the try-on server
type Config struct {
	// Redis
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string

	// Gemini API
	GeminiAPIKey        string
	GeminiModel         string
	GeminiAnalysisModel string

	// Synthesis backend: gemini | vertex
	SynthesisBackend string
	VertexProject    string
	VertexLocation   string
	VertexModel      string

	// Vision
	PigoCascadePath     string
	PuplocCascadePath   string
	EmbeddingServiceURL string
	OllamaURL           string
	OllamaModel         string

	// Per-capability timeouts
	SynthesisTimeout time.Duration
	DetectionTimeout time.Duration
	AnalysisTimeout  time.Duration

	// Verification: strict | normal
	VerificationMode string

	// Regeneration policy
	TryOnCooldown           time.Duration
	TryOnMaxRegenerations   int
	TryOnRegenerationWindow time.Duration

	// Queue
	QueueName         string
	WorkerConcurrency int

	// Server
	Port     string
	LogLevel string
}

// LoadConfig - load environment variables (and .env when present)
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  .env file not found, using environment variables")
	}

	cfg, err := FromEnv()
	if err != nil {
		return nil, err
	}

	log.Println("✅ Configuration loaded successfully")
	log.Printf("   Redis: %s:%s (TLS: %v)", cfg.RedisHost, cfg.RedisPort, cfg.RedisUseTLS)
	log.Printf("   Supabase: %s", cfg.SupabaseURL)
	log.Printf("   Synthesis: %s (%s)", cfg.SynthesisBackend, cfg.GeminiModel)
	log.Printf("   Verification: %s, cooldown %s, max regenerations %d/%s",
		cfg.VerificationMode, cfg.TryOnCooldown, cfg.TryOnMaxRegenerations, cfg.TryOnRegenerationWindow)

	return cfg, nil
}

// FromEnv - build and validate a Config from the current process environment
func FromEnv() (*Config, error) {
	cfg := &Config{
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", true),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),

		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash-image"),
		GeminiAnalysisModel: getEnv("GEMINI_ANALYSIS_MODEL", "gemini-2.5-flash"),

		SynthesisBackend: strings.ToLower(getEnv("SYNTHESIS_BACKEND", "gemini")),
		VertexProject:    getEnv("VERTEX_PROJECT", ""),
		VertexLocation:   getEnv("VERTEX_LOCATION", "us-central1"),
		VertexModel:      getEnv("VERTEX_MODEL", "gemini-2.5-flash-image"),

		PigoCascadePath:     getEnv("PIGO_CASCADE_PATH", "cascade/facefinder"),
		PuplocCascadePath:   getEnv("PUPLOC_CASCADE_PATH", "cascade/puploc"),
		EmbeddingServiceURL: getEnv("EMBEDDING_SERVICE_URL", ""),
		OllamaURL:           getEnv("OLLAMA_URL", ""),
		OllamaModel:         getEnv("OLLAMA_MODEL", "llava:13b"),

		SynthesisTimeout: getDuration("SYNTHESIS_TIMEOUT", 120*time.Second),
		DetectionTimeout: getDuration("DETECTION_TIMEOUT", 15*time.Second),
		AnalysisTimeout:  getDuration("ANALYSIS_TIMEOUT", 30*time.Second),

		VerificationMode: strings.ToLower(getEnv("VERIFICATION_MODE", "normal")),

		TryOnCooldown:           getDuration("TRYON_COOLDOWN", 20*time.Second),
		TryOnMaxRegenerations:   getInt("TRYON_MAX_REGENERATIONS", 5),
		TryOnRegenerationWindow: getDuration("TRYON_REGENERATION_WINDOW", time.Hour),

		QueueName:         getEnv("TRYON_QUEUE", "tryon:queue"),
		WorkerConcurrency: getInt("TRYON_WORKER_CONCURRENCY", 2),

		Port:     getEnv("PORT", "8080"),
		LogLevel: strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required")
	}
	switch c.SynthesisBackend {
	case "gemini":
		if c.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required")
		}
	case "vertex":
		if c.VertexProject == "" {
			return fmt.Errorf("VERTEX_PROJECT is required when SYNTHESIS_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("SYNTHESIS_BACKEND must be gemini or vertex, got %q", c.SynthesisBackend)
	}
	if c.VerificationMode != "strict" && c.VerificationMode != "normal" {
		return fmt.Errorf("VERIFICATION_MODE must be strict or normal, got %q", c.VerificationMode)
	}
	if c.SynthesisTimeout <= 0 || c.DetectionTimeout <= 0 || c.AnalysisTimeout <= 0 {
		return fmt.Errorf("capability timeouts must be positive")
	}
	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("TRYON_WORKER_CONCURRENCY must be at least 1")
	}
	if c.TryOnMaxRegenerations < 0 {
		return fmt.Errorf("TRYON_MAX_REGENERATIONS must not be negative")
	}
	return nil
}

// HasSupabase - job persistence is available
func (c *Config) HasSupabase() bool {
	return c.SupabaseURL != "" && c.SupabaseServiceKey != ""
}

// GetRedisAddr - host:port for the Redis client
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}
