package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("SYNTHESIS_BACKEND", "")
	t.Setenv("VERIFICATION_MODE", "")
	t.Setenv("SYNTHESIS_TIMEOUT", "")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "gemini", cfg.SynthesisBackend)
	assert.Equal(t, "gemini-2.5-flash-image", cfg.GeminiModel)
	assert.Equal(t, "gemini-2.5-flash", cfg.GeminiAnalysisModel)
	assert.Equal(t, "normal", cfg.VerificationMode)
	assert.Equal(t, 120*time.Second, cfg.SynthesisTimeout)
	assert.Equal(t, "tryon:queue", cfg.QueueName)
}

func TestFromEnvParsesOverrides(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")
	t.Setenv("VERIFICATION_MODE", "STRICT")
	t.Setenv("DETECTION_TIMEOUT", "3s")
	t.Setenv("TRYON_MAX_REGENERATIONS", "2")
	t.Setenv("REDIS_USE_TLS", "false")

	cfg, err := FromEnv()
	require.NoError(t, err)

	assert.Equal(t, "strict", cfg.VerificationMode)
	assert.Equal(t, 3*time.Second, cfg.DetectionTimeout)
	assert.Equal(t, 2, cfg.TryOnMaxRegenerations)
	assert.False(t, cfg.RedisUseTLS)
}

func TestFromEnvRejectsInvalidSettings(t *testing.T) {
	cases := map[string]map[string]string{
		"missing gemini key": {"GEMINI_API_KEY": "", "SYNTHESIS_BACKEND": "gemini"},
		"vertex without project": {
			"GEMINI_API_KEY": "k", "SYNTHESIS_BACKEND": "vertex", "VERTEX_PROJECT": "",
		},
		"unknown backend":    {"GEMINI_API_KEY": "k", "SYNTHESIS_BACKEND": "dalle"},
		"unknown verifier":   {"GEMINI_API_KEY": "k", "VERIFICATION_MODE": "lenient"},
		"negative regen cap": {"GEMINI_API_KEY": "k", "TRYON_MAX_REGENERATIONS": "-1"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := FromEnv()
			assert.Error(t, err)
		})
	}
}
