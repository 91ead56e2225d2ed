package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quel-tryon-server/modules/bootstrap"
	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/database"
	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/redis"
	"quel-tryon-server/modules/common/storage"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/progress"
	"quel-tryon-server/modules/tryon"
	"quel-tryon-server/modules/tryon/cooldown"
)

const shutdownTimeout = 30 * time.Second

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// 헬스 체크 엔드포인트
func healthCheck(jobsEnabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":  "healthy",
			"service": "quel-tryon-server",
			"jobs":    jobsEnabled,
		})
	}
}

// jobBackends - Redis + Supabase 둘 다 있어야 비동기 Job 사용 가능
func jobBackends(cfg *config.Config, rdb *goredis.Client, log *zap.Logger) (tryon.JobStore, tryon.BlobStore, tryon.Queue) {
	if rdb == nil || !cfg.HasSupabase() {
		log.Warn("⚠️  Async jobs disabled (Redis or Supabase not configured)")
		return nil, nil, nil
	}
	db, err := database.NewClient(cfg, log)
	if err != nil {
		log.Warn("⚠️  Async jobs disabled, Supabase client failed", zap.Error(err))
		return nil, nil, nil
	}
	return db, storage.NewClient(cfg, log), tryon.NewRedisQueue(rdb, cfg.QueueName)
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}
	zlog, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("❌ Failed to create logger: %v", err)
	}
	defer zlog.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 진행상황 허브 + 정리 루틴
	hub := progress.NewHub(zlog)
	hub.StartCleanup(ctx)
	events := telemetry.Multi(telemetry.NewZapSink(zlog), hub)

	engine, err := bootstrap.Build(ctx, cfg, events, zlog)
	if err != nil {
		zlog.Fatal("❌ Failed to build pipeline", zap.Error(err))
	}
	defer engine.Close()

	// Redis 없으면 메모리 cooldown + 동기 API만
	var store cooldown.Store
	rdb, err := redis.Connect(cfg, zlog)
	if err != nil {
		zlog.Warn("⚠️  Redis unavailable, cooldown kept in memory", zap.Error(err))
		rdb = nil
	} else {
		defer rdb.Close()
		store = cooldown.NewRedisStore(rdb)
	}
	limiter := cooldown.New(store, cooldown.Policy{
		Cooldown:         cfg.TryOnCooldown,
		MaxRegenerations: cfg.TryOnMaxRegenerations,
		Window:           cfg.TryOnRegenerationWindow,
	}, zlog)

	jobs, blobs, queue := jobBackends(cfg, rdb, zlog)
	svc := tryon.NewService(tryon.Deps{
		Generator: engine.Pipeline,
		Limiter:   limiter,
		Catalog:   engine.Catalog,
		Composer:  engine.Composer,
		Jobs:      jobs,
		Blobs:     blobs,
		Queue:     queue,
		Events:    events,
		Logger:    zlog,
	})

	// Redis Queue Worker 시작 (백그라운드)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		if err := tryon.NewWorker(svc, cfg.WorkerConcurrency).Run(ctx); err != nil && !errors.Is(err, tryon.ErrJobsDisabled) {
			zlog.Error("❌ Worker stopped", zap.Error(err))
		}
	}()

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)

	r.HandleFunc("/", healthCheck(svc.JobsEnabled())).Methods("GET")
	r.HandleFunc("/health", healthCheck(svc.JobsEnabled())).Methods("GET")
	r.HandleFunc("/ws/tryon", hub.ServeWS)
	r.HandleFunc("/progress/{jobId}", hub.SessionHandler).Methods("GET")
	r.HandleFunc("/metrics", hub.MetricsHandler).Methods("GET")
	r.HandleFunc("/admin/cleanup", hub.CleanupHandler).Methods("POST")
	tryon.NewHandler(svc).RegisterRoutes(r)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	zlog.Info("🚀 Quel Try-On Server starting", zap.String("port", cfg.Port))
	zlog.Info("📡 Progress endpoint: ws://localhost:" + cfg.Port + "/ws/tryon?job=<jobId>")
	zlog.Info("❤️  Health check: http://localhost:" + cfg.Port + "/health")

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("❌ Server failed", zap.Error(err))
		}
		stop()
	case <-ctx.Done():
		zlog.Info("🛑 Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Warn("⚠️  HTTP shutdown incomplete", zap.Error(err))
	}
	<-workerDone
	hub.Close()
	zlog.Info("✅ Server stopped")
}
