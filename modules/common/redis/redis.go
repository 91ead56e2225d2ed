package redis

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/logger"
)

const (
	cancelPrefix = "tryon:cancel:"
	cancelTTL    = 24 * time.Hour
)

// Connect - Redis 연결 생성
func Connect(cfg *config.Config, log *zap.Logger) (*redis.Client, error) {
	log = logger.OrNop(log)
	log.Info("🔌 Connecting to Redis", zap.String("addr", cfg.GetRedisAddr()), zap.Bool("tls", cfg.RedisUseTLS))

	var tlsConfig *tls.Config
	if cfg.RedisUseTLS {
		tlsConfig = &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: true, // managed Redis with self-signed certs
		}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.RedisUsername,
		Password:     cfg.RedisPassword,
		TLSConfig:    tlsConfig,
		DB:           0,
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	log.Info("✅ Redis connected")
	return rdb, nil
}

// Enqueue - Job ID를 큐에 넣고 대기열 길이를 돌려줌
func Enqueue(ctx context.Context, rdb redis.Cmdable, queue, jobID string) (int64, error) {
	n, err := rdb.LPush(ctx, queue, jobID).Result()
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", jobID, err)
	}
	return n, nil
}

// Dequeue - BRPOP으로 다음 Job ID를 기다림. timeout이 지나면 "" 반환
func Dequeue(ctx context.Context, rdb redis.Cmdable, queue string, timeout time.Duration) (string, error) {
	result, err := rdb.BRPop(ctx, timeout, queue).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	// result[0] is the queue name, result[1] the job id
	return result[1], nil
}

func cancelKey(jobID string) string { return cancelPrefix + jobID }

// SetJobCancelled - 취소 플래그 설정
func SetJobCancelled(ctx context.Context, rdb redis.Cmdable, jobID string) error {
	return rdb.Set(ctx, cancelKey(jobID), "1", cancelTTL).Err()
}

// IsJobCancelled - 취소 플래그 확인. Redis 오류는 취소 아님으로 처리
func IsJobCancelled(ctx context.Context, rdb redis.Cmdable, jobID string) bool {
	n, err := rdb.Exists(ctx, cancelKey(jobID)).Result()
	return err == nil && n > 0
}

// ClearJobCancelled - 취소 플래그 삭제
func ClearJobCancelled(ctx context.Context, rdb redis.Cmdable, jobID string) error {
	return rdb.Del(ctx, cancelKey(jobID)).Err()
}
