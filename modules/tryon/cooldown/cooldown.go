// Package cooldown enforces the regeneration policy: a minimum interval
// between generations per user and a cap on regenerations of the same
// source image within a window.
package cooldown

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
)

// Policy limits.
type Policy struct {
	Cooldown         time.Duration
	MaxRegenerations int
	Window           time.Duration
}

// Decision for one request. RetryAfter is set when Allowed is false.
type Decision struct {
	Allowed    bool          `json:"allowed"`
	RetryAfter time.Duration `json:"retryAfter"`
	Reason     string        `json:"reason,omitempty"`
	// Generation is the 1-based count of generations of this source in the
	// current window, including this one.
	Generation int64 `json:"generation"`
}

// Store holds the expiring counters.
type Store interface {
	// SetNX sets key for ttl if absent. When present it reports the
	// remaining ttl.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error)
	// Count reads a counter and its remaining ttl; missing keys are zero.
	Count(ctx context.Context, key string) (int64, time.Duration, error)
	// Incr increments a counter, starting its window on first use.
	Incr(ctx context.Context, key string, window time.Duration) (int64, error)
	// Del removes key.
	Del(ctx context.Context, key string) error
	// Decr lowers a live counter by one without going below zero or
	// touching its ttl.
	Decr(ctx context.Context, key string) error
}

type Limiter struct {
	store    Store
	fallback Store
	policy   Policy
	log      *zap.Logger
}

// New builds a limiter. A nil store uses memory only; otherwise store
// errors fall through to an in-memory store.
func New(store Store, policy Policy, log *zap.Logger) *Limiter {
	mem := NewMemoryStore()
	if store == nil {
		store = mem
	}
	return &Limiter{store: store, fallback: mem, policy: policy, log: logger.OrNop(log)}
}

// SourceKey fingerprints a source image.
func SourceKey(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:8])
}

func cooldownKey(userID string) string { return "tryon:cooldown:" + userID }

func regenKey(userID, sourceKey string) string {
	return fmt.Sprintf("tryon:regen:%s:%s", userID, sourceKey)
}

// Allow checks and, when allowed, records one generation.
func (l *Limiter) Allow(ctx context.Context, userID, sourceKey string) (Decision, error) {
	if userID == "" {
		return Decision{Allowed: true}, nil
	}

	rk := regenKey(userID, sourceKey)
	if l.policy.MaxRegenerations > 0 && l.policy.Window > 0 {
		count, ttl, err := l.count(ctx, rk)
		if err != nil {
			return Decision{}, err
		}
		// The first generation of a source is not a regeneration.
		if count >= int64(l.policy.MaxRegenerations)+1 {
			l.log.Warn("🚫 [Cooldown] Regeneration cap reached",
				zap.String("user_id", userID), zap.String("source", sourceKey), zap.Int64("count", count))
			return Decision{
				RetryAfter: ttl,
				Reason:     fmt.Sprintf("regeneration limit of %d per %s reached for this photo", l.policy.MaxRegenerations, l.policy.Window),
				Generation: count,
			}, nil
		}
	}

	if l.policy.Cooldown > 0 {
		ok, ttl, err := l.setNX(ctx, cooldownKey(userID), l.policy.Cooldown)
		if err != nil {
			return Decision{}, err
		}
		if !ok {
			l.log.Info("⏳ [Cooldown] Request inside cooldown window",
				zap.String("user_id", userID), zap.Duration("retry_after", ttl))
			return Decision{
				RetryAfter: ttl,
				Reason:     fmt.Sprintf("please wait %s between generations", l.policy.Cooldown),
			}, nil
		}
	}

	var generation int64 = 1
	if l.policy.Window > 0 {
		n, err := l.incr(ctx, rk, l.policy.Window)
		if err != nil {
			return Decision{}, err
		}
		generation = n
	}
	return Decision{Allowed: true, Generation: generation}, nil
}

// Refund undoes the generation recorded by an allowed Allow call, for
// requests that ended without an image the user could have used.
func (l *Limiter) Refund(ctx context.Context, userID, sourceKey string) error {
	if userID == "" {
		return nil
	}
	if l.policy.Cooldown > 0 {
		if err := l.del(ctx, cooldownKey(userID)); err != nil {
			return err
		}
	}
	if l.policy.Window > 0 {
		if err := l.decr(ctx, regenKey(userID, sourceKey)); err != nil {
			return err
		}
	}
	l.log.Info("↩️  [Cooldown] Generation refunded", zap.String("user_id", userID), zap.String("source", sourceKey))
	return nil
}

func (l *Limiter) degrade(op string, err error) {
	l.log.Warn("⚠️  [Cooldown] Store unavailable, using in-memory counters", zap.String("op", op), zap.Error(err))
}

func (l *Limiter) count(ctx context.Context, key string) (int64, time.Duration, error) {
	n, ttl, err := l.store.Count(ctx, key)
	if err != nil && l.store != l.fallback {
		l.degrade("count", err)
		return l.fallback.Count(ctx, key)
	}
	return n, ttl, err
}

func (l *Limiter) setNX(ctx context.Context, key string, ttl time.Duration) (bool, time.Duration, error) {
	ok, remaining, err := l.store.SetNX(ctx, key, ttl)
	if err != nil && l.store != l.fallback {
		l.degrade("setnx", err)
		return l.fallback.SetNX(ctx, key, ttl)
	}
	return ok, remaining, err
}

func (l *Limiter) incr(ctx context.Context, key string, window time.Duration) (int64, error) {
	n, err := l.store.Incr(ctx, key, window)
	if err != nil && l.store != l.fallback {
		l.degrade("incr", err)
		return l.fallback.Incr(ctx, key, window)
	}
	return n, err
}

func (l *Limiter) del(ctx context.Context, key string) error {
	err := l.store.Del(ctx, key)
	if err != nil && l.store != l.fallback {
		l.degrade("del", err)
		return l.fallback.Del(ctx, key)
	}
	return err
}

func (l *Limiter) decr(ctx context.Context, key string) error {
	err := l.store.Decr(ctx, key)
	if err != nil && l.store != l.fallback {
		l.degrade("decr", err)
		return l.fallback.Decr(ctx, key)
	}
	return err
}
