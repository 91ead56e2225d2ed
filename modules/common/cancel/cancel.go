// Package cancel turns an externally set cancellation flag into context
// cancellation for a running job.
package cancel

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
)

// DefaultInterval is how often the flag is polled.
const DefaultInterval = time.Second

// Checker reports whether a job was cancelled by the user.
type Checker interface {
	IsJobCancelled(ctx context.Context, jobID string) bool
}

// CheckerFunc adapts a function.
type CheckerFunc func(ctx context.Context, jobID string) bool

func (f CheckerFunc) IsJobCancelled(ctx context.Context, jobID string) bool { return f(ctx, jobID) }

// Watch - 취소 플래그를 감시하다가 설정되면 반환된 context를 취소
type Watch struct {
	cancelled atomic.Bool
	stop      context.CancelFunc
	done      chan struct{}
}

// Start polls checker for jobID every interval. The returned context is
// cancelled when the flag appears or when Stop is called.
func Start(parent context.Context, checker Checker, jobID string, interval time.Duration, log *zap.Logger) (context.Context, *Watch) {
	log = logger.OrNop(log)
	if interval <= 0 {
		interval = DefaultInterval
	}
	ctx, cancelFn := context.WithCancel(parent)
	w := &Watch{stop: cancelFn, done: make(chan struct{})}

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if checker.IsJobCancelled(ctx, jobID) {
					log.Info("🛑 [Cancel] Job cancelled by user", zap.String("job_id", jobID))
					w.cancelled.Store(true)
					cancelFn()
					return
				}
			}
		}
	}()
	return ctx, w
}

// Cancelled reports whether the flag was observed.
func (w *Watch) Cancelled() bool { return w.cancelled.Load() }

// Stop ends the watch and waits for the poller to exit.
func (w *Watch) Stop() {
	w.stop()
	<-w.done
}
