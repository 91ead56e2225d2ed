// Package synthesis sends a composed instruction plus the source and garment
// images to an image generation engine.
package synthesis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/tryonerr"
)

const stage = "synthesis"

// Engine generates one image from an instruction and two references:
// the person (Image 1) and the garment (Image 2).
type Engine interface {
	Name() string
	Generate(ctx context.Context, prompt string, source, garment []byte) ([]byte, error)
}

// Invoker makes exactly one engine call per Invoke. Retrying is the
// verifier's decision, never the invoker's.
type Invoker struct {
	engine  Engine
	timeout time.Duration
	log     *zap.Logger
}

func NewInvoker(engine Engine, timeout time.Duration, log *zap.Logger) *Invoker {
	return &Invoker{engine: engine, timeout: timeout, log: logger.OrNop(log)}
}

// Invoke runs the engine under the invoker's timeout. Every failure,
// including an empty image, comes back as SynthesisFailed, except a caller
// cancel which is returned as context.Canceled.
func (i *Invoker) Invoke(ctx context.Context, prompt string, source, garment []byte, events *telemetry.Scoped) ([]byte, error) {
	if i.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	emit := func(name string, fields map[string]interface{}) {
		if events != nil {
			events.Event(name, fields)
		}
	}

	emit("synthesis_started", map[string]interface{}{
		"engine":      i.engine.Name(),
		"promptChars": len(prompt),
	})
	i.log.Info("🎨 [Synthesis] Calling engine",
		zap.String("engine", i.engine.Name()), zap.Int("prompt_chars", len(prompt)))

	start := time.Now()
	out, err := i.engine.Generate(ctx, prompt, source, garment)
	elapsed := time.Since(start)

	if err == nil && len(out) == 0 {
		err = errors.New("engine returned no image")
	}
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		i.log.Info("🛑 [Synthesis] Engine call cancelled by caller",
			zap.String("engine", i.engine.Name()), zap.Duration("elapsed", elapsed))
		emit("synthesis_cancelled", map[string]interface{}{
			"engine":    i.engine.Name(),
			"elapsedMs": elapsed.Milliseconds(),
		})
		return nil, fmt.Errorf("synthesis aborted: %w", ctx.Err())
	}
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", i.timeout, err)
		}
		i.log.Error("❌ [Synthesis] Engine call failed",
			zap.String("engine", i.engine.Name()), zap.Duration("elapsed", elapsed), zap.Error(err))
		emit("synthesis_failed", map[string]interface{}{
			"engine":    i.engine.Name(),
			"elapsedMs": elapsed.Milliseconds(),
			"error":     err.Error(),
		})
		return nil, tryonerr.Wrap(tryonerr.SynthesisFailed, stage, err)
	}

	i.log.Info("✅ [Synthesis] Received image",
		zap.String("engine", i.engine.Name()), zap.Int("bytes", len(out)), zap.Duration("elapsed", elapsed))
	emit("synthesis_completed", map[string]interface{}{
		"engine":    i.engine.Name(),
		"elapsedMs": elapsed.Milliseconds(),
		"bytes":     len(out),
	})
	return out, nil
}
