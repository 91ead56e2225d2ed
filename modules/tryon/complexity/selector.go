// Package complexity scores source-image complexity and chooses the prompt
// verbosity mode from it.
package complexity

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/constraints"
)

// Mode thresholds on the 0-100 complexity score.
const (
	SimplifiedFrom = 70
	BalancedFrom   = 40
)

// Select maps a score to a mode. Out-of-range scores are clamped first.
func Select(score int) constraints.Mode {
	score = Clamp(score)
	switch {
	case score >= SimplifiedFrom:
		return constraints.ModeSimplified
	case score >= BalancedFrom:
		return constraints.ModeBalanced
	default:
		return constraints.ModeFull
	}
}

// Clamp limits a score to 0-100.
func Clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// Scorer rates an image from 0 (plain) to 100 (visually busy).
type Scorer interface {
	Score(ctx context.Context, image []byte) (int, error)
}

// Decision records how the mode was chosen.
type Decision struct {
	Mode   constraints.Mode `json:"mode"`
	Score  int              `json:"score"`
	Scored bool             `json:"scored"`
	Reason string           `json:"reason"`
}

// Decide combines a scoring outcome with the caller override. A failed
// score degrades to balanced instead of failing the request.
func Decide(score int, scoreErr error, forceSimplified bool) Decision {
	switch {
	case forceSimplified:
		return Decision{Mode: constraints.ModeSimplified, Score: Clamp(score), Scored: scoreErr == nil, Reason: "forced"}
	case scoreErr != nil:
		return Decision{Mode: constraints.ModeBalanced, Reason: "scorer unavailable: " + scoreErr.Error()}
	default:
		return Decision{Mode: Select(score), Score: Clamp(score), Scored: true, Reason: "score"}
	}
}

// Selector wraps a Scorer with a timeout and logs every decision.
type Selector struct {
	scorer  Scorer
	timeout time.Duration
	log     *zap.Logger
}

func NewSelector(scorer Scorer, timeout time.Duration, log *zap.Logger) *Selector {
	return &Selector{scorer: scorer, timeout: timeout, log: logger.OrNop(log)}
}

// Score runs the scorer under the selector's timeout.
func (s *Selector) Score(ctx context.Context, image []byte) (int, error) {
	if s.scorer == nil {
		return 0, fmt.Errorf("no complexity scorer configured")
	}
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	score, err := s.scorer.Score(ctx, image)
	if err != nil {
		return 0, fmt.Errorf("complexity score: %w", err)
	}
	return Clamp(score), nil
}

// Choose records a decision through the logger and the event stream.
func (s *Selector) Choose(score int, scoreErr error, forceSimplified bool, events *telemetry.Scoped) Decision {
	d := Decide(score, scoreErr, forceSimplified)
	s.log.Info("🧮 [Complexity] Prompt mode selected",
		zap.String("mode", string(d.Mode)),
		zap.Int("score", d.Score),
		zap.String("reason", d.Reason))
	if events != nil {
		events.Event("mode_selected", map[string]interface{}{
			"mode":   string(d.Mode),
			"score":  d.Score,
			"scored": d.Scored,
			"reason": d.Reason,
		})
	}
	return d
}
