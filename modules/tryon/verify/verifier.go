package verify

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/geometry"
	"quel-tryon-server/modules/tryon/tryonerr"
	"quel-tryon-server/modules/tryon/vision"
)

const stage = "verify"

// faceMargin grows face boxes before cropping for the embedder.
const faceMargin = 0.1

// Reference is the decoded source and its detected face.
type Reference struct {
	Image image.Image
	Face  vision.Face
}

// GenerateFunc produces the image for attempt (1-based). Attempts after the
// first are expected to use a stricter compilation; retry is the failure
// kind behind the previous RETRY verdict, empty on the first attempt.
type GenerateFunc func(ctx context.Context, attempt int, retry tryonerr.Kind) ([]byte, error)

// AttemptRecord is what happened on one attempt.
type AttemptRecord struct {
	Attempt   int           `json:"attempt"`
	Scores    Scores        `json:"scores"`
	Verdict   Verdict       `json:"verdict"`
	Result    Result        `json:"result"`
	Elapsed   time.Duration `json:"elapsed"`
	Generated bool          `json:"generated"`
	Err       string        `json:"error,omitempty"`
}

// Outcome of Run. Image and Scores describe the last generated image.
type Outcome struct {
	Image    []byte          `json:"-"`
	Scores   Scores          `json:"scores"`
	Attempts int             `json:"attempts"`
	History  []AttemptRecord `json:"history"`
}

type Verifier struct {
	detector vision.FaceDetector
	embedder vision.Embedder
	garment  vision.GarmentChecker
	mode     Mode
	timeout  time.Duration
	log      *zap.Logger
}

func New(detector vision.FaceDetector, embedder vision.Embedder, garment vision.GarmentChecker, mode Mode, timeout time.Duration, log *zap.Logger) *Verifier {
	if garment == nil {
		garment = vision.AlwaysApplied{}
	}
	return &Verifier{
		detector: detector,
		embedder: embedder,
		garment:  garment,
		mode:     mode,
		timeout:  timeout,
		log:      logger.OrNop(log),
	}
}

// WithMode returns a copy using another acceptance threshold.
func (v *Verifier) WithMode(mode Mode) *Verifier {
	c := *v
	c.mode = mode
	return &c
}

func (v *Verifier) Mode() Mode { return v.mode }

// Check scores one generated image against the reference. Face detection
// plus embedding and the garment check run concurrently. Detector or
// embedder failures are VerificationUnavailable; a failing garment check is
// logged and treated as applied.
func (v *Verifier) Check(ctx context.Context, ref Reference, output, garment []byte) (Scores, error) {
	if v.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.timeout)
		defer cancel()
	}

	out, err := vision.Decode(output)
	if err != nil {
		return Scores{}, tryonerr.Wrap(tryonerr.VerificationUnavailable, stage, err)
	}

	var scores Scores
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		face, found, err := v.detector.Detect(gctx, out)
		if err != nil {
			return tryonerr.Wrap(tryonerr.VerificationUnavailable, stage, err)
		}
		if !found {
			return nil
		}
		sim, err := v.embedder.Similarity(gctx,
			vision.CropFace(ref.Image, ref.Face.Box, faceMargin),
			vision.CropFace(out, face.Box, faceMargin))
		if err != nil {
			return tryonerr.Wrap(tryonerr.VerificationUnavailable, stage, err)
		}
		scores.FaceFound = true
		scores.Similarity = sim
		scores.Alignment = geometry.Alignment(ref.Face.Landmarks, face.Landmarks)
		return nil
	})

	var applied bool
	var reason string
	g.Go(func() error {
		ok, why, err := v.garment.GarmentApplied(gctx, output, garment)
		if err != nil {
			v.log.Warn("⚠️  [Verify] Garment check failed, assuming applied", zap.Error(err))
			ok, why = true, "garment check unavailable"
		}
		applied, reason = ok, why
		return nil
	})

	if err := g.Wait(); err != nil {
		return Scores{}, err
	}
	scores.GarmentApplied = applied
	scores.GarmentReason = reason
	return scores, nil
}

// Run drives PENDING -> ACCEPTED | RETRY | REJECTED for up to MaxAttempts
// generations. The returned Outcome is populated even on error.
func (v *Verifier) Run(ctx context.Context, ref Reference, garment []byte, generate GenerateFunc, events *telemetry.Scoped) (Outcome, error) {
	var outcome Outcome
	var retry tryonerr.Kind

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		start := time.Now()
		rec := AttemptRecord{Attempt: attempt}
		outcome.Attempts = attempt

		img, err := generate(ctx, attempt, retry)
		if err != nil {
			rec.Err = err.Error()
			rec.Elapsed = time.Since(start)
			outcome.History = append(outcome.History, rec)
			return outcome, err
		}
		rec.Generated = true
		outcome.Image = img

		scores, err := v.Check(ctx, ref, img, garment)
		if err != nil {
			rec.Err = err.Error()
			rec.Elapsed = time.Since(start)
			outcome.History = append(outcome.History, rec)
			v.log.Error("❌ [Verify] Verification unavailable", zap.Int("attempt", attempt), zap.Error(err))
			return outcome, err
		}

		verdict := Classify(v.mode, scores, attempt)
		rec.Scores, rec.Verdict, rec.Elapsed = scores, verdict, time.Since(start)
		rec.Result = Summarize(scores, verdict)
		outcome.Scores = scores
		outcome.History = append(outcome.History, rec)
		v.transition(attempt, scores, verdict, events)

		switch verdict.State {
		case StateAccepted:
			return outcome, nil
		case StateRejected:
			return outcome, tryonerr.Rejected(verdict.Kind, verdict.Reason, attempt, scores.Similarity, scores.Alignment)
		}
		retry = verdict.Kind
	}

	// Classify rejects on the last attempt, so this is unreachable in practice.
	last := outcome.Scores
	return outcome, tryonerr.Rejected(tryonerr.IdentityRejected, "retries exhausted", outcome.Attempts, last.Similarity, last.Alignment)
}

func (v *Verifier) transition(attempt int, s Scores, verdict Verdict, events *telemetry.Scoped) {
	fields := []zap.Field{
		zap.Int("attempt", attempt),
		zap.String("state", string(verdict.State)),
		zap.Float64("similarity", s.Similarity),
		zap.Float64("alignment", s.Alignment),
		zap.Bool("garment_applied", s.GarmentApplied),
		zap.String("reason", verdict.Reason),
	}
	switch verdict.State {
	case StateAccepted:
		v.log.Info("✅ [Verify] PENDING -> ACCEPTED", fields...)
	case StateRetry:
		v.log.Warn("🔁 [Verify] PENDING -> RETRY", fields...)
	default:
		v.log.Warn("🛑 [Verify] PENDING -> REJECTED", fields...)
	}

	if events != nil {
		events.Event("verification_transition", map[string]interface{}{
			"attempt":        attempt,
			"from":           string(StatePending),
			"to":             string(verdict.State),
			"mode":           string(v.mode),
			"similarity":     s.Similarity,
			"alignment":      s.Alignment,
			"faceFound":      s.FaceFound,
			"garmentApplied": s.GarmentApplied,
			"reason":         verdict.Reason,
		})
	}
}
