// Package pipeline runs one virtual try-on request end to end: analysis,
// geometry lock, mode selection, preset resolution, bounded
// compose/synthesize/verify attempts and face reintegration.
package pipeline

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/complexity"
	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/geometry"
	"quel-tryon-server/modules/tryon/reintegrate"
	"quel-tryon-server/modules/tryon/synthesis"
	"quel-tryon-server/modules/tryon/tryonerr"
	"quel-tryon-server/modules/tryon/verify"
	"quel-tryon-server/modules/tryon/vision"
)

// Options for one request.
type Options struct {
	RequestID       string `json:"requestId,omitempty"`
	PresetID        string `json:"presetId,omitempty"`
	SceneHint       string `json:"sceneHint,omitempty"`
	ForceSimplified bool   `json:"forceSimplified,omitempty"`
	StyleNotes      string `json:"styleNotes,omitempty"`
	Strict          bool   `json:"strict,omitempty"`
	IdentitySafe    bool   `json:"identitySafe,omitempty"`
}

// Verification summarizes the accepted attempt.
type Verification struct {
	SimilarityScore float64 `json:"similarityScore"`
	AlignmentScore  float64 `json:"alignmentScore"`
	Attempts        int     `json:"attempts"`
	Mode            string  `json:"mode"`
}

// Result of a successful request. On failure GenerateTryOn still returns a
// Result carrying Stages and Warnings for diagnostics, with Image nil.
type Result struct {
	RequestID       string                   `json:"requestId"`
	Image           []byte                   `json:"-"`
	PresetUsed      string                   `json:"presetUsed"`
	SelectionMethod composer.SelectionMethod `json:"selectionMethod"`
	PromptMode      constraints.Mode         `json:"promptMode"`
	Complexity      complexity.Decision      `json:"complexity"`
	Verification    Verification             `json:"verification"`
	Reintegration   *reintegrate.Result      `json:"reintegration,omitempty"`
	Stages          []Stage                  `json:"stages"`
	Warnings        []string                 `json:"warnings,omitempty"`
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Detector      vision.FaceDetector
	Selector      *complexity.Selector
	Composer      *composer.Composer
	Invoker       *synthesis.Invoker
	Verifier      *verify.Verifier
	Reintegrator  *reintegrate.Reintegrator
	DetectTimeout time.Duration
	Events        telemetry.Emitter
	Logger        *zap.Logger
}

type Pipeline struct {
	detector      vision.FaceDetector
	selector      *complexity.Selector
	composer      *composer.Composer
	invoker       *synthesis.Invoker
	verifier      *verify.Verifier
	reintegrator  *reintegrate.Reintegrator
	detectTimeout time.Duration
	events        telemetry.Emitter
	log           *zap.Logger
}

func New(d Deps) *Pipeline {
	return &Pipeline{
		detector:      d.Detector,
		selector:      d.Selector,
		composer:      d.Composer,
		invoker:       d.Invoker,
		verifier:      d.Verifier,
		reintegrator:  d.Reintegrator,
		detectTimeout: d.DetectTimeout,
		events:        telemetry.OrNop(d.Events),
		log:           logger.OrNop(d.Logger),
	}
}

// analysis is the outcome of the parallel source analysis.
type analysis struct {
	face     vision.Face
	found    bool
	score    int
	scoreErr error
}

// GenerateTryOn dresses the person in source with garment.
func (p *Pipeline) GenerateTryOn(ctx context.Context, source, garment []byte, opts Options) (*Result, error) {
	if opts.RequestID == "" {
		opts.RequestID = uuid.New().String()
	}
	res := &Result{RequestID: opts.RequestID}
	tr := &trace{}
	events := telemetry.NewScoped(p.events, opts.RequestID, "analysis")
	log := p.log.With(zap.String("request_id", opts.RequestID))

	fail := func(err error) (*Result, error) {
		res.Stages = tr.stages
		kind, _ := tryonerr.KindOf(err)
		log.Error("❌ [Pipeline] Try-on failed", zap.String("kind", string(kind)), zap.Error(err))
		events.Stage("pipeline").Event("pipeline_failed", map[string]interface{}{
			"kind":  string(kind),
			"error": err.Error(),
		})
		return res, err
	}

	log.Info("🚀 [Pipeline] Try-on started",
		zap.String("preset_id", opts.PresetID),
		zap.String("scene_hint", opts.SceneHint),
		zap.Bool("strict", opts.Strict),
		zap.Bool("identity_safe", opts.IdentitySafe))

	// 1. analysis
	start := time.Now()
	src, err := vision.Decode(source)
	if err != nil {
		tr.add("analysis", StatusFail, start, map[string]interface{}{"error": err.Error()})
		return fail(tryonerr.Wrap(tryonerr.InvalidGeometry, "analysis", err))
	}
	if _, err := vision.Decode(garment); err != nil {
		tr.add("analysis", StatusFail, start, map[string]interface{}{"error": "garment: " + err.Error()})
		return fail(tryonerr.Wrap(tryonerr.InvalidGeometry, "analysis", fmt.Errorf("garment image: %w", err)))
	}

	an, err := p.analyze(ctx, src, source)
	if err != nil {
		tr.add("analysis", StatusFail, start, map[string]interface{}{"error": err.Error()})
		return fail(err)
	}
	if !an.found {
		tr.add("analysis", StatusFail, start, map[string]interface{}{"faceFound": false})
		return fail(tryonerr.New(tryonerr.NoFaceDetected, "analysis", "no face detected in source image"))
	}
	if opts.IdentitySafe && !an.face.EyesLocated {
		tr.add("analysis", StatusFail, start, map[string]interface{}{"faceFound": true, "eyesLocated": false})
		return fail(tryonerr.New(tryonerr.NoFaceDetected, "analysis", "eye region could not be located for identity-safe mode"))
	}
	tr.add("analysis", StatusPass, start, map[string]interface{}{
		"faceBox":         an.face.Box,
		"faceConfidence":  an.face.Confidence,
		"eyesLocated":     an.face.EyesLocated,
		"complexityScore": an.score,
	})

	// 2. geometry
	start = time.Now()
	b := src.Bounds()
	ex, err := geometry.ExtractWithFaceWidth(b.Dx(), b.Dy(), an.face.Box, an.face.Width())
	if err != nil {
		tr.add("geometry", StatusFail, start, map[string]interface{}{"error": err.Error()})
		return fail(err)
	}
	tr.add("geometry", StatusPass, start, map[string]interface{}{
		"bodyType":      ex.Proportions.BodyType,
		"aspectUnknown": ex.Proportions.AspectUnknown,
		"shoulderWidth": ex.Proportions.ShoulderWidth,
		"torsoLength":   ex.Proportions.TorsoLength,
		"lockedBox":     ex.LockedBox,
	})
	if ex.Proportions.AspectUnknown {
		res.Warnings = append(res.Warnings, "face width could not be measured, assuming average build")
	}
	events.Stage("geometry").Event("geometry_locked", map[string]interface{}{
		"bodyType":  string(ex.Proportions.BodyType),
		"lockedBox": ex.LockedBox,
	})

	// 3. mode
	start = time.Now()
	decision := p.selector.Choose(an.score, an.scoreErr, opts.ForceSimplified, events.Stage("mode"))
	res.Complexity = decision
	res.PromptMode = decision.Mode
	if an.scoreErr != nil {
		res.Warnings = append(res.Warnings, "complexity scoring unavailable, using balanced mode")
	}
	tr.add("mode", StatusPass, start, map[string]interface{}{
		"mode":   decision.Mode,
		"score":  decision.Score,
		"reason": decision.Reason,
	})

	// 4. preset, once per request
	start = time.Now()
	sel := p.composer.Resolve(ctx, opts.PresetID, opts.SceneHint, events.Stage("compose"))
	res.PresetUsed = sel.PresetID()
	res.SelectionMethod = sel.Method
	res.Warnings = append(res.Warnings, sel.Warnings...)
	presetStatus := StatusPass
	if sel.Method == composer.SelectionNone {
		presetStatus = StatusSkip
	}
	tr.add("preset", presetStatus, start, map[string]interface{}{
		"presetUsed":      sel.PresetID(),
		"selectionMethod": sel.Method,
	})

	// 5. compose / synthesize / verify
	verifier := p.verifier
	if opts.Strict {
		verifier = verifier.WithMode(verify.ModeStrict)
	}
	generate := func(ctx context.Context, attempt int, retry tryonerr.Kind) ([]byte, error) {
		start := time.Now()
		comp := p.composer.Compose(composer.Request{
			Proportions:  ex.Proportions,
			Landmarks:    an.face.Landmarks,
			Mode:         decision.Mode,
			Tightening:   attempt - 1,
			Retry:        retry,
			IdentitySafe: opts.IdentitySafe,
			StyleNotes:   opts.StyleNotes,
		}, sel)
		tr.add("compose", StatusPass, start, map[string]interface{}{
			"attempt":     attempt,
			"tightening":  attempt - 1,
			"retryCause":  retry,
			"promptChars": len(comp.Prompt),
			"sections":    comp.Sections,
		})

		start = time.Now()
		img, err := p.invoker.Invoke(ctx, comp.Prompt, source, garment, events.Stage("synthesis"))
		if err != nil {
			tr.add("synthesis", StatusFail, start, map[string]interface{}{"attempt": attempt, "error": err.Error()})
			return nil, err
		}
		tr.add("synthesis", StatusPass, start, map[string]interface{}{"attempt": attempt, "bytes": len(img)})
		return img, nil
	}

	ref := verify.Reference{Image: src, Face: an.face}
	outcome, err := verifier.Run(ctx, ref, garment, generate, events.Stage("verify"))
	for _, rec := range outcome.History {
		if !rec.Generated {
			continue
		}
		status := StatusFail
		switch rec.Verdict.State {
		case verify.StateAccepted:
			status = StatusPass
		case verify.StateRetry:
			status = StatusRetry
		}
		data := map[string]interface{}{
			"attempt":        rec.Attempt,
			"state":          rec.Verdict.State,
			"similarity":     rec.Scores.Similarity,
			"alignment":      rec.Scores.Alignment,
			"garmentApplied": rec.Scores.GarmentApplied,
			"reason":         rec.Verdict.Reason,
		}
		if rec.Err != "" {
			data["error"] = rec.Err
		}
		tr.stages = append(tr.stages, Stage{
			Stage:  len(tr.stages) + 1,
			Name:   "verify",
			Status: status,
			TimeMs: rec.Elapsed.Milliseconds(),
			Data:   data,
		})
	}
	res.Verification = Verification{
		SimilarityScore: outcome.Scores.Similarity,
		AlignmentScore:  outcome.Scores.Alignment,
		Attempts:        outcome.Attempts,
		Mode:            string(verifier.Mode()),
	}
	if err != nil {
		return fail(err)
	}

	// 6. reintegration
	start = time.Now()
	img := outcome.Image
	if p.reintegrator != nil && outcome.Scores.Alignment < reintegrate.AlignmentThreshold {
		out, rr := p.reintegrator.Reintegrate(ctx, src, an.face, img, outcome.Scores.Alignment, events.Stage("reintegrate"))
		res.Reintegration = &rr
		status := StatusPass
		if !rr.Success {
			status = StatusFail
			res.Warnings = append(res.Warnings, "face reintegration skipped: "+rr.Reason)
		}
		img = out
		tr.add("reintegrate", status, start, map[string]interface{}{
			"transform":    rr.Transform,
			"colorMatched": rr.ColorMatched,
			"reason":       rr.Reason,
		})
	} else {
		tr.add("reintegrate", StatusSkip, start, map[string]interface{}{"alignment": outcome.Scores.Alignment})
	}

	res.Image = img
	res.Stages = tr.stages
	log.Info("✅ [Pipeline] Try-on completed",
		zap.String("preset_used", res.PresetUsed),
		zap.String("mode", string(res.PromptMode)),
		zap.Int("attempts", res.Verification.Attempts),
		zap.Float64("similarity", res.Verification.SimilarityScore),
		zap.Float64("alignment", res.Verification.AlignmentScore))
	events.Stage("pipeline").Event("pipeline_completed", map[string]interface{}{
		"presetUsed":      res.PresetUsed,
		"selectionMethod": string(res.SelectionMethod),
		"promptMode":      string(res.PromptMode),
		"attempts":        res.Verification.Attempts,
		"similarity":      res.Verification.SimilarityScore,
		"alignment":       res.Verification.AlignmentScore,
	})
	return res, nil
}

// analyze detects the source face and scores complexity concurrently. Only
// a detector failure is an error; scoring problems are carried in the
// result.
func (p *Pipeline) analyze(ctx context.Context, src image.Image, raw []byte) (analysis, error) {
	var an analysis
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		dctx := gctx
		if p.detectTimeout > 0 {
			var cancel context.CancelFunc
			dctx, cancel = context.WithTimeout(gctx, p.detectTimeout)
			defer cancel()
		}
		face, found, err := p.detector.Detect(dctx, src)
		if err != nil {
			return tryonerr.Wrap(tryonerr.VerificationUnavailable, "analysis", fmt.Errorf("source face detection: %w", err))
		}
		an.face, an.found = face, found
		return nil
	})

	var score int
	var scoreErr error
	g.Go(func() error {
		score, scoreErr = p.selector.Score(gctx, raw)
		return nil
	})

	if err := g.Wait(); err != nil {
		return analysis{}, err
	}
	an.score, an.scoreErr = score, scoreErr
	return an, nil
}
