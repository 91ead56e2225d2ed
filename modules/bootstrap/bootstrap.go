package bootstrap

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/tryon/complexity"
	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/pipeline"
	"quel-tryon-server/modules/tryon/presets"
	"quel-tryon-server/modules/tryon/reintegrate"
	"quel-tryon-server/modules/tryon/synthesis"
	"quel-tryon-server/modules/tryon/verify"
	"quel-tryon-server/modules/tryon/vision"
)

// Engine - the assembled pipeline plus whatever it has to release on shutdown
type Engine struct {
	Pipeline *pipeline.Pipeline
	Catalog  *presets.Catalog
	Composer *composer.Composer

	closers []io.Closer
	log     *zap.Logger
}

// Close releases model clients opened by Build.
func (e *Engine) Close() {
	for _, c := range e.closers {
		if err := c.Close(); err != nil {
			e.log.Warn("⚠️  [Bootstrap] Close failed", zap.Error(err))
		}
	}
}

// Build - config 기반으로 전체 try-on 파이프라인 조립
func Build(ctx context.Context, cfg *config.Config, events telemetry.Emitter, log *zap.Logger) (*Engine, error) {
	log = logger.OrNop(log)
	e := &Engine{log: log}
	ok := false
	defer func() {
		if !ok {
			e.Close()
		}
	}()

	catalog, err := presets.Default()
	if err != nil {
		return nil, fmt.Errorf("load preset catalog: %w", err)
	}
	compiler, err := constraints.NewDefaultCompiler()
	if err != nil {
		return nil, fmt.Errorf("load constraint rules: %w", err)
	}
	e.Catalog = catalog

	engine, err := newSynthesisEngine(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	if c, isCloser := engine.(io.Closer); isCloser {
		e.closers = append(e.closers, c)
	}

	detector, err := vision.LoadPigoDetector(cfg.PigoCascadePath, cfg.PuplocCascadePath, log)
	if err != nil {
		return nil, fmt.Errorf("load face detector: %w", err)
	}

	var embedder vision.Embedder = vision.NewPixelEmbedder()
	if cfg.EmbeddingServiceURL != "" {
		embedder = vision.NewHTTPEmbedder(cfg.EmbeddingServiceURL, cfg.DetectionTimeout)
		log.Info("🧬 [Bootstrap] Using embedding service", zap.String("url", cfg.EmbeddingServiceURL))
	}

	var garment vision.GarmentChecker
	if cfg.OllamaURL != "" {
		checker, err := vision.NewOllamaGarmentChecker(cfg.OllamaURL, cfg.OllamaModel, log)
		if err != nil {
			log.Warn("⚠️  [Bootstrap] Garment checker unavailable", zap.Error(err))
		} else {
			garment = checker
		}
	}

	var scorer complexity.Scorer = complexity.NewLocalScorer()
	var opts []composer.Option
	if cfg.GeminiAPIKey != "" {
		if s, err := complexity.NewGeminiScorer(ctx, cfg.GeminiAPIKey, cfg.GeminiAnalysisModel, log); err != nil {
			log.Warn("⚠️  [Bootstrap] Gemini scorer unavailable, using local scorer", zap.Error(err))
		} else {
			scorer = s
			e.closers = append(e.closers, s)
		}
		if m, err := composer.NewGeminiMatcher(ctx, cfg.GeminiAPIKey, cfg.GeminiAnalysisModel, log); err != nil {
			log.Warn("⚠️  [Bootstrap] Gemini matcher unavailable, using keyword matcher", zap.Error(err))
		} else {
			opts = append(opts, composer.WithMatcher(m))
			e.closers = append(e.closers, m)
		}
	}
	e.Composer = composer.New(compiler, catalog, log, opts...)

	e.Pipeline = pipeline.New(pipeline.Deps{
		Detector:      detector,
		Selector:      complexity.NewSelector(scorer, cfg.AnalysisTimeout, log),
		Composer:      e.Composer,
		Invoker:       synthesis.NewInvoker(engine, cfg.SynthesisTimeout, log),
		Verifier:      verify.New(detector, embedder, garment, verify.ParseMode(cfg.VerificationMode), cfg.DetectionTimeout, log),
		Reintegrator:  reintegrate.New(detector, reintegrate.DefaultFeather, cfg.DetectionTimeout, log),
		DetectTimeout: cfg.DetectionTimeout,
		Events:        events,
		Logger:        log,
	})
	ok = true
	log.Info("✅ [Bootstrap] Pipeline ready",
		zap.String("synthesis", engine.Name()),
		zap.String("verification", cfg.VerificationMode),
		zap.Int("presets", len(catalog.List())))
	return e, nil
}

func newSynthesisEngine(ctx context.Context, cfg *config.Config, log *zap.Logger) (synthesis.Engine, error) {
	switch cfg.SynthesisBackend {
	case "vertex":
		engine, err := synthesis.NewVertexEngine(ctx, cfg.VertexProject, cfg.VertexLocation, cfg.VertexModel, log)
		if err != nil {
			return nil, fmt.Errorf("create vertex engine: %w", err)
		}
		return engine, nil
	default:
		engine, err := synthesis.NewGeminiEngine(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, log)
		if err != nil {
			return nil, fmt.Errorf("create gemini engine: %w", err)
		}
		return engine, nil
	}
}
