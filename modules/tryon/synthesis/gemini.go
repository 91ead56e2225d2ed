package synthesis

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"quel-tryon-server/modules/common/gemini"
	"quel-tryon-server/modules/common/logger"
)

// GeminiEngine generates through the Gemini API image model.
type GeminiEngine struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGeminiEngine(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiEngine, error) {
	client, err := gemini.NewClient(ctx, apiKey)
	if err != nil {
		return nil, err
	}
	return &GeminiEngine{client: client, model: model, log: logger.OrNop(log)}, nil
}

func (g *GeminiEngine) Name() string { return "gemini:" + g.model }

// Generate - Image 1 (person), Image 2 (garment), then the instruction
func (g *GeminiEngine) Generate(ctx context.Context, prompt string, source, garment []byte) ([]byte, error) {
	parts := []*genai.Part{
		{InlineData: &genai.Blob{MIMEType: mimeType(source), Data: source}},
		{InlineData: &genai.Blob{MIMEType: mimeType(garment), Data: garment}},
		genai.NewPartFromText(prompt),
	}

	cfg := &genai.GenerateContentConfig{
		Temperature: floatPtr(0.2),
	}
	if ar := AspectRatioFor(source); ar != "" {
		cfg.ImageConfig = &genai.ImageConfig{AspectRatio: ar}
	}

	g.log.Debug("📤 [Synthesis] Sending request to Gemini API", zap.Int("parts", len(parts)))
	result, err := g.client.Models.GenerateContent(ctx, g.model, []*genai.Content{{Parts: parts}}, cfg)
	if err != nil {
		if gemini.IsRateLimited(err) {
			g.log.Warn("⚠️  [Synthesis] Gemini rate limited", zap.Error(err))
		}
		return nil, err
	}

	data, _, err := gemini.FirstImage(result)
	return data, err
}

func floatPtr(f float64) *float32 {
	f32 := float32(f)
	return &f32
}
