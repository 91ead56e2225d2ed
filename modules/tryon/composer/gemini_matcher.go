package composer

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"quel-tryon-server/modules/common/llmjson"
	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/tryon/presets"
)

// GeminiMatcher asks a Gemini analysis model to pick the preset for a hint.
type GeminiMatcher struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGeminiMatcher(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiMatcher, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini matcher client: %w", err)
	}
	return &GeminiMatcher{client: client, model: model, log: logger.OrNop(log)}, nil
}

func (g *GeminiMatcher) Close() error { return g.client.Close() }

// MatchPrompt renders the selection instruction.
func MatchPrompt(hint string, summaries []presets.Summary) string {
	var b strings.Builder
	b.WriteString("Pick the scene preset that best fits the requested scene.\n")
	b.WriteString("Requested scene: " + hint + "\n\nPresets:\n")
	for _, s := range summaries {
		b.WriteString("- " + s.ID + ": " + s.Description + "\n")
	}
	b.WriteString("\nRespond with JSON only: {\"presetId\": \"<id from the list>\", \"confidence\": <0.0-1.0>, \"reason\": \"<short>\"}\n")
	b.WriteString("Use a confidence below 0.5 when no preset fits.")
	return b.String()
}

func (g *GeminiMatcher) Match(ctx context.Context, hint string, summaries []presets.Summary) (Match, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.Text(MatchPrompt(hint, summaries)))
	if err != nil {
		return Match{}, fmt.Errorf("gemini preset match: %w", err)
	}

	var text string
	if resp != nil {
		for _, c := range resp.Candidates {
			if c.Content == nil {
				continue
			}
			for _, p := range c.Content.Parts {
				if t, ok := p.(genai.Text); ok {
					text += string(t)
				}
			}
			if text != "" {
				break
			}
		}
	}
	if strings.TrimSpace(text) == "" {
		return Match{}, fmt.Errorf("gemini preset match: empty response")
	}

	var m Match
	if err := llmjson.Decode(text, &m); err != nil {
		return Match{}, fmt.Errorf("gemini preset match: %w", err)
	}
	g.log.Debug("🎯 [Composer] Gemini preset match",
		zap.String("hint", hint), zap.String("preset", m.PresetID), zap.Float64("confidence", m.Confidence))
	return m, nil
}
