package complexity

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"quel-tryon-server/modules/common/llmjson"
	"quel-tryon-server/modules/common/logger"
)

const scorePrompt = `Rate the visual complexity of this photo for an image editing model.
Consider background clutter, number of distinct objects, pattern density,
lighting contrast and overlapping elements.
Respond with JSON only: {"score": <integer 0-100>, "reason": "<short reason>"}
0 means a plain studio backdrop, 100 means an extremely busy scene.`

// GeminiScorer asks a Gemini analysis model for a complexity score.
type GeminiScorer struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

// NewGeminiScorer creates the client with an API key.
func NewGeminiScorer(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiScorer, error) {
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini analysis client: %w", err)
	}
	return &GeminiScorer{client: client, model: model, log: logger.OrNop(log)}, nil
}

func (g *GeminiScorer) Close() error { return g.client.Close() }

type scoreReply struct {
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

func (g *GeminiScorer) Score(ctx context.Context, image []byte) (int, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.ImageData(imageFormat(image), image), genai.Text(scorePrompt))
	if err != nil {
		return 0, fmt.Errorf("gemini complexity call: %w", err)
	}

	text := firstText(resp)
	if text == "" {
		return 0, fmt.Errorf("gemini complexity: empty response")
	}
	var reply scoreReply
	if err := llmjson.Decode(text, &reply); err != nil {
		return 0, fmt.Errorf("gemini complexity: %w", err)
	}
	g.log.Debug("🧮 [Complexity] Gemini score", zap.Int("score", reply.Score), zap.String("reason", reply.Reason))
	return Clamp(reply.Score), nil
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok && strings.TrimSpace(string(t)) != "" {
				return string(t)
			}
		}
	}
	return ""
}

// imageFormat returns the genai.ImageData format suffix for data.
func imageFormat(data []byte) string {
	switch http.DetectContentType(data) {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	default:
		return "jpeg"
	}
}
