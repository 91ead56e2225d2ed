package vision

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/llmjson"
	"quel-tryon-server/modules/common/logger"
)

const garmentPrompt = `Image 1 is a generated photo of a person. Image 2 is a garment reference.
Is the person in Image 1 wearing the garment from Image 2 (same type, colour, pattern and key details)?
Respond with JSON only: {"applied": true|false, "reason": "<short reason>"}`

// OllamaGarmentChecker asks a local vision model whether the garment made it
// onto the person.
type OllamaGarmentChecker struct {
	client *api.Client
	model  string
	log    *zap.Logger
}

func NewOllamaGarmentChecker(ollamaURL, model string, log *zap.Logger) (*OllamaGarmentChecker, error) {
	parsed, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid ollama URL %q", ollamaURL)
	}
	baseURL := &url.URL{Scheme: parsed.Scheme, Host: parsed.Host}
	return &OllamaGarmentChecker{
		client: api.NewClient(baseURL, http.DefaultClient),
		model:  model,
		log:    logger.OrNop(log),
	}, nil
}

type garmentReply struct {
	Applied bool   `json:"applied"`
	Reason  string `json:"reason"`
}

func (o *OllamaGarmentChecker) GarmentApplied(ctx context.Context, output, garment []byte) (bool, string, error) {
	streamFalse := false
	req := &api.ChatRequest{
		Model: o.model,
		Messages: []api.Message{
			{
				Role:    "user",
				Content: garmentPrompt,
				Images:  []api.ImageData{api.ImageData(output), api.ImageData(garment)},
			},
		},
		Stream:  &streamFalse,
		Options: map[string]any{"temperature": 0},
	}

	var content string
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		content += resp.Message.Content
		return nil
	})
	if err != nil {
		return false, "", fmt.Errorf("ollama chat error: %w", err)
	}
	if strings.TrimSpace(content) == "" {
		return false, "", fmt.Errorf("empty response from ollama")
	}

	var reply garmentReply
	if err := llmjson.Decode(content, &reply); err != nil {
		return false, "", fmt.Errorf("garment check: %w", err)
	}
	o.log.Debug("👕 [Vision] Garment check",
		zap.Bool("applied", reply.Applied), zap.String("reason", reply.Reason))
	return reply.Applied, reply.Reason, nil
}
