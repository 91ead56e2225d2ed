package gemini

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// NewClient - Gemini API client for an API key
func NewClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is empty")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// FirstImage - first inline image in a response, with its MIME type
func FirstImage(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, "", fmt.Errorf("no candidates in response")
	}
	var refusal string
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			if candidate.FinishReason != "" {
				refusal = string(candidate.FinishReason)
			}
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData.Data, part.InlineData.MIMEType, nil
			}
			if part.Text != "" && refusal == "" {
				refusal = strings.TrimSpace(part.Text)
			}
		}
	}
	if refusal != "" {
		return nil, "", fmt.Errorf("no image data in response: %s", truncate(refusal, 200))
	}
	return nil, "", fmt.Errorf("no image data in response")
}

// IsRateLimited - 429 / quota errors from the Gemini API
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "resource_exhausted")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
