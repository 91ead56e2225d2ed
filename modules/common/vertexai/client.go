package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"quel-tryon-server/modules/common/logger"
)

// CredentialOptions - client options from VERTEXAI_CREDENTIALS_JSON or
// VERTEXAI_CREDENTIALS_PATH; empty means Application Default Credentials
func CredentialOptions(log *zap.Logger) ([]option.ClientOption, error) {
	log = logger.OrNop(log)

	if credsJSON := os.Getenv("VERTEXAI_CREDENTIALS_JSON"); credsJSON != "" {
		log.Info("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		return []option.ClientOption{option.WithCredentialsJSON([]byte(credsJSON))}, nil
	}

	if credsPath := os.Getenv("VERTEXAI_CREDENTIALS_PATH"); credsPath != "" {
		log.Info("✅ [VertexAI] Using credentials file", zap.String("path", credsPath))
		credsData, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		var creds map[string]interface{}
		if err := json.Unmarshal(credsData, &creds); err != nil {
			return nil, fmt.Errorf("invalid JSON credentials: %w", err)
		}
		return []option.ClientOption{option.WithCredentialsJSON(credsData)}, nil
	}

	log.Warn("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
	return nil, nil
}

// NewVertexAIClient - Vertex AI client for project/location
func NewVertexAIClient(ctx context.Context, project, location string, log *zap.Logger) (*genai.Client, error) {
	if project == "" {
		return nil, fmt.Errorf("vertex ai: project is empty")
	}
	opts, err := CredentialOptions(log)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, project, location, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	logger.OrNop(log).Info("✅ [VertexAI] Client initialized",
		zap.String("project", project), zap.String("location", location))
	return client, nil
}

// FirstBlob - first image blob in a Vertex response
func FirstBlob(resp *genai.GenerateContentResponse) ([]byte, string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return nil, "", fmt.Errorf("no candidates in response")
	}
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if blob, ok := part.(genai.Blob); ok && len(blob.Data) > 0 {
				return blob.Data, blob.MIMEType, nil
			}
		}
	}
	return nil, "", fmt.Errorf("no image data in response")
}
