package synthesis

import (
	"context"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/vertexai"
)

// VertexEngine generates through a Vertex AI hosted image model.
type VertexEngine struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewVertexEngine(ctx context.Context, project, location, model string, log *zap.Logger) (*VertexEngine, error) {
	client, err := vertexai.NewVertexAIClient(ctx, project, location, log)
	if err != nil {
		return nil, err
	}
	return &VertexEngine{client: client, model: model, log: logger.OrNop(log)}, nil
}

func (v *VertexEngine) Name() string { return "vertex:" + v.model }

func (v *VertexEngine) Close() error { return v.client.Close() }

func (v *VertexEngine) Generate(ctx context.Context, prompt string, source, garment []byte) ([]byte, error) {
	model := v.client.GenerativeModel(v.model)
	model.SetTemperature(0.2)

	v.log.Debug("📤 [Synthesis] Sending request to Vertex AI", zap.String("model", v.model))
	resp, err := model.GenerateContent(ctx,
		genai.ImageData(mimeFormat(source), source),
		genai.ImageData(mimeFormat(garment), garment),
		genai.Text(prompt),
	)
	if err != nil {
		return nil, err
	}

	data, _, err := vertexai.FirstBlob(resp)
	return data, err
}
