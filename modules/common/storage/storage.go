package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/logger"
)

const defaultBucket = "attachments"

type Client struct {
	baseURL    string
	serviceKey string
	bucket     string
	http       *http.Client
	log        *zap.Logger
}

// NewClient - Storage 클라이언트 생성
func NewClient(cfg *config.Config, log *zap.Logger) *Client {
	return NewClientWithURL(cfg.SupabaseURL, cfg.SupabaseServiceKey, log)
}

// NewClientWithURL - Supabase 프로젝트 URL과 서비스 키로 생성
func NewClientWithURL(baseURL, serviceKey string, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		bucket:     defaultBucket,
		http:       &http.Client{Timeout: 60 * time.Second},
		log:        logger.OrNop(log),
	}
}

func (c *Client) objectURL(path string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", c.baseURL, c.bucket, strings.TrimLeft(path, "/"))
}

// Upload - Supabase Storage에 파일 업로드
func (c *Client) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.objectURL(path), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("x-upsert", "true")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to upload %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, string(body))
	}

	c.log.Info("📤 Uploaded to storage", zap.String("path", path), zap.Int("bytes", len(data)))
	return nil
}

// Download - Supabase Storage에서 파일 다운로드
func (c *Client) Download(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.objectURL(path), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("download failed with status %d: %s", resp.StatusCode, string(body))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	c.log.Debug("📥 Downloaded from storage", zap.String("path", path), zap.Int("bytes", len(data)))
	return data, nil
}

// InputPath - 업로드된 원본 이미지 경로
func InputPath(userID, jobID, name string) string {
	return fmt.Sprintf("tryon-inputs/user-%s/%s/%s", userOrAnon(userID), jobID, name)
}

// ResultPath - 생성 결과(WebP) 경로
func ResultPath(userID, jobID string) string {
	return fmt.Sprintf("generated-images/user-%s/tryon_%s.webp", userOrAnon(userID), jobID)
}

func userOrAnon(userID string) string {
	if userID == "" {
		return "anonymous"
	}
	return userID
}
