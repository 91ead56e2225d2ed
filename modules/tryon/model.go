package tryon

import (
	"quel-tryon-server/modules/common/model"
	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/pipeline"
	"quel-tryon-server/modules/tryon/presets"
	"quel-tryon-server/modules/tryon/reintegrate"
)

// GenerateRequest - POST /api/tryon, POST /api/tryon/jobs
type GenerateRequest struct {
	UserID       string `json:"userId"`
	SourceImage  string `json:"sourceImage"`  // base64 or data URL
	GarmentImage string `json:"garmentImage"` // base64 or data URL

	PresetID        string `json:"presetId,omitempty"`
	SceneHint       string `json:"sceneHint,omitempty"`
	StyleNotes      string `json:"styleNotes,omitempty"`
	ForceSimplified bool   `json:"forceSimplified,omitempty"`
	Strict          bool   `json:"strict,omitempty"`
	IdentitySafe    bool   `json:"identitySafe,omitempty"`
}

// Input - 요청의 생성 옵션 부분
func (r GenerateRequest) Input() model.JobInput {
	return model.JobInput{
		PresetID:        r.PresetID,
		SceneHint:       r.SceneHint,
		StyleNotes:      r.StyleNotes,
		ForceSimplified: r.ForceSimplified,
		Strict:          r.Strict,
		IdentitySafe:    r.IdentitySafe,
	}
}

// OptionsFrom - JobInput을 파이프라인 옵션으로 변환
func OptionsFrom(requestID string, in model.JobInput) pipeline.Options {
	return pipeline.Options{
		RequestID:       requestID,
		PresetID:        in.PresetID,
		SceneHint:       in.SceneHint,
		ForceSimplified: in.ForceSimplified,
		StyleNotes:      in.StyleNotes,
		Strict:          in.Strict,
		IdentitySafe:    in.IdentitySafe,
	}
}

// ErrorBody - 실패 응답의 error 필드
type ErrorBody struct {
	Code       string  `json:"code"`
	Message    string  `json:"message"`
	Detail     string  `json:"detail,omitempty"`
	Attempts   int     `json:"attempts,omitempty"`
	Similarity float64 `json:"similarity,omitempty"`
	Alignment  float64 `json:"alignment,omitempty"`
	RetryAfter int     `json:"retryAfterSeconds,omitempty"`
}

// GenerateResponse - POST /api/tryon 응답
type GenerateResponse struct {
	Success         bool                     `json:"success"`
	RequestID       string                   `json:"requestId,omitempty"`
	Image           string                   `json:"image,omitempty"` // base64
	MIMEType        string                   `json:"mimeType,omitempty"`
	PresetUsed      string                   `json:"presetUsed,omitempty"`
	SelectionMethod composer.SelectionMethod `json:"selectionMethod,omitempty"`
	PromptMode      constraints.Mode         `json:"promptMode,omitempty"`
	Verification    *pipeline.Verification   `json:"verification,omitempty"`
	Reintegration   *reintegrate.Result      `json:"reintegration,omitempty"`
	Stages          []pipeline.Stage         `json:"stages,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
	Error           *ErrorBody               `json:"error,omitempty"`
}

// JobResponse - POST /api/tryon/jobs 응답
type JobResponse struct {
	Success       bool       `json:"success"`
	JobID         string     `json:"jobId,omitempty"`
	Status        string     `json:"status,omitempty"`
	QueuePosition int64      `json:"queuePosition,omitempty"`
	Error         *ErrorBody `json:"error,omitempty"`
}

// CancelResponse - POST /api/tryon/jobs/{jobId}/cancel 응답
type CancelResponse struct {
	Success bool   `json:"success"`
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PresetListResponse - GET /api/tryon/presets 응답
type PresetListResponse struct {
	Version    int                   `json:"version"`
	Categories []string              `json:"categories"`
	Fallback   string                `json:"fallback"`
	Presets    []presets.ScenePreset `json:"presets"`
}

// MatchRequest - POST /api/tryon/presets/match
type MatchRequest struct {
	SceneHint string `json:"sceneHint"`
}

// MatchResponse - 장면 힌트 매칭 결과
type MatchResponse struct {
	PresetID        string                   `json:"presetId"`
	SelectionMethod composer.SelectionMethod `json:"selectionMethod"`
	Confidence      float64                  `json:"confidence"`
	Preset          *presets.ScenePreset     `json:"preset,omitempty"`
	Warnings        []string                 `json:"warnings,omitempty"`
}
