package model

import "time"

// TryOnJob - tryon_jobs 테이블 구조
type TryOnJob struct {
	JobID        string                 `json:"job_id"`
	UserID       string                 `json:"user_id"`
	JobStatus    string                 `json:"job_status"`
	JobInputData map[string]interface{} `json:"job_input_data"`

	// Supabase Storage paths
	SourcePath  string  `json:"source_path"`
	GarmentPath string  `json:"garment_path"`
	ResultPath  *string `json:"result_path"`

	// Outcome
	PresetUsed      *string  `json:"preset_used"`
	PromptMode      *string  `json:"prompt_mode"`
	SimilarityScore *float64 `json:"similarity_score"`
	AlignmentScore  *float64 `json:"alignment_score"`
	Attempts        int      `json:"attempts"`
	ErrorCode       *string  `json:"error_code"`
	ErrorMessage    *string  `json:"error_message"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// JobInput - job_input_data JSONB 구조
type JobInput struct {
	PresetID        string `json:"presetId,omitempty"`
	SceneHint       string `json:"sceneHint,omitempty"`
	StyleNotes      string `json:"styleNotes,omitempty"`
	ForceSimplified bool   `json:"forceSimplified,omitempty"`
	Strict          bool   `json:"strict,omitempty"`
	IdentitySafe    bool   `json:"identitySafe,omitempty"`
}

// Map - JSONB 컬럼에 그대로 넣을 수 있는 형태
func (in JobInput) Map() map[string]interface{} {
	return map[string]interface{}{
		"presetId":        in.PresetID,
		"sceneHint":       in.SceneHint,
		"styleNotes":      in.StyleNotes,
		"forceSimplified": in.ForceSimplified,
		"strict":          in.Strict,
		"identitySafe":    in.IdentitySafe,
	}
}

// JobOutcome - 완료된 Job에 기록되는 결과
type JobOutcome struct {
	ResultPath      string
	PresetUsed      string
	PromptMode      string
	SimilarityScore float64
	AlignmentScore  float64
	Attempts        int
}

const (
	StatusPending       = "pending"
	StatusProcessing    = "processing"
	StatusCompleted     = "completed"
	StatusFailed        = "failed"
	StatusUserCancelled = "user_cancelled"
)

// IsTerminal - 더 이상 상태가 바뀌지 않는 Job인지
func IsTerminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusUserCancelled:
		return true
	}
	return false
}
