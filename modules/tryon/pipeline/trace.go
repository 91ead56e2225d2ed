package pipeline

import "time"

// StageStatus of one trace entry.
type StageStatus string

const (
	StatusPass  StageStatus = "PASS"
	StatusFail  StageStatus = "FAIL"
	StatusSkip  StageStatus = "SKIP"
	StatusRetry StageStatus = "RETRY"
)

// Stage is one entry of the request trace.
type Stage struct {
	Stage  int                    `json:"stage"`
	Name   string                 `json:"name"`
	Status StageStatus            `json:"status"`
	TimeMs int64                  `json:"timeMs"`
	Data   map[string]interface{} `json:"data,omitempty"`
}

type trace struct {
	stages []Stage
}

func (t *trace) add(name string, status StageStatus, start time.Time, data map[string]interface{}) {
	t.stages = append(t.stages, Stage{
		Stage:  len(t.stages) + 1,
		Name:   name,
		Status: status,
		TimeMs: time.Since(start).Milliseconds(),
		Data:   data,
	})
}
