package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/config"
	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/model"
)

const jobsTable = "tryon_jobs"

// ErrJobNotFound is returned when no row matches the job id.
var ErrJobNotFound = errors.New("job not found")

type Client struct {
	supabase *supabase.Client
	log      *zap.Logger
	now      func() time.Time
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config, log *zap.Logger) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient, log: logger.OrNop(log), now: time.Now}, nil
}

func (c *Client) timestamp() string {
	return c.now().UTC().Format(time.RFC3339Nano)
}

// CreateJob - tryon_jobs에 pending 상태로 Job 생성
func (c *Client) CreateJob(ctx context.Context, job *model.TryOnJob) error {
	insertData := map[string]interface{}{
		"job_id":         job.JobID,
		"user_id":        job.UserID,
		"job_status":     model.StatusPending,
		"job_input_data": job.JobInputData,
		"source_path":    job.SourcePath,
		"garment_path":   job.GarmentPath,
		"attempts":       0,
	}

	_, _, err := c.supabase.From(jobsTable).
		Insert(insertData, false, "", "minimal", "").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}

	c.log.Info("💾 Job created", zap.String("job_id", job.JobID), zap.String("user_id", job.UserID))
	return nil
}

// FetchJob - Job 조회
func (c *Client) FetchJob(ctx context.Context, jobID string) (*model.TryOnJob, error) {
	var jobs []model.TryOnJob
	_, err := c.supabase.From(jobsTable).
		Select("*", "exact", false).
		Eq("job_id", jobID).
		ExecuteTo(&jobs)
	if err != nil {
		return nil, fmt.Errorf("failed to query job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	job := &jobs[0]
	c.log.Debug("🔍 Job fetched", zap.String("job_id", job.JobID), zap.String("status", job.JobStatus))
	return job, nil
}

// UpdateJobStatus - Job 상태 업데이트
func (c *Client) UpdateJobStatus(ctx context.Context, jobID string, status string) error {
	now := c.timestamp()
	updateData := map[string]interface{}{
		"job_status": status,
		"updated_at": now,
	}
	if status == model.StatusProcessing {
		updateData["started_at"] = now
	} else if model.IsTerminal(status) {
		updateData["completed_at"] = now
	}

	if err := c.update(jobID, updateData); err != nil {
		return fmt.Errorf("failed to update job status: %w", err)
	}
	c.log.Info("📝 Job status updated", zap.String("job_id", jobID), zap.String("status", status))
	return nil
}

// CompleteJob - 결과 경로와 검증 점수를 기록하고 completed 처리
func (c *Client) CompleteJob(ctx context.Context, jobID string, out model.JobOutcome) error {
	now := c.timestamp()
	updateData := map[string]interface{}{
		"job_status":       model.StatusCompleted,
		"result_path":      out.ResultPath,
		"preset_used":      out.PresetUsed,
		"prompt_mode":      out.PromptMode,
		"similarity_score": out.SimilarityScore,
		"alignment_score":  out.AlignmentScore,
		"attempts":         out.Attempts,
		"completed_at":     now,
		"updated_at":       now,
	}
	if err := c.update(jobID, updateData); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	c.log.Info("✅ Job completed", zap.String("job_id", jobID), zap.String("result_path", out.ResultPath))
	return nil
}

// FailJob - 오류 코드와 메시지를 기록하고 failed 처리
func (c *Client) FailJob(ctx context.Context, jobID, code, message string, attempts int) error {
	now := c.timestamp()
	updateData := map[string]interface{}{
		"job_status":    model.StatusFailed,
		"error_code":    code,
		"error_message": message,
		"attempts":      attempts,
		"completed_at":  now,
		"updated_at":    now,
	}
	if err := c.update(jobID, updateData); err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	c.log.Warn("❌ Job failed", zap.String("job_id", jobID), zap.String("code", code))
	return nil
}

func (c *Client) update(jobID string, data map[string]interface{}) error {
	_, _, err := c.supabase.From(jobsTable).
		Update(data, "minimal", "").
		Eq("job_id", jobID).
		Execute()
	return err
}
