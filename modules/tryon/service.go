// Package tryon exposes the try-on pipeline over HTTP and runs queued
// try-on jobs.
package tryon

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"quel-tryon-server/modules/common/logger"
	"quel-tryon-server/modules/common/model"
	redisutil "quel-tryon-server/modules/common/redis"
	"quel-tryon-server/modules/common/storage"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/common/utils"
	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/cooldown"
	"quel-tryon-server/modules/tryon/pipeline"
	"quel-tryon-server/modules/tryon/presets"
	"quel-tryon-server/modules/tryon/tryonerr"
)

// Generator runs one try-on.
type Generator interface {
	GenerateTryOn(ctx context.Context, source, garment []byte, opts pipeline.Options) (*pipeline.Result, error)
}

// Limiter applies the regeneration policy. Refund gives back a generation
// that produced nothing the user can keep.
type Limiter interface {
	Allow(ctx context.Context, userID, sourceKey string) (cooldown.Decision, error)
	Refund(ctx context.Context, userID, sourceKey string) error
}

// JobStore persists job rows.
type JobStore interface {
	CreateJob(ctx context.Context, job *model.TryOnJob) error
	FetchJob(ctx context.Context, jobID string) (*model.TryOnJob, error)
	UpdateJobStatus(ctx context.Context, jobID, status string) error
	CompleteJob(ctx context.Context, jobID string, out model.JobOutcome) error
	FailJob(ctx context.Context, jobID, code, message string, attempts int) error
}

// BlobStore holds job inputs and results.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Download(ctx context.Context, path string) ([]byte, error)
}

// Queue carries job ids to workers and the per-job cancel flag.
type Queue interface {
	Enqueue(ctx context.Context, jobID string) (int64, error)
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Cancel(ctx context.Context, jobID string) error
	IsJobCancelled(ctx context.Context, jobID string) bool
	ClearCancel(ctx context.Context, jobID string) error
}

// RedisQueue - Redis 리스트 기반 Queue
type RedisQueue struct {
	rdb  redis.Cmdable
	name string
}

func NewRedisQueue(rdb redis.Cmdable, name string) *RedisQueue {
	return &RedisQueue{rdb: rdb, name: name}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID string) (int64, error) {
	return redisutil.Enqueue(ctx, q.rdb, q.name, jobID)
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	return redisutil.Dequeue(ctx, q.rdb, q.name, timeout)
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	return redisutil.SetJobCancelled(ctx, q.rdb, jobID)
}

func (q *RedisQueue) IsJobCancelled(ctx context.Context, jobID string) bool {
	return redisutil.IsJobCancelled(ctx, q.rdb, jobID)
}

func (q *RedisQueue) ClearCancel(ctx context.Context, jobID string) error {
	return redisutil.ClearJobCancelled(ctx, q.rdb, jobID)
}

// Deps are the collaborators of a Service. Jobs, Blobs and Queue are
// optional together: without them only synchronous generation is served.
type Deps struct {
	Generator Generator
	Limiter   Limiter
	Catalog   *presets.Catalog
	Composer  *composer.Composer
	Jobs      JobStore
	Blobs     BlobStore
	Queue     Queue
	Events    telemetry.Emitter
	Logger    *zap.Logger
}

type Service struct {
	generator Generator
	limiter   Limiter
	catalog   *presets.Catalog
	composer  *composer.Composer
	jobs      JobStore
	blobs     BlobStore
	queue     Queue
	events    telemetry.Emitter
	log       *zap.Logger
}

// NewService - Service 생성
func NewService(d Deps) *Service {
	return &Service{
		generator: d.Generator,
		limiter:   d.Limiter,
		catalog:   d.Catalog,
		composer:  d.Composer,
		jobs:      d.Jobs,
		blobs:     d.Blobs,
		queue:     d.Queue,
		events:    telemetry.OrNop(d.Events),
		log:       logger.OrNop(d.Logger),
	}
}

// JobsEnabled - 비동기 Job 처리 가능 여부
func (s *Service) JobsEnabled() bool {
	return s.jobs != nil && s.blobs != nil && s.queue != nil
}

type decodedRequest struct {
	source  []byte
	garment []byte
}

func decodeImages(req GenerateRequest) (decodedRequest, error) {
	source, err := utils.DecodeBase64Image(req.SourceImage)
	if err != nil {
		return decodedRequest{}, invalid("sourceImage: %v", err)
	}
	garment, err := utils.DecodeBase64Image(req.GarmentImage)
	if err != nil {
		return decodedRequest{}, invalid("garmentImage: %v", err)
	}
	return decodedRequest{source: source, garment: garment}, nil
}

// admit applies the regeneration policy. Limiter errors never block a
// request.
func (s *Service) admit(ctx context.Context, userID string, source []byte) error {
	if s.limiter == nil {
		return nil
	}
	d, err := s.limiter.Allow(ctx, userID, cooldown.SourceKey(source))
	if err != nil {
		s.log.Warn("⚠️  [TryOn] Cooldown check failed, allowing request", zap.String("user_id", userID), zap.Error(err))
		return nil
	}
	if !d.Allowed {
		s.log.Info("⏳ [TryOn] Request throttled",
			zap.String("user_id", userID), zap.String("reason", d.Reason), zap.Duration("retry_after", d.RetryAfter))
		return &CooldownError{Decision: d}
	}
	return nil
}

// settle refunds the admitted generation unless err is a verification
// rejection, which already spent synthesis calls on the user's behalf.
func (s *Service) settle(ctx context.Context, userID string, source []byte, err error) {
	if err == nil || s.limiter == nil || userID == "" {
		return
	}
	if te, ok := tryonerr.As(err); ok && te.Attempts > 0 {
		return
	}
	if rerr := s.limiter.Refund(context.WithoutCancel(ctx), userID, cooldown.SourceKey(source)); rerr != nil {
		s.log.Warn("⚠️  [TryOn] Cooldown refund failed", zap.String("user_id", userID), zap.Error(rerr))
	}
}

// Generate - 동기 생성. 실패해도 진단용 Result를 함께 돌려줌
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (*pipeline.Result, error) {
	imgs, err := decodeImages(req)
	if err != nil {
		return nil, err
	}
	if err := s.admit(ctx, req.UserID, imgs.source); err != nil {
		return nil, err
	}
	res, err := s.generator.GenerateTryOn(ctx, imgs.source, imgs.garment, OptionsFrom(uuid.NewString(), req.Input()))
	if err == nil && (res == nil || len(res.Image) == 0) {
		err = errNoImage
	}
	s.settle(ctx, req.UserID, imgs.source, err)
	return res, err
}

// SubmitJob - 입력 이미지를 저장하고 Job을 큐에 넣음
func (s *Service) SubmitJob(ctx context.Context, req GenerateRequest) (string, int64, error) {
	if !s.JobsEnabled() {
		return "", 0, ErrJobsDisabled
	}
	imgs, err := decodeImages(req)
	if err != nil {
		return "", 0, err
	}
	if err := s.admit(ctx, req.UserID, imgs.source); err != nil {
		return "", 0, err
	}
	jobID, pos, err := s.enqueue(ctx, req, imgs)
	s.settle(ctx, req.UserID, imgs.source, err)
	return jobID, pos, err
}

func (s *Service) enqueue(ctx context.Context, req GenerateRequest, imgs decodedRequest) (string, int64, error) {
	jobID := uuid.NewString()
	job := &model.TryOnJob{
		JobID:        jobID,
		UserID:       req.UserID,
		JobStatus:    model.StatusPending,
		JobInputData: req.Input().Map(),
		SourcePath:   storage.InputPath(req.UserID, jobID, "source"),
		GarmentPath:  storage.InputPath(req.UserID, jobID, "garment"),
	}

	if err := s.blobs.Upload(ctx, job.SourcePath, imgs.source, mimeOf(imgs.source)); err != nil {
		return "", 0, err
	}
	if err := s.blobs.Upload(ctx, job.GarmentPath, imgs.garment, mimeOf(imgs.garment)); err != nil {
		return "", 0, err
	}
	if err := s.jobs.CreateJob(ctx, job); err != nil {
		return "", 0, err
	}
	pos, err := s.queue.Enqueue(ctx, jobID)
	if err != nil {
		if ferr := s.jobs.FailJob(ctx, jobID, "QUEUE_UNAVAILABLE", err.Error(), 0); ferr != nil {
			s.log.Error("❌ [TryOn] Failed to mark unqueued job", zap.String("job_id", jobID), zap.Error(ferr))
		}
		return "", 0, err
	}

	telemetry.NewScoped(s.events, jobID, "queue").Event("job_queued", map[string]interface{}{"position": pos})
	s.log.Info("📥 [TryOn] Job queued", zap.String("job_id", jobID), zap.Int64("position", pos))
	return jobID, pos, nil
}

// GetJob - Job 조회
func (s *Service) GetJob(ctx context.Context, jobID string) (*model.TryOnJob, error) {
	if !s.JobsEnabled() {
		return nil, ErrJobsDisabled
	}
	return s.jobs.FetchJob(ctx, jobID)
}

// CancelJob - 취소 플래그 설정. 이미 끝난 Job이면 false
func (s *Service) CancelJob(ctx context.Context, jobID string) (*model.TryOnJob, bool, error) {
	if !s.JobsEnabled() {
		return nil, false, ErrJobsDisabled
	}
	job, err := s.jobs.FetchJob(ctx, jobID)
	if err != nil {
		return nil, false, err
	}
	if model.IsTerminal(job.JobStatus) {
		return job, false, nil
	}
	if err := s.queue.Cancel(ctx, jobID); err != nil {
		return nil, false, err
	}
	s.log.Info("🛑 [TryOn] Cancel requested", zap.String("job_id", jobID), zap.String("status", job.JobStatus))
	return job, true, nil
}

// Presets - 카탈로그
func (s *Service) Presets() *presets.Catalog { return s.catalog }

// MatchPreset - 장면 힌트를 프리셋으로 해석
func (s *Service) MatchPreset(ctx context.Context, hint string) (composer.Selection, error) {
	if strings.TrimSpace(hint) == "" {
		return composer.Selection{}, invalid("sceneHint is required")
	}
	return s.composer.Resolve(ctx, "", hint, nil), nil
}

func mimeOf(data []byte) string {
	switch ct := http.DetectContentType(data); ct {
	case "image/png", "image/webp":
		return ct
	default:
		return "image/jpeg"
	}
}

var errNoImage = errors.New("pipeline returned no image")
