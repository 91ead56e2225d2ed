package tryon

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"quel-tryon-server/modules/common/cancel"
	"quel-tryon-server/modules/common/fallback"
	"quel-tryon-server/modules/common/model"
	"quel-tryon-server/modules/common/storage"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/common/utils"
)

const (
	defaultPollTimeout = 5 * time.Second
	errorBackoff       = 5 * time.Second
)

// Worker - Redis Queue에서 Job을 꺼내 처리
type Worker struct {
	service        *Service
	concurrency    int
	pollTimeout    time.Duration
	cancelInterval time.Duration
	log            *zap.Logger
}

// NewWorker - 동시에 concurrency개까지 Job을 처리하는 Worker
func NewWorker(service *Service, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{
		service:        service,
		concurrency:    concurrency,
		pollTimeout:    defaultPollTimeout,
		cancelInterval: cancel.DefaultInterval,
		log:            service.log,
	}
}

// Run watches the queue until ctx is done, then waits for in-flight jobs.
func (w *Worker) Run(ctx context.Context) error {
	if !w.service.JobsEnabled() {
		return ErrJobsDisabled
	}
	w.log.Info("👀 [Worker] Watching try-on queue", zap.Int("concurrency", w.concurrency))

	sem := make(chan struct{}, w.concurrency)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			w.log.Info("🛑 [Worker] Stopping")
			return nil
		case sem <- struct{}{}:
		}

		jobID, err := w.service.queue.Dequeue(ctx, w.pollTimeout)
		if err != nil {
			<-sem
			if ctx.Err() != nil {
				return nil
			}
			w.log.Error("❌ [Worker] Dequeue failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}
		if jobID == "" {
			<-sem
			continue
		}

		w.log.Info("🎯 [Worker] Received job", zap.String("job_id", jobID))
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.service.ProcessJob(ctx, jobID, w.cancelInterval)
		}()
	}
}

// ProcessJob - Job 하나를 끝까지 처리하고 결과를 기록
func (s *Service) ProcessJob(ctx context.Context, jobID string, cancelInterval time.Duration) {
	log := s.log.With(zap.String("job_id", jobID))
	events := telemetry.NewScoped(s.events, jobID, "job")

	job, err := s.jobs.FetchJob(ctx, jobID)
	if err != nil {
		log.Error("❌ [Worker] Failed to fetch job", zap.Error(err))
		return
	}
	if model.IsTerminal(job.JobStatus) {
		log.Warn("⚠️  [Worker] Job already finished, skipping", zap.String("status", job.JobStatus))
		return
	}
	defer func() {
		if err := s.queue.ClearCancel(context.WithoutCancel(ctx), jobID); err != nil {
			log.Warn("⚠️  [Worker] Failed to clear cancel flag", zap.Error(err))
		}
	}()

	if s.queue.IsJobCancelled(ctx, jobID) {
		s.markCancelled(ctx, jobID, events, log)
		return
	}
	if err := s.jobs.UpdateJobStatus(ctx, jobID, model.StatusProcessing); err != nil {
		log.Warn("⚠️  [Worker] Failed to mark job processing", zap.Error(err))
	}

	source, err := s.blobs.Download(ctx, job.SourcePath)
	if err != nil {
		s.fail(ctx, jobID, invalid("source image unavailable: %v", err), 0, events, log)
		return
	}
	// the generation was charged at submit time
	var runErr error
	defer func() { s.settle(ctx, job.UserID, source, runErr) }()

	garment, err := s.blobs.Download(ctx, job.GarmentPath)
	if err != nil {
		runErr = invalid("garment image unavailable: %v", err)
		s.fail(ctx, jobID, runErr, 0, events, log)
		return
	}

	runCtx, watch := cancel.Start(ctx, s.queue, jobID, cancelInterval, log)
	res, genErr := s.generator.GenerateTryOn(runCtx, source, garment, OptionsFrom(jobID, fallback.JobInput(job.JobInputData)))
	watch.Stop()

	if watch.Cancelled() {
		runErr = context.Canceled
		s.markCancelled(ctx, jobID, events, log)
		return
	}
	if genErr != nil {
		runErr = genErr
		attempts := 0
		if res != nil {
			attempts = res.Verification.Attempts
		}
		s.fail(ctx, jobID, genErr, attempts, events, log)
		return
	}
	if res == nil || len(res.Image) == 0 {
		runErr = errNoImage
		s.fail(ctx, jobID, errNoImage, 0, events, log)
		return
	}

	webpData, err := utils.ConvertToWebP(res.Image, utils.DefaultWebPQuality)
	if err != nil {
		runErr = err
		s.fail(ctx, jobID, err, res.Verification.Attempts, events, log)
		return
	}
	resultPath := storage.ResultPath(job.UserID, jobID)
	if err := s.blobs.Upload(ctx, resultPath, webpData, "image/webp"); err != nil {
		runErr = err
		s.fail(ctx, jobID, err, res.Verification.Attempts, events, log)
		return
	}

	out := model.JobOutcome{
		ResultPath:      resultPath,
		PresetUsed:      res.PresetUsed,
		PromptMode:      string(res.PromptMode),
		SimilarityScore: res.Verification.SimilarityScore,
		AlignmentScore:  res.Verification.AlignmentScore,
		Attempts:        res.Verification.Attempts,
	}
	if err := s.jobs.CompleteJob(ctx, jobID, out); err != nil {
		log.Error("❌ [Worker] Failed to record completed job", zap.Error(err))
		return
	}
	events.Event("job_completed", map[string]interface{}{"resultPath": resultPath})
	log.Info("✅ [Worker] Job completed", zap.String("result_path", resultPath), zap.Int("webp_bytes", len(webpData)))
}

func (s *Service) markCancelled(ctx context.Context, jobID string, events *telemetry.Scoped, log *zap.Logger) {
	if err := s.jobs.UpdateJobStatus(context.WithoutCancel(ctx), jobID, model.StatusUserCancelled); err != nil {
		log.Error("❌ [Worker] Failed to mark job cancelled", zap.Error(err))
	}
	events.Event("job_cancelled", nil)
	log.Info("🛑 [Worker] Job cancelled")
}

func (s *Service) fail(ctx context.Context, jobID string, err error, attempts int, events *telemetry.Scoped, log *zap.Logger) {
	_, body := Classify(err)
	attempts = max(attempts, body.Attempts)
	if ferr := s.jobs.FailJob(context.WithoutCancel(ctx), jobID, body.Code, body.Message, attempts); ferr != nil {
		log.Error("❌ [Worker] Failed to record job failure", zap.Error(ferr))
	}
	events.Event("job_failed", map[string]interface{}{"code": body.Code, "attempts": attempts})
	if !errors.Is(err, context.Canceled) {
		log.Warn("❌ [Worker] Job failed", zap.String("code", body.Code), zap.Error(err))
	}
}
