package tryon

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"quel-tryon-server/modules/common/database"
	"quel-tryon-server/modules/common/model"
	"quel-tryon-server/modules/common/telemetry"
	"quel-tryon-server/modules/common/utils"
	"quel-tryon-server/modules/tryon/composer"
	"quel-tryon-server/modules/tryon/constraints"
	"quel-tryon-server/modules/tryon/cooldown"
	"quel-tryon-server/modules/tryon/pipeline"
	"quel-tryon-server/modules/tryon/presets"
)

func pngBytes(t *testing.T, c color.Color) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, c)
		}
	}
	data, err := utils.EncodePNG(img)
	require.NoError(t, err)
	return data
}

type fakeGenerator struct {
	mu    sync.Mutex
	calls []pipeline.Options
	fn    func(ctx context.Context, opts pipeline.Options) (*pipeline.Result, error)
}

func (g *fakeGenerator) GenerateTryOn(ctx context.Context, source, garment []byte, opts pipeline.Options) (*pipeline.Result, error) {
	g.mu.Lock()
	g.calls = append(g.calls, opts)
	g.mu.Unlock()
	return g.fn(ctx, opts)
}

func (g *fakeGenerator) Calls() []pipeline.Options {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]pipeline.Options(nil), g.calls...)
}

func succeed(img []byte) func(context.Context, pipeline.Options) (*pipeline.Result, error) {
	return func(_ context.Context, opts pipeline.Options) (*pipeline.Result, error) {
		return &pipeline.Result{
			RequestID:       opts.RequestID,
			Image:           img,
			PresetUsed:      opts.PresetID,
			SelectionMethod: composer.SelectionDirect,
			PromptMode:      constraints.ModeFull,
			Verification:    pipeline.Verification{SimilarityScore: 0.93, AlignmentScore: 0.95, Attempts: 1, Mode: "normal"},
			Stages:          []pipeline.Stage{{Stage: 1, Name: "analysis", Status: pipeline.StatusPass}},
		}, nil
	}
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.TryOnJob
	// history of statuses per job, in write order
	statuses map[string][]string
	failures map[string]string
	outcomes map[string]model.JobOutcome
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{
		jobs:     map[string]*model.TryOnJob{},
		statuses: map[string][]string{},
		failures: map[string]string{},
		outcomes: map[string]model.JobOutcome{},
	}
}

func (f *fakeJobs) CreateJob(_ context.Context, job *model.TryOnJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.JobID] = &cp
	f.statuses[job.JobID] = []string{model.StatusPending}
	return nil
}

func (f *fakeJobs) FetchJob(_ context.Context, jobID string) (*model.TryOnJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", database.ErrJobNotFound, jobID)
	}
	cp := *job
	return &cp, nil
}

func (f *fakeJobs) setStatus(jobID, status string) {
	f.jobs[jobID].JobStatus = status
	f.statuses[jobID] = append(f.statuses[jobID], status)
}

func (f *fakeJobs) UpdateJobStatus(_ context.Context, jobID, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus(jobID, status)
	return nil
}

func (f *fakeJobs) CompleteJob(_ context.Context, jobID string, out model.JobOutcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus(jobID, model.StatusCompleted)
	f.outcomes[jobID] = out
	f.jobs[jobID].Attempts = out.Attempts
	return nil
}

func (f *fakeJobs) FailJob(_ context.Context, jobID, code, message string, attempts int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setStatus(jobID, model.StatusFailed)
	f.failures[jobID] = code
	f.jobs[jobID].Attempts = attempts
	return nil
}

func (f *fakeJobs) Status(jobID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[jobID].JobStatus
}

type fakeBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
	types map[string]string
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{blobs: map[string][]byte{}, types: map[string]string{}}
}

func (b *fakeBlobs) Upload(_ context.Context, path string, data []byte, contentType string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blobs[path] = data
	b.types[path] = contentType
	return nil
}

func (b *fakeBlobs) Download(_ context.Context, path string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.blobs[path]
	if !ok {
		return nil, fmt.Errorf("no object %s", path)
	}
	return data, nil
}

type fakeQueue struct {
	ch        chan string
	mu        sync.Mutex
	cancelled map[string]bool
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{ch: make(chan string, 16), cancelled: map[string]bool{}}
}

func (q *fakeQueue) Enqueue(_ context.Context, jobID string) (int64, error) {
	q.ch <- jobID
	return int64(len(q.ch)), nil
}

func (q *fakeQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	select {
	case id := <-q.ch:
		return id, nil
	case <-time.After(timeout):
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *fakeQueue) Cancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.cancelled[jobID] = true
	return nil
}

func (q *fakeQueue) IsJobCancelled(_ context.Context, jobID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.cancelled[jobID]
}

func (q *fakeQueue) ClearCancel(_ context.Context, jobID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.cancelled, jobID)
	return nil
}

type fixture struct {
	service *Service
	gen     *fakeGenerator
	jobs    *fakeJobs
	blobs   *fakeBlobs
	queue   *fakeQueue
	events  *telemetry.Recorder
}

func newFixture(t *testing.T, policy cooldown.Policy, withJobs bool) *fixture {
	t.Helper()
	catalog, err := presets.Default()
	require.NoError(t, err)
	compiler, err := constraints.NewDefaultCompiler()
	require.NoError(t, err)

	f := &fixture{
		gen:    &fakeGenerator{fn: succeed(pngBytes(t, color.NRGBA{R: 10, G: 120, B: 200, A: 255}))},
		jobs:   newFakeJobs(),
		blobs:  newFakeBlobs(),
		queue:  newFakeQueue(),
		events: telemetry.NewRecorder(),
	}
	deps := Deps{
		Generator: f.gen,
		Limiter:   cooldown.New(nil, policy, nil),
		Catalog:   catalog,
		Composer:  composer.New(compiler, catalog, nil),
		Events:    f.events,
	}
	if withJobs {
		deps.Jobs, deps.Blobs, deps.Queue = f.jobs, f.blobs, f.queue
	}
	f.service = NewService(deps)
	return f
}
