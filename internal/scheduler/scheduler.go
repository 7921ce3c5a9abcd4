// Package scheduler runs the single polling loop that drives jobs through
// their scrape steps and hands finished jobs to a Finalizer.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/internal/planner"
	"github.com/sells-group/fandom-graph/internal/resilience"
	"github.com/sells-group/fandom-graph/internal/store"
	"github.com/sells-group/fandom-graph/pkg/apify"
)

// Job stages reported in Result.Stage.
const (
	StageQueued     = "queued"
	StageScraping   = "scraping"
	StageAnalyzing  = "analyzing"
	StageCompleted  = "completed"
	StageFailed     = "failed"
	StageAborted    = "aborted"
	progressStarted = 5
	progressScraped = 85
)

// ActorService is the part of the actor runner the scheduler needs.
type ActorService interface {
	Start(ctx context.Context, actorID string, input map[string]any) (*apify.Run, error)
	Status(ctx context.Context, actorID, runID string) (*apify.Run, error)
	Items(ctx context.Context, actorID, datasetID string) ([]json.RawMessage, error)
	Abort(ctx context.Context, runID string) error
}

// Finalizer turns a job whose steps have all resolved into its result. It
// fills job.Result; the scheduler marks the job completed.
type Finalizer interface {
	Finalize(ctx context.Context, job *model.Job) error
}

// FinalizerFunc adapts a function to Finalizer.
type FinalizerFunc func(ctx context.Context, job *model.Job) error

// Finalize calls f.
func (f FinalizerFunc) Finalize(ctx context.Context, job *model.Job) error { return f(ctx, job) }

// Config tunes the loop.
type Config struct {
	Tick           time.Duration
	MaxStatusPolls int
	Platform       string
}

// DefaultConfig ticks every 2s and gives up on a run after 15 polls.
func DefaultConfig() Config {
	return Config{Tick: 2 * time.Second, MaxStatusPolls: 15, Platform: "instagram"}
}

// Scheduler owns the polling loop. Create one per process with New.
type Scheduler struct {
	store     store.Store
	actors    ActorService
	finalizer Finalizer
	cfg       Config

	running atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}

	finMu      sync.Mutex
	finalizing map[string]bool
	wg         sync.WaitGroup
}

// New creates a Scheduler. Zero config values take the defaults.
func New(st store.Store, actors ActorService, fin Finalizer, cfg Config) *Scheduler {
	def := DefaultConfig()
	if cfg.Tick <= 0 {
		cfg.Tick = def.Tick
	}
	if cfg.MaxStatusPolls <= 0 {
		cfg.MaxStatusPolls = def.MaxStatusPolls
	}
	if cfg.Platform == "" {
		cfg.Platform = def.Platform
	}
	return &Scheduler{
		store:      st,
		actors:     actors,
		finalizer:  fin,
		cfg:        cfg,
		finalizing: make(map[string]bool),
	}
}

// EnqueueJob validates input, creates the job's dataset and a queued job,
// and returns the job id without waiting for any work.
func (s *Scheduler) EnqueueJob(ctx context.Context, userID string, jobType model.JobType, input model.JobInput) (string, error) {
	if !jobType.Valid() {
		return "", resilience.NewValidationError("type", "unknown job type "+string(jobType))
	}
	if err := planner.ValidateStruct(input); err != nil {
		return "", err
	}
	if err := planner.ValidatePlan(input.Plan); err != nil {
		return "", err
	}

	ds := &model.Dataset{
		UserID:       userID,
		Query:        input.Query,
		TargetHandle: planner.TargetKey(input.Plan.Targets),
		Platform:     s.cfg.Platform,
		SampleSize:   input.SampleSize,
		PostLimit:    input.PostLimit,
	}
	if err := s.store.CreateDataset(ctx, ds); err != nil {
		return "", eris.Wrap(err, "scheduler: create dataset")
	}

	job := &model.Job{
		UserID: userID,
		Type:   jobType,
		Status: model.JobStatusQueued,
		Metadata: model.JobMetadata{
			Query:           input.Query,
			SampleSize:      input.SampleSize,
			PostLimit:       input.PostLimit,
			Plan:            input.Plan.Clone(),
			IgnoreCache:     input.IgnoreCache,
			UseDeepAnalysis: input.UseDeepAnalysis,
		},
		Result: model.JobResult{Stage: StageQueued, DatasetID: ds.ID},
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return "", eris.Wrap(err, "scheduler: create job")
	}

	zap.L().Info("scheduler: job enqueued",
		zap.String("job_id", job.ID),
		zap.String("dataset_id", ds.ID),
		zap.Int("steps", len(input.Plan.Steps)),
	)
	return job.ID, nil
}

// Start launches the polling loop. It returns false when the loop is
// already running.
func (s *Scheduler) Start(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	go s.loop(ctx, done)
	zap.L().Info("scheduler: started", zap.Duration("tick", s.cfg.Tick))
	return true
}

// Stop cancels the loop and waits for it and any in-flight finalization.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	s.wg.Wait()
	if s.running.CompareAndSwap(true, false) {
		zap.L().Info("scheduler: stopped")
	}
}

// Running reports whether the loop is active.
func (s *Scheduler) Running() bool {
	return s.running.Load()
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.Tick)
	defer ticker.Stop()

	for {
		if err := s.Tick(ctx); err != nil && ctx.Err() == nil {
			zap.L().Error("scheduler: tick failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Tick advances every active job by one step.
func (s *Scheduler) Tick(ctx context.Context) error {
	jobs, err := s.store.ListActiveJobs(ctx)
	if err != nil {
		return eris.Wrap(err, "scheduler: list active jobs")
	}
	for i := range jobs {
		if ctx.Err() != nil {
			return nil
		}
		job := &jobs[i]
		if s.isFinalizing(job.ID) {
			continue
		}
		if err := s.advance(ctx, job); err != nil {
			if errors.Is(err, store.ErrJobTerminal) {
				continue
			}
			zap.L().Error("scheduler: advance job", zap.String("job_id", job.ID), zap.Error(err))
		}
	}
	return nil
}

// CancelJob aborts a job. A queued job is aborted immediately; a running job
// has its in-flight runs aborted best-effort and is marked aborted on the
// next tick.
func (s *Scheduler) CancelJob(ctx context.Context, id string) error {
	job, err := s.store.GetJob(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "scheduler: cancel %s", id)
	}
	if job.Status.Terminal() {
		return eris.Wrapf(store.ErrJobTerminal, "scheduler: cancel %s: job is %s", id, job.Status)
	}

	if job.Status == model.JobStatusQueued {
		markAborted(job)
		return eris.Wrapf(s.store.UpdateJob(ctx, job), "scheduler: cancel %s", id)
	}

	s.abortRuns(ctx, job)
	job.Metadata.CancelRequested = true
	if err := s.store.UpdateJob(ctx, job); err != nil {
		return eris.Wrapf(err, "scheduler: cancel %s", id)
	}
	zap.L().Info("scheduler: cancel requested", zap.String("job_id", id))
	return nil
}

func markAborted(job *model.Job) {
	job.Status = model.JobStatusAborted
	job.Result.Stage = StageAborted
	job.Error = "cancelled by user"
}

func (s *Scheduler) abortRuns(ctx context.Context, job *model.Job) {
	for stepID, sr := range job.Metadata.Steps {
		if sr.Status != model.StepStatusRunning || sr.RunID == "" {
			continue
		}
		if err := s.actors.Abort(ctx, sr.RunID); err != nil {
			zap.L().Warn("scheduler: abort run failed",
				zap.String("job_id", job.ID), zap.String("step_id", stepID), zap.Error(err))
		}
		sr.Status = model.StepStatusFailed
		sr.Error = "aborted"
	}
}

// save writes job after re-reading it: a job that turned terminal in the
// meantime is left alone, and a cancel request made concurrently aborts the
// job whatever state it was about to enter.
func (s *Scheduler) save(ctx context.Context, job *model.Job) error {
	fresh, err := s.store.GetJob(ctx, job.ID)
	if err != nil {
		return eris.Wrapf(err, "scheduler: reload job %s", job.ID)
	}
	if fresh.Status.Terminal() {
		return eris.Wrapf(store.ErrJobTerminal, "scheduler: job %s is %s", job.ID, fresh.Status)
	}
	if fresh.Metadata.CancelRequested {
		job.Metadata.CancelRequested = true
		markAborted(job)
	}
	job.Metadata.IsEnriching = fresh.Metadata.IsEnriching
	return s.store.UpdateJob(ctx, job)
}

func (s *Scheduler) isFinalizing(id string) bool {
	s.finMu.Lock()
	defer s.finMu.Unlock()
	return s.finalizing[id]
}

// claimFinalization reports whether the caller won the right to finalize id.
func (s *Scheduler) claimFinalization(id string) bool {
	s.finMu.Lock()
	defer s.finMu.Unlock()
	if s.finalizing[id] {
		return false
	}
	s.finalizing[id] = true
	return true
}

func (s *Scheduler) releaseFinalization(id string) {
	s.finMu.Lock()
	defer s.finMu.Unlock()
	delete(s.finalizing, id)
}

// finalize runs the Finalizer in a tracked goroutine.
func (s *Scheduler) finalize(ctx context.Context, job *model.Job) {
	if !s.claimFinalization(job.ID) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.releaseFinalization(job.ID)

		log := zap.L().With(zap.String("job_id", job.ID))
		start := time.Now()

		var err error
		if s.finalizer != nil {
			err = s.finalizer.Finalize(ctx, job)
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Warn("scheduler: finalization interrupted, will retry", zap.Error(err))
				return
			}
			log.Error("scheduler: finalization failed", zap.Error(err))
			s.fail(context.WithoutCancel(ctx), job, err.Error())
			return
		}

		job.Status = model.JobStatusCompleted
		job.Result.Stage = StageCompleted
		job.SetProgress(100)
		if err := s.save(context.WithoutCancel(ctx), job); err != nil {
			log.Warn("scheduler: could not mark job completed", zap.Error(err))
			return
		}
		if job.Status == model.JobStatusAborted {
			log.Info("scheduler: job cancelled during finalization")
			return
		}
		log.Info("scheduler: job completed", zap.Duration("finalize_elapsed", time.Since(start)))
	}()
}

func (s *Scheduler) fail(ctx context.Context, job *model.Job, msg string) {
	job.Status = model.JobStatusFailed
	job.Result.Stage = StageFailed
	job.Error = msg
	if err := s.save(ctx, job); err != nil && !errors.Is(err, store.ErrJobTerminal) {
		zap.L().Error("scheduler: could not mark job failed", zap.String("job_id", job.ID), zap.Error(err))
	}
}
