package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/fandom-graph/internal/graph"
	"github.com/sells-group/fandom-graph/internal/model"
	"github.com/sells-group/fandom-graph/pkg/apify"
)

// advance moves one job forward and persists it.
func (s *Scheduler) advance(ctx context.Context, job *model.Job) error {
	if job.Metadata.CancelRequested {
		s.abortRuns(ctx, job)
		markAborted(job)
		zap.L().Info("scheduler: job aborted", zap.String("job_id", job.ID))
		return s.save(ctx, job)
	}

	plan := job.Metadata.Plan
	if plan == nil || len(plan.Steps) == 0 {
		s.fail(ctx, job, "job has no plan")
		return nil
	}
	if job.Result.DatasetID == "" {
		s.fail(ctx, job, "job has no dataset")
		return nil
	}

	if job.Status == model.JobStatusQueued {
		job.Status = model.JobStatusRunning
		job.Result.Stage = StageScraping
		job.SetProgress(progressStarted)
	}

	t := &tickState{s: s, job: job}
	for _, step := range plan.Steps {
		if ctx.Err() != nil {
			return nil
		}
		err := t.step(ctx, step)
		if err == nil {
			continue
		}
		var jf *jobFailure
		if errors.As(err, &jf) {
			s.fail(ctx, job, jf.msg)
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		// Keep what this tick already did and retry the rest next tick.
		if saveErr := s.save(ctx, job); saveErr != nil {
			zap.L().Warn("scheduler: save after step error", zap.String("job_id", job.ID), zap.Error(saveErr))
		}
		return err
	}

	resolved := 0
	for _, step := range plan.Steps {
		if job.Step(step.StepID).Status.Resolved() {
			resolved++
		}
	}
	job.SetProgress(progressStarted + (progressScraped-progressStarted)*resolved/len(plan.Steps))

	if resolved < len(plan.Steps) {
		return s.save(ctx, job)
	}

	job.Result.Stage = StageAnalyzing
	job.SetProgress(progressScraped)
	if err := s.save(ctx, job); err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	s.finalize(ctx, job)
	return nil
}

// tickState caches the job's step results for one tick.
type tickState struct {
	s       *Scheduler
	job     *model.Job
	results graph.StepResults
}

func (t *tickState) stepResults(ctx context.Context) (graph.StepResults, error) {
	if t.results != nil {
		return t.results, nil
	}
	ds, err := t.s.store.GetDatasetByID(ctx, t.job.Result.DatasetID)
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: load dataset %s", t.job.Result.DatasetID)
	}
	t.results = graph.StepResults(ds.StepItems())
	return t.results, nil
}

// step advances one plan step. A *jobFailure fails the whole job; other
// errors leave the job for the next tick.
func (t *tickState) step(ctx context.Context, step model.PlanStep) error {
	sr := t.job.Step(step.StepID)
	log := zap.L().With(zap.String("job_id", t.job.ID), zap.String("step_id", step.StepID))

	switch sr.Status {
	case model.StepStatusPending:
		if step.Cached {
			return t.loadCached(ctx, step, sr)
		}
		for _, dep := range step.DependsOn() {
			if !t.job.Step(dep).Status.Resolved() {
				return nil
			}
		}
		input, ok, err := t.substitute(ctx, step)
		if err != nil {
			return err
		}
		if !ok {
			sr.Status = model.StepStatusSkipped
			log.Info("scheduler: step skipped, dependency produced no handles")
			return nil
		}
		run, err := t.s.actors.Start(ctx, step.ActorID, input)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return t.stepFailed(step, sr, err.Error())
		}
		sr.RunID = run.ID
		sr.Status = model.StepStatusRunning
		log.Info("scheduler: step started", zap.String("run_id", run.ID), zap.String("actor_id", step.ActorID))
		return nil

	case model.StepStatusRunning:
		run, err := t.s.actors.Status(ctx, step.ActorID, sr.RunID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sr.Polls++
		if err != nil {
			return t.stepFailed(step, sr, err.Error())
		}
		if !run.Terminal() {
			if sr.Polls >= t.s.cfg.MaxStatusPolls {
				if err := t.s.actors.Abort(ctx, sr.RunID); err != nil {
					log.Debug("scheduler: abort after poll limit failed", zap.Error(err))
				}
				return t.stepFailed(step, sr, fmt.Sprintf("run %s still %s after %d polls", sr.RunID, run.Status, sr.Polls))
			}
			return nil
		}
		if !run.Succeeded() {
			return t.stepFailed(step, sr, fmt.Sprintf("run %s finished %s", sr.RunID, run.Status))
		}
		return t.collect(ctx, step, sr, run)
	}
	return nil
}

func (t *tickState) collect(ctx context.Context, step model.PlanStep, sr *model.StepRun, run *apify.Run) error {
	items, err := t.s.actors.Items(ctx, step.ActorID, run.DefaultDatasetID)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		return t.stepFailed(step, sr, err.Error())
	}
	n, err := t.appendItems(ctx, step.StepID, items)
	if err != nil {
		return err
	}
	sr.Status = model.StepStatusSucceeded
	sr.DatasetID = run.DefaultDatasetID
	sr.Records = n
	zap.L().Info("scheduler: step succeeded",
		zap.String("job_id", t.job.ID), zap.String("step_id", step.StepID), zap.Int("records", n))
	return nil
}

// loadCached copies the step's items from the reused dataset.
func (t *tickState) loadCached(ctx context.Context, step model.PlanStep, sr *model.StepRun) error {
	plan := t.job.Metadata.Plan
	if len(plan.ExistingDatasetIDs) == 0 {
		return t.stepFailed(step, sr, "cached step without a source dataset")
	}
	src, err := t.s.store.GetDatasetByID(ctx, plan.ExistingDatasetIDs[0])
	if err != nil {
		return t.stepFailed(step, sr, err.Error())
	}
	n, err := t.appendItems(ctx, step.StepID, src.StepItems()[step.StepID])
	if err != nil {
		return err
	}
	sr.Status = model.StepStatusCached
	sr.DatasetID = src.ID
	sr.Records = n
	return nil
}

// appendItems adds items to the job's dataset and the tick cache.
func (t *tickState) appendItems(ctx context.Context, stepID string, items []json.RawMessage) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}
	records := make([]model.DatasetRecord, len(items))
	for i, it := range items {
		records[i] = model.DatasetRecord{RecordType: model.RecordTypeScrapeItem, StepID: stepID, Payload: it}
	}
	if _, err := t.s.store.InsertRecords(ctx, t.job.Result.DatasetID, records); err != nil {
		return 0, eris.Wrapf(err, "scheduler: store %s items", stepID)
	}
	if t.results != nil {
		t.results[stepID] = append(t.results[stepID], items...)
	}
	return len(items), nil
}

// substitute resolves placeholder inputs. ok is false when a placeholder
// resolved to nothing.
func (t *tickState) substitute(ctx context.Context, step model.PlanStep) (map[string]any, bool, error) {
	if step.Primary() {
		return step.Input, true, nil
	}
	results, err := t.stepResults(ctx)
	if err != nil {
		return nil, false, err
	}
	out := make(map[string]any, len(step.Input))
	for k, v := range step.Input {
		if !hasPlaceholder(v) {
			out[k] = v
			continue
		}
		handles := graph.ResolveHandles(v, results)
		if len(handles) == 0 {
			return nil, false, nil
		}
		out[k] = handles
	}
	return out, true, nil
}

func hasPlaceholder(v any) bool {
	switch t := v.(type) {
	case string:
		_, ok := graph.PlaceholderStep(t)
		return ok
	case []string:
		for _, s := range t {
			if hasPlaceholder(s) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasPlaceholder(e) {
				return true
			}
		}
	}
	return false
}

// stepFailed records a step failure. Only the failure of the sole primary
// step fails the job; anything else degrades to zero records.
func (t *tickState) stepFailed(step model.PlanStep, sr *model.StepRun, msg string) error {
	sr.Status = model.StepStatusFailed
	sr.Error = msg
	sr.Records = 0
	zap.L().Warn("scheduler: step failed",
		zap.String("job_id", t.job.ID), zap.String("step_id", step.StepID), zap.String("error", msg))

	if step.Primary() && len(t.job.Metadata.Plan.PrimarySteps()) == 1 {
		return &jobFailure{msg: fmt.Sprintf("step %s failed: %s", step.StepID, msg)}
	}
	return nil
}

// jobFailure ends the job as failed.
type jobFailure struct {
	msg string
}

func (e *jobFailure) Error() string { return e.msg }
