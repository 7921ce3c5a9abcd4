package enrich

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// State is the enrichment state of one dataset.
type State int

const (
	StateNotChecked State = iota
	StateGapsFound
	StateEnrichmentRunning
	StateEnrichmentComplete
	StateEnrichmentFailed
)

func (s State) String() string {
	switch s {
	case StateNotChecked:
		return "not_checked"
	case StateGapsFound:
		return "gaps_found"
	case StateEnrichmentRunning:
		return "enrichment_running"
	case StateEnrichmentComplete:
		return "enrichment_complete"
	case StateEnrichmentFailed:
		return "enrichment_failed"
	default:
		return "unknown"
	}
}

// Task is one background enrichment for a dataset.
type Task struct {
	DatasetID string
	Handles   []string
	Run       func(ctx context.Context) error
}

type taskEntry struct {
	handles []string
	cancel  context.CancelFunc
}

// Executor runs enrichment tasks in the background, at most one per dataset,
// and records each dataset's State.
type Executor struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	tasks  map[string]*taskEntry
	states map[string]State
	wg     sync.WaitGroup
}

// NewExecutor creates an Executor. Tasks are detached from the caller's
// request and stop only on Cancel or Shutdown.
func NewExecutor() *Executor {
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		ctx:    ctx,
		cancel: cancel,
		tasks:  make(map[string]*taskEntry),
		states: make(map[string]State),
	}
}

// Submit starts task unless one is already running for its dataset. The
// dataset moves to StateEnrichmentRunning, then to complete or failed
// depending on the task's error.
func (e *Executor) Submit(task Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.tasks[task.DatasetID]; busy {
		return false
	}
	if e.ctx.Err() != nil {
		return false
	}
	ctx, cancel := context.WithCancel(e.ctx)
	e.tasks[task.DatasetID] = &taskEntry{handles: append([]string(nil), task.Handles...), cancel: cancel}
	e.states[task.DatasetID] = StateEnrichmentRunning

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer cancel()
		err := task.Run(ctx)

		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.tasks, task.DatasetID)
		if err != nil {
			e.states[task.DatasetID] = StateEnrichmentFailed
			zap.L().Warn("enrich: task failed", zap.String("dataset_id", task.DatasetID), zap.Error(err))
			return
		}
		e.states[task.DatasetID] = StateEnrichmentComplete
	}()
	return true
}

// State returns the dataset's last known state.
func (e *Executor) State(datasetID string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.states[datasetID]
}

// SetState records a state for a dataset that has no running task.
func (e *Executor) SetState(datasetID string, s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.tasks[datasetID]; busy {
		return
	}
	e.states[datasetID] = s
}

// Handles returns the handles being enriched for a dataset.
func (e *Executor) Handles(datasetID string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.tasks[datasetID]; ok {
		return append([]string(nil), t.handles...)
	}
	return nil
}

// Cancel stops the dataset's running task, if any.
func (e *Executor) Cancel(datasetID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.tasks[datasetID]
	if ok {
		t.cancel()
	}
	return ok
}

// Wait blocks until every submitted task has returned.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// Shutdown cancels all tasks and waits for them.
func (e *Executor) Shutdown() {
	e.cancel()
	e.wg.Wait()
}
