package model

import "time"

// JobType identifies the kind of work a job performs.
type JobType string

const (
	JobTypeMapGeneration JobType = "map_generation"
	JobTypeOrchestration JobType = "orchestration"
	JobTypeEnrichment    JobType = "enrichment"
	JobTypeAIAnalysis    JobType = "ai_analysis"
	JobTypeDiscovery     JobType = "discovery"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeMapGeneration, JobTypeOrchestration, JobTypeEnrichment, JobTypeAIAnalysis, JobTypeDiscovery:
		return true
	}
	return false
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusAborted   JobStatus = "aborted"
)

// Terminal reports whether the status can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed || s == JobStatusAborted
}

// TerminalJobStatuses lists every terminal status, for store guards.
var TerminalJobStatuses = []JobStatus{JobStatusCompleted, JobStatusFailed, JobStatusAborted}

// StepStatus tracks the state of one plan step inside a job.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusSucceeded StepStatus = "succeeded"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
	StepStatusCached    StepStatus = "cached"
)

// Resolved reports whether the step will not change any more.
func (s StepStatus) Resolved() bool {
	switch s {
	case StepStatusSucceeded, StepStatusFailed, StepStatusSkipped, StepStatusCached:
		return true
	}
	return false
}

// StepRun records the external run backing a plan step.
type StepRun struct {
	RunID     string     `json:"runId,omitempty"`
	Status    StepStatus `json:"status"`
	DatasetID string     `json:"datasetId,omitempty"`
	Records   int        `json:"records"`
	Polls     int        `json:"polls"`
	Error     string     `json:"error,omitempty"`
}

// JobMetadata carries the job's inputs and scheduler bookkeeping.
type JobMetadata struct {
	Query           string              `json:"query"`
	SampleSize      int                 `json:"sampleSize"`
	PostLimit       int                 `json:"postLimit"`
	Plan            *Plan               `json:"plan,omitempty"`
	IgnoreCache     bool                `json:"ignoreCache"`
	IsEnriching     bool                `json:"isEnriching"`
	UseDeepAnalysis bool                `json:"useDeepAnalysis"`
	CancelRequested bool                `json:"cancelRequested,omitempty"`
	Steps           map[string]*StepRun `json:"steps,omitempty"`
}

// JobResult is the user-visible outcome of a job.
type JobResult struct {
	Stage          string     `json:"stage"`
	DatasetID      string     `json:"datasetId,omitempty"`
	AnalysisResult *Analytics `json:"analysisResult,omitempty"`
}

// Job is a unit of asynchronous work owned by a user.
type Job struct {
	ID        string      `json:"id"`
	UserID    string      `json:"userId"`
	Type      JobType     `json:"type"`
	Status    JobStatus   `json:"status"`
	Progress  int         `json:"progress"`
	Metadata  JobMetadata `json:"metadata"`
	Result    JobResult   `json:"result"`
	Error     string      `json:"error,omitempty"`
	CreatedAt time.Time   `json:"createdAt"`
	UpdatedAt time.Time   `json:"updatedAt"`
}

// SetProgress raises progress; it never moves backwards and is capped at 100.
func (j *Job) SetProgress(p int) {
	if p > 100 {
		p = 100
	}
	if p > j.Progress {
		j.Progress = p
	}
}

// Step returns the run record for stepID, creating a pending one if absent.
func (j *Job) Step(stepID string) *StepRun {
	if j.Metadata.Steps == nil {
		j.Metadata.Steps = make(map[string]*StepRun)
	}
	sr, ok := j.Metadata.Steps[stepID]
	if !ok {
		sr = &StepRun{Status: StepStatusPending}
		j.Metadata.Steps[stepID] = sr
	}
	return sr
}

// JobInput is what a caller supplies when enqueueing a job.
type JobInput struct {
	Query           string `json:"query" validate:"required,min=2"`
	SampleSize      int    `json:"sampleSize" validate:"gte=1,lte=10000"`
	PostLimit       int    `json:"postLimit" validate:"gte=0,lte=200"`
	Plan            *Plan  `json:"plan" validate:"required"`
	IgnoreCache     bool   `json:"ignoreCache"`
	UseDeepAnalysis bool   `json:"useDeepAnalysis"`
}
