// Package store persists jobs, datasets and dataset records.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/model"
)

var (
	// ErrNotFound is returned when a job or dataset does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrJobTerminal is returned when updating a job that already completed,
	// failed or was aborted.
	ErrJobTerminal = eris.New("store: job is terminal")
)

// Store defines the persistence interface for the orchestration pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, job *model.Job) error
	UpdateJob(ctx context.Context, job *model.Job) error
	GetJob(ctx context.Context, id string) (*model.Job, error)
	GetUserJobs(ctx context.Context, userID string, limit int) ([]model.Job, error)
	ListActiveJobs(ctx context.Context) ([]model.Job, error)
	ListJobsSince(ctx context.Context, since time.Time, limit int) ([]model.Job, error)
	SetJobEnriching(ctx context.Context, id string, enriching bool) error
	DeleteJob(ctx context.Context, id string) error

	// Datasets
	CreateDataset(ctx context.Context, ds *model.Dataset) error
	GetDatasetByID(ctx context.Context, id string) (*model.Dataset, error)
	ListDatasets(ctx context.Context, userID string, limit int) ([]model.Dataset, error)
	InsertRecords(ctx context.Context, datasetID string, records []model.DatasetRecord) (int, error)
	TryAcquireEnrichment(ctx context.Context, datasetID string) (bool, error)
	ReleaseEnrichment(ctx context.Context, datasetID string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

var activeStatuses = []string{string(model.JobStatusQueued), string(model.JobStatusRunning)}

var terminalStatuses = func() []string {
	out := make([]string, len(model.TerminalJobStatuses))
	for i, s := range model.TerminalJobStatuses {
		out[i] = string(s)
	}
	return out
}()

func listLimit(n int) int {
	if n <= 0 {
		return defaultListLimit
	}
	return n
}

func encodeJob(job *model.Job) (metadata, result []byte, err error) {
	metadata, err = json.Marshal(job.Metadata)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal job metadata")
	}
	result, err = json.Marshal(job.Result)
	if err != nil {
		return nil, nil, eris.Wrap(err, "store: marshal job result")
	}
	return metadata, result, nil
}

func decodeJob(job *model.Job, metadata, result []byte) error {
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &job.Metadata); err != nil {
			return eris.Wrap(err, "store: unmarshal job metadata")
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return eris.Wrap(err, "store: unmarshal job result")
		}
	}
	return nil
}

func countScrapeItems(records []model.DatasetRecord) int {
	n := 0
	for _, r := range records {
		if r.RecordType == model.RecordTypeScrapeItem {
			n++
		}
	}
	return n
}
