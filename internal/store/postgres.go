package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/fandom-graph/internal/db"
	"github.com/sells-group/fandom-graph/internal/model"
)

// PostgresStore implements Store on a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects to Postgres.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. The caller owns its lifecycle.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	progress   INTEGER NOT NULL DEFAULT 0,
	metadata   JSONB NOT NULL DEFAULT '{}'::jsonb,
	result     JSONB NOT NULL DEFAULT '{}'::jsonb,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	query         TEXT NOT NULL,
	target_handle TEXT NOT NULL DEFAULT '',
	platform      TEXT NOT NULL DEFAULT '',
	sample_size   INTEGER NOT NULL DEFAULT 0,
	post_limit    INTEGER NOT NULL DEFAULT 0,
	record_count  INTEGER NOT NULL DEFAULT 0,
	enriching     BOOLEAN NOT NULL DEFAULT false,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_datasets_user_created ON datasets(user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS dataset_records (
	id          TEXT PRIMARY KEY,
	dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	record_type TEXT NOT NULL,
	step_id     TEXT NOT NULL DEFAULT '',
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dataset_records_dataset ON dataset_records(dataset_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *model.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	if job.Status == "" {
		job.Status = model.JobStatusQueued
	}

	metadata, result, err := encodeJob(job)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, user_id, type, status, progress, metadata, result, error, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, job.UserID, string(job.Type), string(job.Status), job.Progress,
		metadata, result, job.Error, now, now,
	)
	return eris.Wrap(err, "postgres: insert job")
}

func (s *PostgresStore) UpdateJob(ctx context.Context, job *model.Job) error {
	metadata, result, err := encodeJob(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, metadata = $3, result = $4, error = $5, updated_at = $6
		 WHERE id = $7 AND status <> ALL($8)`,
		string(job.Status), job.Progress, metadata, result, job.Error, now, job.ID, terminalStatuses,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job %s", job.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.missingOrTerminal(ctx, job.ID)
	}
	job.UpdatedAt = now
	return nil
}

func (s *PostgresStore) missingOrTerminal(ctx context.Context, id string) error {
	var status string
	err := s.pool.QueryRow(ctx, `SELECT status FROM jobs WHERE id = $1`, id).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: get job status %s", id)
	}
	return eris.Wrapf(ErrJobTerminal, "postgres: job %s is %s", id, status)
}

const jobColumns = `id, user_id, type, status, progress, metadata, result, error, created_at, updated_at`

func scanPgJob(row pgx.Row) (*model.Job, error) {
	var (
		j                model.Job
		jobType, status  string
		metadata, result []byte
	)
	if err := row.Scan(&j.ID, &j.UserID, &jobType, &status, &j.Progress, &metadata, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Type, j.Status = model.JobType(jobType), model.JobStatus(status)
	if err := decodeJob(&j, metadata, result); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanPgJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get job %s", id)
	}
	return j, nil
}

func (s *PostgresStore) GetUserJobs(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	return s.queryJobs(ctx, "postgres: list user jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, listLimit(limit))
}

func (s *PostgresStore) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx, "postgres: list active jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE status = ANY($1) ORDER BY created_at`,
		activeStatuses)
}

func (s *PostgresStore) ListJobsSince(ctx context.Context, since time.Time, limit int) ([]model.Job, error) {
	return s.queryJobs(ctx, "postgres: list jobs since",
		`SELECT `+jobColumns+` FROM jobs WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`,
		since.UTC(), listLimit(limit))
}

func (s *PostgresStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close()

	var jobs []model.Job
	for rows.Next() {
		j, err := scanPgJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *PostgresStore) SetJobEnriching(ctx context.Context, id string, enriching bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET metadata = jsonb_set(metadata, '{isEnriching}', to_jsonb($1::boolean)), updated_at = $2 WHERE id = $3`,
		enriching, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set job enriching %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) DeleteJob(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobs WHERE id = $1`, id)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete job %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: job %s", id)
	}
	return nil
}

func (s *PostgresStore) CreateDataset(ctx context.Context, ds *model.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.CreatedAt = time.Now().UTC()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO datasets (id, user_id, query, target_handle, platform, sample_size, post_limit, record_count, enriching, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		ds.ID, ds.UserID, ds.Query, ds.TargetHandle, ds.Platform, ds.SampleSize, ds.PostLimit,
		ds.RecordCount, ds.Enriching, ds.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert dataset")
}

const datasetColumns = `id, user_id, query, target_handle, platform, sample_size, post_limit, record_count, enriching, created_at`

func scanPgDataset(row pgx.Row) (*model.Dataset, error) {
	var d model.Dataset
	err := row.Scan(&d.ID, &d.UserID, &d.Query, &d.TargetHandle, &d.Platform, &d.SampleSize,
		&d.PostLimit, &d.RecordCount, &d.Enriching, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *PostgresStore) GetDatasetByID(ctx context.Context, id string) (*model.Dataset, error) {
	d, err := scanPgDataset(s.pool.QueryRow(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: get dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get dataset %s", id)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, dataset_id, record_type, step_id, payload, created_at FROM dataset_records
		 WHERE dataset_id = $1 ORDER BY created_at, id`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list records %s", id)
	}
	defer rows.Close()

	for rows.Next() {
		var r model.DatasetRecord
		var payload []byte
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.RecordType, &r.StepID, &payload, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		r.Payload = payload
		d.Data = append(d.Data, r)
	}
	return d, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ListDatasets(ctx context.Context, userID string, limit int) ([]model.Dataset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`,
		userID, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list datasets")
	}
	defer rows.Close()

	var out []model.Dataset
	for rows.Next() {
		d, err := scanPgDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan dataset")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate datasets")
}

var recordColumns = []string{"id", "dataset_id", "record_type", "step_id", "payload", "created_at"}

// InsertRecords appends records with COPY and bumps the dataset's record
// count by the number of scrape items, in one transaction.
func (s *PostgresStore) InsertRecords(ctx context.Context, datasetID string, records []model.DatasetRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(records))
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DatasetID = datasetID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		rows[i] = []any{r.ID, datasetID, r.RecordType, r.StepID, []byte(r.Payload), r.CreatedAt}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert records: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.CopyFromTx(ctx, tx, "dataset_records", recordColumns, rows)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert records %s", datasetID)
	}
	if items := countScrapeItems(records); items > 0 {
		tag, err := tx.Exec(ctx, `UPDATE datasets SET record_count = record_count + $1 WHERE id = $2`, items, datasetID)
		if err != nil {
			return 0, eris.Wrapf(err, "postgres: bump record count %s", datasetID)
		}
		if tag.RowsAffected() == 0 {
			return 0, eris.Wrapf(ErrNotFound, "postgres: dataset %s", datasetID)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: insert records: commit")
	}
	return int(n), nil
}

// TryAcquireEnrichment sets the dataset's enriching flag only when it was
// clear. It reports whether this caller won the flag.
func (s *PostgresStore) TryAcquireEnrichment(ctx context.Context, datasetID string) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE datasets SET enriching = true WHERE id = $1 AND enriching = false`, datasetID)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: acquire enrichment %s", datasetID)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var enriching bool
	err = s.pool.QueryRow(ctx, `SELECT enriching FROM datasets WHERE id = $1`, datasetID).Scan(&enriching)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "postgres: dataset %s", datasetID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: get dataset %s", datasetID)
	}
	return false, nil
}

func (s *PostgresStore) ReleaseEnrichment(ctx context.Context, datasetID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE datasets SET enriching = false WHERE id = $1`, datasetID)
	return eris.Wrapf(err, "postgres: release enrichment %s", datasetID)
}
