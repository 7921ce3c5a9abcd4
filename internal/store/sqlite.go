package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/fandom-graph/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers from the scheduler and enricher.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	status     TEXT NOT NULL DEFAULT 'queued',
	progress   INTEGER NOT NULL DEFAULT 0,
	metadata   TEXT NOT NULL DEFAULT '{}',
	result     TEXT NOT NULL DEFAULT '{}',
	error      TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_user_created ON jobs(user_id, created_at);

CREATE TABLE IF NOT EXISTS datasets (
	id            TEXT PRIMARY KEY,
	user_id       TEXT NOT NULL,
	query         TEXT NOT NULL,
	target_handle TEXT NOT NULL DEFAULT '',
	platform      TEXT NOT NULL DEFAULT '',
	sample_size   INTEGER NOT NULL DEFAULT 0,
	post_limit    INTEGER NOT NULL DEFAULT 0,
	record_count  INTEGER NOT NULL DEFAULT 0,
	enriching     INTEGER NOT NULL DEFAULT 0,
	created_at    DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_datasets_user_created ON datasets(user_id, created_at);

CREATE TABLE IF NOT EXISTS dataset_records (
	id          TEXT PRIMARY KEY,
	dataset_id  TEXT NOT NULL REFERENCES datasets(id) ON DELETE CASCADE,
	record_type TEXT NOT NULL,
	step_id     TEXT NOT NULL DEFAULT '',
	payload     TEXT NOT NULL,
	seq         INTEGER NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_dataset_records_dataset ON dataset_records(dataset_id, seq);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, job *model.Job) error {
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
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, user_id, type, status, progress, metadata, result, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.UserID, string(job.Type), string(job.Status), job.Progress,
		string(metadata), string(result), job.Error, now, now,
	)
	return eris.Wrap(err, "sqlite: insert job")
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, job *model.Job) error {
	metadata, result, err := encodeJob(job)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, metadata = ?, result = ?, error = ?, updated_at = ?
		 WHERE id = ? AND status NOT IN (?, ?, ?)`,
		string(job.Status), job.Progress, string(metadata), string(result), job.Error, now, job.ID,
		terminalStatuses[0], terminalStatuses[1], terminalStatuses[2],
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job %s", job.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var status string
		err := s.db.QueryRowContext(ctx, `SELECT status FROM jobs WHERE id = ?`, job.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return eris.Wrapf(ErrNotFound, "sqlite: job %s", job.ID)
		}
		if err != nil {
			return eris.Wrapf(err, "sqlite: get job status %s", job.ID)
		}
		return eris.Wrapf(ErrJobTerminal, "sqlite: job %s is %s", job.ID, status)
	}
	job.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteJob(row rowScanner) (*model.Job, error) {
	var (
		j                model.Job
		jobType, status  string
		metadata, result string
	)
	if err := row.Scan(&j.ID, &j.UserID, &jobType, &status, &j.Progress, &metadata, &result, &j.Error, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Type, j.Status = model.JobType(jobType), model.JobStatus(status)
	if err := decodeJob(&j, []byte(metadata), []byte(result)); err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanSQLiteJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get job %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get job %s", id)
	}
	return j, nil
}

func (s *SQLiteStore) GetUserJobs(ctx context.Context, userID string, limit int) ([]model.Job, error) {
	return s.queryJobs(ctx, "sqlite: list user jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, listLimit(limit))
}

func (s *SQLiteStore) ListActiveJobs(ctx context.Context) ([]model.Job, error) {
	return s.queryJobs(ctx, "sqlite: list active jobs",
		`SELECT `+jobColumns+` FROM jobs WHERE status IN (?, ?) ORDER BY created_at`,
		activeStatuses[0], activeStatuses[1])
}

func (s *SQLiteStore) ListJobsSince(ctx context.Context, since time.Time, limit int) ([]model.Job, error) {
	return s.queryJobs(ctx, "sqlite: list jobs since",
		`SELECT `+jobColumns+` FROM jobs WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		since.UTC(), listLimit(limit))
}

func (s *SQLiteStore) queryJobs(ctx context.Context, op, query string, args ...any) ([]model.Job, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, op)
	}
	defer rows.Close() //nolint:errcheck

	var jobs []model.Job
	for rows.Next() {
		j, err := scanSQLiteJob(rows)
		if err != nil {
			return nil, eris.Wrap(err, op+": scan")
		}
		jobs = append(jobs, *j)
	}
	return jobs, eris.Wrap(rows.Err(), op+": iterate")
}

func (s *SQLiteStore) SetJobEnriching(ctx context.Context, id string, enriching bool) error {
	flag := "false"
	if enriching {
		flag = "true"
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET metadata = json_set(metadata, '$.isEnriching', json(?)), updated_at = ? WHERE id = ?`,
		flag, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set job enriching %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete job %s", id)
	}
	return checkRowsAffected(res, "job", id)
}

func (s *SQLiteStore) CreateDataset(ctx context.Context, ds *model.Dataset) error {
	if ds.ID == "" {
		ds.ID = uuid.New().String()
	}
	ds.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO datasets (id, user_id, query, target_handle, platform, sample_size, post_limit, record_count, enriching, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ds.ID, ds.UserID, ds.Query, ds.TargetHandle, ds.Platform, ds.SampleSize, ds.PostLimit,
		ds.RecordCount, ds.Enriching, ds.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert dataset")
}

func scanSQLiteDataset(row rowScanner) (*model.Dataset, error) {
	var d model.Dataset
	err := row.Scan(&d.ID, &d.UserID, &d.Query, &d.TargetHandle, &d.Platform, &d.SampleSize,
		&d.PostLimit, &d.RecordCount, &d.Enriching, &d.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *SQLiteStore) GetDatasetByID(ctx context.Context, id string) (*model.Dataset, error) {
	d, err := scanSQLiteDataset(s.db.QueryRowContext(ctx, `SELECT `+datasetColumns+` FROM datasets WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: get dataset %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get dataset %s", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, dataset_id, record_type, step_id, payload, created_at FROM dataset_records
		 WHERE dataset_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list records %s", id)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var r model.DatasetRecord
		var payload string
		if err := rows.Scan(&r.ID, &r.DatasetID, &r.RecordType, &r.StepID, &payload, &r.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		r.Payload = []byte(payload)
		d.Data = append(d.Data, r)
	}
	return d, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ListDatasets(ctx context.Context, userID string, limit int) ([]model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+datasetColumns+` FROM datasets WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, listLimit(limit))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list datasets")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Dataset
	for rows.Next() {
		d, err := scanSQLiteDataset(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dataset")
		}
		out = append(out, *d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate datasets")
}

func (s *SQLiteStore) InsertRecords(ctx context.Context, datasetID string, records []model.DatasetRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM dataset_records WHERE dataset_id = ?`, datasetID,
	).Scan(&seq); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: next seq")
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO dataset_records (id, dataset_id, record_type, step_id, payload, seq, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	for i := range records {
		r := &records[i]
		if r.ID == "" {
			r.ID = uuid.New().String()
		}
		r.DatasetID = datasetID
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		seq++
		if _, err := stmt.ExecContext(ctx, r.ID, datasetID, r.RecordType, r.StepID, string(r.Payload), seq, r.CreatedAt); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record into %s", datasetID)
		}
	}

	if items := countScrapeItems(records); items > 0 {
		res, err := tx.ExecContext(ctx, `UPDATE datasets SET record_count = record_count + ? WHERE id = ?`, items, datasetID)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: bump record count %s", datasetID)
		}
		if err := checkRowsAffected(res, "dataset", datasetID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert records: commit")
	}
	return len(records), nil
}

func (s *SQLiteStore) TryAcquireEnrichment(ctx context.Context, datasetID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE datasets SET enriching = 1 WHERE id = ? AND enriching = 0`, datasetID)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: acquire enrichment %s", datasetID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 1 {
		return true, nil
	}

	var enriching bool
	err = s.db.QueryRowContext(ctx, `SELECT enriching FROM datasets WHERE id = ?`, datasetID).Scan(&enriching)
	if errors.Is(err, sql.ErrNoRows) {
		return false, eris.Wrapf(ErrNotFound, "sqlite: dataset %s", datasetID)
	}
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: get dataset %s", datasetID)
	}
	return false, nil
}

func (s *SQLiteStore) ReleaseEnrichment(ctx context.Context, datasetID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE datasets SET enriching = 0 WHERE id = ?`, datasetID)
	return eris.Wrapf(err, "sqlite: release enrichment %s", datasetID)
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: %s %s", entity, id)
	}
	return nil
}
