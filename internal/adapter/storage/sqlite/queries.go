package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db DBTX
}

func newQueries(db DBTX) *queries {
	return &queries{db: db}
}

type sessionRow struct {
	ID           string
	State        string
	InputPath    string
	OutputPath   string
	BitrateKbps  int64
	SizeSpec     string
	ErrorMessage string
	StartedAt    time.Time
	FinishedAt   time.Time
}

type jobRow struct {
	ID           int64
	InputPath    string
	OutputPath   string
	Status       string
	ErrorMessage string
	Attempts     int64
	CreatedAt    time.Time
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

const upsertSession = `INSERT INTO sessions (id, state, input_path, output_path, bitrate_kbps, size_spec, error_message, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (id) DO UPDATE SET
    state = excluded.state,
    output_path = excluded.output_path,
    bitrate_kbps = excluded.bitrate_kbps,
    size_spec = excluded.size_spec,
    error_message = excluded.error_message,
    finished_at = excluded.finished_at`

func (q *queries) UpsertSession(ctx context.Context, r sessionRow) error {
	_, err := q.db.ExecContext(ctx, upsertSession,
		r.ID, r.State, r.InputPath, r.OutputPath, r.BitrateKbps, r.SizeSpec, r.ErrorMessage,
		r.StartedAt.UTC(), r.FinishedAt.UTC())
	return err
}

const sessionColumns = `id, state, input_path, output_path, bitrate_kbps, size_spec, error_message, started_at, finished_at`

const getSession = `SELECT ` + sessionColumns + ` FROM sessions WHERE id = ?`

func (q *queries) GetSession(ctx context.Context, id string) (sessionRow, error) {
	return scanSession(q.db.QueryRowContext(ctx, getSession, id))
}

const listSessions = `SELECT ` + sessionColumns + ` FROM sessions ORDER BY finished_at DESC, rowid DESC LIMIT ?`

func (q *queries) ListSessions(ctx context.Context, limit int) ([]sessionRow, error) {
	rows, err := q.db.QueryContext(ctx, listSessions, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []sessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const insertJob = `INSERT INTO jobs (input_path, created_at) VALUES (?, ?)
RETURNING ` + jobColumns

const jobColumns = `id, input_path, output_path, status, error_message, attempts, created_at, started_at, completed_at`

func (q *queries) InsertJob(ctx context.Context, inputPath string, now time.Time) (jobRow, error) {
	return scanJob(q.db.QueryRowContext(ctx, insertJob, inputPath, now.UTC()))
}

// claimNextJob picks the oldest pending job in one statement so two claimers
// never get the same row.
const claimNextJob = `UPDATE jobs
SET status = 'running', attempts = attempts + 1, started_at = ?, error_message = ''
WHERE id = (SELECT id FROM jobs WHERE status = 'pending' ORDER BY id LIMIT 1)
RETURNING ` + jobColumns

func (q *queries) ClaimNextJob(ctx context.Context, now time.Time) (jobRow, error) {
	return scanJob(q.db.QueryRowContext(ctx, claimNextJob, now.UTC()))
}

const completeJob = `UPDATE jobs SET status = 'done', output_path = ?, completed_at = ? WHERE id = ?`

func (q *queries) CompleteJob(ctx context.Context, id int64, outputPath string, now time.Time) (int64, error) {
	return affected(q.db.ExecContext(ctx, completeJob, outputPath, now.UTC(), id))
}

const failJob = `UPDATE jobs SET status = 'failed', error_message = ?, completed_at = ? WHERE id = ?`

func (q *queries) FailJob(ctx context.Context, id int64, msg string, now time.Time) (int64, error) {
	return affected(q.db.ExecContext(ctx, failJob, msg, now.UTC(), id))
}

const requeueJob = `UPDATE jobs SET status = 'pending', started_at = NULL WHERE id = ?`

func (q *queries) RequeueJob(ctx context.Context, id int64) (int64, error) {
	return affected(q.db.ExecContext(ctx, requeueJob, id))
}

const resetStalledJobs = `UPDATE jobs SET status = 'pending', started_at = NULL WHERE status = 'running'`

func (q *queries) ResetStalledJobs(ctx context.Context) (int64, error) {
	return affected(q.db.ExecContext(ctx, resetStalledJobs))
}

const listJobs = `SELECT ` + jobColumns + ` FROM jobs ORDER BY id DESC LIMIT ?`

func (q *queries) ListJobs(ctx context.Context, limit int) ([]jobRow, error) {
	rows, err := q.db.QueryContext(ctx, listJobs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck

	var out []jobRow
	for rows.Next() {
		r, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(s scanner) (sessionRow, error) {
	var r sessionRow
	var started, finished dbTime
	err := s.Scan(&r.ID, &r.State, &r.InputPath, &r.OutputPath, &r.BitrateKbps, &r.SizeSpec, &r.ErrorMessage, &started, &finished)
	r.StartedAt, r.FinishedAt = started.Time, finished.Time
	return r, err
}

func scanJob(s scanner) (jobRow, error) {
	var r jobRow
	var created, started, completed dbTime
	err := s.Scan(&r.ID, &r.InputPath, &r.OutputPath, &r.Status, &r.ErrorMessage, &r.Attempts, &created, &started, &completed)
	r.CreatedAt = created.Time
	r.StartedAt = sql.NullTime{Time: started.Time, Valid: started.Valid}
	r.CompletedAt = sql.NullTime{Time: completed.Time, Valid: completed.Valid}
	return r, err
}

func affected(res sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// dbTime scans timestamps whether the driver hands back time.Time or the
// stored text, which happens for RETURNING columns.
type dbTime struct {
	Time  time.Time
	Valid bool
}

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	time.RFC3339Nano,
}

func (t *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = dbTime{}
		return nil
	case time.Time:
		*t = dbTime{Time: v.UTC(), Valid: true}
		return nil
	case int64:
		*t = dbTime{Time: time.Unix(v, 0).UTC(), Valid: true}
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = dbTime{Time: parsed.UTC(), Valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}
