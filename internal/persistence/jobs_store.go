package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MimeLyc/contextual-book-translator/internal/jobs"
)

func (s *SQLiteStore) LoadJobs(ctx context.Context) ([]*jobs.Job, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, kind, run_id, group_id, dedupe_key, status, attempt, max_attempts, steps,
			run_at, started_at, error, created_at, updated_at
		 FROM jobs
		 ORDER BY created_at ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*jobs.Job, 0)
	for rows.Next() {
		var item jobs.Job
		var kind, status string
		var startedAt sql.NullTime
		if err := rows.Scan(
			&item.ID,
			&kind,
			&item.RunID,
			&item.GroupID,
			&item.DedupeKey,
			&status,
			&item.Attempt,
			&item.MaxAttempts,
			&item.Steps,
			&item.RunAt,
			&startedAt,
			&item.Error,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, err
		}
		item.Kind = jobs.Kind(kind)
		item.Status = jobs.Status(status)
		if startedAt.Valid {
			item.StartedAt = startedAt.Time
		}
		ret = append(ret, &item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ret, nil
}

func (s *SQLiteStore) DeleteJob(ctx context.Context, jobID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, jobID)
	return err
}

func (s *SQLiteStore) UpsertJob(ctx context.Context, job *jobs.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	var startedAt sql.NullTime
	if !job.StartedAt.IsZero() {
		startedAt = sql.NullTime{Time: job.StartedAt.UTC(), Valid: true}
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
			id, kind, run_id, group_id, dedupe_key, status, attempt, max_attempts, steps,
			run_at, started_at, error, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status=excluded.status,
			attempt=excluded.attempt,
			max_attempts=excluded.max_attempts,
			steps=excluded.steps,
			run_at=excluded.run_at,
			started_at=excluded.started_at,
			error=excluded.error,
			updated_at=excluded.updated_at`,
		job.ID,
		string(job.Kind),
		job.RunID,
		job.GroupID,
		job.DedupeKey,
		string(job.Status),
		job.Attempt,
		job.MaxAttempts,
		job.Steps,
		job.RunAt.UTC(),
		startedAt,
		job.Error,
		job.CreatedAt.UTC(),
		job.UpdatedAt.UTC(),
	)
	return err
}
