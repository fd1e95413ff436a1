package store

import (
	"context"
	"database/sql"
	"strings"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

const jobColumns = `id, entity_type, entity_id, parent_job_id, cascade_depth, kind, status, priority,
	items_found, changes_detected, entities_discovered, error, created_at, started_at, completed_at`

// CreateJob admits a new collection job. The admission invariant is
// enforced inside the insert transaction: at most one job with status
// pending or running may target the same (entity type, entity id).
func (s *Store) CreateJob(ctx context.Context, job *collection.Job) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now()
	}
	if job.Status == "" {
		job.Status = collection.JobPending
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		if job.EntityID != "" {
			var activeID string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM jobs WHERE entity_type = ? AND entity_id = ? AND status IN ('pending', 'running') LIMIT 1`,
				job.EntityType, job.EntityID).Scan(&activeID)
			switch {
			case err == nil:
				return &errors.ConflictError{
					EntityType:  string(job.EntityType),
					EntityID:    job.EntityID,
					ActiveJobID: activeID,
				}
			case err != sql.ErrNoRows:
				return errors.WrapStore("query", "job", err)
			}
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO jobs (`+jobColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			job.ID, job.EntityType, job.EntityID, job.ParentJobID, job.CascadeDepth,
			job.Kind, job.Status, job.Priority,
			job.ItemsFound, job.ChangesDetected, job.EntitiesDiscovered, job.Error,
			toMillis(job.CreatedAt), toNullMillis(job.StartedAt), toNullMillis(job.CompletedAt))
		return errors.WrapStore("insert", "job", err)
	})
}

// GetJob loads a job by id.
func (s *Store) GetJob(ctx context.Context, id string) (*collection.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("job", id)
	}
	if err != nil {
		return nil, errors.WrapStore("query", "job", err)
	}
	return job, nil
}

// JobFilter narrows ListJobs.
type JobFilter struct {
	Status     collection.JobStatus
	EntityType entities.Type
	Limit      int
}

// ListJobs returns jobs matching the filter, most recent first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*collection.Job, error) {
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, filter.EntityType)
	}

	q := `SELECT ` + jobColumns + ` FROM jobs`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.WrapStore("query", "job", err)
	}
	defer rows.Close()

	var jobs []*collection.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// NextPending returns up to n pending jobs, highest priority first,
// oldest first within a priority.
func (s *Store) NextPending(ctx context.Context, n int) ([]*collection.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE status = 'pending' ORDER BY priority DESC, created_at ASC LIMIT ?`, n)
	if err != nil {
		return nil, errors.WrapStore("query", "job", err)
	}
	defer rows.Close()

	var jobs []*collection.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "job", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// MarkJobRunning transitions a pending job to running, stamping
// started_at. Returns NotFound if the job is not pending anymore, so
// two batch runs cannot execute the same job.
func (s *Store) MarkJobRunning(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = 'running', started_at = ? WHERE id = ? AND status = 'pending'`,
		toMillis(now()), id)
	if err != nil {
		return errors.WrapStore("update", "job", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("pending job", id)
	}
	return nil
}

// FinishJob records a job's terminal status and result counters, and
// persists the changes and matches it produced in the same transaction.
// Either every row commits or none do.
func (s *Store) FinishJob(ctx context.Context, job *collection.Job, changes []*collection.Change, matches []*collection.EntityMatch) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`UPDATE jobs SET status = ?, items_found = ?, changes_detected = ?, entities_discovered = ?,
				error = ?, completed_at = ? WHERE id = ?`,
			job.Status, job.ItemsFound, job.ChangesDetected, job.EntitiesDiscovered,
			job.Error, toNullMillis(job.CompletedAt), job.ID)
		if err != nil {
			return errors.WrapStore("update", "job", err)
		}

		for _, c := range changes {
			if err := insertChange(ctx, tx, c); err != nil {
				return err
			}
		}
		for _, m := range matches {
			if err := insertMatch(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// scanner abstracts sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*collection.Job, error) {
	var (
		job                  collection.Job
		created              int64
		started, completed   sql.NullInt64
		entityType, kind, st string
	)
	err := row.Scan(&job.ID, &entityType, &job.EntityID, &job.ParentJobID, &job.CascadeDepth,
		&kind, &st, &job.Priority,
		&job.ItemsFound, &job.ChangesDetected, &job.EntitiesDiscovered, &job.Error,
		&created, &started, &completed)
	if err != nil {
		return nil, err
	}
	job.EntityType = entities.Type(entityType)
	job.Kind = collection.JobKind(kind)
	job.Status = collection.JobStatus(st)
	job.CreatedAt = fromMillis(created)
	job.StartedAt = fromNullMillis(started)
	job.CompletedAt = fromNullMillis(completed)
	return &job, nil
}
