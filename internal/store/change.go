package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

const changeColumns = `id, job_id, entity_type, entity_id, is_new_entity, field, old_value, new_value,
	proposed, kind, confidence, status, dependency_type, dependency_change_id, source_urls,
	reviewed_by, review_notes, reviewed_at, applied_at, created_at`

// CreateChange persists a single proposed change outside a job
// transaction. Lifecycle-originated proposals use this path and carry
// an empty job id.
func (s *Store) CreateChange(ctx context.Context, c *collection.Change) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertChange(ctx, tx, c)
	})
}

func insertChange(ctx context.Context, tx *sql.Tx, c *collection.Change) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now()
	}
	if c.Status == "" {
		c.Status = collection.ChangePending
	}

	urls, err := json.Marshal(c.SourceURLs)
	if err != nil {
		return errors.WrapStore("marshal", "change", err)
	}
	var proposed any
	if len(c.Proposed) > 0 {
		proposed = string(c.Proposed)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO changes (`+changeColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.JobID, c.EntityType, c.EntityID, c.IsNewEntity,
		c.Field, c.OldValue, c.NewValue, proposed,
		c.Kind, c.Confidence, c.Status,
		c.DependencyType, c.DependencyChangeID, string(urls),
		c.ReviewedBy, c.ReviewNotes,
		toNullMillis(c.ReviewedAt), toNullMillis(c.AppliedAt), toMillis(c.CreatedAt))
	return errors.WrapStore("insert", "change", err)
}

// GetChange loads a change by id.
func (s *Store) GetChange(ctx context.Context, id string) (*collection.Change, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+changeColumns+` FROM changes WHERE id = ?`, id)
	c, err := scanChange(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("change", id)
	}
	if err != nil {
		return nil, errors.WrapStore("query", "change", err)
	}
	return c, nil
}

// ChangeFilter narrows ListChanges.
type ChangeFilter struct {
	Status     collection.ChangeStatus
	EntityType entities.Type
	EntityID   string
	JobID      string
	Limit      int
}

// ListChanges returns changes matching the filter, oldest first so a
// review worklist processes proposals in discovery order.
func (s *Store) ListChanges(ctx context.Context, filter ChangeFilter) ([]*collection.Change, error) {
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
	if filter.EntityID != "" {
		conds = append(conds, "entity_id = ?")
		args = append(args, filter.EntityID)
	}
	if filter.JobID != "" {
		conds = append(conds, "job_id = ?")
		args = append(args, filter.JobID)
	}

	q := `SELECT ` + changeColumns + ` FROM changes`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.WrapStore("query", "change", err)
	}
	defer rows.Close()

	var changes []*collection.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "change", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// ListDependents returns pending changes whose dependency points at the
// given change id.
func (s *Store) ListDependents(ctx context.Context, changeID string) ([]*collection.Change, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+changeColumns+` FROM changes WHERE dependency_change_id = ? AND status = 'pending' ORDER BY created_at ASC`,
		changeID)
	if err != nil {
		return nil, errors.WrapStore("query", "change", err)
	}
	defer rows.Close()

	var changes []*collection.Change
	for rows.Next() {
		c, err := scanChange(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "change", err)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// UpdateChange rewrites a change's mutable review state: status,
// reviewer, notes, timestamps, resolved entity id, dependency id, and
// the proposed payload (rewritten when a dependency's id is
// back-filled).
func (s *Store) UpdateChange(ctx context.Context, c *collection.Change) error {
	var proposed any
	if len(c.Proposed) > 0 {
		proposed = string(c.Proposed)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE changes SET status = ?, entity_id = ?, dependency_change_id = ?, proposed = ?,
			reviewed_by = ?, review_notes = ?, reviewed_at = ?, applied_at = ? WHERE id = ?`,
		c.Status, c.EntityID, c.DependencyChangeID, proposed,
		c.ReviewedBy, c.ReviewNotes,
		toNullMillis(c.ReviewedAt), toNullMillis(c.AppliedAt), c.ID)
	if err != nil {
		return errors.WrapStore("update", "change", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("change", c.ID)
	}
	return nil
}

func scanChange(row scanner) (*collection.Change, error) {
	var (
		c                    collection.Change
		isNew                int
		proposed             sql.NullString
		urls                 string
		entityType, depType  string
		kind, status         string
		reviewed, applied    sql.NullInt64
		created              int64
	)
	err := row.Scan(&c.ID, &c.JobID, &entityType, &c.EntityID, &isNew,
		&c.Field, &c.OldValue, &c.NewValue, &proposed,
		&kind, &c.Confidence, &status,
		&depType, &c.DependencyChangeID, &urls,
		&c.ReviewedBy, &c.ReviewNotes, &reviewed, &applied, &created)
	if err != nil {
		return nil, err
	}
	c.EntityType = entities.Type(entityType)
	c.IsNewEntity = isNew != 0
	if proposed.Valid && proposed.String != "" {
		c.Proposed = json.RawMessage(proposed.String)
	}
	c.Kind = collection.ChangeKind(kind)
	c.Status = collection.ChangeStatus(status)
	c.DependencyType = entities.Type(depType)
	if err := json.Unmarshal([]byte(urls), &c.SourceURLs); err != nil {
		return nil, err
	}
	c.ReviewedAt = fromNullMillis(reviewed)
	c.AppliedAt = fromNullMillis(applied)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}
