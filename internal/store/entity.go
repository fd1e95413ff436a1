package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

const entityColumns = `id, type, name, community_id, builder_id, fields, is_active,
	lifecycle_status, last_activity_at, status_changed_at, status_change_reason, created_at, updated_at`

// CreateEntity inserts a system-of-record entity. Lifecycle defaults to
// the type's active status when unset.
func (s *Store) CreateEntity(ctx context.Context, r *entities.Record) error {
	ts := now()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = ts
	}
	r.UpdatedAt = ts
	if r.Lifecycle.Status == "" {
		r.Lifecycle = entities.Lifecycle{
			IsActive:        true,
			Status:          entities.ActiveStatus(r.Type),
			LastActivityAt:  ts,
			StatusChangedAt: ts,
		}
	}

	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return errors.WrapStore("marshal", string(r.Type), err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (`+entityColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		r.ID, r.Type, r.Name, r.CommunityID, r.BuilderID, string(fields),
		r.Lifecycle.IsActive, r.Lifecycle.Status,
		toMillis(r.Lifecycle.LastActivityAt), toMillis(r.Lifecycle.StatusChangedAt),
		r.Lifecycle.StatusChangeReason,
		toMillis(r.CreatedAt), toMillis(r.UpdatedAt))
	return errors.WrapStore("insert", string(r.Type), err)
}

// GetEntity loads an entity by id.
func (s *Store) GetEntity(ctx context.Context, id string) (*entities.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	r, err := scanEntity(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("entity", id)
	}
	if err != nil {
		return nil, errors.WrapStore("query", "entity", err)
	}
	return r, nil
}

// UpdateEntity rewrites an entity's name, parent links, and fields,
// stamping updated_at.
func (s *Store) UpdateEntity(ctx context.Context, r *entities.Record) error {
	r.UpdatedAt = now()
	fields, err := json.Marshal(r.Fields)
	if err != nil {
		return errors.WrapStore("marshal", string(r.Type), err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET name = ?, community_id = ?, builder_id = ?, fields = ?, updated_at = ? WHERE id = ?`,
		r.Name, r.CommunityID, r.BuilderID, string(fields), toMillis(r.UpdatedAt), r.ID)
	if err != nil {
		return errors.WrapStore("update", string(r.Type), err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("entity", r.ID)
	}
	return nil
}

// TouchActivity bumps an entity's last_activity_at. Applied changes and
// successful collections count as activity.
func (s *Store) TouchActivity(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET last_activity_at = ?, updated_at = ? WHERE id = ?`,
		toMillis(at), toMillis(now()), id)
	if err != nil {
		return errors.WrapStore("update", "entity", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.NewNotFoundError("entity", id)
	}
	return nil
}

// EntityFilter narrows ListEntities.
type EntityFilter struct {
	Type               entities.Type
	Statuses           []entities.Status
	BuilderID          string
	CommunityID        string
	LastActivityBefore *time.Time
	Limit              int
}

// ListEntities returns entities matching the filter.
func (s *Store) ListEntities(ctx context.Context, filter EntityFilter) ([]*entities.Record, error) {
	var conds []string
	var args []any
	if filter.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, filter.Type)
	}
	if len(filter.Statuses) > 0 {
		ph := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			ph[i] = "?"
			args = append(args, st)
		}
		conds = append(conds, "lifecycle_status IN ("+strings.Join(ph, ",")+")")
	}
	if filter.BuilderID != "" {
		conds = append(conds, "builder_id = ?")
		args = append(args, filter.BuilderID)
	}
	if filter.CommunityID != "" {
		conds = append(conds, "community_id = ?")
		args = append(args, filter.CommunityID)
	}
	if filter.LastActivityBefore != nil {
		conds = append(conds, "last_activity_at < ?")
		args = append(args, toMillis(*filter.LastActivityBefore))
	}

	q := `SELECT ` + entityColumns + ` FROM entities`
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
		return nil, errors.WrapStore("query", "entity", err)
	}
	defer rows.Close()

	var records []*entities.Record
	for rows.Next() {
		r, err := scanEntity(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "entity", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// UpdateLifecycle records a status change, guarded against stale
// writers: the write only lands if status_changed_at still matches what
// the caller observed when it decided to transition, so a sweep never
// overwrites a more recent manual change. Returns false when the guard
// rejected the write.
func (s *Store) UpdateLifecycle(ctx context.Context, id string, observed time.Time, lc entities.Lifecycle) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET is_active = ?, lifecycle_status = ?, last_activity_at = ?,
			status_changed_at = ?, status_change_reason = ?, updated_at = ?
		 WHERE id = ? AND status_changed_at <= ?`,
		lc.IsActive, lc.Status, toMillis(lc.LastActivityAt),
		toMillis(lc.StatusChangedAt), lc.StatusChangeReason, toMillis(now()),
		id, toMillis(observed))
	if err != nil {
		return false, errors.WrapStore("update", "entity", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanEntity(row scanner) (*entities.Record, error) {
	var (
		r                  entities.Record
		typ, status        string
		fields             string
		isActive           int
		lastActivity       int64
		statusChanged      int64
		created, updated   int64
	)
	err := row.Scan(&r.ID, &typ, &r.Name, &r.CommunityID, &r.BuilderID, &fields, &isActive,
		&status, &lastActivity, &statusChanged, &r.Lifecycle.StatusChangeReason,
		&created, &updated)
	if err != nil {
		return nil, err
	}
	r.Type = entities.Type(typ)
	if err := json.Unmarshal([]byte(fields), &r.Fields); err != nil {
		return nil, err
	}
	r.Lifecycle.IsActive = isActive != 0
	r.Lifecycle.Status = entities.Status(status)
	r.Lifecycle.LastActivityAt = fromMillis(lastActivity)
	r.Lifecycle.StatusChangedAt = fromMillis(statusChanged)
	r.CreatedAt = fromMillis(created)
	r.UpdatedAt = fromMillis(updated)
	return &r, nil
}
