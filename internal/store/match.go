package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/match"
)

const matchColumns = `id, job_id, name, city, state, raw, entity_type, entity_id, change_id,
	confidence, method, status, created_at`

func insertMatch(ctx context.Context, tx *sql.Tx, m *collection.EntityMatch) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now()
	}
	var raw any
	if len(m.Raw) > 0 {
		raw = string(m.Raw)
	}
	// Signature columns are stored canonically so repeated jobs hit the
	// cache; the raw payload keeps the original values for audit.
	_, err := tx.ExecContext(ctx,
		`INSERT INTO matches (`+matchColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.JobID, match.CanonicalName(m.Name), match.CanonicalLocation(m.City), match.CanonicalLocation(m.State), raw,
		m.EntityType, m.EntityID, m.ChangeID,
		m.Confidence, m.Method, m.Status, toMillis(m.CreatedAt))
	return errors.WrapStore("insert", "match", err)
}

// ListMatches returns the match audit rows recorded by a job.
func (s *Store) ListMatches(ctx context.Context, jobID string) ([]*collection.EntityMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE job_id = ? ORDER BY created_at ASC`, jobID)
	if err != nil {
		return nil, errors.WrapStore("query", "match", err)
	}
	defer rows.Close()

	var matches []*collection.EntityMatch
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, errors.WrapStore("scan", "match", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// FindMatchBySignature looks up a prior resolution of the same
// discovered signature (canonical name plus location) so repeated jobs
// do not re-match entities an operator already resolved.
func (s *Store) FindMatchBySignature(ctx context.Context, entityType entities.Type, name, city, state string) (*collection.EntityMatch, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches
		 WHERE entity_type = ? AND name = ? AND city = ? AND state = ? AND status IN ('confirmed', 'merged')
		 ORDER BY created_at DESC LIMIT 1`,
		entityType, match.CanonicalName(name), match.CanonicalLocation(city), match.CanonicalLocation(state))
	m, err := scanMatch(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("match", name)
	}
	if err != nil {
		return nil, errors.WrapStore("query", "match", err)
	}
	return m, nil
}

// ConfirmMatchesForChange marks pending matches that pointed at the
// given new-entity change as confirmed and fills in the concrete entity
// id the change resolved to. Called at apply time.
func (s *Store) ConfirmMatchesForChange(ctx context.Context, changeID, entityID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = 'confirmed', entity_id = ? WHERE change_id = ? AND status = 'pending'`,
		entityID, changeID)
	return errors.WrapStore("update", "match", err)
}

// RejectMatchesForChange marks pending matches that pointed at a
// rejected new-entity change as rejected.
func (s *Store) RejectMatchesForChange(ctx context.Context, changeID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE matches SET status = 'rejected' WHERE change_id = ? AND status = 'pending'`,
		changeID)
	return errors.WrapStore("update", "match", err)
}

func scanMatch(row scanner) (*collection.EntityMatch, error) {
	var (
		m          collection.EntityMatch
		raw        sql.NullString
		entityType string
		method, st string
		created    int64
	)
	err := row.Scan(&m.ID, &m.JobID, &m.Name, &m.City, &m.State, &raw,
		&entityType, &m.EntityID, &m.ChangeID,
		&m.Confidence, &method, &st, &created)
	if err != nil {
		return nil, err
	}
	if raw.Valid && raw.String != "" {
		m.Raw = json.RawMessage(raw.String)
	}
	m.EntityType = entities.Type(entityType)
	m.Method = collection.MatchMethod(method)
	m.Status = collection.MatchStatus(st)
	m.CreatedAt = fromMillis(created)
	return &m, nil
}
