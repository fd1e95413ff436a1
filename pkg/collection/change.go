package collection

import (
	"encoding/json"
	"time"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

// ChangeKind describes the shape of a proposed mutation.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeModified ChangeKind = "modified"
	ChangeRemoved  ChangeKind = "removed"
)

// ChangeStatus is the review state machine:
// pending -> approved -> applied, or pending -> rejected.
type ChangeStatus string

const (
	ChangePending  ChangeStatus = "pending"
	ChangeApproved ChangeStatus = "approved"
	ChangeRejected ChangeStatus = "rejected"
	ChangeApplied  ChangeStatus = "applied"
)

// Terminal reports whether the status admits no further transitions.
func (s ChangeStatus) Terminal() bool {
	return s == ChangeRejected || s == ChangeApplied
}

// SystemReviewer is recorded as the reviewer identity for automated
// (confidence-gated) approvals.
const SystemReviewer = "system"

// Change is a single proposed mutation, always traceable to the job
// that produced it. It either describes a field update on an existing
// entity or a brand-new-entity proposal (IsNewEntity true, the full
// proposed record in Proposed, no entity id until applied).
type Change struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`

	EntityType  entities.Type `json:"entity_type"`
	EntityID    string        `json:"entity_id,omitempty"`
	IsNewEntity bool          `json:"is_new_entity"`

	// Field update.
	Field    string `json:"field,omitempty"`
	OldValue string `json:"old_value,omitempty"`
	NewValue string `json:"new_value,omitempty"`

	// New-entity proposal payload, opaque to the workflow until apply.
	Proposed json.RawMessage `json:"proposed,omitempty"`

	Kind       ChangeKind   `json:"kind"`
	Confidence float64      `json:"confidence"`
	Status     ChangeStatus `json:"status"`

	// Dependency on another pending Change, recorded at discovery time.
	// The review workflow resolves it by id, never by re-matching.
	DependencyType     entities.Type `json:"dependency_type,omitempty"`
	DependencyChangeID string        `json:"dependency_change_id,omitempty"`

	// Provenance.
	SourceURLs  []string   `json:"source_urls,omitempty"`
	ReviewedBy  string     `json:"reviewed_by,omitempty"`
	ReviewNotes string     `json:"review_notes,omitempty"`
	ReviewedAt  *time.Time `json:"reviewed_at,omitempty"`
	AppliedAt   *time.Time `json:"applied_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Reviewable reports whether the change can still be approved or
// rejected.
func (c *Change) Reviewable() bool {
	return c.Status == ChangePending
}

// ProposedRecord decodes the new-entity proposal payload.
func (c *Change) ProposedRecord() (*entities.Record, error) {
	var rec entities.Record
	if err := json.Unmarshal(c.Proposed, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
