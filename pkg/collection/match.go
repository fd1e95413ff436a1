package collection

import (
	"encoding/json"
	"time"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

// MatchMethod labels the strategy that resolved a discovered entity.
type MatchMethod string

const (
	MatchExactIdentifier      MatchMethod = "exact-identifier"
	MatchContactIdentifier    MatchMethod = "contact-identifier"
	MatchExactNameAndLocation MatchMethod = "exact-name-and-location"
	MatchFuzzyName            MatchMethod = "fuzzy-name"
	MatchManual               MatchMethod = "manual"
)

// MatchStatus tracks how a match record was resolved.
type MatchStatus string

const (
	MatchPending   MatchStatus = "pending"
	MatchConfirmed MatchStatus = "confirmed"
	MatchRejected  MatchStatus = "rejected"
	MatchMerged    MatchStatus = "merged"
)

// EntityMatch records how a discovered entity was resolved against the
// system of record or pending proposals. Rows are kept even for
// rejected or uncertain matches, as an audit trail and as a cache to
// avoid re-matching the same discovered signature.
type EntityMatch struct {
	ID    string `json:"id"`
	JobID string `json:"job_id"`

	// Discovered signature.
	Name  string          `json:"name"`
	City  string          `json:"city,omitempty"`
	State string          `json:"state,omitempty"`
	Raw   json.RawMessage `json:"raw,omitempty"`

	// Resolution. EntityID is empty when unresolved; ChangeID points at
	// the owning new-entity Change when the match is against a pending
	// proposal, and is re-resolved to a concrete id at apply time.
	EntityType entities.Type `json:"entity_type"`
	EntityID   string        `json:"entity_id,omitempty"`
	ChangeID   string        `json:"change_id,omitempty"`

	Confidence float64     `json:"confidence"`
	Method     MatchMethod `json:"method"`
	Status     MatchStatus `json:"status"`

	CreatedAt time.Time `json:"created_at"`
}
