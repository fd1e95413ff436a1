// Package entities defines the entity types the engine reconciles and
// the lifecycle metadata attached to each record in the system of record.
package entities

import (
	"time"

	"github.com/homeatlas/homeatlas/pkg/errors"
)

// Type identifies a reconciled entity type.
type Type string

// The closed set of entity types.
const (
	TypeCommunity Type = "community"
	TypeBuilder   Type = "builder"
	TypeProperty  Type = "property"
	TypeSalesRep  Type = "sales-rep"
)

// Types lists all entity types in dependency order: parents first, so
// sweeps and cascades can walk the slice without re-sorting.
var Types = []Type{TypeCommunity, TypeBuilder, TypeProperty, TypeSalesRep}

// String returns the string representation of the entity type.
func (t Type) String() string {
	return string(t)
}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeCommunity, TypeBuilder, TypeProperty, TypeSalesRep:
		return true
	}
	return false
}

// ParentType returns the primary parent type of t: builders and
// properties belong to a community, sales reps to a builder.
// Communities have no parent.
func ParentType(t Type) Type {
	switch t {
	case TypeBuilder, TypeProperty:
		return TypeCommunity
	case TypeSalesRep:
		return TypeBuilder
	}
	return ""
}

// ParseType parses a string into an entity Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", errors.NewValidationError("entity_type", s, "unknown entity type")
	}
	return t, nil
}

// Record is a system-of-record entity row. Entity-type-specific fields
// live in Fields; lifecycle metadata is carried on the record itself
// rather than in a separate table.
type Record struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Name string `json:"name"`

	// Parent links. CommunityID is set on builders and properties,
	// BuilderID on properties and sales reps.
	CommunityID string `json:"community_id,omitempty"`
	BuilderID   string `json:"builder_id,omitempty"`

	// Fields holds the entity-type-specific attributes (city, state,
	// email, phone, website, price_from, bedrooms, ...).
	Fields map[string]string `json:"fields"`

	Lifecycle Lifecycle `json:"lifecycle"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Field returns a named attribute, or "" when absent.
func (r *Record) Field(name string) string {
	if r.Fields == nil {
		return ""
	}
	return r.Fields[name]
}

// SetField sets a named attribute, allocating the map on first use.
func (r *Record) SetField(name, value string) {
	if r.Fields == nil {
		r.Fields = make(map[string]string)
	}
	r.Fields[name] = value
}

// Candidate is the slim view of a record (or a pending new-entity
// proposal) that the matcher scores discovered entities against.
type Candidate struct {
	ID      string
	Name    string
	City    string
	State   string
	Email   string
	Phone   string
	Website string

	// Pending is true when the candidate only exists as a pending
	// new-entity Change; ChangeID identifies that Change.
	Pending  bool
	ChangeID string
}

// CandidateFromRecord builds a matcher candidate from a record.
func CandidateFromRecord(r *Record) Candidate {
	return Candidate{
		ID:      r.ID,
		Name:    r.Name,
		City:    r.Field("city"),
		State:   r.Field("state"),
		Email:   r.Field("email"),
		Phone:   r.Field("phone"),
		Website: r.Field("website"),
	}
}
