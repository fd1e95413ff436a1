package entities

import "time"

// Status is an entity-type-specific lifecycle status.
type Status string

// Lifecycle statuses across entity types. Not every status applies to
// every type; see Allowed for the per-type state machines.
const (
	StatusActive   Status = "active"
	StatusInactive Status = "inactive"

	// Builder terminal states
	StatusOutOfBusiness Status = "out-of-business"
	StatusMerged        Status = "merged"

	// Community states
	StatusSoldOut Status = "sold-out"

	// Property states
	StatusAvailable Status = "available"
	StatusPending   Status = "pending"
	StatusSold      Status = "sold"
	StatusOffMarket Status = "off-market"
	StatusArchived  Status = "archived"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Lifecycle is the status metadata attached to every record.
type Lifecycle struct {
	IsActive           bool      `json:"is_active"`
	Status             Status    `json:"status"`
	LastActivityAt     time.Time `json:"last_activity_at"`
	StatusChangedAt    time.Time `json:"status_changed_at"`
	StatusChangeReason string    `json:"status_change_reason,omitempty"`
}

// terminal lists the statuses that never auto-transition back to an
// active state.
var terminal = map[Type]map[Status]bool{
	TypeBuilder:   {StatusOutOfBusiness: true, StatusMerged: true},
	TypeCommunity: {},
	TypeProperty:  {StatusSold: true, StatusArchived: true},
	TypeSalesRep:  {StatusMerged: true},
}

// transitions lists the allowed lifecycle transitions per entity type.
var transitions = map[Type]map[Status][]Status{
	TypeBuilder: {
		StatusActive:   {StatusInactive, StatusOutOfBusiness, StatusMerged},
		StatusInactive: {StatusActive, StatusOutOfBusiness, StatusMerged},
	},
	TypeCommunity: {
		StatusActive:   {StatusInactive, StatusSoldOut},
		StatusInactive: {StatusActive, StatusSoldOut},
		StatusSoldOut:  {StatusActive},
	},
	TypeProperty: {
		StatusAvailable: {StatusPending, StatusSold, StatusOffMarket, StatusArchived},
		StatusPending:   {StatusAvailable, StatusSold, StatusOffMarket},
		StatusOffMarket: {StatusAvailable, StatusArchived},
	},
	TypeSalesRep: {
		StatusActive:   {StatusInactive, StatusMerged},
		StatusInactive: {StatusActive, StatusMerged},
	},
}

// Terminal reports whether s is a terminal status for entity type t.
// Terminal states only change through explicit admin action, and even
// then never back to active automatically.
func Terminal(t Type, s Status) bool {
	return terminal[t][s]
}

// Allowed reports whether the transition from -> to is permitted by
// entity type t's state machine. A no-op transition is always allowed
// so cascades stay idempotent.
func Allowed(t Type, from, to Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[t][from] {
		if next == to {
			return true
		}
	}
	return false
}

// ActiveStatus returns the status an entity of type t holds when it is
// active and visible.
func ActiveStatus(t Type) Status {
	if t == TypeProperty {
		return StatusAvailable
	}
	return StatusActive
}

// InactiveStatus returns the status an idle entity of type t
// auto-transitions to during a lifecycle sweep.
func InactiveStatus(t Type) Status {
	if t == TypeProperty {
		return StatusOffMarket
	}
	return StatusInactive
}

// CascadeStatus returns the status a dependent entity of type t moves
// to when its parent takes a terminal transition.
func CascadeStatus(t Type) Status {
	if t == TypeProperty {
		return StatusOffMarket
	}
	return StatusInactive
}

// ActiveStatuses returns the statuses of type t that a cascade or sweep
// treats as "currently active".
func ActiveStatuses(t Type) []Status {
	if t == TypeProperty {
		return []Status{StatusAvailable, StatusPending}
	}
	return []Status{StatusActive}
}
