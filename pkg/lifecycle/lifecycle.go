// Package lifecycle manages entity status over time: grace-period
// sweeps that deactivate idle entities, reactivation on activity, and
// manual transitions with cascades from a parent's terminal state to
// its dependents.
package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

// DefaultGracePeriods is how long each entity type may sit without
// activity before a sweep deactivates it.
var DefaultGracePeriods = map[entities.Type]time.Duration{
	entities.TypeBuilder:   90 * 24 * time.Hour,
	entities.TypeCommunity: 180 * 24 * time.Hour,
	entities.TypeProperty:  60 * 24 * time.Hour,
	entities.TypeSalesRep:  60 * 24 * time.Hour,
}

// Store is the persistence surface the manager needs.
type Store interface {
	GetEntity(ctx context.Context, id string) (*entities.Record, error)
	ListEntities(ctx context.Context, filter store.EntityFilter) ([]*entities.Record, error)
	UpdateLifecycle(ctx context.Context, id string, observed time.Time, lc entities.Lifecycle) (bool, error)
	CreateChange(ctx context.Context, c *collection.Change) error
	ListChanges(ctx context.Context, filter store.ChangeFilter) ([]*collection.Change, error)
}

// Manager drives lifecycle transitions.
type Manager struct {
	store  Store
	grace  map[entities.Type]time.Duration
	logger *zerolog.Logger
	clock  func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithGracePeriods overrides sweep grace periods per entity type.
// Types absent from the map keep their defaults.
func WithGracePeriods(grace map[entities.Type]time.Duration) Option {
	return func(m *Manager) {
		for t, d := range grace {
			if d > 0 {
				m.grace[t] = d
			}
		}
	}
}

// WithLogger sets the manager logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithClock replaces the time source, for tests.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) {
		m.clock = clock
	}
}

// New creates a lifecycle manager over the given store.
func New(st Store, opts ...Option) *Manager {
	m := &Manager{
		store:  st,
		grace:  map[entities.Type]time.Duration{},
		logger: logging.Default(),
		clock:  func() time.Time { return time.Now().UTC() },
	}
	for t, d := range DefaultGracePeriods {
		m.grace[t] = d
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SweepResult summarizes one sweep pass.
type SweepResult struct {
	// Deactivated counts entities moved to their inactive status, per
	// type.
	Deactivated map[entities.Type]int

	// Proposed counts inactivation changes routed through review
	// instead of applied directly (sales reps).
	Proposed int

	// Skipped counts entities whose write lost to a newer manual
	// status change.
	Skipped int
}

// Sweep deactivates entities idle past their type's grace period.
// Builders, communities, and properties transition directly; sales-rep
// staleness only proposes an inactivation change through the review
// workflow, since a quiet rep may simply not be newsworthy.
func (m *Manager) Sweep(ctx context.Context) (*SweepResult, error) {
	res := &SweepResult{Deactivated: make(map[entities.Type]int)}
	now := m.clock()

	for _, t := range entities.Types {
		grace := m.grace[t]
		cutoff := now.Add(-grace)
		idle, err := m.store.ListEntities(ctx, store.EntityFilter{
			Type:               t,
			Statuses:           entities.ActiveStatuses(t),
			LastActivityBefore: &cutoff,
		})
		if err != nil {
			return nil, err
		}

		// The reason records the exceeded grace period, not the exact
		// idle span, so repeated sweeps write a stable audit string.
		reason := fmt.Sprintf("no activity for %d days", int(grace.Hours()/24))

		for _, rec := range idle {
			if t == entities.TypeSalesRep {
				created, err := m.proposeInactivation(ctx, rec, reason)
				if err != nil {
					return nil, err
				}
				if created {
					res.Proposed++
				}
				continue
			}

			ok, err := m.deactivate(ctx, rec, reason)
			if err != nil {
				return nil, err
			}
			if ok {
				res.Deactivated[t]++
			} else {
				res.Skipped++
			}
		}
	}

	m.logger.Info().
		Interface("deactivated", res.Deactivated).
		Int("proposed", res.Proposed).
		Int("skipped", res.Skipped).
		Msg("Lifecycle sweep finished")
	return res, nil
}

// deactivate moves one idle entity to its type's inactive status.
func (m *Manager) deactivate(ctx context.Context, rec *entities.Record, reason string) (bool, error) {
	from := rec.Lifecycle.Status
	lc := rec.Lifecycle
	lc.IsActive = false
	lc.Status = entities.InactiveStatus(rec.Type)
	lc.StatusChangedAt = m.clock()
	lc.StatusChangeReason = reason

	ok, err := m.store.UpdateLifecycle(ctx, rec.ID, rec.Lifecycle.StatusChangedAt, lc)
	if err != nil {
		return false, err
	}
	if ok {
		m.logger.Info().
			Str("entity_type", string(rec.Type)).
			Str("entity_id", rec.ID).
			Str("from", string(from)).
			Str("to", string(lc.Status)).
			Str("reason", reason).
			Msg("Entity deactivated")
	} else {
		m.logger.Debug().
			Str("entity_id", rec.ID).
			Msg("Sweep write lost to a newer status change")
	}
	return ok, nil
}

// proposeInactivation routes a sales-rep deactivation through review.
// Already-pending proposals for the same entity are not duplicated, so
// repeated sweeps stay idempotent.
func (m *Manager) proposeInactivation(ctx context.Context, rec *entities.Record, reason string) (bool, error) {
	pending, err := m.store.ListChanges(ctx, store.ChangeFilter{
		Status:     collection.ChangePending,
		EntityType: rec.Type,
		EntityID:   rec.ID,
	})
	if err != nil {
		return false, err
	}
	for _, c := range pending {
		if c.Field == "lifecycle_status" {
			return false, nil
		}
	}

	change := &collection.Change{
		ID:          uuid.NewString(),
		EntityType:  rec.Type,
		EntityID:    rec.ID,
		Field:       "lifecycle_status",
		OldValue:    string(rec.Lifecycle.Status),
		NewValue:    string(entities.InactiveStatus(rec.Type)),
		Kind:        collection.ChangeModified,
		Status:      collection.ChangePending,
		ReviewNotes: reason,
	}
	if err := m.store.CreateChange(ctx, change); err != nil {
		return false, err
	}

	m.logger.Info().
		Str("entity_id", rec.ID).
		Str("change_id", change.ID).
		Str("reason", reason).
		Msg("Proposed sales-rep inactivation")
	return true, nil
}

// RecordActivity bumps an entity's activity clock and reactivates a
// non-terminal inactive record.
func (m *Manager) RecordActivity(ctx context.Context, entityID, reason string) error {
	rec, err := m.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	now := m.clock()
	lc := rec.Lifecycle
	lc.LastActivityAt = now

	if !lc.IsActive && !entities.Terminal(rec.Type, lc.Status) {
		lc.IsActive = true
		lc.Status = entities.ActiveStatus(rec.Type)
		lc.StatusChangedAt = now
		lc.StatusChangeReason = reason
		m.logger.Info().
			Str("entity_type", string(rec.Type)).
			Str("entity_id", rec.ID).
			Str("reason", reason).
			Msg("Entity reactivated")
	}

	_, err = m.store.UpdateLifecycle(ctx, entityID, rec.Lifecycle.StatusChangedAt, lc)
	return err
}

// Transition performs a manual status transition, cascading to
// dependents when a builder reaches a terminal state. The cascade is
// idempotent: re-running finds no remaining active dependents.
func (m *Manager) Transition(ctx context.Context, entityID string, to entities.Status, reason string) error {
	rec, err := m.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	from := rec.Lifecycle.Status
	if !entities.Allowed(rec.Type, from, to) {
		return &errors.TransitionError{
			EntityType: string(rec.Type),
			EntityID:   rec.ID,
			From:       string(from),
			To:         string(to),
			Reason:     "transition not allowed for entity type",
		}
	}

	if from != to {
		lc := rec.Lifecycle
		lc.Status = to
		lc.IsActive = false
		for _, st := range entities.ActiveStatuses(rec.Type) {
			if to == st {
				lc.IsActive = true
			}
		}
		lc.StatusChangedAt = m.clock()
		lc.StatusChangeReason = reason

		if _, err := m.store.UpdateLifecycle(ctx, rec.ID, rec.Lifecycle.StatusChangedAt, lc); err != nil {
			return err
		}
		m.logger.Info().
			Str("entity_type", string(rec.Type)).
			Str("entity_id", rec.ID).
			Str("from", string(from)).
			Str("to", string(to)).
			Str("reason", reason).
			Msg("Entity transitioned")
	}

	if rec.Type == entities.TypeBuilder && entities.Terminal(rec.Type, to) {
		return m.cascadeFromBuilder(ctx, rec, to)
	}
	return nil
}

// cascadeFromBuilder deactivates a terminal builder's dependents:
// available or pending properties move off-market, active sales reps
// inactive.
func (m *Manager) cascadeFromBuilder(ctx context.Context, builder *entities.Record, to entities.Status) error {
	reason := fmt.Sprintf("builder %s %s", builder.ID, to)

	for _, t := range []entities.Type{entities.TypeProperty, entities.TypeSalesRep} {
		dependents, err := m.store.ListEntities(ctx, store.EntityFilter{
			Type:      t,
			BuilderID: builder.ID,
			Statuses:  entities.ActiveStatuses(t),
		})
		if err != nil {
			return err
		}

		for _, dep := range dependents {
			lc := dep.Lifecycle
			lc.IsActive = false
			lc.Status = entities.CascadeStatus(t)
			lc.StatusChangedAt = m.clock()
			lc.StatusChangeReason = reason

			if _, err := m.store.UpdateLifecycle(ctx, dep.ID, dep.Lifecycle.StatusChangedAt, lc); err != nil {
				return err
			}
		}
		if len(dependents) > 0 {
			m.logger.Info().
				Str("builder_id", builder.ID).
				Str("entity_type", string(t)).
				Int("count", len(dependents)).
				Str("to", string(entities.CascadeStatus(t))).
				Msg("Cascaded builder transition to dependents")
		}
	}
	return nil
}
