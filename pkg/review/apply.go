package review

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

// Apply writes an approved change through to the system of record.
// New-entity proposals are schema-validated and created; field changes
// write through the existing record. A validation failure leaves the
// change approved for operator inspection. Applying counts as activity
// on the entity and reactivates a non-terminal inactive record.
func (w *Workflow) Apply(ctx context.Context, changeID string) error {
	c, err := w.store.GetChange(ctx, changeID)
	if err != nil {
		return err
	}
	if c.Status != collection.ChangeApproved {
		return errors.NewValidationError("status", c.Status, "only approved changes can be applied")
	}

	// Dependencies must already be applied; the back-filled parent id is
	// what makes the dependent payload valid.
	if _, err := w.resolveChain(ctx, c, true); err != nil {
		return err
	}

	if c.IsNewEntity {
		if err := w.applyNewEntity(ctx, c); err != nil {
			return err
		}
	} else {
		if err := w.applyFieldChange(ctx, c); err != nil {
			return err
		}
	}

	ts := time.Now().UTC()
	c.Status = collection.ChangeApplied
	c.AppliedAt = &ts
	if err := w.store.UpdateChange(ctx, c); err != nil {
		return err
	}

	// A reviewed status change is not an activity signal; bumping the
	// clock here would immediately undo an applied inactivation.
	if c.Field != "lifecycle_status" {
		if err := w.signalActivity(ctx, c.EntityID, c.ID); err != nil {
			return err
		}
	}

	w.logger.Info().
		Str("change_id", c.ID).
		Str("entity_type", string(c.EntityType)).
		Str("entity_id", c.EntityID).
		Bool("new_entity", c.IsNewEntity).
		Msg("Change applied")
	return nil
}

// applyNewEntity validates and creates the proposed record, then
// back-fills its id into dependents and match rows.
func (w *Workflow) applyNewEntity(ctx context.Context, c *collection.Change) error {
	if err := validateProposal(ctx, c.EntityType, c.Proposed); err != nil {
		return err
	}

	rec, err := c.ProposedRecord()
	if err != nil {
		return errors.NewValidationError("proposed", c.ID, "undecodable proposal payload")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	rec.Type = c.EntityType

	if err := w.store.CreateEntity(ctx, rec); err != nil {
		return err
	}
	c.EntityID = rec.ID

	if err := w.backfillDependents(ctx, c.ID, c.EntityType, rec.ID); err != nil {
		return err
	}
	return w.store.ConfirmMatchesForChange(ctx, c.ID, rec.ID)
}

// backfillDependents rewrites pending changes that depend on the
// applied proposal, wiring the now-concrete entity id into their
// payloads.
func (w *Workflow) backfillDependents(ctx context.Context, changeID string, parentType entities.Type, entityID string) error {
	dependents, err := w.store.ListDependents(ctx, changeID)
	if err != nil {
		return err
	}
	for _, dep := range dependents {
		if !dep.IsNewEntity || len(dep.Proposed) == 0 {
			continue
		}
		rec, err := dep.ProposedRecord()
		if err != nil {
			continue
		}
		switch parentType {
		case entities.TypeCommunity:
			rec.CommunityID = entityID
		case entities.TypeBuilder:
			rec.BuilderID = entityID
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			continue
		}
		dep.Proposed = payload
		if err := w.store.UpdateChange(ctx, dep); err != nil {
			return err
		}
		w.logger.Debug().
			Str("change_id", dep.ID).
			Str("dependency_change_id", changeID).
			Str("entity_id", entityID).
			Msg("Back-filled dependency id")
	}
	return nil
}

// applyFieldChange writes one field mutation through the existing
// record.
func (w *Workflow) applyFieldChange(ctx context.Context, c *collection.Change) error {
	if c.EntityID == "" {
		return errors.NewValidationError("entity_id", c.ID, "field change has no target entity")
	}
	rec, err := w.store.GetEntity(ctx, c.EntityID)
	if err != nil {
		return err
	}

	switch {
	case c.Field == "lifecycle_status":
		// Status proposals (sweep-originated for sales reps) drive the
		// state machine rather than the fields map.
		return w.applyStatusChange(ctx, rec, c)
	case c.Field == "name":
		if c.Kind == collection.ChangeRemoved {
			return errors.NewValidationError("field", c.Field, "entity name cannot be removed")
		}
		rec.Name = c.NewValue
	case c.Kind == collection.ChangeRemoved:
		delete(rec.Fields, c.Field)
	default:
		rec.SetField(c.Field, c.NewValue)
	}

	return w.store.UpdateEntity(ctx, rec)
}

// applyStatusChange performs a reviewed lifecycle transition.
func (w *Workflow) applyStatusChange(ctx context.Context, rec *entities.Record, c *collection.Change) error {
	to := entities.Status(c.NewValue)
	if !entities.Allowed(rec.Type, rec.Lifecycle.Status, to) {
		return &errors.TransitionError{
			EntityType: string(rec.Type),
			EntityID:   rec.ID,
			From:       string(rec.Lifecycle.Status),
			To:         string(to),
			Reason:     "transition not allowed for entity type",
		}
	}

	ts := time.Now().UTC()
	lc := rec.Lifecycle
	lc.Status = to
	lc.IsActive = false
	for _, st := range entities.ActiveStatuses(rec.Type) {
		if to == st {
			lc.IsActive = true
		}
	}
	lc.StatusChangedAt = ts
	lc.StatusChangeReason = c.ReviewNotes
	if lc.StatusChangeReason == "" {
		lc.StatusChangeReason = fmt.Sprintf("applied change %s", c.ID)
	}

	_, err := w.store.UpdateLifecycle(ctx, rec.ID, rec.Lifecycle.StatusChangedAt, lc)
	return err
}

// signalActivity bumps the entity's activity clock and reactivates a
// non-terminal inactive record.
func (w *Workflow) signalActivity(ctx context.Context, entityID, changeID string) error {
	rec, err := w.store.GetEntity(ctx, entityID)
	if err != nil {
		return err
	}

	ts := time.Now().UTC()
	lc := rec.Lifecycle
	lc.LastActivityAt = ts

	if !lc.IsActive && !entities.Terminal(rec.Type, lc.Status) {
		lc.IsActive = true
		lc.Status = entities.ActiveStatus(rec.Type)
		lc.StatusChangedAt = ts
		lc.StatusChangeReason = fmt.Sprintf("reactivated by applied change %s", changeID)
		w.logger.Info().
			Str("entity_id", entityID).
			Str("entity_type", string(rec.Type)).
			Str("status", string(lc.Status)).
			Msg("Entity reactivated on activity")
	} else {
		lc.StatusChangedAt = rec.Lifecycle.StatusChangedAt
	}

	_, err = w.store.UpdateLifecycle(ctx, entityID, rec.Lifecycle.StatusChangedAt, lc)
	return err
}
