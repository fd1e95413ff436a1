// Package review implements the change review and approval workflow:
// pending -> approved -> applied, or pending -> rejected. Every
// decision records who made it; automated approvals are gated on
// confidence and on the dependency chain being satisfiable.
package review

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/logging"
)

// DefaultThreshold is the confidence at or above which a pending change
// qualifies for automated approval.
const DefaultThreshold = 0.75

// maxChainDepth bounds dependency chain traversal. Chains deeper than
// this are treated as unresolvable rather than walked further.
const maxChainDepth = 16

// Store is the persistence surface the workflow needs.
type Store interface {
	GetChange(ctx context.Context, id string) (*collection.Change, error)
	ListChanges(ctx context.Context, filter store.ChangeFilter) ([]*collection.Change, error)
	ListDependents(ctx context.Context, changeID string) ([]*collection.Change, error)
	UpdateChange(ctx context.Context, c *collection.Change) error
	GetEntity(ctx context.Context, id string) (*entities.Record, error)
	CreateEntity(ctx context.Context, r *entities.Record) error
	UpdateEntity(ctx context.Context, r *entities.Record) error
	UpdateLifecycle(ctx context.Context, id string, observed time.Time, lc entities.Lifecycle) (bool, error)
	ConfirmMatchesForChange(ctx context.Context, changeID, entityID string) error
	RejectMatchesForChange(ctx context.Context, changeID string) error
}

// Workflow drives change review and application.
type Workflow struct {
	store     Store
	threshold float64
	logger    *zerolog.Logger
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithThreshold overrides the auto-approval confidence threshold.
func WithThreshold(t float64) Option {
	return func(w *Workflow) {
		if t > 0 {
			w.threshold = t
		}
	}
}

// WithLogger sets the workflow logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// New creates a review workflow over the given store.
func New(st Store, opts ...Option) *Workflow {
	w := &Workflow{
		store:     st,
		threshold: DefaultThreshold,
		logger:    logging.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Approve transitions a pending change to approved, recording the
// reviewer. Pending dependencies in the chain are approved first, each
// noted as approved on behalf of the dependent; a missing, rejected, or
// low-confidence dependency blocks the whole approval.
func (w *Workflow) Approve(ctx context.Context, changeID, reviewer, notes string) error {
	c, err := w.store.GetChange(ctx, changeID)
	if err != nil {
		return err
	}
	if !c.Reviewable() {
		return errors.NewValidationError("status", c.Status, "change is not pending review")
	}

	chain, err := w.resolveChain(ctx, c, false)
	if err != nil {
		return err
	}

	// Deepest dependency first, so a dependent is never approved before
	// its dependency.
	for i := len(chain) - 1; i >= 0; i-- {
		dep := chain[i]
		note := fmt.Sprintf("auto-approved as dependency of %s", changeID)
		if err := w.mark(ctx, dep, collection.ChangeApproved, collection.SystemReviewer, note); err != nil {
			return err
		}
	}
	return w.mark(ctx, c, collection.ChangeApproved, reviewer, notes)
}

// Reject transitions a pending change to rejected (terminal) and marks
// any match rows pointing at it rejected. Dependents are left pending;
// they stay blocked until an operator resolves them.
func (w *Workflow) Reject(ctx context.Context, changeID, reviewer, notes string) error {
	c, err := w.store.GetChange(ctx, changeID)
	if err != nil {
		return err
	}
	if !c.Reviewable() {
		return errors.NewValidationError("status", c.Status, "change is not pending review")
	}

	if err := w.mark(ctx, c, collection.ChangeRejected, reviewer, notes); err != nil {
		return err
	}
	if c.IsNewEntity {
		if err := w.store.RejectMatchesForChange(ctx, c.ID); err != nil {
			return err
		}
	}
	return nil
}

// AutoApprove scans pending changes and approves every one whose
// confidence meets the threshold and whose dependency chain is
// satisfiable. Blocked changes are skipped, not failed. Returns the
// number approved.
func (w *Workflow) AutoApprove(ctx context.Context) (int, error) {
	pending, err := w.store.ListChanges(ctx, store.ChangeFilter{Status: collection.ChangePending})
	if err != nil {
		return 0, err
	}

	approved := 0
	for _, c := range pending {
		if c.Confidence < w.threshold {
			continue
		}
		// May have been approved already as another change's dependency.
		cur, err := w.store.GetChange(ctx, c.ID)
		if err != nil {
			return approved, err
		}
		if !cur.Reviewable() {
			continue
		}

		if err := w.Approve(ctx, c.ID, collection.SystemReviewer, "auto-approved"); err != nil {
			if errors.IsDependency(err) || errors.IsCycle(err) {
				w.logger.Debug().Err(err).Str("change_id", c.ID).Msg("Auto-approval blocked")
				continue
			}
			return approved, err
		}
		approved++
	}
	return approved, nil
}

// Outcome is the per-item result of a bulk review.
type Outcome struct {
	ChangeID string
	Err      error
}

// BulkAction selects what a bulk review does to each change.
type BulkAction string

const (
	BulkApprove BulkAction = "approve"
	BulkReject  BulkAction = "reject"
	BulkApply   BulkAction = "apply"
)

// BulkReview processes each change id independently; one failure never
// aborts the rest.
func (w *Workflow) BulkReview(ctx context.Context, ids []string, action BulkAction, reviewer, notes string) []Outcome {
	outcomes := make([]Outcome, 0, len(ids))
	for _, id := range ids {
		var err error
		switch action {
		case BulkApprove:
			err = w.Approve(ctx, id, reviewer, notes)
		case BulkReject:
			err = w.Reject(ctx, id, reviewer, notes)
		case BulkApply:
			err = w.Apply(ctx, id)
		default:
			err = errors.NewValidationError("action", action, "unknown bulk action")
		}
		outcomes = append(outcomes, Outcome{ChangeID: id, Err: err})
	}
	return outcomes
}

// resolveChain walks the dependency chain upward from c and returns the
// pending dependencies that must be approved first, nearest first. A
// terminal-blocked, low-confidence, or missing dependency returns
// DependencyError; a cycle returns CycleError. With applyMode set,
// dependencies must already be applied rather than merely approvable.
func (w *Workflow) resolveChain(ctx context.Context, c *collection.Change, applyMode bool) ([]*collection.Change, error) {
	var chain []*collection.Change
	visited := map[string]bool{c.ID: true}
	path := []string{c.ID}

	cur := c
	for cur.DependencyChangeID != "" {
		if len(path) > maxChainDepth {
			return nil, &errors.DependencyError{
				ChangeID:     c.ID,
				DependencyID: cur.DependencyChangeID,
				EntityType:   string(cur.DependencyType),
				Reason:       "chain exceeds maximum depth",
			}
		}
		if visited[cur.DependencyChangeID] {
			return nil, &errors.CycleError{Path: append(path, cur.DependencyChangeID)}
		}

		dep, err := w.store.GetChange(ctx, cur.DependencyChangeID)
		if err != nil {
			if errors.IsNotFound(err) {
				return nil, &errors.DependencyError{
					ChangeID:     c.ID,
					DependencyID: cur.DependencyChangeID,
					EntityType:   string(cur.DependencyType),
					Reason:       "is missing",
				}
			}
			return nil, err
		}
		visited[dep.ID] = true
		path = append(path, dep.ID)

		switch dep.Status {
		case collection.ChangeApplied:
			return chain, nil
		case collection.ChangeApproved:
			if applyMode {
				return nil, &errors.DependencyError{
					ChangeID:     c.ID,
					DependencyID: dep.ID,
					EntityType:   string(dep.EntityType),
					Reason:       "is approved but not yet applied",
				}
			}
			return chain, nil
		case collection.ChangeRejected:
			return nil, &errors.DependencyError{
				ChangeID:     c.ID,
				DependencyID: dep.ID,
				EntityType:   string(dep.EntityType),
				Reason:       "was rejected",
			}
		}

		// Pending dependency.
		if applyMode {
			return nil, &errors.DependencyError{
				ChangeID:     c.ID,
				DependencyID: dep.ID,
				EntityType:   string(dep.EntityType),
				Reason:       "is not yet applied",
			}
		}
		if dep.Confidence < w.threshold {
			return nil, &errors.DependencyError{
				ChangeID:     c.ID,
				DependencyID: dep.ID,
				EntityType:   string(dep.EntityType),
				Confidence:   dep.Confidence,
				Threshold:    w.threshold,
				Reason:       "is below the approval threshold",
			}
		}
		chain = append(chain, dep)
		cur = dep
	}
	return chain, nil
}

// mark records a review decision on a change.
func (w *Workflow) mark(ctx context.Context, c *collection.Change, status collection.ChangeStatus, reviewer, notes string) error {
	ts := time.Now().UTC()
	c.Status = status
	c.ReviewedBy = reviewer
	c.ReviewNotes = notes
	c.ReviewedAt = &ts

	if err := w.store.UpdateChange(ctx, c); err != nil {
		return err
	}
	w.logger.Info().
		Str("change_id", c.ID).
		Str("status", string(status)).
		Str("reviewer", reviewer).
		Float64("confidence", c.Confidence).
		Msg("Change reviewed")
	return nil
}
