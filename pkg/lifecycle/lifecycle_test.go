package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

var sweepNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return sweepNow }

func testStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func seed(t *testing.T, st *store.Store, rec *entities.Record, idle time.Duration) *entities.Record {
	t.Helper()
	if rec.Lifecycle.Status == "" {
		rec.Lifecycle.Status = entities.ActiveStatus(rec.Type)
		rec.Lifecycle.IsActive = true
	}
	rec.Lifecycle.LastActivityAt = sweepNow.Add(-idle)
	rec.Lifecycle.StatusChangedAt = sweepNow.Add(-idle)
	require.NoError(t, st.CreateEntity(context.Background(), rec))
	return rec
}

func day(n int) time.Duration { return time.Duration(n) * 24 * time.Hour }

func TestSweepDeactivatesIdleEntities(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	stale := seed(t, st, &entities.Record{ID: "b-stale", Type: entities.TypeBuilder, Name: "Dormant Homes"}, day(91))
	fresh := seed(t, st, &entities.Record{ID: "b-fresh", Type: entities.TypeBuilder, Name: "Busy Homes"}, day(30))
	prop := seed(t, st, &entities.Record{ID: "p-stale", Type: entities.TypeProperty, Name: "12 Elm St"}, day(61))

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deactivated[entities.TypeBuilder])
	assert.Equal(t, 1, res.Deactivated[entities.TypeProperty])
	assert.Zero(t, res.Proposed)
	assert.Zero(t, res.Skipped)

	got, err := st.GetEntity(ctx, stale.ID)
	require.NoError(t, err)
	assert.False(t, got.Lifecycle.IsActive)
	assert.Equal(t, entities.StatusInactive, got.Lifecycle.Status)
	assert.Equal(t, "no activity for 90 days", got.Lifecycle.StatusChangeReason)

	got, err = st.GetEntity(ctx, prop.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOffMarket, got.Lifecycle.Status)

	got, err = st.GetEntity(ctx, fresh.ID)
	require.NoError(t, err)
	assert.True(t, got.Lifecycle.IsActive)
}

func TestSweepIgnoresTerminalEntities(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	sold := seed(t, st, &entities.Record{
		ID: "p-sold", Type: entities.TypeProperty, Name: "9 Oak Ln",
		Lifecycle: entities.Lifecycle{Status: entities.StatusSold},
	}, day(400))

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deactivated[entities.TypeProperty])

	got, err := st.GetEntity(ctx, sold.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusSold, got.Lifecycle.Status)
}

func TestSweepProposesSalesRepInactivation(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	rep := seed(t, st, &entities.Record{ID: "r-1", Type: entities.TypeSalesRep, Name: "Dana Reyes", BuilderID: "b-1"}, day(75))

	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Proposed)
	assert.Zero(t, res.Deactivated[entities.TypeSalesRep])

	// The rep itself is untouched; only a change was routed to review.
	got, err := st.GetEntity(ctx, rep.ID)
	require.NoError(t, err)
	assert.True(t, got.Lifecycle.IsActive)

	pending, err := st.ListChanges(ctx, store.ChangeFilter{
		Status:   collection.ChangePending,
		EntityID: rep.ID,
	})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	c := pending[0]
	assert.Equal(t, "lifecycle_status", c.Field)
	assert.Equal(t, string(entities.StatusActive), c.OldValue)
	assert.Equal(t, string(entities.StatusInactive), c.NewValue)
	assert.Equal(t, "no activity for 60 days", c.ReviewNotes)

	// Re-sweeping while the proposal is still pending does not duplicate it.
	res, err = m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Proposed)

	pending, err = st.ListChanges(ctx, store.ChangeFilter{EntityID: rep.ID})
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

// raceStore injects a manual status change between a sweep's read and
// its write.
type raceStore struct {
	*store.Store
	manual func()
}

func (r *raceStore) ListEntities(ctx context.Context, filter store.EntityFilter) ([]*entities.Record, error) {
	recs, err := r.Store.ListEntities(ctx, filter)
	if err == nil && len(recs) > 0 && r.manual != nil {
		r.manual()
		r.manual = nil
	}
	return recs, err
}

func TestSweepSkipsWhenManualChangeWins(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()

	rec := seed(t, st, &entities.Record{ID: "b-1", Type: entities.TypeBuilder, Name: "Dormant Homes"}, day(120))

	rs := &raceStore{Store: st}
	rs.manual = func() {
		lc := rec.Lifecycle
		lc.IsActive = false
		lc.Status = entities.StatusOutOfBusiness
		lc.StatusChangedAt = sweepNow
		lc.StatusChangeReason = "confirmed closed"
		ok, err := st.UpdateLifecycle(ctx, rec.ID, rec.Lifecycle.StatusChangedAt, lc)
		require.NoError(t, err)
		require.True(t, ok)
	}

	m := New(rs, WithClock(fixedClock))
	res, err := m.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Deactivated[entities.TypeBuilder])
	assert.Equal(t, 1, res.Skipped)

	// The manual transition survived the sweep.
	got, err := st.GetEntity(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOutOfBusiness, got.Lifecycle.Status)
	assert.Equal(t, "confirmed closed", got.Lifecycle.StatusChangeReason)
}

func TestRecordActivityReactivates(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	rec := seed(t, st, &entities.Record{
		ID: "c-1", Type: entities.TypeCommunity, Name: "Cinco Ranch",
		Lifecycle: entities.Lifecycle{Status: entities.StatusInactive},
	}, day(200))

	require.NoError(t, m.RecordActivity(ctx, rec.ID, "fresh listing observed"))

	got, err := st.GetEntity(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, got.Lifecycle.IsActive)
	assert.Equal(t, entities.StatusActive, got.Lifecycle.Status)
	assert.Equal(t, "fresh listing observed", got.Lifecycle.StatusChangeReason)
	assert.True(t, got.Lifecycle.LastActivityAt.Equal(sweepNow))
}

func TestRecordActivityLeavesTerminalAlone(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	rec := seed(t, st, &entities.Record{
		ID: "p-1", Type: entities.TypeProperty, Name: "9 Oak Ln",
		Lifecycle: entities.Lifecycle{Status: entities.StatusSold},
	}, day(30))

	require.NoError(t, m.RecordActivity(ctx, rec.ID, "seen in listing"))

	got, err := st.GetEntity(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusSold, got.Lifecycle.Status)
	assert.False(t, got.Lifecycle.IsActive)
	assert.True(t, got.Lifecycle.LastActivityAt.Equal(sweepNow))
}

func TestTransitionRejectsInvalidTarget(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	rec := seed(t, st, &entities.Record{ID: "c-1", Type: entities.TypeCommunity, Name: "Cinco Ranch"}, 0)

	err := m.Transition(ctx, rec.ID, entities.StatusOutOfBusiness, "nonsense")
	require.Error(t, err)

	var te *errors.TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "active", te.From)
	assert.Equal(t, "out-of-business", te.To)
}

func TestBuilderTerminalTransitionCascades(t *testing.T) {
	st := testStore(t)
	m := New(st, WithClock(fixedClock))
	ctx := context.Background()

	builder := seed(t, st, &entities.Record{ID: "b-1", Type: entities.TypeBuilder, Name: "Oak Builders"}, 0)
	avail := seed(t, st, &entities.Record{ID: "p-1", Type: entities.TypeProperty, Name: "12 Elm St", BuilderID: "b-1"}, 0)
	pend := seed(t, st, &entities.Record{
		ID: "p-2", Type: entities.TypeProperty, Name: "14 Elm St", BuilderID: "b-1",
		Lifecycle: entities.Lifecycle{Status: entities.StatusPending, IsActive: true},
	}, 0)
	sold := seed(t, st, &entities.Record{
		ID: "p-3", Type: entities.TypeProperty, Name: "16 Elm St", BuilderID: "b-1",
		Lifecycle: entities.Lifecycle{Status: entities.StatusSold},
	}, 0)
	rep := seed(t, st, &entities.Record{ID: "r-1", Type: entities.TypeSalesRep, Name: "Dana Reyes", BuilderID: "b-1"}, 0)
	other := seed(t, st, &entities.Record{ID: "p-9", Type: entities.TypeProperty, Name: "1 Other Rd", BuilderID: "b-2"}, 0)

	require.NoError(t, m.Transition(ctx, builder.ID, entities.StatusOutOfBusiness, "confirmed closed"))

	got, err := st.GetEntity(ctx, builder.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusOutOfBusiness, got.Lifecycle.Status)
	assert.False(t, got.Lifecycle.IsActive)

	for _, id := range []string{avail.ID, pend.ID} {
		got, err = st.GetEntity(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, entities.StatusOffMarket, got.Lifecycle.Status, id)
		assert.Equal(t, "builder b-1 out-of-business", got.Lifecycle.StatusChangeReason)
	}

	got, err = st.GetEntity(ctx, rep.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusInactive, got.Lifecycle.Status)

	// Sold stays sold, and other builders' inventory is untouched.
	got, err = st.GetEntity(ctx, sold.ID)
	require.NoError(t, err)
	assert.Equal(t, entities.StatusSold, got.Lifecycle.Status)
	got, err = st.GetEntity(ctx, other.ID)
	require.NoError(t, err)
	assert.True(t, got.Lifecycle.IsActive)

	// Re-running the terminal transition is a no-op cascade.
	require.NoError(t, m.Transition(ctx, builder.ID, entities.StatusOutOfBusiness, "confirmed closed"))
}
