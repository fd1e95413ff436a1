package store

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob(entityType entities.Type, entityID string) *collection.Job {
	return &collection.Job{
		ID:         uuid.NewString(),
		EntityType: entityType,
		EntityID:   entityID,
		Kind:       collection.JobKindUpdate,
		Status:     collection.JobPending,
	}
}

func TestJobRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := testJob(entities.TypeBuilder, "b-1")
	job.Priority = 5
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, entities.TypeBuilder, got.EntityType)
	assert.Equal(t, "b-1", got.EntityID)
	assert.Equal(t, collection.JobPending, got.Status)
	assert.Equal(t, 5, got.Priority)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestCreateJobAdmissionConflict(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := testJob(entities.TypeBuilder, "b-1")
	require.NoError(t, s.CreateJob(ctx, first))

	// Second active job for the same target is rejected, not queued.
	err := s.CreateJob(ctx, testJob(entities.TypeBuilder, "b-1"))
	require.Error(t, err)
	assert.True(t, errors.IsConflict(err))

	var conflict *errors.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, first.ID, conflict.ActiveJobID)

	// A different target is fine.
	require.NoError(t, s.CreateJob(ctx, testJob(entities.TypeBuilder, "b-2")))

	// Once the first job finishes, the target admits again.
	require.NoError(t, s.MarkJobRunning(ctx, first.ID))
	first.Status = collection.JobCompleted
	now := time.Now().UTC()
	first.CompletedAt = &now
	require.NoError(t, s.FinishJob(ctx, first, nil, nil))

	require.NoError(t, s.CreateJob(ctx, testJob(entities.TypeBuilder, "b-1")))
}

func TestNextPendingOrdersByPriority(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	low := testJob(entities.TypeBuilder, "b-low")
	low.Priority = 1
	high := testJob(entities.TypeBuilder, "b-high")
	high.Priority = 10
	require.NoError(t, s.CreateJob(ctx, low))
	require.NoError(t, s.CreateJob(ctx, high))

	jobs, err := s.NextPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, high.ID, jobs[0].ID)
	assert.Equal(t, low.ID, jobs[1].ID)
}

func TestMarkJobRunningClaimsOnce(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := testJob(entities.TypeBuilder, "b-1")
	require.NoError(t, s.CreateJob(ctx, job))

	require.NoError(t, s.MarkJobRunning(ctx, job.ID))

	// Second claim fails: the job is no longer pending.
	err := s.MarkJobRunning(ctx, job.ID)
	assert.True(t, errors.IsNotFound(err))
}

func TestFinishJobPersistsResultsTransactionally(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := testJob(entities.TypeBuilder, "b-1")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.MarkJobRunning(ctx, job.ID))

	job.Status = collection.JobCompleted
	job.ItemsFound = 3
	job.ChangesDetected = 1
	now := time.Now().UTC()
	job.CompletedAt = &now

	change := &collection.Change{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		EntityType: entities.TypeBuilder,
		EntityID:   "b-1",
		Field:      "phone",
		OldValue:   "281-555-0142",
		NewValue:   "281-555-9999",
		Kind:       collection.ChangeModified,
		Confidence: 0.63,
		Status:     collection.ChangePending,
		SourceURLs: []string{"https://example.com"},
	}
	m := &collection.EntityMatch{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Name:       "Highland Homes",
		City:       "Dallas",
		State:      "TX",
		EntityType: entities.TypeBuilder,
		EntityID:   "b-1",
		Confidence: 0.92,
		Method:     collection.MatchExactNameAndLocation,
		Status:     collection.MatchConfirmed,
	}
	require.NoError(t, s.FinishJob(ctx, job, []*collection.Change{change}, []*collection.EntityMatch{m}))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, collection.JobCompleted, got.Status)
	assert.Equal(t, 1, got.ChangesDetected)
	require.NotNil(t, got.CompletedAt)

	changes, err := s.ListChanges(ctx, ChangeFilter{JobID: job.ID})
	require.NoError(t, err)
	require.Len(t, changes, 1)
	assert.Equal(t, "phone", changes[0].Field)
	assert.Equal(t, []string{"https://example.com"}, changes[0].SourceURLs)

	matches, err := s.ListMatches(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, collection.MatchConfirmed, matches[0].Status)
}

func TestChangeRoundTripWithProposal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := entities.Record{
		ID:     "new-1",
		Type:   entities.TypeCommunity,
		Name:   "Cinco Ranch",
		Fields: map[string]string{"city": "Katy", "state": "TX"},
	}
	payload, err := json.Marshal(&rec)
	require.NoError(t, err)

	change := &collection.Change{
		ID:          uuid.NewString(),
		EntityType:  entities.TypeCommunity,
		IsNewEntity: true,
		Proposed:    payload,
		Kind:        collection.ChangeAdded,
		Confidence:  0.8,
		Status:      collection.ChangePending,
	}
	require.NoError(t, s.CreateChange(ctx, change))

	got, err := s.GetChange(ctx, change.ID)
	require.NoError(t, err)
	assert.True(t, got.IsNewEntity)

	decoded, err := got.ProposedRecord()
	require.NoError(t, err)
	assert.Equal(t, "Cinco Ranch", decoded.Name)
	assert.Equal(t, "Katy", decoded.Fields["city"])
}

func TestListDependents(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	parent := &collection.Change{
		ID:          uuid.NewString(),
		EntityType:  entities.TypeBuilder,
		IsNewEntity: true,
		Kind:        collection.ChangeAdded,
		Status:      collection.ChangePending,
	}
	dependent := &collection.Change{
		ID:                 uuid.NewString(),
		EntityType:         entities.TypeSalesRep,
		IsNewEntity:        true,
		Kind:               collection.ChangeAdded,
		Status:             collection.ChangePending,
		DependencyType:     entities.TypeBuilder,
		DependencyChangeID: parent.ID,
	}
	require.NoError(t, s.CreateChange(ctx, parent))
	require.NoError(t, s.CreateChange(ctx, dependent))

	deps, err := s.ListDependents(ctx, parent.ID)
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, dependent.ID, deps[0].ID)
}

func TestEntityRoundTripAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := &entities.Record{
		ID:   "b-1",
		Type: entities.TypeBuilder,
		Name: "Highland Homes",
		Fields: map[string]string{
			"city":  "Dallas",
			"state": "TX",
		},
	}
	require.NoError(t, s.CreateEntity(ctx, rec))

	got, err := s.GetEntity(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "Highland Homes", got.Name)
	assert.True(t, got.Lifecycle.IsActive)
	assert.Equal(t, entities.StatusActive, got.Lifecycle.Status)

	got.SetField("phone", "281-555-0142")
	require.NoError(t, s.UpdateEntity(ctx, got))

	got, err = s.GetEntity(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "281-555-0142", got.Field("phone"))

	listed, err := s.ListEntities(ctx, EntityFilter{
		Type:     entities.TypeBuilder,
		Statuses: []entities.Status{entities.StatusActive},
	})
	require.NoError(t, err)
	require.Len(t, listed, 1)

	listed, err = s.ListEntities(ctx, EntityFilter{
		Type:     entities.TypeBuilder,
		Statuses: []entities.Status{entities.StatusInactive},
	})
	require.NoError(t, err)
	assert.Empty(t, listed)
}

func TestUpdateLifecycleMonotonicGuard(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := &entities.Record{ID: "b-1", Type: entities.TypeBuilder, Name: "Highland Homes"}
	require.NoError(t, s.CreateEntity(ctx, rec))

	got, err := s.GetEntity(ctx, "b-1")
	require.NoError(t, err)
	observed := got.Lifecycle.StatusChangedAt

	// A manual change lands after our observation.
	manual := got.Lifecycle
	manual.Status = entities.StatusInactive
	manual.IsActive = false
	manual.StatusChangedAt = observed.Add(time.Hour)
	manual.StatusChangeReason = "manual deactivation"
	ok, err := s.UpdateLifecycle(ctx, "b-1", observed, manual)
	require.NoError(t, err)
	assert.True(t, ok)

	// A stale writer still holding the old observation loses.
	stale := got.Lifecycle
	stale.Status = entities.StatusInactive
	stale.StatusChangedAt = observed.Add(time.Minute)
	stale.StatusChangeReason = "sweep"
	ok, err = s.UpdateLifecycle(ctx, "b-1", observed, stale)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err = s.GetEntity(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, "manual deactivation", got.Lifecycle.StatusChangeReason)
}

func TestMatchSignatureCache(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	job := testJob(entities.TypeBuilder, "b-1")
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.MarkJobRunning(ctx, job.ID))

	job.Status = collection.JobCompleted
	m := &collection.EntityMatch{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Name:       "Highland Homes, LLC",
		City:       "Dallas",
		State:      "TX",
		EntityType: entities.TypeBuilder,
		EntityID:   "b-1",
		Confidence: 0.92,
		Method:     collection.MatchExactNameAndLocation,
		Status:     collection.MatchConfirmed,
	}
	require.NoError(t, s.FinishJob(ctx, job, nil, []*collection.EntityMatch{m}))

	// Lookup is canonical: suffix and case differences still hit.
	got, err := s.FindMatchBySignature(ctx, entities.TypeBuilder, "highland homes", "DALLAS", "tx")
	require.NoError(t, err)
	assert.Equal(t, "b-1", got.EntityID)

	_, err = s.FindMatchBySignature(ctx, entities.TypeBuilder, "Oak Builders", "Dallas", "TX")
	assert.True(t, errors.IsNotFound(err))
}

func TestGetJobNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.GetJob(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}
