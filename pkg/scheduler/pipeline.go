package scheduler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/errors"
	"github.com/homeatlas/homeatlas/pkg/extract"
	"github.com/homeatlas/homeatlas/pkg/match"
)

// resolution tracks how this job's discovered entities resolved, so a
// later discovery in the same output can wire its parent link by name:
// to a concrete entity id when the parent matched an existing record,
// or to the parent's own pending proposal.
type resolution struct {
	resolved map[entities.Type]map[string]string // canonical name -> entity id
	proposed map[entities.Type]map[string]string // canonical name -> change id
}

func newResolution() *resolution {
	return &resolution{
		resolved: make(map[entities.Type]map[string]string),
		proposed: make(map[entities.Type]map[string]string),
	}
}

func (r *resolution) addResolved(t entities.Type, name, entityID string) {
	if r.resolved[t] == nil {
		r.resolved[t] = make(map[string]string)
	}
	r.resolved[t][match.CanonicalName(name)] = entityID
}

func (r *resolution) addProposed(t entities.Type, name, changeID string) {
	if r.proposed[t] == nil {
		r.proposed[t] = make(map[string]string)
	}
	r.proposed[t][match.CanonicalName(name)] = changeID
}

// execute runs the extract, match, diff pipeline for one running job
// and returns the changes and match audit rows to persist. An error
// fails the whole job; nothing is written partially.
func (s *Scheduler) execute(ctx context.Context, job *collection.Job) ([]*collection.Change, []*collection.EntityMatch, error) {
	if s.extractor == nil {
		return nil, nil, errors.NewConfigError("scheduler", "no extraction backend configured", nil)
	}

	// Pure discovery jobs carry no target entity; they only produce
	// discovered-entity proposals, never a field diff.
	var target *entities.Record
	if job.EntityID != "" {
		var err error
		target, err = s.store.GetEntity(ctx, job.EntityID)
		if err != nil {
			return nil, nil, err
		}
	}

	res, err := s.extractor.Extract(ctx, buildQuery(job, target))
	if err != nil {
		return nil, nil, err
	}

	job.ItemsFound = len(res.Fields) + len(res.Entities)

	var changes []*collection.Change
	var matches []*collection.EntityMatch

	// Field-level diff against the primary target.
	if target != nil {
		for _, fc := range s.differ.Diff(target, res.Fields, res.Confidence) {
			changes = append(changes, &collection.Change{
				ID:         uuid.NewString(),
				JobID:      job.ID,
				EntityType: job.EntityType,
				EntityID:   target.ID,
				Field:      fc.Field,
				OldValue:   fc.OldValue,
				NewValue:   fc.NewValue,
				Kind:       fc.Kind,
				Confidence: fc.Confidence,
				Status:     collection.ChangePending,
				SourceURLs: res.SourceURLs,
			})
		}
	}

	// Resolve discovered sub-entities, parents before children so a
	// dependent proposal can reference its parent's change id or
	// resolved entity id.
	links := newResolution()
	for _, dt := range entities.Types {
		for _, d := range res.Entities {
			if d.EntityType != dt {
				continue
			}
			change, mrow, err := s.resolveDiscovered(ctx, job, target, d, links)
			if err != nil {
				return nil, nil, err
			}
			if change != nil {
				changes = append(changes, change)
				job.EntitiesDiscovered++
			}
			if mrow != nil {
				matches = append(matches, mrow)
			}
		}
	}

	job.ChangesDetected = len(changes)
	return changes, matches, nil
}

// resolveDiscovered matches one discovered sub-entity against existing
// records and pending proposals, producing a match audit row and, when
// nothing matches, a new-entity change proposal.
func (s *Scheduler) resolveDiscovered(ctx context.Context, job *collection.Job, target *entities.Record, d extract.Discovered, links *resolution) (*collection.Change, *collection.EntityMatch, error) {
	discovered := match.FromFields(d.Fields, d.Confidence.Overall)
	if discovered.Name == "" {
		return nil, nil, nil
	}

	raw, err := json.Marshal(d.Fields)
	if err != nil {
		return nil, nil, errors.NewValidationError("fields", discovered.Name, "unencodable discovered payload")
	}

	mrow := &collection.EntityMatch{
		ID:         uuid.NewString(),
		JobID:      job.ID,
		Name:       discovered.Name,
		City:       discovered.City,
		State:      discovered.State,
		Raw:        raw,
		EntityType: d.EntityType,
		CreatedAt:  now(),
	}

	// A previously confirmed resolution of the same signature
	// short-circuits the matcher: repeat discoveries reuse what an
	// operator or an earlier job already settled.
	cached, err := s.store.FindMatchBySignature(ctx, d.EntityType, discovered.Name, discovered.City, discovered.State)
	if err != nil && !errors.IsNotFound(err) {
		return nil, nil, err
	}
	if cached != nil && cached.EntityID != "" {
		mrow.Status = collection.MatchConfirmed
		mrow.EntityID = cached.EntityID
		mrow.Method = cached.Method
		mrow.Confidence = cached.Confidence
		links.addResolved(d.EntityType, discovered.Name, cached.EntityID)
		s.signalActivity(ctx, job, cached.EntityID)
		s.spawnChild(ctx, job, d.EntityType, cached.EntityID)
		return nil, mrow, nil
	}

	existing, pending, err := s.candidates(ctx, d.EntityType)
	if err != nil {
		return nil, nil, err
	}

	result := s.matcher.Match(discovered, d.EntityType, existing, pending)
	mrow.Confidence = result.Confidence
	mrow.Method = result.Method

	switch {
	case result.Ambiguous:
		// Deferred to manual disambiguation; no change is proposed.
		mrow.Status = collection.MatchPending
		mrow.Method = collection.MatchManual
		return nil, mrow, nil

	case result.Matched && !result.Pending:
		// Re-confirming a known entity counts as activity on it.
		mrow.Status = collection.MatchConfirmed
		mrow.EntityID = result.EntityID
		links.addResolved(d.EntityType, discovered.Name, result.EntityID)
		s.signalActivity(ctx, job, result.EntityID)
		s.spawnChild(ctx, job, d.EntityType, result.EntityID)
		return nil, mrow, nil

	case result.Matched && result.Pending:
		// Matched a not-yet-applied proposal; resolved to a concrete id
		// when that proposal is applied.
		mrow.Status = collection.MatchPending
		mrow.ChangeID = result.ChangeID
		return nil, mrow, nil
	}

	// No match: propose the discovered entity as new.
	change, err := s.newEntityChange(ctx, job, target, d, discovered, links)
	if err != nil {
		return nil, nil, err
	}
	mrow.Status = collection.MatchPending
	mrow.ChangeID = change.ID
	mrow.Confidence = d.Confidence.Overall
	return change, mrow, nil
}

// newEntityChange builds a pending new-entity proposal, wiring the
// parent link: a concrete id when the parent exists, otherwise a
// dependency on the parent's own pending proposal from this job.
func (s *Scheduler) newEntityChange(ctx context.Context, job *collection.Job, target *entities.Record, d extract.Discovered, discovered match.Discovered, links *resolution) (*collection.Change, error) {
	rec := entities.Record{
		ID:     uuid.NewString(),
		Type:   d.EntityType,
		Name:   discovered.Name,
		Fields: d.Fields,
	}

	change := &collection.Change{
		ID:          uuid.NewString(),
		JobID:       job.ID,
		EntityType:  d.EntityType,
		IsNewEntity: true,
		Kind:        collection.ChangeAdded,
		Confidence:  d.Confidence.Overall,
		Status:      collection.ChangePending,
	}

	parentType := entities.ParentType(d.EntityType)
	switch {
	case parentType == "":
		// Communities stand alone.
	case target != nil && target.Type == parentType:
		setParent(&rec, parentType, target.ID)
	default:
		// The parent is named in the discovered payload ("community" or
		// "builder"): resolve it to the entity matched or known by that
		// name, or depend on its pending proposal from this job.
		parentName := d.Fields[string(parentType)]
		canon := match.CanonicalName(parentName)
		switch {
		case canon == "":
		case links.resolved[parentType][canon] != "":
			setParent(&rec, parentType, links.resolved[parentType][canon])
		case links.proposed[parentType][canon] != "":
			change.DependencyType = parentType
			change.DependencyChangeID = links.proposed[parentType][canon]
		default:
			id, err := s.findParentID(ctx, parentType, canon)
			if err != nil {
				return nil, err
			}
			if id != "" {
				setParent(&rec, parentType, id)
				links.addResolved(parentType, parentName, id)
			}
		}
	}

	payload, err := json.Marshal(&rec)
	if err != nil {
		return nil, errors.NewValidationError("proposed", rec.Name, "unencodable proposal payload")
	}
	change.Proposed = payload

	links.addProposed(d.EntityType, rec.Name, change.ID)
	return change, nil
}

func setParent(rec *entities.Record, parentType entities.Type, id string) {
	switch parentType {
	case entities.TypeCommunity:
		rec.CommunityID = id
	case entities.TypeBuilder:
		rec.BuilderID = id
	}
}

// findParentID resolves a parent named in a discovered payload against
// the system of record. Only an unambiguous canonical-name hit
// resolves; zero or several hits leave the link for review.
func (s *Scheduler) findParentID(ctx context.Context, t entities.Type, canon string) (string, error) {
	records, err := s.store.ListEntities(ctx, store.EntityFilter{Type: t})
	if err != nil {
		return "", err
	}
	var id string
	for _, r := range records {
		if match.CanonicalName(r.Name) != canon {
			continue
		}
		if id != "" {
			return "", nil
		}
		id = r.ID
	}
	return id, nil
}

// signalActivity treats a discovery re-confirming an existing entity as
// activity on it: the clock is bumped, and a non-terminal inactive
// record reactivates. A lost write never fails the job.
func (s *Scheduler) signalActivity(ctx context.Context, job *collection.Job, entityID string) {
	rec, err := s.store.GetEntity(ctx, entityID)
	if err == nil {
		ts := now()
		if rec.Lifecycle.IsActive || entities.Terminal(rec.Type, rec.Lifecycle.Status) {
			err = s.store.TouchActivity(ctx, entityID, ts)
		} else {
			lc := rec.Lifecycle
			lc.IsActive = true
			lc.Status = entities.ActiveStatus(rec.Type)
			lc.LastActivityAt = ts
			lc.StatusChangedAt = ts
			lc.StatusChangeReason = fmt.Sprintf("re-confirmed by discovery job %s", job.ID)
			_, err = s.store.UpdateLifecycle(ctx, entityID, rec.Lifecycle.StatusChangedAt, lc)
		}
	}
	if err != nil {
		s.logger.Warn().Err(err).
			Str("job_id", job.ID).
			Str("entity_id", entityID).
			Msg("Failed to record discovery activity")
	}
}

// candidates loads the match candidates for one entity type: all
// non-archived records plus pending new-entity proposals.
func (s *Scheduler) candidates(ctx context.Context, t entities.Type) ([]entities.Candidate, []entities.Candidate, error) {
	records, err := s.store.ListEntities(ctx, store.EntityFilter{Type: t})
	if err != nil {
		return nil, nil, err
	}
	existing := make([]entities.Candidate, 0, len(records))
	for _, r := range records {
		existing = append(existing, entities.CandidateFromRecord(r))
	}

	proposals, err := s.store.ListChanges(ctx, store.ChangeFilter{
		Status:     collection.ChangePending,
		EntityType: t,
	})
	if err != nil {
		return nil, nil, err
	}
	var pending []entities.Candidate
	for _, c := range proposals {
		if !c.IsNewEntity || len(c.Proposed) == 0 {
			continue
		}
		rec, err := c.ProposedRecord()
		if err != nil {
			continue
		}
		cand := entities.CandidateFromRecord(rec)
		cand.ID = ""
		cand.Pending = true
		cand.ChangeID = c.ID
		pending = append(pending, cand)
	}
	return existing, pending, nil
}

// spawnChild queues a follow-up update job for a matched existing
// entity, bounded by cascade depth. Admission conflicts mean the entity
// already has an active job; that is fine.
func (s *Scheduler) spawnChild(ctx context.Context, parent *collection.Job, t entities.Type, entityID string) {
	if parent.CascadeDepth >= s.maxDepth {
		return
	}

	child := &collection.Job{
		ID:           uuid.NewString(),
		EntityType:   t,
		EntityID:     entityID,
		ParentJobID:  parent.ID,
		CascadeDepth: parent.CascadeDepth + 1,
		Kind:         collection.JobKindUpdate,
		Status:       collection.JobPending,
		Priority:     parent.Priority,
	}
	if err := s.store.CreateJob(ctx, child); err != nil {
		if !errors.IsConflict(err) {
			s.logger.Error().Err(err).
				Str("job_id", parent.ID).
				Str("entity_id", entityID).
				Msg("Failed to spawn child job")
		}
		return
	}
	s.logger.Debug().
		Str("job_id", child.ID).
		Str("parent_job_id", parent.ID).
		Str("entity_type", string(t)).
		Str("entity_id", entityID).
		Msg("Spawned child job")
}

// buildQuery turns a job and its target record into an extraction
// query. Targetless discovery jobs anchor on the entity type alone.
func buildQuery(job *collection.Job, target *entities.Record) extract.Query {
	if target == nil {
		return extract.Query{
			Text:       fmt.Sprintf("newly active %s listings", job.EntityType),
			EntityType: job.EntityType,
		}
	}

	text := target.Name
	switch job.Kind {
	case collection.JobKindDiscovery:
		text = fmt.Sprintf("entities associated with %s %s", target.Type, target.Name)
	case collection.JobKindInventory:
		text = fmt.Sprintf("current inventory of %s %s", target.Type, target.Name)
	}

	hint := target.Field("city")
	if st := target.Field("state"); st != "" {
		if hint != "" {
			hint += ", "
		}
		hint += st
	}

	return extract.Query{
		Text:         text,
		EntityType:   job.EntityType,
		LocationHint: hint,
	}
}
