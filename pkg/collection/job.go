// Package collection defines the persisted records produced by the
// reconciliation pipeline: collection jobs, proposed changes, and
// entity match audit rows.
package collection

import (
	"fmt"
	"time"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

// JobKind describes what a collection job is asking for.
type JobKind string

const (
	// JobKindUpdate refreshes data for a known entity.
	JobKindUpdate JobKind = "update"
	// JobKindDiscovery searches for entities not yet in the system.
	JobKindDiscovery JobKind = "discovery"
	// JobKindInventory collects property inventory for a known entity.
	JobKindInventory JobKind = "inventory"
)

// Valid reports whether k is a known job kind.
func (k JobKind) Valid() bool {
	switch k {
	case JobKindUpdate, JobKindDiscovery, JobKindInventory:
		return true
	}
	return false
}

// JobStatus is the collection job state machine:
// pending -> running -> completed | failed.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Active reports whether the status counts against the one-active-job
// admission invariant.
func (s JobStatus) Active() bool {
	return s == JobPending || s == JobRunning
}

// Job is a unit of requested reconciliation work.
type Job struct {
	ID string `json:"id"`

	// Target. EntityID is empty for pure discovery jobs.
	EntityType entities.Type `json:"entity_type"`
	EntityID   string        `json:"entity_id,omitempty"`

	// ParentJobID links a job spawned by a cascade to the job that
	// discovered it; CascadeDepth bounds chains of spawned jobs.
	ParentJobID  string `json:"parent_job_id,omitempty"`
	CascadeDepth int    `json:"cascade_depth,omitempty"`

	Kind     JobKind   `json:"kind"`
	Status   JobStatus `json:"status"`
	Priority int       `json:"priority"`

	// Result counters, filled in by the executor.
	ItemsFound         int    `json:"items_found"`
	ChangesDetected    int    `json:"changes_detected"`
	EntitiesDiscovered int    `json:"entities_discovered"`
	Error              string `json:"error,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Target returns a printable (entity type, entity id) key for logs.
func (j *Job) Target() string {
	if j.EntityID == "" {
		return fmt.Sprintf("%s/*", j.EntityType)
	}
	return fmt.Sprintf("%s/%s", j.EntityType, j.EntityID)
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
