package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/phrazzld/unwrap-qr/internal/protocol"
)

// Record is the registry entry for one submitted image.
type Record struct {
	// ID is the correlation id the task travels under
	ID protocol.CorrelationID

	// CreatedAt is when the task was submitted
	CreatedAt time.Time

	// Status is the latest known lifecycle state
	Status protocol.Status

	// FileName is the name the client gave the uploaded file
	FileName string

	// Size is the upload size in bytes
	Size int64

	// Digest is the hex BLAKE2b-256 digest of the upload
	Digest string
}

func (r *Record) clone() Record {
	c := *r
	c.Status = r.Status.Clone()
	return c
}

// Registry is a thread-safe, insertion-ordered store of task records.
// Every operation holds a single mutex for the duration of the map
// access only.
type Registry struct {
	mu      sync.Mutex
	order   []protocol.CorrelationID
	records map[protocol.CorrelationID]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		records: make(map[protocol.CorrelationID]*Record),
	}
}

// Insert registers a new task. The id must not be registered yet.
func (r *Registry) Insert(rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("insert task: empty id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.Status.Kind == "" {
		rec.Status = protocol.Pending()
	}
	stored := rec.clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[rec.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, rec.ID)
	}
	r.records[rec.ID] = &stored
	r.order = append(r.order, rec.ID)
	return nil
}

// Update moves a task to a new status. Statuses only move forward and a
// terminal status is never replaced.
func (r *Registry) Update(id protocol.CorrelationID, status protocol.Status) error {
	status = status.Clone()

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if rec.Status.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, rec.Status)
	}
	if !rec.Status.CanTransitionTo(status) {
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrInvalidTransition, id, rec.Status.Kind, status.Kind)
	}
	rec.Status = status
	return nil
}

// Get returns a copy of one record.
func (r *Registry) Get(id protocol.CorrelationID) (Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return rec.clone(), nil
}

// Snapshot returns copies of all records in insertion order, taken at a
// single point in time.
func (r *Registry) Snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.records[id].clone())
	}
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order)
}
