// Package request owns ServiceRequest records. Transition is the single
// write path for lifecycle changes: it is a compare-and-swap on the record's
// version counter, so concurrent actors cannot both win the same version.
package request

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/nurse-dispatch/internal/models"
)

var (
	ErrNotFound               = errors.New("request not found")
	ErrConcurrentModification = errors.New("request modified concurrently")
)

// Mutator maps the current record to its successor. It must be pure: the
// store may call it more than once and discards it entirely on a version
// conflict.
type Mutator func(models.ServiceRequest) (models.ServiceRequest, error)

type Store interface {
	Create(ctx context.Context, patientID string, origin models.Coordinate) (models.ServiceRequest, error)
	Get(ctx context.Context, id string) (models.ServiceRequest, error)
	// Transition persists mutate(current) iff the stored version still
	// equals expectedVersion, bumping the version and UpdatedAt. A stale
	// expectedVersion yields ErrConcurrentModification.
	Transition(ctx context.Context, id string, expectedVersion int64, mutate Mutator) (models.ServiceRequest, error)
}

// MemoryStore keeps requests in process memory. Useful for tests and
// single-node deployments; the CAS contract is identical to the Postgres
// store's.
type MemoryStore struct {
	mu       sync.RWMutex
	requests map[string]models.ServiceRequest
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		requests: make(map[string]models.ServiceRequest),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) Create(_ context.Context, patientID string, origin models.Coordinate) (models.ServiceRequest, error) {
	now := m.now()
	r := models.ServiceRequest{
		ID:        uuid.NewString(),
		PatientID: patientID,
		Origin:    origin,
		State:     models.StatePending,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
	m.mu.Lock()
	m.requests[r.ID] = r
	m.mu.Unlock()
	return r, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (models.ServiceRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.requests[id]
	if !ok {
		return models.ServiceRequest{}, ErrNotFound
	}
	return r, nil
}

func (m *MemoryStore) Transition(_ context.Context, id string, expectedVersion int64, mutate Mutator) (models.ServiceRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.requests[id]
	if !ok {
		return models.ServiceRequest{}, ErrNotFound
	}
	if cur.Version != expectedVersion {
		return models.ServiceRequest{}, ErrConcurrentModification
	}
	next, err := mutate(cur)
	if err != nil {
		return models.ServiceRequest{}, err
	}
	next.ID = cur.ID
	next.Version = cur.Version + 1
	next.UpdatedAt = m.now()
	m.requests[id] = next
	return next, nil
}
