// Package location holds each nurse's last reported position and answers
// proximity queries for matching. Writes are throttled per nurse: a report
// arriving sooner than the configured minimum interval after the last
// accepted report is rejected without touching the stored record.
package location

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/nurse-dispatch/internal/geo"
	"github.com/example/nurse-dispatch/internal/models"
)

// Receipt is the outcome of a position report. First marks the nurse's first
// accepted report ever, decided inside the store's serialized write so
// concurrent first reports cannot both claim it.
type Receipt struct {
	Accepted    bool
	First       bool
	Throttled   bool
	LastUpdated time.Time
}

// Candidate is one entry of a ranked proximity query result.
type Candidate struct {
	NurseID    string  `json:"nurse_id"`
	DistanceKm float64 `json:"distance_km"`
}

// Store is the last-known-position store used by matching and the boundary.
type Store interface {
	// Record accepts the report if at least the minimum interval elapsed
	// since the nurse's last accepted report. A throttled report leaves
	// the stored record untouched and returns the previous LastUpdated.
	Record(ctx context.Context, nurseID string, c models.Coordinate, now time.Time) (Receipt, error)
	Get(ctx context.Context, nurseID string) (models.NurseLocation, bool, error)
	// Nearby returns at most limit nurses within radiusKm of origin,
	// ascending by distance, ties broken by nurse id.
	Nearby(ctx context.Context, origin models.Coordinate, radiusKm float64, limit int) ([]Candidate, error)
}

// MemoryStore is the in-process Store. The single mutex serializes writes,
// which trivially satisfies the per-nurse serialization contract; reads see
// whole records only (replace, never patch).
type MemoryStore struct {
	mu          sync.RWMutex
	minInterval time.Duration
	nurses      map[string]models.NurseLocation
}

func NewMemoryStore(minInterval time.Duration) *MemoryStore {
	return &MemoryStore{
		minInterval: minInterval,
		nurses:      make(map[string]models.NurseLocation),
	}
}

func (s *MemoryStore) Record(_ context.Context, nurseID string, c models.Coordinate, now time.Time) (Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, known := s.nurses[nurseID]
	if known && now.Sub(prev.UpdatedAt) < s.minInterval {
		return Receipt{Throttled: true, LastUpdated: prev.UpdatedAt}, nil
	}
	s.nurses[nurseID] = models.NurseLocation{NurseID: nurseID, Coord: c, UpdatedAt: now}
	return Receipt{Accepted: true, First: !known, LastUpdated: now}, nil
}

func (s *MemoryStore) Get(_ context.Context, nurseID string) (models.NurseLocation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.nurses[nurseID]
	return loc, ok, nil
}

// naive scan; swap in the Redis store when the fleet outgrows one process
func (s *MemoryStore) Nearby(_ context.Context, origin models.Coordinate, radiusKm float64, limit int) ([]Candidate, error) {
	s.mu.RLock()
	out := make([]Candidate, 0, len(s.nurses))
	for id, loc := range s.nurses {
		d := geo.DistanceKm(origin, loc.Coord)
		if d > radiusKm {
			continue
		}
		out = append(out, Candidate{NurseID: id, DistanceKm: d})
	}
	s.mu.RUnlock()

	sortCandidates(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortCandidates(cs []Candidate) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].DistanceKm != cs[j].DistanceKm {
			return cs[i].DistanceKm < cs[j].DistanceKm
		}
		return cs[i].NurseID < cs[j].NurseID
	})
}
