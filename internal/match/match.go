// Package match proposes nurses for a request by proximity. Matching is
// advisory: it ranks candidates, it never assigns. Assignment always goes
// through the action engine, which is the single point of truth for state
// change.
package match

import (
	"context"

	"github.com/example/nurse-dispatch/internal/eta"
	"github.com/example/nurse-dispatch/internal/location"
	"github.com/example/nurse-dispatch/internal/models"
	"github.com/example/nurse-dispatch/internal/observability"
	"github.com/example/nurse-dispatch/internal/request"
)

// Proposal is one ranked candidate for a request.
type Proposal struct {
	NurseID    string  `json:"nurse_id"`
	DistanceKm float64 `json:"distance_km"`
	ETASeconds float64 `json:"eta_seconds"`
}

type Service struct {
	Requests  request.Store
	Locations location.Store
	RadiusKm  float64
	Limit     int

	// Eligible filters out nurses at capacity; nil means everyone is
	// eligible. Capacity tracking itself lives outside the core.
	Eligible func(nurseID string) bool

	DefaultSpeedMps float64
	ETAClient       eta.Client // optional routing engine
	ETACache        *eta.Cache // optional, used only with ETAClient
}

// FindCandidates returns nurses within the configured radius of the
// request's origin, nearest first. Errors from the request store (including
// request.ErrNotFound) propagate unchanged.
func (s *Service) FindCandidates(ctx context.Context, requestID string) ([]Proposal, error) {
	req, err := s.Requests.Get(ctx, requestID)
	if err != nil {
		return nil, err
	}
	cands, err := s.Locations.Nearby(ctx, req.Origin, s.RadiusKm, s.Limit)
	if err != nil {
		return nil, err
	}
	observability.MatchQueries.Inc()

	out := make([]Proposal, 0, len(cands))
	for _, c := range cands {
		if s.Eligible != nil && !s.Eligible(c.NurseID) {
			continue
		}
		p := Proposal{NurseID: c.NurseID, DistanceKm: c.DistanceKm}
		p.ETASeconds = s.estimate(ctx, c, req.Origin)
		out = append(out, p)
	}
	return out, nil
}

func (s *Service) estimate(ctx context.Context, c location.Candidate, origin models.Coordinate) float64 {
	if s.ETAClient == nil {
		return naive(c.DistanceKm, s.DefaultSpeedMps)
	}
	loc, ok, err := s.Locations.Get(ctx, c.NurseID)
	if err != nil || !ok {
		// candidate disappeared between the query and the lookup
		return naive(c.DistanceKm, s.DefaultSpeedMps)
	}
	if s.ETACache != nil {
		if v, hit := s.ETACache.Get(loc.Coord, origin); hit {
			return v
		}
	}
	if v, err := s.ETAClient.EstimateSeconds(loc.Coord, origin); err == nil {
		if s.ETACache != nil {
			s.ETACache.Set(loc.Coord, origin, v)
		}
		return v
	}
	return naive(c.DistanceKm, s.DefaultSpeedMps)
}

func naive(distanceKm, speedMps float64) float64 {
	if speedMps <= 0 {
		speedMps = 8.0
	}
	return distanceKm * 1000 / speedMps
}
