package location

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/nurse-dispatch/internal/models"
)

// RedisStore implements Store on Redis GEO commands. Positions live in a
// single GEO key; per-nurse metadata (the last accepted timestamp) lives in
// a hash. Throttling uses SET NX with a TTL equal to the minimum interval,
// so the gate is atomic even with concurrent reporters for the same nurse.
type RedisStore struct {
	client      *redis.Client
	geoKey      string
	minInterval time.Duration
}

func NewRedisStore(client *redis.Client, geoKey string, minInterval time.Duration) *RedisStore {
	return &RedisStore{client: client, geoKey: geoKey, minInterval: minInterval}
}

func (s *RedisStore) Record(ctx context.Context, nurseID string, c models.Coordinate, now time.Time) (Receipt, error) {
	if s.minInterval > 0 {
		ok, err := s.client.SetNX(ctx, throttleKey(nurseID), "1", s.minInterval).Result()
		if err != nil {
			return Receipt{}, fmt.Errorf("location throttle gate: %w", err)
		}
		if !ok {
			last, err := s.lastUpdated(ctx, nurseID)
			if err != nil {
				return Receipt{}, err
			}
			return Receipt{Throttled: true, LastUpdated: last}, nil
		}
	}
	if err := s.client.GeoAdd(ctx, s.geoKey, &redis.GeoLocation{
		Name:      nurseID,
		Longitude: c.Lng,
		Latitude:  c.Lat,
	}).Err(); err != nil {
		s.releaseGate(ctx, nurseID)
		return Receipt{}, fmt.Errorf("location geoadd: %w", err)
	}
	added, err := s.client.HSet(ctx, metaKey(nurseID), "updated", now.UTC().Format(time.RFC3339Nano)).Result()
	if err != nil {
		s.releaseGate(ctx, nurseID)
		return Receipt{}, fmt.Errorf("location meta write: %w", err)
	}
	return Receipt{Accepted: true, First: added > 0, LastUpdated: now}, nil
}

// releaseGate frees the throttle slot when a write behind it failed, so the
// nurse's retry is not reported throttled against an update that never
// landed. Best effort: if the DEL itself fails the slot expires with the
// interval anyway.
func (s *RedisStore) releaseGate(ctx context.Context, nurseID string) {
	if s.minInterval > 0 {
		_ = s.client.Del(ctx, throttleKey(nurseID)).Err()
	}
}

func (s *RedisStore) Get(ctx context.Context, nurseID string) (models.NurseLocation, bool, error) {
	pos, err := s.client.GeoPos(ctx, s.geoKey, nurseID).Result()
	if err != nil {
		return models.NurseLocation{}, false, fmt.Errorf("location geopos: %w", err)
	}
	if len(pos) == 0 || pos[0] == nil {
		return models.NurseLocation{}, false, nil
	}
	last, err := s.lastUpdated(ctx, nurseID)
	if err != nil {
		return models.NurseLocation{}, false, err
	}
	return models.NurseLocation{
		NurseID:   nurseID,
		Coord:     models.Coordinate{Lat: pos[0].Latitude, Lng: pos[0].Longitude},
		UpdatedAt: last,
	}, true, nil
}

func (s *RedisStore) Nearby(ctx context.Context, origin models.Coordinate, radiusKm float64, limit int) ([]Candidate, error) {
	res, err := s.client.GeoRadius(ctx, s.geoKey, origin.Lng, origin.Lat, &redis.GeoRadiusQuery{
		Radius:   radiusKm,
		Unit:     "km",
		WithDist: true,
		Count:    limit,
		Sort:     "ASC",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("location georadius: %w", err)
	}
	out := make([]Candidate, 0, len(res))
	for _, g := range res {
		out = append(out, Candidate{NurseID: g.Name, DistanceKm: g.Dist})
	}
	// redis orders by distance but leaves ties unspecified
	sortCandidates(out)
	return out, nil
}

func (s *RedisStore) lastUpdated(ctx context.Context, nurseID string) (time.Time, error) {
	v, err := s.client.HGet(ctx, metaKey(nurseID), "updated").Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("location meta read: %w", err)
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("location meta parse: %w", err)
	}
	return t, nil
}

func metaKey(nurseID string) string     { return "nurse:meta:" + nurseID }
func throttleKey(nurseID string) string { return "nurse:throttle:" + nurseID }
