// README: Redis GEO index of requested pickups layered over a trip store.
package nearby

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"ryde/internal/modules/trip"
	"ryde/internal/types"
)

const pickupGeoKey = "nearby:requested_pickups"

// geoIndex is the set of pickup points the store keeps for requested trips.
type geoIndex interface {
	Add(ctx context.Context, id types.ID, p types.Point) error
	Remove(ctx context.Context, id types.ID) error
	Search(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error)
	Replace(ctx context.Context, open []trip.Trip) error
}

// IndexedStore is a trip.Store whose ListRequestedNear is answered from a
// Redis GEO set. Every other call goes straight to the wrapped store, which
// stays the source of truth.
//
// A failed index write marks the index dirty; the next search rebuilds it
// from the store before answering.
type IndexedStore struct {
	trip.Store
	index geoIndex
	dirty atomic.Bool
	log   *slog.Logger
}

func NewIndexedStore(inner trip.Store, rdb *redis.Client, logger *slog.Logger) *IndexedStore {
	return newIndexedStore(inner, &redisIndex{rdb: rdb}, logger)
}

func newIndexedStore(inner trip.Store, index geoIndex, logger *slog.Logger) *IndexedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &IndexedStore{Store: inner, index: index, log: logger}
}

func (s *IndexedStore) Create(ctx context.Context, t *trip.Trip) error {
	if err := s.Store.Create(ctx, t); err != nil {
		return err
	}
	if t.Status == trip.StatusRequested {
		if err := s.index.Add(ctx, t.ID, t.Pickup.Point()); err != nil {
			s.dirty.Store(true)
			s.log.WarnContext(ctx, "index requested pickup", "trip_id", t.ID, "error", err)
		}
	}
	return nil
}

func (s *IndexedStore) Transition(ctx context.Context, tr trip.Transition) (*trip.Trip, error) {
	t, err := s.Store.Transition(ctx, tr)
	if err != nil {
		return nil, err
	}
	if t.Status != trip.StatusRequested {
		// Stale entries are pruned on search.
		if err := s.index.Remove(ctx, t.ID); err != nil {
			s.log.WarnContext(ctx, "unindex pickup", "trip_id", t.ID, "error", err)
		}
	}
	return t, nil
}

// ListRequestedNear searches the index, then loads each hit from the store.
// Hits that are no longer REQUESTED are dropped from the index. When Redis is
// unreachable the wrapped store answers instead.
func (s *IndexedStore) ListRequestedNear(ctx context.Context, p types.Point, radiusKm float64) ([]trip.Trip, error) {
	if s.dirty.Load() {
		n, err := s.Rebuild(ctx)
		if err != nil {
			s.log.WarnContext(ctx, "nearby index dirty, querying store", "error", err)
			return s.Store.ListRequestedNear(ctx, p, radiusKm)
		}
		s.log.InfoContext(ctx, "nearby index repaired", "requested", n)
	}

	ids, err := s.index.Search(ctx, p, radiusKm)
	if err != nil {
		s.log.WarnContext(ctx, "nearby index unavailable, querying store", "error", err)
		return s.Store.ListRequestedNear(ctx, p, radiusKm)
	}

	out := make([]trip.Trip, 0, len(ids))
	for _, id := range ids {
		t, err := s.Store.Get(ctx, id)
		if errors.Is(err, trip.ErrNotFound) {
			_ = s.index.Remove(ctx, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if t.Status != trip.StatusRequested {
			_ = s.index.Remove(ctx, id)
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

// Rebuild replaces the index with the store's current REQUESTED trips and
// clears the dirty mark. A write that fails while it runs marks it again.
func (s *IndexedStore) Rebuild(ctx context.Context) (int, error) {
	s.dirty.Store(false)
	open, err := s.Store.List(ctx, trip.Filter{Status: trip.StatusRequested})
	if err != nil {
		s.dirty.Store(true)
		return 0, fmt.Errorf("list requested trips: %w", err)
	}
	if err := s.index.Replace(ctx, open); err != nil {
		s.dirty.Store(true)
		return 0, fmt.Errorf("rebuild nearby index: %w", err)
	}
	return len(open), nil
}

type redisIndex struct {
	rdb *redis.Client
}

func (r *redisIndex) Add(ctx context.Context, id types.ID, p types.Point) error {
	return r.rdb.GeoAdd(ctx, pickupGeoKey, &redis.GeoLocation{
		Name:      string(id),
		Longitude: p.Lng,
		Latitude:  p.Lat,
	}).Err()
}

func (r *redisIndex) Remove(ctx context.Context, id types.ID) error {
	return r.rdb.ZRem(ctx, pickupGeoKey, string(id)).Err()
}

func (r *redisIndex) Search(ctx context.Context, p types.Point, radiusKm float64) ([]types.ID, error) {
	results, err := r.rdb.GeoSearch(ctx, pickupGeoKey, &redis.GeoSearchQuery{
		Longitude:  p.Lng,
		Latitude:   p.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]types.ID, len(results))
	for i, res := range results {
		ids[i] = types.ID(res)
	}
	return ids, nil
}

// Replace swaps the whole set in one MULTI so searches never see it empty.
func (r *redisIndex) Replace(ctx context.Context, open []trip.Trip) error {
	pipe := r.rdb.TxPipeline()
	pipe.Del(ctx, pickupGeoKey)
	if len(open) > 0 {
		locs := make([]*redis.GeoLocation, len(open))
		for i, t := range open {
			locs[i] = &redis.GeoLocation{
				Name:      string(t.ID),
				Longitude: t.Pickup.Lng,
				Latitude:  t.Pickup.Lat,
			}
		}
		pipe.GeoAdd(ctx, pickupGeoKey, locs...)
	}
	_, err := pipe.Exec(ctx)
	return err
}
