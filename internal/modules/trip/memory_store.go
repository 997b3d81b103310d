// README: In-memory trip store for local runs and tests; also streams updates.
package trip

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"ryde/internal/geo"
	"ryde/internal/types"
)

const subscriberBuffer = 16

type MemoryStore struct {
	mu     sync.Mutex
	trips  map[types.ID]*Trip
	events []Event
	subs   map[chan Trip]Filter
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips: make(map[types.ID]*Trip),
		subs:  make(map[chan Trip]Filter),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t.ID = types.ID(uuid.NewString())
	t.StatusVersion = 0
	stored := cloneTrip(*t)
	m.trips[t.ID] = &stored
	m.notify(stored)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id types.ID) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneTrip(*t)
	return &out, nil
}

func (m *MemoryStore) Transition(_ context.Context, tr Transition) (*Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.trips[tr.TripID]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != tr.From || t.StatusVersion != tr.Version {
		return nil, ErrConflict
	}
	applyTransition(t, tr)
	out := cloneTrip(*t)
	m.notify(out)
	return &out, nil
}

func (m *MemoryStore) List(_ context.Context, f Filter) ([]Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Trip, 0)
	for _, t := range m.trips {
		if f.Matches(*t) {
			out = append(out, cloneTrip(*t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.After(out[j].RequestedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) ListRequestedNear(_ context.Context, p types.Point, radiusKm float64) ([]Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Trip
	for _, t := range m.trips {
		if t.Status == StatusRequested && geo.Within(p, t.Pickup.Point(), radiusKm) {
			out = append(out, cloneTrip(*t))
		}
	}
	return out, nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e.ID = int64(len(m.events) + 1)
	m.events = append(m.events, *e)
	return nil
}

// Events returns the audit log of a trip in append order.
func (m *MemoryStore) Events(id types.ID) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if e.TripID == id {
			out = append(out, e)
		}
	}
	return out
}

// Subscribe streams every subsequent change matching f. Slow subscribers
// miss updates rather than block writers.
func (m *MemoryStore) Subscribe(ctx context.Context, f Filter) (<-chan Trip, error) {
	ch := make(chan Trip, subscriberBuffer)

	m.mu.Lock()
	m.subs[ch] = f
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		delete(m.subs, ch)
		close(ch)
		m.mu.Unlock()
	}()
	return ch, nil
}

// notify must be called with m.mu held.
func (m *MemoryStore) notify(t Trip) {
	for ch, f := range m.subs {
		if !f.Matches(t) {
			continue
		}
		select {
		case ch <- cloneTrip(t):
		default:
		}
	}
}

func cloneTrip(t Trip) Trip {
	out := t
	if t.DriverID != nil {
		id := *t.DriverID
		out.DriverID = &id
	}
	if t.CancelledDriverID != nil {
		id := *t.CancelledDriverID
		out.CancelledDriverID = &id
	}
	if t.DurationSeconds != nil {
		d := *t.DurationSeconds
		out.DurationSeconds = &d
	}
	out.AcceptedAt = cloneTime(t.AcceptedAt)
	out.StartedAt = cloneTime(t.StartedAt)
	out.CompletedAt = cloneTime(t.CompletedAt)
	out.CancelledAt = cloneTime(t.CancelledAt)
	return out
}
