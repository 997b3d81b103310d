// README: Trip store contract shared by the Postgres, Firestore and memory backends.
package trip

import (
	"context"
	"time"

	"ryde/internal/types"
)

// Store persists trips. Transition must be an atomic compare-and-set on
// (From, Version): when the stored trip no longer matches it returns
// ErrConflict and changes nothing.
type Store interface {
	Create(ctx context.Context, t *Trip) error
	Get(ctx context.Context, id types.ID) (*Trip, error)
	Transition(ctx context.Context, tr Transition) (*Trip, error)
	List(ctx context.Context, f Filter) ([]Trip, error)
	ListRequestedNear(ctx context.Context, p types.Point, radiusKm float64) ([]Trip, error)
	AppendEvent(ctx context.Context, e *Event) error
}

// Subscriber streams trip snapshots as they change. The channel is closed
// when ctx is done or the underlying stream fails.
type Subscriber interface {
	Subscribe(ctx context.Context, f Filter) (<-chan Trip, error)
}

// Publisher announces a changed trip to subscribers.
type Publisher interface {
	Publish(ctx context.Context, t Trip) error
}

// Transition is one status change. Only the fields relevant to To are read.
type Transition struct {
	TripID          types.ID
	From            Status
	To              Status
	Version         int
	DriverID        *types.ID
	DriverName      string
	DurationSeconds *int
	At              time.Time
}

type Filter struct {
	PassengerID types.ID
	DriverID    types.ID
	Status      Status
	Limit       int
}

// Matches applies the filter to a single trip; Limit is ignored.
func (f Filter) Matches(t Trip) bool {
	if f.PassengerID != "" && t.PassengerID != f.PassengerID {
		return false
	}
	if f.DriverID != "" && !t.InvolvesDriver(f.DriverID) {
		return false
	}
	if f.Status != StatusNone && t.Status != f.Status {
		return false
	}
	return true
}

// applyTransition writes tr onto t. Callers have already checked From and
// Version. Fare and distance are never touched.
func applyTransition(t *Trip, tr Transition) {
	at := tr.At
	t.Status = tr.To
	t.StatusVersion++

	switch tr.To {
	case StatusAccepted:
		id := *tr.DriverID
		t.DriverID = &id
		t.DriverName = tr.DriverName
		t.AcceptedAt = &at
	case StatusInProgress:
		t.StartedAt = &at
	case StatusCompleted:
		if tr.DurationSeconds != nil {
			d := *tr.DurationSeconds
			t.DurationSeconds = &d
		}
		t.CompletedAt = &at
	case StatusCancelled:
		if t.DriverID != nil {
			id := *t.DriverID
			t.CancelledDriverID = &id
		}
		t.DriverID = nil
		t.DriverName = ""
		t.CancelledAt = &at
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
