// README: Firestore-backed trip store. Documents live in the "trips" collection
// with the field names the dashboard reads (pickupLatitude, requestTime, tripId).
// Transitions run in a Firestore transaction; Subscribe reads query snapshots.
package trip

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"ryde/internal/geo"
	"ryde/internal/types"
)

const (
	tripsCollection  = "trips"
	eventsCollection = "events"
)

// fsTrip mirrors a trip document.
type fsTrip struct {
	TripID             string     `firestore:"tripId"`
	PassengerID        string     `firestore:"passengerId"`
	PassengerName      string     `firestore:"passengerName"`
	DriverID           *string    `firestore:"driverId"`
	DriverName         string     `firestore:"driverName"`
	CancelledDriverID  *string    `firestore:"cancelledDriverId"`
	Status             string     `firestore:"status"`
	StatusVersion      int        `firestore:"statusVersion"`
	PickupLatitude     float64    `firestore:"pickupLatitude"`
	PickupLongitude    float64    `firestore:"pickupLongitude"`
	PickupAddress      string     `firestore:"pickupAddress"`
	DestinationLat     float64    `firestore:"destinationLatitude"`
	DestinationLng     float64    `firestore:"destinationLongitude"`
	DestinationAddress string     `firestore:"destinationAddress"`
	DistanceKm         float64    `firestore:"distanceKm"`
	Fare               int64      `firestore:"fare"`
	Currency           string     `firestore:"currency"`
	Duration           *int       `firestore:"duration"`
	RequestTime        time.Time  `firestore:"requestTime"`
	AcceptedAt         *time.Time `firestore:"acceptedAt"`
	StartedAt          *time.Time `firestore:"startedAt"`
	CompletedAt        *time.Time `firestore:"completedAt"`
	CancelledAt        *time.Time `firestore:"cancelledAt"`
}

type fsEvent struct {
	FromStatus string    `firestore:"fromStatus"`
	ToStatus   string    `firestore:"toStatus"`
	ActorRole  string    `firestore:"actorRole"`
	ActorID    *string   `firestore:"actorId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

type FirestoreStore struct {
	client *firestore.Client
}

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) trips() *firestore.CollectionRef {
	return s.client.Collection(tripsCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, t *Trip) error {
	ref := s.trips().NewDoc()
	t.ID = types.ID(ref.ID)
	t.StatusVersion = 0
	if _, err := ref.Create(ctx, toFSTrip(*t)); err != nil {
		t.ID = ""
		return fmt.Errorf("create trip document: %w", err)
	}
	return nil
}

func (s *FirestoreStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	snap, err := s.trips().Doc(string(id)).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trip document: %w", err)
	}
	return decodeTrip(snap)
}

func (s *FirestoreStore) Transition(ctx context.Context, tr Transition) (*Trip, error) {
	ref := s.trips().Doc(string(tr.TripID))
	var updated *Trip
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		t, err := decodeTrip(snap)
		if err != nil {
			return err
		}
		if t.Status != tr.From || t.StatusVersion != tr.Version {
			return ErrConflict
		}
		applyTransition(t, tr)
		updated = t
		return tx.Set(ref, toFSTrip(*t))
	})
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("transition trip document: %w", err)
	}
	return updated, nil
}

func (s *FirestoreStore) query(f Filter) firestore.Query {
	q := s.trips().Query
	if f.PassengerID != "" {
		q = q.Where("passengerId", "==", string(f.PassengerID))
	}
	if f.DriverID != "" {
		id := string(f.DriverID)
		q = q.WhereEntity(firestore.OrFilter{Filters: []firestore.EntityFilter{
			firestore.PropertyFilter{Path: "driverId", Operator: "==", Value: id},
			firestore.PropertyFilter{Path: "cancelledDriverId", Operator: "==", Value: id},
		}})
	}
	if f.Status != StatusNone {
		q = q.Where("status", "==", string(f.Status))
	}
	return q
}

func (s *FirestoreStore) List(ctx context.Context, f Filter) ([]Trip, error) {
	q := s.query(f).OrderBy("requestTime", firestore.Desc)
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	return s.collect(ctx, q)
}

// ListRequestedNear fetches requested trips and filters by radius in Go;
// Firestore has no native geo query.
func (s *FirestoreStore) ListRequestedNear(ctx context.Context, p types.Point, radiusKm float64) ([]Trip, error) {
	all, err := s.collect(ctx, s.query(Filter{Status: StatusRequested}))
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, t := range all {
		if geo.Within(p, t.Pickup.Point(), radiusKm) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *FirestoreStore) AppendEvent(ctx context.Context, e *Event) error {
	_, _, err := s.trips().Doc(string(e.TripID)).Collection(eventsCollection).Add(ctx, fsEvent{
		FromStatus: string(e.FromStatus),
		ToStatus:   string(e.ToStatus),
		ActorRole:  e.ActorRole.String(),
		ActorID:    toStringPtr(e.ActorID),
		CreatedAt:  e.CreatedAt,
	})
	return err
}

// Subscribe streams trips matching f as they change. The first snapshot
// delivers every current match. A trip that leaves the query (a requested trip
// being accepted, say) is re-read and sent in its new state so listeners can
// drop it.
func (s *FirestoreStore) Subscribe(ctx context.Context, f Filter) (<-chan Trip, error) {
	it := s.query(f).Snapshots(ctx)
	out := make(chan Trip, subscriberBuffer)

	go func() {
		defer close(out)
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				return
			}
			changed := make([]Trip, 0, len(snap.Changes))
			for _, ch := range snap.Changes {
				if ch.Kind == firestore.DocumentRemoved {
					continue
				}
				t, err := decodeTrip(ch.Doc)
				if err != nil {
					continue
				}
				changed = append(changed, *t)
			}
			sort.Slice(changed, func(i, j int) bool { return changed[i].RequestedAt.Before(changed[j].RequestedAt) })
			for _, t := range changed {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (s *FirestoreStore) collect(ctx context.Context, q firestore.Query) ([]Trip, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	out := make([]Trip, 0)
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("query trips: %w", err)
		}
		t, err := decodeTrip(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, nil
}

func decodeTrip(snap *firestore.DocumentSnapshot) (*Trip, error) {
	var d fsTrip
	if err := snap.DataTo(&d); err != nil {
		return nil, fmt.Errorf("decode trip %s: %w", snap.Ref.ID, err)
	}
	t := fromFSTrip(d)
	t.ID = types.ID(snap.Ref.ID)
	return &t, nil
}

func toFSTrip(t Trip) fsTrip {
	d := fsTrip{
		TripID:             string(t.ID),
		PassengerID:        string(t.PassengerID),
		PassengerName:      t.PassengerName,
		DriverName:         t.DriverName,
		Status:             string(t.Status),
		StatusVersion:      t.StatusVersion,
		PickupLatitude:     t.Pickup.Lat,
		PickupLongitude:    t.Pickup.Lng,
		PickupAddress:      t.Pickup.Address,
		DestinationLat:     t.Destination.Lat,
		DestinationLng:     t.Destination.Lng,
		DestinationAddress: t.Destination.Address,
		DistanceKm:         t.DistanceKm,
		Fare:               t.Fare.Amount,
		Currency:           t.Fare.Currency,
		Duration:           t.DurationSeconds,
		RequestTime:        t.RequestedAt,
		AcceptedAt:         t.AcceptedAt,
		StartedAt:          t.StartedAt,
		CompletedAt:        t.CompletedAt,
		CancelledAt:        t.CancelledAt,
	}
	d.DriverID = toStringPtr(t.DriverID)
	d.CancelledDriverID = toStringPtr(t.CancelledDriverID)
	return d
}

func fromFSTrip(d fsTrip) Trip {
	t := Trip{
		ID:              types.ID(d.TripID),
		PassengerID:     types.ID(d.PassengerID),
		PassengerName:   d.PassengerName,
		DriverName:      d.DriverName,
		Status:          Status(d.Status),
		StatusVersion:   d.StatusVersion,
		Pickup:          Location{Lat: d.PickupLatitude, Lng: d.PickupLongitude, Address: d.PickupAddress},
		Destination:     Location{Lat: d.DestinationLat, Lng: d.DestinationLng, Address: d.DestinationAddress},
		DistanceKm:      d.DistanceKm,
		Fare:            types.Money{Amount: d.Fare, Currency: d.Currency},
		DurationSeconds: d.Duration,
		RequestedAt:     d.RequestTime,
		AcceptedAt:      d.AcceptedAt,
		StartedAt:       d.StartedAt,
		CompletedAt:     d.CompletedAt,
		CancelledAt:     d.CancelledAt,
	}
	if d.DriverID != nil {
		id := types.ID(*d.DriverID)
		t.DriverID = &id
	}
	if d.CancelledDriverID != nil {
		id := types.ID(*d.CancelledDriverID)
		t.CancelledDriverID = &id
	}
	return t
}
