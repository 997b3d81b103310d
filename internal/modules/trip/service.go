// README: Trip service implements role-gated state transitions over a Store.
package trip

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ryde/internal/geo"
	"ryde/internal/maps"
	"ryde/internal/types"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrAddressNotFound   = errors.New("address not found")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrNotAuthorized     = errors.New("not authorized")
	ErrNotFound          = errors.New("trip not found")
	ErrConflict          = errors.New("trip state conflict")
	ErrUnavailable       = errors.New("trip updates unavailable")
)

const (
	DefaultNearbyRadiusKm = 5.0
	defaultListLimit      = 50
	maxListLimit          = 200
)

// Geocoder is the address and route lookup the request pipeline needs.
type Geocoder interface {
	ResolveAddress(ctx context.Context, text string) (maps.AddressResolution, error)
	ReverseGeocode(ctx context.Context, p types.Point) (maps.AddressResolution, error)
	RouteDistanceKm(ctx context.Context, origin, destination types.Point) (float64, error)
}

type Pricing interface {
	Estimate(ctx context.Context, distanceKm float64) (types.Money, error)
}

type Service struct {
	store          Store
	geo            Geocoder
	pricing        Pricing
	publisher      Publisher
	subscriber     Subscriber
	log            *slog.Logger
	nearbyRadiusKm float64
	now            func() time.Time
}

type Option func(*Service)

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithPublisher announces every created or transitioned trip.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithSubscriber enables Subscribe.
func WithSubscriber(sub Subscriber) Option {
	return func(s *Service) { s.subscriber = sub }
}

func WithNearbyRadius(km float64) Option {
	return func(s *Service) {
		if km > 0 {
			s.nearbyRadiusKm = km
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, geocoder Geocoder, pricing Pricing, opts ...Option) *Service {
	s := &Service{
		store:          store,
		geo:            geocoder,
		pricing:        pricing,
		log:            slog.Default(),
		nearbyRadiusKm: DefaultNearbyRadiusKm,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) AcceptTrip(ctx context.Context, actor Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, OpAccept, id, StatusAccepted, func(t *Trip, tr *Transition) error {
		driverID := actor.ID
		tr.DriverID = &driverID
		tr.DriverName = actor.Name
		return nil
	})
}

func (s *Service) StartTrip(ctx context.Context, actor Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, OpStart, id, StatusInProgress, func(t *Trip, _ *Transition) error {
		if !t.IsDriver(actor.ID) {
			return fmt.Errorf("%w: only the assigned driver may start trip %s", ErrNotAuthorized, t.ID)
		}
		return nil
	})
}

// CompleteTrip records the trip duration; the fare stays as quoted.
func (s *Service) CompleteTrip(ctx context.Context, actor Actor, id types.ID, durationSeconds int) (*Trip, error) {
	if durationSeconds < 0 {
		return nil, fmt.Errorf("%w: duration must not be negative", ErrInvalidInput)
	}
	return s.transition(ctx, actor, OpComplete, id, StatusCompleted, func(t *Trip, tr *Transition) error {
		if !t.IsDriver(actor.ID) {
			return fmt.Errorf("%w: only the assigned driver may complete trip %s", ErrNotAuthorized, t.ID)
		}
		d := durationSeconds
		tr.DurationSeconds = &d
		return nil
	})
}

func (s *Service) CancelTrip(ctx context.Context, actor Actor, id types.ID) (*Trip, error) {
	return s.transition(ctx, actor, OpCancel, id, StatusCancelled, func(t *Trip, _ *Transition) error {
		switch actor.Role {
		case RolePassenger:
			if t.PassengerID == actor.ID {
				return nil
			}
		case RoleDriver:
			if t.IsDriver(actor.ID) {
				return nil
			}
		case RoleAdmin:
		}
		return fmt.Errorf("%w: %s %s is not a party to trip %s", ErrNotAuthorized, actor.Role, actor.ID, t.ID)
	})
}

// transition runs the gate → load → legality → identity → CAS sequence shared
// by every status change.
func (s *Service) transition(ctx context.Context, actor Actor, op Operation, id types.ID, to Status, check func(*Trip, *Transition) error) (*Trip, error) {
	if err := actor.authorize(op); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, fmt.Errorf("%w: missing trip id", ErrInvalidInput)
	}

	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !CanTransition(t.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
	}

	tr := Transition{
		TripID:  t.ID,
		From:    t.Status,
		To:      to,
		Version: t.StatusVersion,
		At:      s.now(),
	}
	if err := check(t, &tr); err != nil {
		return nil, err
	}

	updated, err := s.store.Transition(ctx, tr)
	if errors.Is(err, ErrConflict) {
		return nil, fmt.Errorf("%w: trip %s changed concurrently", ErrInvalidTransition, id)
	}
	if err != nil {
		return nil, err
	}

	s.record(ctx, updated, tr.From, actor)
	return updated, nil
}

// record appends the audit event and publishes the update. Both are
// best-effort; the transition has already been committed.
func (s *Service) record(ctx context.Context, t *Trip, from Status, actor Actor) {
	actorID := actor.ID
	if err := s.store.AppendEvent(ctx, &Event{
		TripID:     t.ID,
		FromStatus: from,
		ToStatus:   t.Status,
		ActorRole:  actor.Role,
		ActorID:    &actorID,
		CreatedAt:  s.now(),
	}); err != nil {
		s.log.WarnContext(ctx, "append trip event", "trip_id", t.ID, "to", t.Status, "error", err)
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, *t); err != nil {
			s.log.WarnContext(ctx, "publish trip update", "trip_id", t.ID, "error", err)
		}
	}
	s.log.InfoContext(ctx, "trip transition",
		"trip_id", t.ID,
		"from", from,
		"to", t.Status,
		"actor_role", actor.Role.String(),
		"actor_id", actor.ID,
	)
}

// GetTrip returns a trip the actor may see: passengers their own, drivers
// their own or any still-requested trip, admins everything.
func (s *Service) GetTrip(ctx context.Context, actor Actor, id types.ID) (*Trip, error) {
	if err := actor.authorize(OpGet); err != nil {
		return nil, err
	}
	t, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, *t) {
		return nil, fmt.Errorf("%w: trip %s", ErrNotAuthorized, id)
	}
	return t, nil
}

func canView(actor Actor, t Trip) bool {
	switch actor.Role {
	case RolePassenger:
		return t.PassengerID == actor.ID
	case RoleDriver:
		return t.InvolvesDriver(actor.ID) || t.Status == StatusRequested
	case RoleAdmin:
		return true
	}
	return false
}

// ListTrips lists the actor's trips, most recent first. Admins may list all
// trips and filter by passenger or driver.
func (s *Service) ListTrips(ctx context.Context, actor Actor, f Filter) ([]Trip, error) {
	if err := actor.authorize(OpList); err != nil {
		return nil, err
	}
	f, err := scopeFilter(actor, f)
	if err != nil {
		return nil, err
	}
	switch {
	case f.Limit < 0:
		return nil, fmt.Errorf("%w: limit must not be negative", ErrInvalidInput)
	case f.Limit == 0:
		f.Limit = defaultListLimit
	case f.Limit > maxListLimit:
		f.Limit = maxListLimit
	}
	return s.store.List(ctx, f)
}

func scopeFilter(actor Actor, f Filter) (Filter, error) {
	if f.Status != StatusNone {
		if _, ok := ParseStatus(string(f.Status)); !ok {
			return f, fmt.Errorf("%w: unknown status %q", ErrInvalidInput, f.Status)
		}
	}
	switch actor.Role {
	case RolePassenger:
		f.PassengerID = actor.ID
		f.DriverID = ""
	case RoleDriver:
		f.DriverID = actor.ID
		f.PassengerID = ""
	case RoleAdmin:
	}
	return f, nil
}

// ListAvailableTrips returns requested trips near the driver, closest first.
// It is a one-off snapshot; use Subscribe for live updates.
func (s *Service) ListAvailableTrips(ctx context.Context, actor Actor, driverLocation types.Point) ([]Trip, error) {
	if err := actor.authorize(OpListAvailable); err != nil {
		return nil, err
	}
	if !validPoint(driverLocation) {
		return nil, fmt.Errorf("%w: driver location out of range", ErrInvalidInput)
	}

	found, err := s.store.ListRequestedNear(ctx, driverLocation, s.nearbyRadiusKm)
	if err != nil {
		return nil, err
	}
	available := make([]Trip, 0, len(found))
	for _, t := range found {
		if t.Status == StatusRequested {
			available = append(available, t)
		}
	}
	geo.SortByDistance(available, driverLocation, func(t Trip) types.Point { return t.Pickup.Point() })
	return available, nil
}

// Subscribe streams trip updates scoped to what the actor may see. A driver
// asking for REQUESTED trips gets the open-request feed instead of their own.
func (s *Service) Subscribe(ctx context.Context, actor Actor, f Filter) (<-chan Trip, error) {
	if err := actor.authorize(OpSubscribe); err != nil {
		return nil, err
	}
	if s.subscriber == nil {
		return nil, ErrUnavailable
	}
	openFeed := actor.Role == RoleDriver && f.Status == StatusRequested
	f, err := scopeFilter(actor, f)
	if err != nil {
		return nil, err
	}
	if openFeed {
		f.DriverID = ""
	}
	f.Limit = 0
	return s.subscriber.Subscribe(ctx, f)
}

func validPoint(p types.Point) bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}
