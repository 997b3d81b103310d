// README: Trip request pipeline: geocode pickup and destination, measure, price, create.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"ryde/internal/geo"
	"ryde/internal/maps"
	"ryde/internal/modules/pricing"
	"ryde/internal/types"
)

// PickupInput is either the device's current location or a typed address.
// CurrentLocation wins when both are set.
type PickupInput struct {
	Address         string
	CurrentLocation *types.Point
}

type RequestCommand struct {
	Pickup      PickupInput
	Destination string
}

type DistanceSource string

const (
	DistanceRoute     DistanceSource = "route"
	DistanceHaversine DistanceSource = "haversine"
)

// Quote is a priced, geocoded trip that has not been booked.
type Quote struct {
	Pickup         Location       `json:"pickup"`
	Destination    Location       `json:"destination"`
	DistanceKm     float64        `json:"distanceKm"`
	DistanceSource DistanceSource `json:"distanceSource"`
	Fare           types.Money    `json:"fare"`
}

// EstimateTrip prices a trip without booking it.
func (s *Service) EstimateTrip(ctx context.Context, actor Actor, cmd RequestCommand) (*Quote, error) {
	if err := actor.authorize(OpEstimate); err != nil {
		return nil, err
	}
	return s.quote(ctx, cmd)
}

// RequestTrip books a trip for the passenger at the quoted fare.
func (s *Service) RequestTrip(ctx context.Context, actor Actor, cmd RequestCommand) (*Trip, error) {
	if err := actor.authorize(OpRequest); err != nil {
		return nil, err
	}
	q, err := s.quote(ctx, cmd)
	if err != nil {
		return nil, err
	}

	t := &Trip{
		PassengerID:   actor.ID,
		PassengerName: actor.Name,
		Status:        StatusRequested,
		Pickup:        q.Pickup,
		Destination:   q.Destination,
		DistanceKm:    q.DistanceKm,
		Fare:          q.Fare,
		RequestedAt:   s.now(),
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}

	s.record(ctx, t, StatusNone, actor)
	return t, nil
}

// quote runs the provider calls detached from caller cancellation; each call
// is still bounded by the resolver's own timeout.
func (s *Service) quote(ctx context.Context, cmd RequestCommand) (*Quote, error) {
	if err := validateRequest(cmd); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)

	pickup, err := s.resolvePickup(ctx, cmd.Pickup)
	if err != nil {
		return nil, err
	}
	destination, err := s.resolveAddress(ctx, cmd.Destination, "destination")
	if err != nil {
		return nil, err
	}

	distance, source := s.distanceKm(ctx, pickup.Point(), destination.Point())
	fare, err := s.pricing.Estimate(ctx, distance)
	if errors.Is(err, pricing.ErrInvalidDistance) {
		return nil, fmt.Errorf("%w: pickup and destination are the same place", ErrInvalidInput)
	}
	if err != nil {
		return nil, err
	}

	return &Quote{
		Pickup:         pickup,
		Destination:    destination,
		DistanceKm:     distance,
		DistanceSource: source,
		Fare:           fare,
	}, nil
}

func validateRequest(cmd RequestCommand) error {
	if strings.TrimSpace(cmd.Destination) == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidInput)
	}
	if loc := cmd.Pickup.CurrentLocation; loc != nil {
		if !validPoint(*loc) {
			return fmt.Errorf("%w: current location out of range", ErrInvalidInput)
		}
		return nil
	}
	if strings.TrimSpace(cmd.Pickup.Address) == "" {
		return fmt.Errorf("%w: pickup address or current location is required", ErrInvalidInput)
	}
	return nil
}

func (s *Service) resolvePickup(ctx context.Context, in PickupInput) (Location, error) {
	if in.CurrentLocation == nil {
		return s.resolveAddress(ctx, in.Address, "pickup")
	}

	p := *in.CurrentLocation
	loc := Location{Lat: p.Lat, Lng: p.Lng, Address: currentLocationLabel(p)}
	if res, err := s.geo.ReverseGeocode(ctx, p); err == nil {
		loc.Address = res.FormattedAddress
	} else {
		s.log.DebugContext(ctx, "reverse geocode current location", "error", err)
	}
	return loc, nil
}

func currentLocationLabel(p types.Point) string {
	return fmt.Sprintf("Current location (%.5f, %.5f)", p.Lat, p.Lng)
}

func (s *Service) resolveAddress(ctx context.Context, text, field string) (Location, error) {
	res, err := s.geo.ResolveAddress(ctx, text)
	switch {
	case errors.Is(err, maps.ErrInvalidInput):
		return Location{}, fmt.Errorf("%w: %s is required", ErrInvalidInput, field)
	case err != nil:
		return Location{}, fmt.Errorf("%w: %s %q", ErrAddressNotFound, field, strings.TrimSpace(text))
	}
	return Location{Lat: res.Lat, Lng: res.Lng, Address: res.FormattedAddress}, nil
}

// distanceKm prefers the driving distance and falls back to the great-circle
// distance when routing is unavailable.
func (s *Service) distanceKm(ctx context.Context, origin, destination types.Point) (float64, DistanceSource) {
	km, err := s.geo.RouteDistanceKm(ctx, origin, destination)
	if err == nil {
		return km, DistanceRoute
	}
	s.log.WarnContext(ctx, "route distance unavailable, using haversine", "error", err)
	return geo.HaversineKm(origin, destination), DistanceHaversine
}
