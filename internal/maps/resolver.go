// Package maps resolves addresses and driving distances through the Google
// Maps Geocoding and Directions APIs.
//
// Resolution is best-effort: provider failures are reported as ErrNotFound or
// ErrUnavailable, never as transport errors, and callers are expected to
// degrade (see geo.HaversineKm for the distance fallback).
package maps

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"ryde/internal/types"
)

const defaultTimeout = 5 * time.Second

var (
	ErrInvalidInput = errors.New("address is empty")
	ErrNotFound     = errors.New("address not found")
	ErrUnavailable  = errors.New("route unavailable")
)

// Client is the subset of *maps.Client the resolver calls.
type Client interface {
	Geocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	ReverseGeocode(ctx context.Context, r *maps.GeocodingRequest) ([]maps.GeocodingResult, error)
	Directions(ctx context.Context, r *maps.DirectionsRequest) ([]maps.Route, []maps.GeocodedWaypoint, error)
}

// AddressResolution is a geocoded address. It is not persisted.
type AddressResolution struct {
	Lat              float64
	Lng              float64
	FormattedAddress string
}

func (a AddressResolution) Point() types.Point {
	return types.Point{Lat: a.Lat, Lng: a.Lng}
}

type Option func(*Resolver)

// WithTimeout bounds every provider call.
func WithTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRegion biases geocoding results to a ccTLD region code (e.g. "rw").
func WithRegion(region string) Option {
	return func(r *Resolver) { r.region = region }
}

// WithLanguage sets the language of formatted addresses.
func WithLanguage(lang string) Option {
	return func(r *Resolver) { r.language = lang }
}

// Resolver handles interactions with the Google Maps APIs.
type Resolver struct {
	client   Client
	timeout  time.Duration
	region   string
	language string
}

// NewResolver creates a Resolver for the given API key. An empty key yields a
// resolver whose every lookup reports NotFound/Unavailable, matching a
// deployment without maps credentials.
func NewResolver(apiKey string, opts ...Option) (*Resolver, error) {
	if strings.TrimSpace(apiKey) == "" {
		return NewResolverWithClient(nil, opts...), nil
	}
	client, err := maps.NewClient(maps.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return NewResolverWithClient(client, opts...), nil
}

// NewResolverWithClient wraps an existing client. A nil client behaves like a
// missing API key.
func NewResolverWithClient(client Client, opts ...Option) *Resolver {
	r := &Resolver{client: client, timeout: defaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveAddress geocodes free text and returns the first candidate.
func (r *Resolver) ResolveAddress(ctx context.Context, text string) (AddressResolution, error) {
	address := strings.TrimSpace(text)
	if address == "" {
		return AddressResolution{}, ErrInvalidInput
	}
	if r.client == nil {
		return AddressResolution{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results, err := r.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Region:   r.region,
		Language: r.language,
	})
	if err != nil {
		return AddressResolution{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if len(results) == 0 {
		return AddressResolution{}, ErrNotFound
	}

	first := results[0]
	formatted := first.FormattedAddress
	if formatted == "" {
		formatted = address
	}
	return AddressResolution{
		Lat:              first.Geometry.Location.Lat,
		Lng:              first.Geometry.Location.Lng,
		FormattedAddress: formatted,
	}, nil
}

// ReverseGeocode returns the provider's formatted address for a coordinate.
func (r *Resolver) ReverseGeocode(ctx context.Context, p types.Point) (AddressResolution, error) {
	if r.client == nil {
		return AddressResolution{}, ErrNotFound
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	results, err := r.client.ReverseGeocode(ctx, &maps.GeocodingRequest{
		LatLng:   &maps.LatLng{Lat: p.Lat, Lng: p.Lng},
		Language: r.language,
	})
	if err != nil {
		return AddressResolution{}, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	if len(results) == 0 || results[0].FormattedAddress == "" {
		return AddressResolution{}, ErrNotFound
	}
	return AddressResolution{Lat: p.Lat, Lng: p.Lng, FormattedAddress: results[0].FormattedAddress}, nil
}

// RouteDistanceKm returns the driving distance of the first leg of the first
// route between origin and destination.
func (r *Resolver) RouteDistanceKm(ctx context.Context, origin, destination types.Point) (float64, error) {
	if r.client == nil {
		return 0, ErrUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	routes, _, err := r.client.Directions(ctx, &maps.DirectionsRequest{
		Origin:      origin.String(),
		Destination: destination.String(),
		Mode:        maps.TravelModeDriving,
		Language:    r.language,
		Region:      r.region,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(routes) == 0 || len(routes[0].Legs) == 0 || routes[0].Legs[0] == nil {
		return 0, ErrUnavailable
	}

	leg := routes[0].Legs[0]
	return float64(leg.Distance.Meters) / 1000, nil
}
