package trip

import (
	"context"
	"errors"
	"testing"
	"time"

	"ryde/internal/types"
)

func newRequested(passenger types.ID, at time.Time) *Trip {
	return &Trip{
		PassengerID: passenger,
		Status:      StatusRequested,
		Pickup:      Location{Lat: -1.9441, Lng: 30.0619, Address: "KN 3 Rd"},
		Destination: Location{Lat: -1.9495, Lng: 30.1260, Address: "Kimironko"},
		DistanceKm:  7.2,
		Fare:        types.Money{Amount: 6780, Currency: "RWF"},
		RequestedAt: at,
	}
}

func TestMemoryStore_TransitionCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := newRequested("p1", time.Now())
	if err := s.Create(ctx, tr); err != nil {
		t.Fatal(err)
	}

	driverID := types.ID("d1")
	accept := Transition{TripID: tr.ID, From: StatusRequested, To: StatusAccepted, Version: 0, DriverID: &driverID, At: time.Now()}
	got, err := s.Transition(ctx, accept)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if got.StatusVersion != 1 || !got.IsDriver("d1") {
		t.Fatalf("unexpected trip after accept: %+v", got)
	}

	if _, err := s.Transition(ctx, accept); !errors.Is(err, ErrConflict) {
		t.Fatalf("replayed transition: expected ErrConflict, got %v", err)
	}
	if _, err := s.Transition(ctx, Transition{TripID: "nope", From: StatusRequested, To: StatusAccepted}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing trip: expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tr := newRequested("p1", time.Now())
	if err := s.Create(ctx, tr); err != nil {
		t.Fatal(err)
	}

	got, _ := s.Get(ctx, tr.ID)
	got.Status = StatusCompleted
	got.Fare.Amount = 1

	again, _ := s.Get(ctx, tr.ID)
	if again.Status != StatusRequested || again.Fare.Amount != 6780 {
		t.Fatalf("store leaked a mutable reference: %+v", again)
	}
}

func TestMemoryStore_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		if err := s.Create(ctx, newRequested("p1", base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.Create(ctx, newRequested("p2", base)); err != nil {
		t.Fatal(err)
	}

	got, err := s.List(ctx, Filter{PassengerID: "p1", Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 trips, got %d", len(got))
	}
	if !got[0].RequestedAt.After(got[1].RequestedAt) {
		t.Errorf("expected newest first, got %v then %v", got[0].RequestedAt, got[1].RequestedAt)
	}
}

func TestMemoryStore_ListRequestedNear(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	open := newRequested("p1", time.Now())
	if err := s.Create(ctx, open); err != nil {
		t.Fatal(err)
	}
	taken := newRequested("p2", time.Now())
	if err := s.Create(ctx, taken); err != nil {
		t.Fatal(err)
	}
	d := types.ID("d1")
	if _, err := s.Transition(ctx, Transition{TripID: taken.ID, From: StatusRequested, To: StatusAccepted, DriverID: &d, At: time.Now()}); err != nil {
		t.Fatal(err)
	}

	got, err := s.ListRequestedNear(ctx, types.Point{Lat: -1.945, Lng: 30.062}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != open.ID {
		t.Fatalf("expected only the open trip, got %+v", got)
	}
}

func TestApplyTransition_Cancel(t *testing.T) {
	d := types.ID("d1")
	tr := newRequested("p1", time.Now())
	tr.Status = StatusAccepted
	tr.DriverID = &d
	tr.DriverName = "Eric"

	at := time.Now()
	applyTransition(tr, Transition{From: StatusAccepted, To: StatusCancelled, At: at})
	if tr.DriverID != nil || tr.DriverName != "" {
		t.Fatalf("cancel should clear the driver, got %+v", tr)
	}
	if tr.CancelledAt == nil || !tr.CancelledAt.Equal(at) {
		t.Fatalf("cancelledAt not set")
	}
	if tr.CancelledDriverID == nil || *tr.CancelledDriverID != d {
		t.Fatalf("cancel should remember the driver, got %v", tr.CancelledDriverID)
	}
	if tr.Fare.Amount != 6780 || tr.DistanceKm != 7.2 {
		t.Fatal("cancel must not touch fare or distance")
	}
}

func TestFilterMatches_CancelledDriver(t *testing.T) {
	d := types.ID("d1")
	tr := newRequested("p1", time.Now())
	tr.Status = StatusCancelled
	tr.CancelledDriverID = &d

	tests := []struct {
		name string
		f    Filter
		want bool
	}{
		{"former driver", Filter{DriverID: "d1"}, true},
		{"other driver", Filter{DriverID: "d2"}, false},
		{"former driver wrong status", Filter{DriverID: "d1", Status: StatusAccepted}, false},
		{"passenger", Filter{PassengerID: "p1"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Matches(*tr); got != tt.want {
				t.Fatalf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}
