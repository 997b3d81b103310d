package trip

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ryde/internal/types"
)

func TestFSTrip_RoundTrip(t *testing.T) {
	now := time.Date(2024, 5, 1, 8, 30, 0, 0, time.UTC)
	later := now.Add(10 * time.Minute)
	d := types.ID("d1")
	duration := 1260

	cases := []struct {
		name string
		trip Trip
	}{
		{"requested", Trip{
			ID:          "t1",
			PassengerID: "p1",
			Status:      StatusRequested,
			Pickup:      Location{Lat: -1.9441, Lng: 30.0619, Address: "KN 3 Rd"},
			Destination: Location{Lat: -1.9495, Lng: 30.1260, Address: "Kimironko"},
			DistanceKm:  7.2,
			Fare:        types.Money{Amount: 6780, Currency: "RWF"},
			RequestedAt: now,
		}},
		{"completed", Trip{
			ID:              "t2",
			PassengerID:     "p1",
			PassengerName:   "Aline",
			DriverID:        &d,
			DriverName:      "Eric",
			Status:          StatusCompleted,
			StatusVersion:   3,
			Pickup:          Location{Lat: -1.9441, Lng: 30.0619, Address: "KN 3 Rd"},
			Destination:     Location{Lat: -1.9495, Lng: 30.1260, Address: "Kimironko"},
			DistanceKm:      7.2,
			Fare:            types.Money{Amount: 6780, Currency: "RWF"},
			DurationSeconds: &duration,
			RequestedAt:     now,
			AcceptedAt:      &now,
			StartedAt:       &now,
			CompletedAt:     &later,
		}},
		{"cancelled after accept", Trip{
			ID:                "t3",
			PassengerID:       "p1",
			CancelledDriverID: &d,
			Status:            StatusCancelled,
			StatusVersion:     2,
			Fare:              types.Money{Amount: 5100, Currency: "RWF"},
			RequestedAt:       now,
			AcceptedAt:        &now,
			CancelledAt:       &later,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc := toFSTrip(tc.trip)
			assert.Equal(t, string(tc.trip.ID), doc.TripID)
			assert.Equal(t, tc.trip.Pickup.Lat, doc.PickupLatitude)
			assert.Equal(t, tc.trip.RequestedAt, doc.RequestTime)
			assert.Equal(t, tc.trip, fromFSTrip(doc))
		})
	}
}

// newFirestoreStore talks to the emulator named by FIRESTORE_EMULATOR_HOST;
// tests are skipped when it is unset. Each test uses its own passenger id.
func newFirestoreStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	client, err := firestore.NewClient(context.Background(), "ryde-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewFirestoreStore(client)
}

func newFSTrip(passenger types.ID) *Trip {
	return &Trip{
		PassengerID: passenger,
		Status:      StatusRequested,
		Pickup:      Location{Lat: -1.9441, Lng: 30.0619, Address: "KN 3 Rd"},
		Destination: Location{Lat: -1.9495, Lng: 30.1260, Address: "Kimironko"},
		DistanceKm:  7.2,
		Fare:        types.Money{Amount: 6780, Currency: "RWF"},
		RequestedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

func TestFirestoreStore_TransitionIsCAS(t *testing.T) {
	s := newFirestoreStore(t)
	ctx := context.Background()

	tr := newFSTrip(types.ID("p-" + uuid.NewString()))
	require.NoError(t, s.Create(ctx, tr))
	require.NotEmpty(t, tr.ID)

	got, err := s.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusRequested, got.Status)
	assert.Equal(t, 0, got.StatusVersion)

	d := types.ID("d1")
	accept := Transition{TripID: tr.ID, From: StatusRequested, To: StatusAccepted, DriverID: &d, DriverName: "Eric", At: time.Now()}
	got, err = s.Transition(ctx, accept)
	require.NoError(t, err)
	assert.Equal(t, StatusAccepted, got.Status)
	assert.Equal(t, 1, got.StatusVersion)
	assert.True(t, got.IsDriver(d))

	_, err = s.Transition(ctx, accept)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Transition(ctx, Transition{TripID: "missing-" + types.ID(uuid.NewString()), From: StatusRequested, To: StatusAccepted, DriverID: &d})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(ctx, "missing-"+types.ID(uuid.NewString()))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirestoreStore_CancelKeepsDriverHistory(t *testing.T) {
	s := newFirestoreStore(t)
	ctx := context.Background()
	driver := types.ID("d-" + uuid.NewString())

	tr := newFSTrip(types.ID("p-" + uuid.NewString()))
	require.NoError(t, s.Create(ctx, tr))
	_, err := s.Transition(ctx, Transition{TripID: tr.ID, From: StatusRequested, To: StatusAccepted, DriverID: &driver, At: time.Now()})
	require.NoError(t, err)
	_, err = s.Transition(ctx, Transition{TripID: tr.ID, From: StatusAccepted, To: StatusCancelled, Version: 1, At: time.Now()})
	require.NoError(t, err)

	listed, err := s.List(ctx, Filter{DriverID: driver})
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, StatusCancelled, listed[0].Status)
	assert.Nil(t, listed[0].DriverID)
}

func TestFirestoreStore_SubscribeSeesTripLeaveQuery(t *testing.T) {
	s := newFirestoreStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	passenger := types.ID("p-" + uuid.NewString())
	tr := newFSTrip(passenger)
	require.NoError(t, s.Create(ctx, tr))

	updates, err := s.Subscribe(ctx, Filter{PassengerID: passenger, Status: StatusRequested})
	require.NoError(t, err)

	next := func() Trip {
		t.Helper()
		select {
		case got, ok := <-updates:
			require.True(t, ok, "feed closed early")
			return got
		case <-ctx.Done():
			t.Fatal("timed out waiting for a snapshot")
		}
		return Trip{}
	}

	assert.Equal(t, StatusRequested, next().Status)

	d := types.ID("d1")
	_, err = s.Transition(ctx, Transition{TripID: tr.ID, From: StatusRequested, To: StatusAccepted, DriverID: &d, At: time.Now()})
	require.NoError(t, err)

	got := next()
	assert.Equal(t, tr.ID, got.ID)
	assert.Equal(t, StatusAccepted, got.Status)
}
