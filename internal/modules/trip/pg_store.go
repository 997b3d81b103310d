// README: Trip store backed by PostgreSQL; transitions are optimistic CAS updates.
package trip

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"ryde/internal/geo"
	"ryde/internal/types"
)

const tripColumns = `
    id, passenger_id, passenger_name, driver_id, driver_name, cancelled_driver_id, status, status_version,
    pickup_lat, pickup_lng, pickup_address,
    destination_lat, destination_lng, destination_address,
    distance_km, fare_amount, fare_currency, duration_seconds,
    requested_at, accepted_at, started_at, completed_at, cancelled_at`

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, t *Trip) error {
	id := types.ID(uuid.NewString())
	_, err := s.db.Exec(ctx, `
        INSERT INTO trips (
            id, passenger_id, passenger_name, status, status_version,
            pickup_lat, pickup_lng, pickup_address,
            destination_lat, destination_lng, destination_address,
            distance_km, fare_amount, fare_currency, requested_at
        ) VALUES (
            $1, $2, $3, $4, 0,
            $5, $6, $7,
            $8, $9, $10,
            $11, $12, $13, $14
        )`,
		string(id),
		string(t.PassengerID),
		t.PassengerName,
		string(t.Status),
		t.Pickup.Lat, t.Pickup.Lng, t.Pickup.Address,
		t.Destination.Lat, t.Destination.Lng, t.Destination.Address,
		t.DistanceKm,
		t.Fare.Amount,
		t.Fare.Currency,
		t.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("insert trip: %w", err)
	}
	t.ID = id
	t.StatusVersion = 0
	return nil
}

func (s *PGStore) Get(ctx context.Context, id types.ID) (*Trip, error) {
	row := s.db.QueryRow(ctx, `SELECT `+tripColumns+` FROM trips WHERE id = $1`, string(id))
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *PGStore) Transition(ctx context.Context, tr Transition) (*Trip, error) {
	var driverID *string
	if tr.DriverID != nil {
		v := string(*tr.DriverID)
		driverID = &v
	}
	row := s.db.QueryRow(ctx, `
        UPDATE trips
        SET status = $1::text,
            status_version = status_version + 1,
            driver_id = CASE
                WHEN $1::text = 'CANCELLED' THEN NULL
                WHEN $1::text = 'ACCEPTED' THEN $2::text
                ELSE driver_id END,
            driver_name = CASE
                WHEN $1::text = 'CANCELLED' THEN ''
                WHEN $1::text = 'ACCEPTED' THEN $3::text
                ELSE driver_name END,
            cancelled_driver_id = CASE
                WHEN $1::text = 'CANCELLED' THEN driver_id
                ELSE cancelled_driver_id END,
            duration_seconds = COALESCE($4::int, duration_seconds),
            accepted_at = CASE WHEN $1::text = 'ACCEPTED' THEN $5::timestamptz ELSE accepted_at END,
            started_at = CASE WHEN $1::text = 'IN_PROGRESS' THEN $5::timestamptz ELSE started_at END,
            completed_at = CASE WHEN $1::text = 'COMPLETED' THEN $5::timestamptz ELSE completed_at END,
            cancelled_at = CASE WHEN $1::text = 'CANCELLED' THEN $5::timestamptz ELSE cancelled_at END
        WHERE id = $6 AND status = $7 AND status_version = $8
        RETURNING `+tripColumns,
		string(tr.To),
		driverID,
		tr.DriverName,
		tr.DurationSeconds,
		tr.At,
		string(tr.TripID),
		string(tr.From),
		tr.Version,
	)
	t, err := scanTrip(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("update trip status: %w", err)
	}
	return t, nil
}

func (s *PGStore) List(ctx context.Context, f Filter) ([]Trip, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.PassengerID != "" {
		add("passenger_id = $%d", string(f.PassengerID))
	}
	if f.DriverID != "" {
		add("(driver_id = $%[1]d OR cancelled_driver_id = $%[1]d)", string(f.DriverID))
	}
	if f.Status != StatusNone {
		add("status = $%d", string(f.Status))
	}

	q := `SELECT ` + tripColumns + ` FROM trips`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY requested_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}
	return s.query(ctx, q, args...)
}

// ListRequestedNear prefilters on a bounding box in SQL and applies the exact
// radius in Go.
func (s *PGStore) ListRequestedNear(ctx context.Context, p types.Point, radiusKm float64) ([]Trip, error) {
	minLat, maxLat, minLng, maxLng := geo.BoundingBox(p, radiusKm)
	candidates, err := s.query(ctx, `
        SELECT `+tripColumns+`
        FROM trips
        WHERE status = 'REQUESTED'
          AND pickup_lat BETWEEN $1 AND $2
          AND pickup_lng BETWEEN $3 AND $4`,
		minLat, maxLat, minLng, maxLng,
	)
	if err != nil {
		return nil, err
	}
	out := candidates[:0]
	for _, t := range candidates {
		if geo.Within(p, t.Pickup.Point(), radiusKm) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *PGStore) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
        INSERT INTO trip_state_events (
            trip_id, from_status, to_status, actor_role, actor_id, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING id`,
		string(e.TripID),
		string(e.FromStatus),
		string(e.ToStatus),
		e.ActorRole.String(),
		toStringPtr(e.ActorID),
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *PGStore) query(ctx context.Context, q string, args ...any) ([]Trip, error) {
	rows, err := s.db.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Trip, 0)
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func scanTrip(row pgx.Row) (*Trip, error) {
	var t Trip
	var driverID, cancelledDriverID *string
	err := row.Scan(
		&t.ID, &t.PassengerID, &t.PassengerName, &driverID, &t.DriverName, &cancelledDriverID, &t.Status, &t.StatusVersion,
		&t.Pickup.Lat, &t.Pickup.Lng, &t.Pickup.Address,
		&t.Destination.Lat, &t.Destination.Lng, &t.Destination.Address,
		&t.DistanceKm, &t.Fare.Amount, &t.Fare.Currency, &t.DurationSeconds,
		&t.RequestedAt, &t.AcceptedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt,
	)
	if err != nil {
		return nil, err
	}
	if driverID != nil {
		d := types.ID(*driverID)
		t.DriverID = &d
	}
	if cancelledDriverID != nil {
		d := types.ID(*cancelledDriverID)
		t.CancelledDriverID = &d
	}
	return &t, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
