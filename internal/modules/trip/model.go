// README: Trip aggregate, status definitions and the transition table.
package trip

import (
	"time"

	"ryde/internal/types"
)

type Status string

const (
	StatusNone       Status = ""
	StatusRequested  Status = "REQUESTED"
	StatusAccepted   Status = "ACCEPTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusCancelled  Status = "CANCELLED"
)

// ParseStatus accepts the canonical upper-case names.
func ParseStatus(s string) (Status, bool) {
	switch st := Status(s); st {
	case StatusRequested, StatusAccepted, StatusInProgress, StatusCompleted, StatusCancelled:
		return st, true
	}
	return StatusNone, false
}

// Location is a coordinate with the address shown to users.
type Location struct {
	Lat     float64 `json:"latitude"`
	Lng     float64 `json:"longitude"`
	Address string  `json:"address"`
}

func (l Location) Point() types.Point {
	return types.Point{Lat: l.Lat, Lng: l.Lng}
}

// Trip is a single ride from request to a terminal state. Fare and DistanceKm
// are fixed at creation. CancelledDriverID keeps the driver a trip was taken
// from when it is cancelled after acceptance.
type Trip struct {
	ID                types.ID    `json:"tripId"`
	PassengerID       types.ID    `json:"passengerId"`
	PassengerName     string      `json:"passengerName,omitempty"`
	DriverID          *types.ID   `json:"driverId,omitempty"`
	DriverName        string      `json:"driverName,omitempty"`
	CancelledDriverID *types.ID   `json:"cancelledDriverId,omitempty"`
	Status            Status      `json:"status"`
	StatusVersion     int         `json:"statusVersion"`
	Pickup            Location    `json:"pickup"`
	Destination       Location    `json:"destination"`
	DistanceKm        float64     `json:"distanceKm"`
	Fare              types.Money `json:"fare"`
	DurationSeconds   *int        `json:"durationSeconds,omitempty"`
	RequestedAt       time.Time   `json:"requestTime"`
	AcceptedAt        *time.Time  `json:"acceptedAt,omitempty"`
	StartedAt         *time.Time  `json:"startedAt,omitempty"`
	CompletedAt       *time.Time  `json:"completedAt,omitempty"`
	CancelledAt       *time.Time  `json:"cancelledAt,omitempty"`
}

// HasDriver reports whether the trip's status requires an assigned driver.
func (s Status) HasDriver() bool {
	switch s {
	case StatusAccepted, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// IsDriver reports whether id is the assigned driver.
func (t *Trip) IsDriver(id types.ID) bool {
	return t.DriverID != nil && *t.DriverID == id
}

// InvolvesDriver is IsDriver that also holds for the driver of a trip
// cancelled after acceptance.
func (t *Trip) InvolvesDriver(id types.ID) bool {
	return t.IsDriver(id) || (t.CancelledDriverID != nil && *t.CancelledDriverID == id)
}

type Event struct {
	ID         int64
	TripID     types.ID
	FromStatus Status
	ToStatus   Status
	ActorRole  Role
	ActorID    *types.ID
	CreatedAt  time.Time
}

// AllowedTransitions represents the trip state flow as code. Terminal states
// have no entry.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusRequested},
	StatusRequested:  {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}
