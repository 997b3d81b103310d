// README: Trip handlers for estimate, request, lifecycle transitions, queries and the live feed.
package handlers

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ryde/internal/http/middleware"
	"ryde/internal/modules/trip"
	"ryde/internal/types"
)

const feedKeepAlive = 25 * time.Second

type TripHandler struct {
	trips *trip.Service
}

func NewTripHandler(svc *trip.Service) *TripHandler {
	return &TripHandler{trips: svc}
}

type pointReq struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type pickupReq struct {
	Address         string    `json:"address"`
	CurrentLocation *pointReq `json:"currentLocation"`
}

type tripRequestReq struct {
	Pickup      pickupReq `json:"pickup"`
	Destination string    `json:"destination"`
}

func (r tripRequestReq) command() trip.RequestCommand {
	cmd := trip.RequestCommand{
		Pickup:      trip.PickupInput{Address: r.Pickup.Address},
		Destination: r.Destination,
	}
	if p := r.Pickup.CurrentLocation; p != nil {
		cmd.Pickup.CurrentLocation = &types.Point{Lat: p.Latitude, Lng: p.Longitude}
	}
	return cmd
}

type completeReq struct {
	Duration int `json:"duration"`
}

func (h *TripHandler) Estimate(c *gin.Context) {
	var req tripRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	q, err := h.trips.EstimateTrip(c.Request.Context(), middleware.CallerActor(c), req.command())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, q)
}

func (h *TripHandler) Request(c *gin.Context) {
	var req tripRequestReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	t, err := h.trips.RequestTrip(c.Request.Context(), middleware.CallerActor(c), req.command())
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, t)
}

func (h *TripHandler) Get(c *gin.Context) {
	t, err := h.trips.GetTrip(c.Request.Context(), middleware.CallerActor(c), types.ID(c.Param("id")))
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, t)
}

func (h *TripHandler) List(c *gin.Context) {
	f := trip.Filter{
		PassengerID: types.ID(c.Query("passengerId")),
		DriverID:    types.ID(c.Query("driverId")),
		Status:      trip.Status(c.Query("status")),
	}
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		f.Limit = n
	}
	trips, err := h.trips.ListTrips(c.Request.Context(), middleware.CallerActor(c), f)
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) ListAvailable(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("latitude"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("longitude"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}
	trips, err := h.trips.ListAvailableTrips(c.Request.Context(), middleware.CallerActor(c), types.Point{Lat: lat, Lng: lng})
	if err != nil {
		writeTripError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"trips": trips})
}

func (h *TripHandler) Accept(c *gin.Context) {
	h.respond(c)(h.trips.AcceptTrip(c.Request.Context(), middleware.CallerActor(c), types.ID(c.Param("id"))))
}

func (h *TripHandler) Start(c *gin.Context) {
	h.respond(c)(h.trips.StartTrip(c.Request.Context(), middleware.CallerActor(c), types.ID(c.Param("id"))))
}

func (h *TripHandler) Complete(c *gin.Context) {
	var req completeReq
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			writeError(c, http.StatusBadRequest, "invalid json")
			return
		}
	}
	h.respond(c)(h.trips.CompleteTrip(c.Request.Context(), middleware.CallerActor(c), types.ID(c.Param("id")), req.Duration))
}

func (h *TripHandler) Cancel(c *gin.Context) {
	h.respond(c)(h.trips.CancelTrip(c.Request.Context(), middleware.CallerActor(c), types.ID(c.Param("id"))))
}

func (h *TripHandler) respond(c *gin.Context) func(*trip.Trip, error) {
	return func(t *trip.Trip, err error) {
		if err != nil {
			writeTripError(c, err)
			return
		}
		writeJSON(c, http.StatusOK, t)
	}
}

// Feed streams trip updates as server-sent "trip" events until the client
// disconnects. Drivers pass ?status=REQUESTED for the open-request feed.
func (h *TripHandler) Feed(c *gin.Context) {
	ctx := c.Request.Context()
	updates, err := h.trips.Subscribe(ctx, middleware.CallerActor(c), trip.Filter{
		Status: trip.Status(c.Query("status")),
	})
	if err != nil {
		writeTripError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	keepAlive := time.NewTicker(feedKeepAlive)
	defer keepAlive.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case t, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("trip", t)
			return true
		case <-keepAlive.C:
			c.SSEvent("ping", "")
			return true
		case <-ctx.Done():
			return false
		}
	})
}
