// README: Handler tests for trip routes: auth, status mapping and the lifecycle over HTTP.
package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"ryde/internal/http/handlers"
	httpmiddleware "ryde/internal/http/middleware"
	"ryde/internal/infra"
	"ryde/internal/maps"
	"ryde/internal/modules/feed"
	"ryde/internal/modules/pricing"
	"ryde/internal/modules/trip"
	"ryde/internal/types"
)

// tokenBook is a test double for infra.TokenVerifier: the bearer token is
// looked up directly.
type tokenBook map[string]*infra.FirebaseToken

func (b tokenBook) VerifyIDToken(_ context.Context, raw string) (*infra.FirebaseToken, error) {
	if t, ok := b[raw]; ok {
		return t, nil
	}
	return nil, errors.New("unknown token")
}

var tokens = tokenBook{
	"passenger": {UID: "p1", Claims: map[string]interface{}{"name": "Aline"}},
	"other":     {UID: "p2", Claims: map[string]interface{}{"role": "passenger"}},
	"driver":    {UID: "d1", Claims: map[string]interface{}{"role": "driver", "name": "Eric"}},
	"admin":     {UID: "a1", Claims: map[string]interface{}{"role": "admin"}},
}

type stubGeocoder struct{}

func (stubGeocoder) ResolveAddress(_ context.Context, text string) (maps.AddressResolution, error) {
	switch strings.TrimSpace(text) {
	case "":
		return maps.AddressResolution{}, maps.ErrInvalidInput
	case "KN 3 Rd":
		return maps.AddressResolution{Lat: -1.9441, Lng: 30.0619, FormattedAddress: "KN 3 Rd, Kigali"}, nil
	case "Kimironko":
		return maps.AddressResolution{Lat: -1.9495, Lng: 30.1260, FormattedAddress: "Kimironko, Kigali"}, nil
	}
	return maps.AddressResolution{}, maps.ErrNotFound
}

func (stubGeocoder) ReverseGeocode(context.Context, types.Point) (maps.AddressResolution, error) {
	return maps.AddressResolution{}, maps.ErrNotFound
}

func (stubGeocoder) RouteDistanceKm(context.Context, types.Point, types.Point) (float64, error) {
	return 5, nil
}

func buildTripRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	svc := trip.NewService(trip.NewMemoryStore(), stubGeocoder{}, pricing.NewService(""))
	h := handlers.NewTripHandler(svc)

	r := gin.New()
	api := r.Group("/api", httpmiddleware.Auth(tokens))
	api.POST("/trips/estimate", h.Estimate)
	api.POST("/trips", h.Request)
	api.GET("/trips", h.List)
	api.GET("/trips/available", h.ListAvailable)
	api.GET("/trips/feed", h.Feed)
	api.GET("/trips/:id", h.Get)
	api.POST("/trips/:id/accept", h.Accept)
	api.POST("/trips/:id/start", h.Start)
	api.POST("/trips/:id/complete", h.Complete)
	api.POST("/trips/:id/cancel", h.Cancel)
	return r
}

func call(r *gin.Engine, method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeTrip(t *testing.T, w *httptest.ResponseRecorder) trip.Trip {
	t.Helper()
	var out trip.Trip
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode trip: %v (body %s)", err, w.Body.String())
	}
	return out
}

var rideBody = map[string]any{
	"pickup":      map[string]any{"address": "KN 3 Rd"},
	"destination": "Kimironko",
}

func TestTripRoutes_Unauthenticated(t *testing.T) {
	r := buildTripRouter()
	w := call(r, http.MethodPost, "/api/trips", "", rideBody)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", w.Code)
	}
	w = call(r, http.MethodPost, "/api/trips", "forged", rideBody)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for unknown token, got %d", w.Code)
	}
}

func TestTripRoutes_Lifecycle(t *testing.T) {
	r := buildTripRouter()

	w := call(r, http.MethodPost, "/api/trips", "passenger", rideBody)
	if w.Code != http.StatusCreated {
		t.Fatalf("request: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	created := decodeTrip(t, w)
	if created.Status != trip.StatusRequested || created.Fare.Amount != 5100 || created.PassengerName != "Aline" {
		t.Fatalf("unexpected trip: %+v", created)
	}
	base := "/api/trips/" + string(created.ID)

	w = call(r, http.MethodGet, "/api/trips/available?latitude=-1.945&longitude=30.062", "driver", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), string(created.ID)) {
		t.Fatalf("available: got %d %s", w.Code, w.Body.String())
	}

	w = call(r, http.MethodPost, base+"/start", "driver", nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("start before accept: expected 409, got %d", w.Code)
	}

	w = call(r, http.MethodPost, base+"/accept", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := decodeTrip(t, w); got.DriverName != "Eric" {
		t.Errorf("expected driver name from token, got %q", got.DriverName)
	}

	w = call(r, http.MethodPost, base+"/start", "driver", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d", w.Code)
	}

	w = call(r, http.MethodPost, base+"/complete", "driver", map[string]any{"duration": 900})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d", w.Code)
	}
	done := decodeTrip(t, w)
	if done.Status != trip.StatusCompleted || done.DurationSeconds == nil || *done.DurationSeconds != 900 {
		t.Fatalf("unexpected completed trip: %+v", done)
	}

	w = call(r, http.MethodPost, base+"/cancel", "passenger", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("cancel completed: expected 409, got %d", w.Code)
	}
}

func TestTripRoutes_ErrorMapping(t *testing.T) {
	r := buildTripRouter()

	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   any
		want   int
	}{
		{"empty destination", http.MethodPost, "/api/trips", "passenger", map[string]any{"pickup": map[string]any{"address": "KN 3 Rd"}}, http.StatusBadRequest},
		{"unknown address", http.MethodPost, "/api/trips", "passenger", map[string]any{"pickup": map[string]any{"address": "Atlantis"}, "destination": "Kimironko"}, http.StatusUnprocessableEntity},
		{"driver cannot request", http.MethodPost, "/api/trips", "driver", rideBody, http.StatusForbidden},
		{"missing trip", http.MethodGet, "/api/trips/nope", "admin", nil, http.StatusNotFound},
		{"bad status filter", http.MethodGet, "/api/trips?status=DONE", "admin", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/trips?limit=ten", "admin", nil, http.StatusBadRequest},
		{"available without location", http.MethodGet, "/api/trips/available", "driver", nil, http.StatusBadRequest},
		{"feed without subscriber", http.MethodGet, "/api/trips/feed", "passenger", nil, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := call(r, tc.method, tc.path, tc.token, tc.body)
			if w.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, w.Code, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("expected error body, got %s", w.Body.String())
			}
		})
	}
}

func TestTripRoutes_EstimateDoesNotBook(t *testing.T) {
	r := buildTripRouter()

	w := call(r, http.MethodPost, "/api/trips/estimate", "admin", rideBody)
	if w.Code != http.StatusOK {
		t.Fatalf("estimate: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var q trip.Quote
	if err := json.Unmarshal(w.Body.Bytes(), &q); err != nil {
		t.Fatal(err)
	}
	if q.Fare.Amount != 5100 || q.DistanceSource != trip.DistanceRoute {
		t.Errorf("unexpected quote: %+v", q)
	}

	w = call(r, http.MethodGet, "/api/trips", "admin", nil)
	if w.Code != http.StatusOK || strings.Contains(w.Body.String(), "tripId") {
		t.Errorf("expected no trips after estimate, got %s", w.Body.String())
	}
}

func TestTripRoutes_OtherPassengerCannotView(t *testing.T) {
	r := buildTripRouter()

	created := decodeTrip(t, call(r, http.MethodPost, "/api/trips", "passenger", rideBody))
	w := call(r, http.MethodGet, "/api/trips/"+string(created.ID), "other", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
	w = call(r, http.MethodPost, "/api/trips/"+string(created.ID)+"/cancel", "other", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestTripRoutes_FeedBackendDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer rdb.Close()
	svc := trip.NewService(trip.NewMemoryStore(), stubGeocoder{}, pricing.NewService(""),
		trip.WithSubscriber(feed.New(rdb, "", nil)))
	h := handlers.NewTripHandler(svc)

	r := gin.New()
	r.GET("/api/trips/feed", httpmiddleware.Auth(tokens), h.Feed)

	w := call(r, http.MethodGet, "/api/trips/feed", "passenger", nil)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d: %s", w.Code, w.Body.String())
	}
}
