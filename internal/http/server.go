// README: API gateway; registers HTTP routes and delegates to the trip service.
package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ryde/internal/http/handlers"
	"ryde/internal/http/middleware"
	"ryde/internal/infra"
	"ryde/internal/modules/trip"
)

type ServerDeps struct {
	Trips    *trip.Service
	Verifier infra.TokenVerifier
	Logger   *slog.Logger
}

type Server struct {
	trips    *trip.Service
	verifier infra.TokenVerifier
	log      *slog.Logger
}

func NewServer(deps ServerDeps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		trips:    deps.Trips,
		verifier: deps.Verifier,
		log:      logger,
	}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})

	tripHandler := handlers.NewTripHandler(s.trips)
	api := r.Group("/api", middleware.Auth(s.verifier))
	{
		api.POST("/trips/estimate", tripHandler.Estimate)
		api.POST("/trips", tripHandler.Request)
		api.GET("/trips", tripHandler.List)
		api.GET("/trips/available", tripHandler.ListAvailable)
		api.GET("/trips/feed", tripHandler.Feed)
		api.GET("/trips/:id", tripHandler.Get)
		api.POST("/trips/:id/accept", tripHandler.Accept)
		api.POST("/trips/:id/start", tripHandler.Start)
		api.POST("/trips/:id/complete", tripHandler.Complete)
		api.POST("/trips/:id/cancel", tripHandler.Cancel)
	}
	return r
}
