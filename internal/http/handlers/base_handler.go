// README: Base handler utilities (JSON helpers, error mapping).
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"ryde/internal/modules/trip"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

// writeTripError maps the trip error taxonomy to HTTP statuses. Unmapped
// errors are logged and reported as 500 without detail.
func writeTripError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, trip.ErrInvalidInput):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, trip.ErrAddressNotFound):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, trip.ErrNotAuthorized):
		writeError(c, http.StatusForbidden, err.Error())
	case errors.Is(err, trip.ErrNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, trip.ErrInvalidTransition):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, trip.ErrUnavailable):
		writeError(c, http.StatusServiceUnavailable, err.Error())
	default:
		slog.ErrorContext(c.Request.Context(), "unhandled trip error", "path", c.FullPath(), "error", err)
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}
