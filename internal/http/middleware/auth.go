// README: Firebase ID token auth middleware; puts the caller's uid, role and name on the context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"ryde/internal/infra"
	"ryde/internal/modules/trip"
	"ryde/internal/types"
)

const (
	ctxCallerUID  = "caller_uid"
	ctxCallerRole = "caller_role"
	ctxCallerName = "caller_name"
)

// Auth rejects requests without a valid bearer token. The "role" custom claim
// selects passenger, driver or admin; a token without one is a passenger.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		roleClaim, _ := token.Claims["role"].(string)
		role, err := trip.ParseRole(roleClaim)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": err.Error()})
			return
		}
		name, _ := token.Claims["name"].(string)

		c.Set(ctxCallerUID, token.UID)
		c.Set(ctxCallerRole, role)
		c.Set(ctxCallerName, name)
		c.Next()
	}
}

// CallerUID returns the verified Firebase uid, or "" outside Auth.
func CallerUID(c *gin.Context) string {
	return c.GetString(ctxCallerUID)
}

// CallerRole returns the caller's role name, or "" outside Auth.
func CallerRole(c *gin.Context) string {
	if r, ok := c.Get(ctxCallerRole); ok {
		return r.(trip.Role).String()
	}
	return ""
}

// CallerActor builds the trip actor for the request.
func CallerActor(c *gin.Context) trip.Actor {
	a := trip.Actor{
		ID:   types.ID(CallerUID(c)),
		Name: c.GetString(ctxCallerName),
	}
	if r, ok := c.Get(ctxCallerRole); ok {
		a.Role = r.(trip.Role)
	}
	return a
}
