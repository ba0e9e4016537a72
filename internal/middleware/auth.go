package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/auth"
)

// Context keys set on admitted requests.
const (
	UserIDKey = "userID"
	UserKey   = "user"
)

// Admitter verifies bearer credentials.
type Admitter interface {
	Admit(ctx context.Context, credential string) (auth.Identity, error)
}

// AuthMiddleware validates the Authorization header with the identity gate
// and stores the admitted user under UserIDKey and UserKey.
func AuthMiddleware(gate Admitter) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization"})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization header"})
			return
		}

		identity, err := gate.Admit(c.Request.Context(), parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": rejection(err)})
			return
		}

		c.Set(UserIDKey, identity.UserID)
		c.Set(UserKey, identity.User)
		c.Next()
	}
}

func rejection(err error) string {
	switch {
	case errors.Is(err, auth.ErrExpired):
		return "token expired"
	case errors.Is(err, auth.ErrUnknownUser):
		return "user not found"
	default:
		return "invalid token"
	}
}
