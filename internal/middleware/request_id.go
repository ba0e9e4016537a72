package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"chat-relay/internal/observability"
)

const RequestIDKey = "request_id"

// RequestID propagates X-Request-Id, generating one when absent.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := observability.RequestIDFromRequest(c.Request)
		if requestID == "" {
			requestID = uuid.NewString()
			c.Request.Header.Set(observability.HeaderRequestID, requestID)
		}
		c.Set(RequestIDKey, requestID)
		c.Header(observability.HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(observability.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
