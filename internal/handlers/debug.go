package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-relay/internal/telemetry"
)

// ConnectionCounter reports how many users hold a live connection.
type ConnectionCounter interface {
	Len() int
}

// RegisterDebugRoutes wires development-only endpoints. Nothing is mounted
// unless enabled is true.
func RegisterDebugRoutes(engine *gin.Engine, emitter *telemetry.EventEmitter, conns ConnectionCounter, enabled bool) {
	if !enabled {
		return
	}

	debug := engine.Group("/debug")
	debug.GET("/event-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "event emitter not configured"})
			return
		}
		emitter.Emit(requestContext(c), "debug.test", userIDFromContext(c), gin.H{"text": "event test"})
		c.JSON(http.StatusOK, gin.H{"status": "ok", "request_id": requestIDFromContext(c)})
	})
	debug.GET("/connections", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"connections": conns.Len()})
	})
}
