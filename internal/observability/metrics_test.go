package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddlewareCountsByRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(HTTPMetricsMiddleware())
	r.GET("/api/users/:userId/presence", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/users/:userId/presence", "204"))
	req := httptest.NewRequest(http.MethodGet, "/api/users/abc/presence", nil)
	r.ServeHTTP(httptest.NewRecorder(), req)

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues(http.MethodGet, "/api/users/:userId/presence", "204"))
	assert.Equal(t, before+1, after)
}

func TestObservePushAndAction(t *testing.T) {
	before := testutil.ToFloat64(pushTotal.WithLabelValues("new_message", "offline"))
	ObservePush("new_message", "offline")
	assert.Equal(t, before+1, testutil.ToFloat64(pushTotal.WithLabelValues("new_message", "offline")))

	before = testutil.ToFloat64(routerActionsTotal.WithLabelValues("send_message", "ok"))
	ObserveAction("send_message", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(routerActionsTotal.WithLabelValues("send_message", "ok")))
}

func TestSplitFullMethod(t *testing.T) {
	service, method := splitFullMethod("/grpc.health.v1.Health/Check")
	assert.Equal(t, "grpc.health.v1.Health", service)
	assert.Equal(t, "Check", method)

	service, method = splitFullMethod("bogus")
	assert.Equal(t, "unknown", service)
	assert.Equal(t, "unknown", method)
}

func TestIPFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	assert.Equal(t, "10.0.0.1", IPFromRequest(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", IPFromRequest(req))
}

func TestRequestMetaFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.RemoteAddr = "10.0.0.1:5555"
	req.Header.Set(HeaderRequestID, " req-7 ")
	req.Header.Set(HeaderDeviceID, "ios-1")
	req.Header.Set("X-Real-Ip", "198.51.100.4")

	meta := RequestMetaFromRequest(req)
	assert.Equal(t, "req-7", meta.RequestID)
	assert.Equal(t, "ios-1", meta.DeviceID)
	assert.Equal(t, "198.51.100.4", meta.IP)
}
