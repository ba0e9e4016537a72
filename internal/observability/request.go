package observability

import (
	"net"
	"net/http"
	"strings"
)

const (
	HeaderRequestID = "X-Request-Id"
	HeaderDeviceID  = "X-Device-Id"
)

// RequestMeta is the client metadata attached to connection logs and events.
type RequestMeta struct {
	RequestID string
	DeviceID  string
	IP        string
}

func RequestMetaFromRequest(r *http.Request) RequestMeta {
	return RequestMeta{
		RequestID: RequestIDFromRequest(r),
		DeviceID:  r.Header.Get(HeaderDeviceID),
		IP:        IPFromRequest(r),
	}
}

func RequestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(HeaderRequestID))
}

// IPFromRequest prefers the first X-Forwarded-For hop, then X-Real-Ip, then
// the socket peer.
func IPFromRequest(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if realIP := strings.TrimSpace(r.Header.Get("X-Real-Ip")); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
