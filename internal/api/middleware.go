// SPDX-License-Identifier: MIT

// Package api provides HTTP server functionality for the tagging pipeline:
// the streaming playlist endpoint, health probes, and the shared ingress
// middleware stack that wraps them.
package api

import (
	"encoding/json"
	"net"
	"net/http"
	"runtime"
	"strings"
	"sync"

	apimw "github.com/videotag/pipeline/internal/api/middleware"
	"github.com/videotag/pipeline/internal/log"
)

var (
	trustedCIDRs     []*net.IPNet
	trustedCIDRsOnce sync.Once
	trustedProxiesMu sync.RWMutex
	trustedProxyCSV  string
)

// setTrustedProxies records the CIDR list used by clientIP to decide
// whether to trust X-Forwarded-For/X-Real-IP from the immediate peer.
// Called once during server construction, before any request arrives.
func setTrustedProxies(csv string) {
	trustedProxiesMu.Lock()
	trustedProxyCSV = csv
	trustedProxiesMu.Unlock()
}

func loadTrustedCIDRs() {
	trustedCIDRsOnce.Do(func() {
		trustedProxiesMu.RLock()
		csv := trustedProxyCSV
		trustedProxiesMu.RUnlock()
		if csv == "" {
			return
		}
		for _, part := range strings.Split(csv, ",") {
			p := strings.TrimSpace(part)
			if p == "" {
				continue
			}
			if _, ipnet, err := net.ParseCIDR(p); err == nil {
				trustedCIDRs = append(trustedCIDRs, ipnet)
			}
		}
	})
}

func remoteIsTrusted(remote string) bool {
	loadTrustedCIDRs()
	if len(trustedCIDRs) == 0 {
		return false
	}
	host, _, err := net.SplitHostPort(remote)
	if err != nil {
		host = remote
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	for _, n := range trustedCIDRs {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// clientIP determines the originating IP address (X-Forwarded-For /
// X-Real-IP / RemoteAddr), only trusting proxy headers when the direct peer
// is in the configured trusted-proxy CIDR list.
func clientIP(r *http.Request) string {
	if remoteIsTrusted(r.RemoteAddr) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
		if xr := r.Header.Get("X-Real-IP"); xr != "" {
			return xr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

// jsonPanicRecovery turns a panic in any route handler into a structured log
// entry, a tagpipe_http_panics_total metric, and a JSON 500 response instead
// of a bare text body or a crashed process. It wraps the routes mounted
// inside the shared apimw.ApplyStack chain, so the request id is already in
// the context; the stack's own (plain-text) chi Recoverer catches panics
// raised by the middleware themselves.
func jsonPanicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				buf := make([]byte, 8192)
				n := runtime.Stack(buf, false)
				stack := string(buf[:n])

				reqID := log.RequestIDFromContext(r.Context())
				pathLabel := r.URL.Path

				logger := log.WithComponentFromContext(r.Context(), "panic-recovery")
				logger.Error().
					Str("event", "panic.recovered").
					Str("method", r.Method).
					Str("path", pathLabel).
					Str("remote_addr", clientIP(r)).
					Str("request_id", reqID).
					Interface("panic_value", rec).
					Str("stack_trace", stack).
					Msg("panic recovered in HTTP handler")

				recordHTTPPanic(pathLabel)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]any{
					"error":      "internal_error",
					"request_id": reqID,
					"message":    "an unexpected error occurred",
				})
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// MiddlewareConfig configures the ingress middleware stack applied in
// front of the tagging API's routes.
type MiddlewareConfig struct {
	AllowedOrigins     []string
	TrustedProxies     []string
	TracingServiceName string

	RateLimitEnabled   bool
	RateLimitRPS       int
	RateLimitBurst     int
	RateLimitWhitelist []string
}

// DefaultMiddlewareConfig returns production-sane defaults.
func DefaultMiddlewareConfig() MiddlewareConfig {
	return MiddlewareConfig{
		TracingServiceName: "tagpipe-api",
		RateLimitEnabled:   true,
		RateLimitRPS:       10,
		RateLimitBurst:     20,
	}
}

func withMiddlewares(h http.Handler, cfg MiddlewareConfig) http.Handler {
	setTrustedProxies(strings.Join(cfg.TrustedProxies, ","))

	stack := apimw.StackConfig{
		EnableCORS:            true,
		AllowedOrigins:        cfg.AllowedOrigins,
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        cfg.TracingServiceName,
		EnableLogging:         true,
		EnableRateLimit:       true,
		RateLimitEnabled:      cfg.RateLimitEnabled,
		RateLimitGlobalRPS:    cfg.RateLimitRPS,
		RateLimitBurst:        cfg.RateLimitBurst,
		RateLimitWhitelist:    cfg.RateLimitWhitelist,
		EnableCSRF:            true,
	}

	r := apimw.NewRouter(stack)
	r.Mount("/", jsonPanicRecovery(h))
	return r
}
