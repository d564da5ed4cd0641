package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/telemetry/logger"
)

type contextKey string

const (
	contextKeyPrincipal contextKey = "principal"
	contextKeyStartTime contextKey = "start_time"
	contextKeyClientIP  contextKey = "client_ip"
)

// Middleware wraps an http.Handler with additional functionality.
type Middleware func(http.Handler) http.Handler

// Chain chains multiple middlewares together. The first middleware is
// the outermost.
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// Observer receives request-level measurements.
type Observer interface {
	RecordRequest(method, route, code string, elapsed time.Duration)
	RecordAuthFailure(code string)
	IncRateLimited()
}

type nopObserver struct{}

func (nopObserver) RecordRequest(string, string, string, time.Duration) {}
func (nopObserver) RecordAuthFailure(string)                            {}
func (nopObserver) IncRateLimited()                                     {}

// RequestID assigns a request ID, taken from X-Request-ID when present.
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestID := r.Header.Get("X-Request-ID")
			if requestID == "" || len(requestID) > 128 {
				requestID = "req-" + strings.ToLower(ulid.Make().String())
			}
			w.Header().Set("X-Request-ID", requestID)

			ctx := logger.WithRequestID(r.Context(), requestID)
			ctx = context.WithValue(ctx, contextKeyStartTime, time.Now())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Auth authenticates a bearer token and requires role.
func Auth(authSvc *service.AuthService, role service.Role, obs Observer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				obs.RecordAuthFailure(domain.ErrAuthMissing.Code)
				writeError(w, domain.ErrAuthMissing.Code, domain.ErrAuthMissing.Message)
				return
			}
			p, err := authSvc.Authenticate(raw)
			if err == nil {
				err = authSvc.Authorize(p, role)
			}
			if err != nil {
				code := domain.GetErrorCode(err)
				obs.RecordAuthFailure(code)
				writeError(w, code, publicMessage(err))
				return
			}

			ctx := context.WithValue(r.Context(), contextKeyPrincipal, p)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimit applies a per-client-IP limit.
func RateLimit(limiters *service.RateLimiterRegistry, obs Observer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiters.Allow(getClientIP(r)) {
				obs.IncRateLimited()
				w.Header().Set("Retry-After", "1")
				writeError(w, domain.ErrRateLimited.Code, domain.ErrRateLimited.Message)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Observe records the request count and latency under route.
func Observe(route string, obs Observer) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)
			obs.RecordRequest(r.Method, route, strconv.Itoa(wrapped.statusCode), time.Since(start))
		})
	}
}

// Audit logs one line per request. Download tokens in the path are masked.
func Audit(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			startTime, ok := r.Context().Value(contextKeyStartTime).(time.Time)
			if !ok {
				startTime = time.Now()
			}
			attrs := []any{
				"request_id", logger.RequestIDFromContext(r.Context()),
				"method", r.Method,
				"path", redactPath(r.URL.Path),
				"status", wrapped.statusCode,
				"bytes", wrapped.written,
				"duration_ms", time.Since(startTime).Milliseconds(),
				"client_ip", getClientIP(r),
			}
			if p := PrincipalFromContext(r.Context()); p != nil {
				attrs = append(attrs, "subject", p.Subject, "role", string(p.Role))
			}

			switch {
			case wrapped.statusCode >= 500:
				log.Error("request completed with error", attrs...)
			case wrapped.statusCode >= 400:
				log.Warn("request completed with client error", attrs...)
			default:
				log.Info("request completed", attrs...)
			}
		})
	}
}

// Recover recovers from panics and returns 500 error.
func Recover(log *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Error("panic recovered",
						"request_id", logger.RequestIDFromContext(r.Context()),
						"error", err,
						"path", redactPath(r.URL.Path),
					)
					writeError(w, domain.ErrInternalServer.Code, "internal server error")
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// NetworkACL restricts access to clients in allowList (IPs or CIDRs).
// An empty list allows everyone.
func NetworkACL(allowList []string, log *slog.Logger) Middleware {
	networks := parseNetworks(allowList, "allowlist", log)

	return func(next http.Handler) http.Handler {
		if len(networks) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := getClientIP(r)
			if inNetworks(ip, networks) {
				next.ServeHTTP(w, r)
				return
			}
			log.Warn("request denied by network ACL",
				"client_ip", ip,
				"path", r.URL.Path)
			writeError(w, domain.ErrPermissionDenied.Code, "client address not allowed")
		})
	}
}

// ClientAddr resolves the client IP once per request for the middlewares
// that key on it. X-Forwarded-For and X-Real-IP are honoured only
// when the direct peer is in trustedProxies (IPs or CIDRs).
func ClientAddr(trustedProxies []string, log *slog.Logger) Middleware {
	trusted := parseNetworks(trustedProxies, "trusted proxies", log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), contextKeyClientIP, resolveClientIP(r, trusted))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// PrincipalFromContext returns the authenticated caller, if any.
func PrincipalFromContext(ctx context.Context) *service.Principal {
	p, _ := ctx.Value(contextKeyPrincipal).(*service.Principal)
	return p
}

func bearerToken(r *http.Request) (string, bool) {
	raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	raw = strings.TrimSpace(raw)
	return raw, ok && raw != ""
}

// publicMessage returns the client-safe message of a domain error.
func publicMessage(err error) string {
	var de *domain.DomainError
	if errors.As(err, &de) {
		return de.Message
	}
	return "authentication failed"
}

// redactPath masks download tokens embedded in a URL path.
func redactPath(p string) string {
	if !strings.Contains(p, domain.TokenPrefix) {
		return p
	}
	segs := strings.Split(p, "/")
	for i, s := range segs {
		if domain.HasTokenPrefix(s) {
			segs[i] = domain.MaskToken(s)
		}
	}
	return strings.Join(segs, "/")
}

// responseWriter wraps http.ResponseWriter to capture status code and size.
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	written     int64
	wroteHeader bool
}

func (w *responseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.statusCode = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	n, err := w.ResponseWriter.Write(b)
	w.written += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *responseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

// writeError writes a middleware error in the handler envelope format.
func writeError(w http.ResponseWriter, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Error-Code", code)

	status := http.StatusUnauthorized
	switch {
	case strings.HasSuffix(code, "-4030"):
		status = http.StatusForbidden
	case strings.HasSuffix(code, "-4290"):
		status = http.StatusTooManyRequests
	case strings.HasSuffix(code, "-5000"):
		status = http.StatusInternalServerError
	}

	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"code":      code,
		"message":   message,
		"timestamp": time.Now().UnixMilli(),
	})
}

// getClientIP returns the address resolved by ClientAddr, or the peer
// address when ClientAddr did not run.
func getClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(contextKeyClientIP).(string); ok {
		return ip
	}
	return peerIP(r)
}

func resolveClientIP(r *http.Request, trusted []*net.IPNet) string {
	peer := peerIP(r)
	if !inNetworks(peer, trusted) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// Clients can prepend anything; the first untrusted hop from the
		// right is the last address a trusted proxy saw.
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if net.ParseIP(hop) == nil {
				return peer
			}
			if i == 0 || !inNetworks(hop, trusted) {
				return hop
			}
		}
	}
	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); net.ParseIP(xri) != nil {
		return xri
	}
	return peer
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func parseNetworks(entries []string, what string, log *slog.Logger) []*net.IPNet {
	var networks []*net.IPNet
	for _, entry := range entries {
		if !strings.Contains(entry, "/") {
			if ip := net.ParseIP(entry); ip != nil && ip.To4() != nil {
				entry += "/32"
			} else {
				entry += "/128"
			}
		}
		_, ipNet, err := net.ParseCIDR(entry)
		if err != nil {
			log.Warn("invalid entry in "+what, "entry", entry, "error", err)
			continue
		}
		networks = append(networks, ipNet)
	}
	return networks
}

func inNetworks(s string, networks []*net.IPNet) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	for _, n := range networks {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}
