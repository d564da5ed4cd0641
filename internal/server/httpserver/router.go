package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/internal/server/httpserver/handler"
)

// RouterConfig holds configuration for the HTTP router.
type RouterConfig struct {
	// Handler serves every API route.
	Handler *handler.Handler

	// Auth verifies bearer credentials on the order and admin APIs.
	Auth *service.AuthService

	// RateLimiter limits download attempts per client IP. Nil disables it.
	RateLimiter *service.RateLimiterRegistry

	// Observer records request metrics. Nil disables them.
	Observer Observer

	// Metrics serves GET /metrics. Nil leaves the route unregistered.
	Metrics http.Handler

	// MetricsAuthRequired puts /metrics behind admin authentication.
	MetricsAuthRequired bool

	// AdminAllowList is the IP/CIDR allowlist for the admin API (empty = no restriction).
	AdminAllowList []string

	// TrustedProxies lists the reverse proxies (IPs or CIDRs) whose
	// X-Forwarded-For and X-Real-IP headers are believed. Empty means the
	// peer address is always the client.
	TrustedProxies []string

	// EnableAudit enables one log line per request.
	EnableAudit bool

	Logger *slog.Logger
}

// NewRouter creates the HTTP router with all routes and middleware.
//
// Route groups:
//
//	public    /health, /ready
//	download  /download/{token}           GET and HEAD, rate limited, no credentials
//	orders    /orders..., /users/...      service role
//	admin     /admin/v1/...               admin role, optional network ACL
func NewRouter(cfg *RouterConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	h := cfg.Handler

	// Order: RequestID -> ClientAddr -> Recover -> Observe -> Audit -> group middleware -> Handler
	clientAddr := ClientAddr(cfg.TrustedProxies, log)
	group := func(route string, extra ...Middleware) http.Handler {
		mws := []Middleware{RequestID(), clientAddr, Recover(log), Observe(route, obs)}
		if cfg.EnableAudit {
			mws = append(mws, Audit(log))
		}
		mws = append(mws, extra...)
		return Chain(h, mws...)
	}

	mux := http.NewServeMux()

	// Health checks are never audited.
	health := Chain(h, RequestID(), Recover(log))
	mux.Handle("GET /health", health)
	mux.Handle("GET /ready", health)

	var downloadMW []Middleware
	if cfg.RateLimiter != nil {
		downloadMW = append(downloadMW, RateLimit(cfg.RateLimiter, obs))
	}
	download := group("download", downloadMW...)
	mux.Handle("GET /download/{token}", download)
	mux.Handle("HEAD /download/{token}", download)

	orders := group("orders", Auth(cfg.Auth, service.RoleService, obs))
	mux.Handle("POST /orders", orders)
	mux.Handle("GET /orders/{id}", orders)
	mux.Handle("PUT /orders/{id}/status", orders)
	mux.Handle("POST /orders/{id}/deliver", orders)
	mux.Handle("POST /orders/{id}/notify", orders)
	mux.Handle("GET /users/{user_id}/orders", orders)

	admin := group("admin",
		NetworkACL(cfg.AdminAllowList, log),
		Auth(cfg.Auth, service.RoleAdmin, obs),
	)
	mux.Handle("GET /admin/v1/status/summary", admin)
	mux.Handle("POST /admin/v1/tokens/sweep", admin)
	mux.Handle("GET /admin/v1/tokens/{token}", admin)

	if cfg.Metrics != nil {
		metricsMW := []Middleware{RequestID(), Recover(log)}
		if cfg.MetricsAuthRequired {
			metricsMW = append(metricsMW, Auth(cfg.Auth, service.RoleAdmin, obs))
		}
		mux.Handle("GET /metrics", Chain(cfg.Metrics, metricsMW...))
	}

	return mux
}
