package service

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

// Role is the closed set of internal API roles.
type Role string

const (
	// RoleService may manage orders.
	RoleService Role = "service"
	// RoleAdmin may manage orders and tokens.
	RoleAdmin Role = "admin"
)

// ParseRole converts a raw string into a Role.
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(s)) {
	case RoleService:
		return RoleService, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", domain.ErrInvalidArgument.WithDetails(fmt.Sprintf("unknown role %q", s))
	}
}

// Allows reports whether r satisfies the required role.
func (r Role) Allows(required Role) bool {
	return r == RoleAdmin || r == required
}

// Principal is an authenticated internal API caller.
type Principal struct {
	Subject string
	Role    Role
}

// AuthServiceConfig holds configuration for AuthService.
type AuthServiceConfig struct {
	// Secret signs and verifies HS256 bearer tokens.
	Secret []byte

	// Issuer is set on issued tokens and required on verified ones.
	Issuer string

	// Leeway tolerates clock skew when checking exp/nbf (default: 30s).
	Leeway time.Duration
}

// AuthService issues and verifies internal API bearer tokens.
type AuthService struct {
	secret []byte
	issuer string
	leeway time.Duration
	now    func() time.Time
}

// NewAuthService creates an AuthService.
func NewAuthService(cfg *AuthServiceConfig) (*AuthService, error) {
	if cfg == nil || len(cfg.Secret) < 32 {
		return nil, domain.ErrInvalidArgument.WithDetails("auth secret must be at least 32 bytes")
	}
	leeway := cfg.Leeway
	if leeway <= 0 {
		leeway = 30 * time.Second
	}
	return &AuthService{secret: cfg.Secret, issuer: cfg.Issuer, leeway: leeway, now: time.Now}, nil
}

// Issue mints a bearer token for subject with role, valid for ttl.
func (s *AuthService) Issue(subject string, role Role, ttl time.Duration) (string, error) {
	if subject == "" || ttl <= 0 {
		return "", domain.ErrInvalidArgument.WithDetails("subject and positive ttl are required")
	}
	now := s.now()
	claims := jwt.MapClaims{
		"sub":  subject,
		"role": string(role),
		"iat":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	if s.issuer != "" {
		claims["iss"] = s.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Authenticate verifies a raw bearer token.
func (s *AuthService) Authenticate(raw string) (*Principal, error) {
	if raw == "" {
		return nil, domain.ErrAuthMissing
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(s.leeway),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil {
		return nil, domain.ErrAuthInvalid.WithCause(err)
	}

	sub, _ := claims["sub"].(string)
	rawRole, _ := claims["role"].(string)
	role, err := ParseRole(rawRole)
	if sub == "" || err != nil {
		return nil, domain.ErrAuthInvalid.WithDetails("missing subject or role")
	}
	return &Principal{Subject: sub, Role: role}, nil
}

// Authorize checks that p holds the required role.
func (s *AuthService) Authorize(p *Principal, required Role) error {
	if p == nil {
		return domain.ErrAuthMissing
	}
	if !p.Role.Allows(required) {
		return domain.ErrPermissionDenied.WithDetails("requires role " + string(required))
	}
	return nil
}

// IsAuthError reports whether err came from Authenticate or Authorize.
func IsAuthError(err error) bool {
	return errors.Is(err, domain.ErrAuthMissing) ||
		errors.Is(err, domain.ErrAuthInvalid) ||
		errors.Is(err, domain.ErrPermissionDenied)
}

// ============================================================================
// RateLimiterRegistry - per-client rate limiters
// ============================================================================

// RateLimiterRegistry manages one token-bucket limiter per key (client IP).
// Idle limiters are dropped by Prune.
type RateLimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiterRegistry creates a registry allowing perMinute events per
// key with the given burst.
func NewRateLimiterRegistry(perMinute, burst int) *RateLimiterRegistry {
	if burst <= 0 {
		burst = perMinute
	}
	return &RateLimiterRegistry{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(float64(perMinute) / 60.0),
		burst:    burst,
		now:      time.Now,
	}
}

// Allow reports whether key may perform one more event now.
func (r *RateLimiterRegistry) Allow(key string) bool {
	r.mu.Lock()
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.limiters[key] = e
	}
	now := r.now()
	e.lastSeen = now
	r.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

// Prune removes limiters idle for longer than idle and returns how many
// were removed.
func (r *RateLimiterRegistry) Prune(idle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-idle)
	n := 0
	for k, e := range r.limiters {
		if e.lastSeen.Before(cutoff) {
			delete(r.limiters, k)
			n++
		}
	}
	return n
}

// Len returns the number of tracked keys.
func (r *RateLimiterRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}
