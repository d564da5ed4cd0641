package service

import (
	"errors"
	"testing"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

var authSecret = []byte("auth-secret-auth-secret-auth-secret!")

func newTestAuth(t *testing.T) *AuthService {
	t.Helper()
	s, err := NewAuthService(&AuthServiceConfig{Secret: authSecret, Issuer: "tokvault"})
	if err != nil {
		t.Fatalf("NewAuthService() error = %v", err)
	}
	return s
}

func TestNewAuthService_WeakSecret(t *testing.T) {
	if _, err := NewAuthService(&AuthServiceConfig{Secret: []byte("short")}); err == nil {
		t.Error("NewAuthService() accepted a short secret")
	}
	if _, err := NewAuthService(nil); err == nil {
		t.Error("NewAuthService(nil) succeeded")
	}
}

func TestAuthService_IssueAuthenticate(t *testing.T) {
	s := newTestAuth(t)
	raw, err := s.Issue("checkout", RoleService, time.Hour)
	if err != nil {
		t.Fatalf("Issue() error = %v", err)
	}
	p, err := s.Authenticate(raw)
	if err != nil {
		t.Fatalf("Authenticate() error = %v", err)
	}
	if p.Subject != "checkout" || p.Role != RoleService {
		t.Errorf("principal = %+v", p)
	}
}

func TestAuthService_Rejects(t *testing.T) {
	s := newTestAuth(t)
	valid, _ := s.Issue("checkout", RoleService, time.Hour)

	other, _ := NewAuthService(&AuthServiceConfig{Secret: []byte("another-secret-another-secret-1234"), Issuer: "tokvault"})
	foreign, _ := other.Issue("checkout", RoleAdmin, time.Hour)

	wrongIssuer, _ := NewAuthService(&AuthServiceConfig{Secret: authSecret, Issuer: "someone-else"})
	misissued, _ := wrongIssuer.Issue("checkout", RoleAdmin, time.Hour)

	past := newTestAuth(t)
	past.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, _ := past.Issue("checkout", RoleService, time.Hour)

	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"empty", "", domain.ErrAuthMissing},
		{"garbage", "not.a.jwt", domain.ErrAuthInvalid},
		{"tampered", valid + "x", domain.ErrAuthInvalid},
		{"foreign secret", foreign, domain.ErrAuthInvalid},
		{"wrong issuer", misissued, domain.ErrAuthInvalid},
		{"expired", expired, domain.ErrAuthInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Authenticate(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("Authenticate() error = %v, want %v", err, tt.want)
			}
			if !IsAuthError(err) {
				t.Errorf("IsAuthError(%v) = false", err)
			}
		})
	}
}

func TestAuthService_Authorize(t *testing.T) {
	s := newTestAuth(t)
	tests := []struct {
		role     Role
		required Role
		ok       bool
	}{
		{RoleService, RoleService, true},
		{RoleAdmin, RoleService, true},
		{RoleAdmin, RoleAdmin, true},
		{RoleService, RoleAdmin, false},
	}
	for _, tt := range tests {
		err := s.Authorize(&Principal{Subject: "x", Role: tt.role}, tt.required)
		if (err == nil) != tt.ok {
			t.Errorf("Authorize(%s, %s) error = %v, want ok=%v", tt.role, tt.required, err, tt.ok)
		}
	}
	if err := s.Authorize(nil, RoleService); !errors.Is(err, domain.ErrAuthMissing) {
		t.Errorf("Authorize(nil) error = %v", err)
	}
}

func TestParseRole(t *testing.T) {
	if r, err := ParseRole("ADMIN"); err != nil || r != RoleAdmin {
		t.Errorf("ParseRole(ADMIN) = %q, %v", r, err)
	}
	if _, err := ParseRole("root"); err == nil {
		t.Error("ParseRole(root) succeeded")
	}
}

func TestRateLimiterRegistry(t *testing.T) {
	r := NewRateLimiterRegistry(60, 2)
	now := time.Now()
	r.now = func() time.Time { return now }

	if !r.Allow("1.2.3.4") || !r.Allow("1.2.3.4") {
		t.Fatal("burst not allowed")
	}
	if r.Allow("1.2.3.4") {
		t.Error("third request within burst window allowed")
	}
	if !r.Allow("5.6.7.8") {
		t.Error("other key throttled")
	}

	now = now.Add(time.Second)
	if !r.Allow("1.2.3.4") {
		t.Error("token not refilled after 1s at 60/min")
	}

	now = now.Add(time.Hour)
	if n := r.Prune(time.Minute); n != 2 || r.Len() != 0 {
		t.Errorf("Prune() = %d, Len() = %d, want 2, 0", n, r.Len())
	}
}
