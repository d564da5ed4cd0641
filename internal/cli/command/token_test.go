package command

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/yndnr/tokvault-go/internal/core/service"
	"github.com/yndnr/tokvault-go/pkg/token"
)

const testTokenSecret = "cli-test-token-secret-0123456789abcdef"

func mintToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	codec, err := token.NewCodec([]byte(testTokenSecret))
	if err != nil {
		t.Fatalf("NewCodec() error = %v", err)
	}
	tok, _, err := codec.Mint(token.MintRequest{
		OrderID: "ord-1", ProductID: "ebook-1", UserID: "u-1", TTL: ttl, MaxUses: 3,
	})
	if err != nil {
		t.Fatalf("Mint() error = %v", err)
	}
	return tok
}

func TestTokenInspect_Offline(t *testing.T) {
	tok := mintToken(t, time.Hour)

	out, err := runApp(t, "", "token", "inspect", "--secret", testTokenSecret, tok)
	if err != nil {
		t.Fatalf("token inspect error = %v", err)
	}
	for _, want := range []string{"ord-1", "ebook-1", "u-1", "max_uses", "valid"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, tok) {
		t.Error("output must not contain the full token")
	}
}

func TestTokenInspect_OfflineFromURL(t *testing.T) {
	tok := mintToken(t, time.Hour)
	out, err := runApp(t, "", "-o", "json", "token", "inspect", "--secret", testTokenSecret,
		"https://dl.example.com/download/"+tok)
	if err != nil {
		t.Fatalf("token inspect error = %v", err)
	}
	if !strings.Contains(out, `"status": "valid"`) {
		t.Errorf("output = %s", out)
	}
}

func TestTokenInspect_OfflineWrongSecret(t *testing.T) {
	tok := mintToken(t, time.Hour)
	_, err := runApp(t, "", "token", "inspect", "--secret", strings.Repeat("z", 40), tok)
	if err == nil {
		t.Fatal("expected integrity error")
	}
	if strings.Contains(err.Error(), tok) {
		t.Error("error must not contain the full token")
	}
}

func TestTokenInspect_NotAToken(t *testing.T) {
	_, err := runApp(t, "", "token", "inspect", "--secret", testTokenSecret, "hello")
	if err == nil || !strings.Contains(err.Error(), "not a download token") {
		t.Fatalf("error = %v", err)
	}
}

func TestTokenInspect_Remote(t *testing.T) {
	t.Setenv("TOKVAULT_SECURITY__TOKEN_SECRET", "")
	tok := mintToken(t, time.Hour)

	srv := newMockServer(t)
	srv.handle("GET /admin/v1/tokens/", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, http.StatusOK, service.TokenView{
			Token:     "tvdl_abc...xyz",
			Metadata:  token.Metadata{OrderID: "ord-1", ProductID: "ebook-1", MaxUses: 3},
			Status:    "valid",
			Remaining: 2,
		})
	})

	out, err := runApp(t, srv.URL, "--token", "admin", "token", "inspect", tok)
	if err != nil {
		t.Fatalf("token inspect error = %v", err)
	}
	req, _ := srv.lastRequest(t)
	if req.URL.Path != "/admin/v1/tokens/"+tok {
		t.Errorf("path = %q", req.URL.Path)
	}
	for _, want := range []string{"tvdl_abc...xyz", "remaining", "2"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestTokenSweep(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("POST /admin/v1/tokens/sweep", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, http.StatusOK, map[string]any{"removed": 7, "triggered_at": "2026-01-01T00:00:00Z"})
	})

	out, err := runApp(t, srv.URL, "token", "sweep", "--before", "2026-01-01T00:00:00Z")
	if err != nil {
		t.Fatalf("token sweep error = %v", err)
	}
	_, body := srv.lastRequest(t)
	if !strings.Contains(body, `"before":1767225600000`) {
		t.Errorf("body = %s", body)
	}
	if !strings.Contains(out, "7") {
		t.Errorf("output = %q", out)
	}
}

func TestTokenSweep_Forbidden(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("POST /admin/v1/tokens/sweep", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusForbidden, "TV-AUTH-4030", "permission denied")
	})
	_, err := runApp(t, srv.URL, "token", "sweep")
	if err == nil || !strings.Contains(err.Error(), "TV-AUTH-4030") {
		t.Fatalf("error = %v", err)
	}
}
