package command

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/urfave/cli/v2"
)

// mockServer routes requests by "METHOD /path" prefix.
type mockServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	requests []*http.Request
	bodies   []string
}

func newMockServer(t *testing.T) *mockServer {
	t.Helper()
	m := &mockServer{handlers: make(map[string]http.HandlerFunc)}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		m.mu.Lock()
		m.requests = append(m.requests, r)
		m.bodies = append(m.bodies, body.String())
		m.mu.Unlock()

		key := r.Method + " " + r.URL.Path
		for pattern, handler := range m.handlers {
			if strings.HasPrefix(key, pattern) {
				handler(w, r)
				return
			}
		}
		http.NotFound(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

func (m *mockServer) handle(pattern string, handler http.HandlerFunc) {
	m.handlers[pattern] = handler
}

func (m *mockServer) lastRequest(t *testing.T) (*http.Request, string) {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		t.Fatal("no request received")
	}
	n := len(m.requests) - 1
	return m.requests[n], m.bodies[n]
}

// okResponse writes a success envelope.
func okResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": "OK", "message": "Success", "data": data})
}

// errorResponse writes an error envelope.
func errorResponse(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{"code": code, "message": message})
}

// runApp runs the CLI against server with an isolated config file and
// returns stdout.
func runApp(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	app := App()
	app.Writer = &out
	app.ErrWriter = &errOut
	app.ExitErrHandler = func(*cli.Context, error) {}

	full := []string{"tokvault-cli", "--config", filepath.Join(t.TempDir(), "cli.yaml")}
	if server != "" {
		full = append(full, "--server", server)
	}
	full = append(full, args...)
	err := app.RunContext(context.Background(), full)
	return out.String(), err
}
