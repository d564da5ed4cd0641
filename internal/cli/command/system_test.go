package command

import (
	"net/http"
	"strings"
	"testing"
)

func TestSystemCommand(t *testing.T) {
	cmd := SystemCommand()
	if cmd.Name != "system" || len(cmd.Aliases) == 0 || cmd.Aliases[0] != "sys" {
		t.Fatalf("unexpected command: %s %v", cmd.Name, cmd.Aliases)
	}
	subs := map[string]bool{}
	for _, sub := range cmd.Subcommands {
		subs[sub.Name] = sub.Action != nil
	}
	for _, name := range []string{"status", "health", "ready"} {
		if !subs[name] {
			t.Errorf("missing subcommand or action: %s", name)
		}
	}
}

func TestSystemHealth(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /health", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
	})

	out, err := runApp(t, srv.URL, "system", "health")
	if err != nil {
		t.Fatalf("system health error = %v", err)
	}
	if !strings.Contains(out, srv.URL) || !strings.Contains(out, "healthy") {
		t.Errorf("output = %q", out)
	}
}

func TestSystemReady_NotReady(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /ready", func(w http.ResponseWriter, r *http.Request) {
		errorResponse(w, http.StatusServiceUnavailable, "TV-SYS-5030", "not ready")
	})

	_, err := runApp(t, srv.URL, "sys", "ready")
	if err == nil || !strings.Contains(err.Error(), "ready check failed") {
		t.Fatalf("error = %v", err)
	}
}

func TestSystemStatus(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /admin/v1/status/summary", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, http.StatusOK, map[string]any{
			"status":         "running",
			"backend":        "memory",
			"catalog_assets": 4,
			"build":          map[string]any{"version": "1.2.3"},
		})
	})

	out, err := runApp(t, srv.URL, "system", "status")
	if err != nil {
		t.Fatalf("system status error = %v", err)
	}
	for _, want := range []string{"backend", "memory", "build.version", "1.2.3", "catalog_assets", "4"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSystemStatus_YAML(t *testing.T) {
	srv := newMockServer(t)
	srv.handle("GET /admin/v1/status/summary", func(w http.ResponseWriter, r *http.Request) {
		okResponse(w, http.StatusOK, map[string]any{"status": "running"})
	})

	out, err := runApp(t, srv.URL, "-o", "yaml", "system", "status")
	if err != nil {
		t.Fatalf("system status error = %v", err)
	}
	if strings.TrimSpace(out) != "status: running" {
		t.Errorf("output = %q", out)
	}
}
