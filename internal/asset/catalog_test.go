package asset

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/yndnr/tokvault-go/internal/core/domain"
)

const manifest = `
root: files
products:
  handbook:
    name: The Go Handbook
    file: handbook.pdf
  soundtrack:
    name: Soundtrack
    file: audio/soundtrack.bin
    content_type: audio/flac
  course:
    name: Video Course
    file: course.mp4
`

func writeCatalog(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(path, []byte(manifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(dir, "files", "audio"), 0o755); err != nil {
		t.Fatal(err)
	}
	for name, body := range map[string]string{
		"handbook.pdf":         "%PDF-1.7 handbook",
		"audio/soundtrack.bin": "fLaC",
	} {
		if err := os.WriteFile(filepath.Join(dir, "files", name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return path
}

func TestResolver_Resolve(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t))
	if err != nil {
		t.Fatalf("LoadCatalog() error = %v", err)
	}
	r := NewResolver(c)
	ctx := context.Background()

	a, err := r.Resolve(ctx, "handbook")
	if err != nil {
		t.Fatalf("Resolve(handbook) error = %v", err)
	}
	if a.Name != "The Go Handbook" || a.FileName != "handbook.pdf" || a.ContentType != "application/pdf" || a.Size != 17 {
		t.Errorf("Resolve(handbook) = %+v", a)
	}

	a, err = r.Resolve(ctx, "soundtrack")
	if err != nil {
		t.Fatal(err)
	}
	if a.ContentType != "audio/flac" || a.FileName != "soundtrack.bin" {
		t.Errorf("Resolve(soundtrack) = %+v", a)
	}

	for _, id := range []string{"course", "unknown"} {
		if _, err := r.Resolve(ctx, id); !errors.Is(err, domain.ErrAssetUnavailable) {
			t.Errorf("Resolve(%s) error = %v, want ErrAssetUnavailable", id, err)
		}
	}
}

func TestResolver_Open(t *testing.T) {
	c, err := LoadCatalog(writeCatalog(t))
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(c)
	ctx := context.Background()

	a, _ := r.Resolve(ctx, "handbook")
	rc, err := r.Open(ctx, a)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "%PDF-1.7 handbook" {
		t.Errorf("Open() content = %q", data)
	}
}

func TestResolver_ReloadStagesNewFile(t *testing.T) {
	path := writeCatalog(t)
	c, err := LoadCatalog(path)
	if err != nil {
		t.Fatal(err)
	}
	r := NewResolver(c)
	if _, err := r.Resolve(context.Background(), "course"); err == nil {
		t.Fatal("course resolved before staging")
	}

	if err := os.WriteFile(filepath.Join(filepath.Dir(path), "files", "course.mp4"), []byte("mp4"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := r.Reload(path); err != nil {
		t.Fatalf("Reload() error = %v", err)
	}
	if _, err := r.Resolve(context.Background(), "course"); err != nil {
		t.Errorf("Resolve(course) after staging error = %v", err)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}
}

func TestParseCatalog_Invalid(t *testing.T) {
	tests := map[string]string{
		"no root":       "products:\n  a:\n    file: a.pdf\n",
		"escapes root":  "root: /srv\nproducts:\n  a:\n    file: ../etc/passwd\n",
		"absolute file": "root: /srv\nproducts:\n  a:\n    file: /etc/passwd\n",
		"missing file":  "root: /srv\nproducts:\n  a:\n    name: A\n",
		"unknown key":   "root: /srv\nextra: 1\n",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := ParseCatalog(strings.NewReader(doc)); err == nil {
				t.Error("ParseCatalog() succeeded, want error")
			}
		})
	}
}
