package asset

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/yndnr/tokvault-go/internal/core/domain"
	"github.com/yndnr/tokvault-go/internal/core/service"
)

const defaultContentType = "application/octet-stream"

// Entry describes one product file.
type Entry struct {
	Name        string `yaml:"name"`
	File        string `yaml:"file"`
	ContentType string `yaml:"content_type,omitempty"`
}

// Catalog is the parsed manifest.
type Catalog struct {
	Root     string           `yaml:"root"`
	Products map[string]Entry `yaml:"products"`
}

// ParseCatalog decodes and validates a manifest. Unknown keys are errors.
func ParseCatalog(r io.Reader) (*Catalog, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var c Catalog
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("asset: parse catalog: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// LoadCatalog reads a manifest from path. A relative root is resolved
// against the manifest's directory.
func LoadCatalog(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("asset: open catalog: %w", err)
	}
	defer f.Close()

	c, err := ParseCatalog(f)
	if err != nil {
		return nil, err
	}
	if !filepath.IsAbs(c.Root) {
		c.Root = filepath.Join(filepath.Dir(path), c.Root)
	}
	return c, nil
}

// Validate checks that every entry names a file inside Root.
func (c *Catalog) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("asset: catalog root is required")
	}
	for id, e := range c.Products {
		if id == "" || e.File == "" {
			return fmt.Errorf("asset: product %q: file is required", id)
		}
		if filepath.IsAbs(e.File) || !filepath.IsLocal(e.File) {
			return fmt.Errorf("asset: product %q: file %q must be relative to root", id, e.File)
		}
	}
	return nil
}

// Resolver is a file-system service.AssetResolver over a Catalog. The
// catalog can be swapped at runtime.
type Resolver struct {
	catalog atomic.Pointer[Catalog]
}

var _ service.AssetResolver = (*Resolver)(nil)

// NewResolver creates a resolver over c.
func NewResolver(c *Catalog) *Resolver {
	r := &Resolver{}
	r.catalog.Store(c)
	return r
}

// Reload replaces the catalog with the manifest at path.
func (r *Resolver) Reload(path string) error {
	c, err := LoadCatalog(path)
	if err != nil {
		return err
	}
	r.catalog.Store(c)
	return nil
}

// Len returns the number of catalogued products.
func (r *Resolver) Len() int {
	return len(r.catalog.Load().Products)
}

// Resolve returns the staged file for productID.
func (r *Resolver) Resolve(ctx context.Context, productID string) (*service.Asset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := r.catalog.Load()
	e, ok := c.Products[productID]
	if !ok {
		return nil, domain.ErrAssetUnavailable.WithDetails("product " + productID + " is not in the catalog")
	}

	info, err := os.Stat(filepath.Join(c.Root, e.File))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrAssetUnavailable.WithDetails("file for " + productID + " is not staged")
	}
	if err != nil {
		return nil, fmt.Errorf("asset: stat %s: %w", productID, err)
	}
	if !info.Mode().IsRegular() {
		return nil, domain.ErrAssetUnavailable.WithDetails("file for " + productID + " is not a regular file")
	}

	name := e.Name
	if name == "" {
		name = productID
	}
	return &service.Asset{
		ProductID:   productID,
		Name:        name,
		FileName:    filepath.Base(e.File),
		ContentType: contentType(e),
		Size:        info.Size(),
	}, nil
}

// Open opens the file of a resolved asset.
func (r *Resolver) Open(ctx context.Context, a *service.Asset) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := r.catalog.Load()
	e, ok := c.Products[a.ProductID]
	if !ok {
		return nil, domain.ErrAssetUnavailable.WithDetails("product " + a.ProductID + " is not in the catalog")
	}
	f, err := os.Open(filepath.Join(c.Root, e.File))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.ErrAssetUnavailable.WithDetails("file for " + a.ProductID + " is not staged")
	}
	if err != nil {
		return nil, fmt.Errorf("asset: open %s: %w", a.ProductID, err)
	}
	return f, nil
}

func contentType(e Entry) string {
	if e.ContentType != "" {
		return e.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(e.File))); ct != "" {
		return ct
	}
	return defaultContentType
}
