package forms

import (
	"context"
	"log/slog"
	"path"
	"strings"
)

type Lister interface {
	List(ctx context.Context, prefix string) ([]string, error)
}

// Catalog is the read-only list of downloadable forms.
type Catalog struct {
	prefix string
	names  []string
	keys   map[string]string
}

// NewCatalog assumes every name sits directly under prefix.
func NewCatalog(prefix string, names []string) *Catalog {
	c := &Catalog{prefix: prefix, keys: make(map[string]string)}
	for _, n := range names {
		c.add(n, prefix+n)
	}
	return c
}

func (c *Catalog) add(name, key string) {
	if _, dup := c.keys[name]; dup {
		return
	}
	c.names = append(c.names, name)
	c.keys[name] = key
}

// LoadCatalog lists the PDF files under prefix. A listing failure yields an
// empty catalog so the assistant still starts.
func LoadCatalog(ctx context.Context, lister Lister, prefix string) *Catalog {
	keys, err := lister.List(ctx, prefix)
	if err != nil {
		slog.ErrorContext(ctx, "failed to list forms, continuing with empty catalog", "prefix", prefix, "error", err)
		return NewCatalog(prefix, nil)
	}

	c := NewCatalog(prefix, nil)
	for _, key := range keys {
		name := path.Base(key)
		if strings.HasSuffix(key, "/") || !strings.EqualFold(path.Ext(name), ".pdf") {
			continue
		}
		c.add(name, key)
	}
	slog.InfoContext(ctx, "form catalog loaded", "prefix", prefix, "forms", c.Len())
	return c
}

func (c *Catalog) Names() []string {
	return append([]string(nil), c.names...)
}

func (c *Catalog) Len() int { return len(c.names) }

// Key maps a catalog name back to its object key.
func (c *Catalog) Key(name string) string {
	if k, ok := c.keys[name]; ok {
		return k
	}
	return c.prefix + name
}

// Stem is name without a trailing ".pdf" in any case.
func Stem(name string) string {
	if strings.EqualFold(path.Ext(name), ".pdf") {
		return name[:len(name)-4]
	}
	return name
}
