package assets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for paths that would escape a loader's root.
var ErrUnsafePath = errors.New("unsafe asset path")

// Loader fetches the encoded bytes of an asset.
type Loader interface {
	Load(ctx context.Context, path string) (io.ReadCloser, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, path string) (io.ReadCloser, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	return f(ctx, path)
}

// DirLoader reads assets from a directory tree.
type DirLoader struct {
	Root string
}

// Load implements Loader.
func (d DirLoader) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rel := filepath.FromSlash(strings.TrimPrefix(path, "/"))
	if !filepath.IsLocal(rel) {
		return nil, fmt.Errorf("%w: %q", ErrUnsafePath, path)
	}
	return os.Open(filepath.Join(d.Root, rel))
}

// HTTPLoader fetches assets relative to a base URL.
type HTTPLoader struct {
	BaseURL string
	Client  *http.Client
}

// Load implements Loader.
func (h HTTPLoader) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	u, err := url.JoinPath(h.BaseURL, path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	return resp.Body, nil
}

// BlobPrefix marks asset paths served from the blob store.
const BlobPrefix = "blob:"

// BlobOpener opens stored blobs by id.
type BlobOpener interface {
	OpenBlob(ctx context.Context, id string) (io.ReadCloser, error)
}

// BlobLoader serves "blob:<id>" paths from a BlobOpener.
type BlobLoader struct {
	Blobs BlobOpener
}

// Load implements Loader.
func (b BlobLoader) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	id, ok := strings.CutPrefix(path, BlobPrefix)
	if !ok || id == "" {
		return nil, fmt.Errorf("not a blob path: %q", path)
	}
	return b.Blobs.OpenBlob(ctx, id)
}

// MultiLoader routes paths by prefix. Paths matching no route go to Default.
type MultiLoader struct {
	Routes  map[string]Loader
	Default Loader
}

// Load implements Loader.
func (m MultiLoader) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	best := ""
	var loader Loader
	for prefix, l := range m.Routes {
		if strings.HasPrefix(path, prefix) && len(prefix) > len(best) {
			best, loader = prefix, l
		}
	}
	if loader == nil {
		loader = m.Default
	}
	if loader == nil {
		return nil, fmt.Errorf("no loader for %q", path)
	}
	return loader.Load(ctx, path)
}
