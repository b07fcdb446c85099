package loader

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

// ErrStatus is returned for a non-2xx HTTP response.
var ErrStatus = errors.New("loader: unexpected HTTP status")

// Fetcher opens the asset at a locator.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) (io.ReadCloser, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, locator string) (io.ReadCloser, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	return f(ctx, locator)
}

// HTTPFetcher fetches http and https URLs.
type HTTPFetcher struct {
	Client *http.Client
}

// Fetch issues a GET bound to ctx.
func (h HTTPFetcher) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}
	return resp.Body, nil
}

// FileFetcher opens local paths and file:// URLs. Relative paths resolve
// against Root when it is set.
type FileFetcher struct {
	Root string
}

// Fetch opens the file.
func (f FileFetcher) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := locator
	if u, err := url.Parse(locator); err == nil && u.Scheme == "file" {
		path = u.Path
	}
	if f.Root != "" && !filepath.IsAbs(path) {
		path = filepath.Join(f.Root, path)
	}
	return os.Open(path)
}

// SchemeMux routes a locator to a Fetcher by URL scheme. Locators without
// a scheme use the "" entry.
type SchemeMux map[string]Fetcher

// Fetch dispatches on the scheme.
func (m SchemeMux) Fetch(ctx context.Context, locator string) (io.ReadCloser, error) {
	scheme := ""
	if i := strings.Index(locator, "://"); i > 0 {
		scheme = strings.ToLower(locator[:i])
	}
	f, ok := m[scheme]
	if !ok {
		return nil, fmt.Errorf("loader: no fetcher for scheme %q", scheme)
	}
	return f.Fetch(ctx, locator)
}

// DefaultFetcher handles http, https, file URLs and bare paths.
func DefaultFetcher() Fetcher {
	h := HTTPFetcher{}
	f := FileFetcher{}
	return SchemeMux{
		"http":  h,
		"https": h,
		"file":  f,
		"":      f,
	}
}
