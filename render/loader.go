package render

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/flosch/pongo2/v6"

	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
)

// Fetcher reads a resource through the local cache.
type Fetcher interface {
	ReadFile(ctx context.Context, d key.Descriptor) ([]byte, cache.Entry, error)
}

// URLLoader is a pongo2 TemplateLoader whose template names are URLs. Every
// lookup goes through a Fetcher, so includes share the cache's freshness
// and stale fallback rules.
//
// pongo2 loads templates without a context. Lookups run on a background
// context bounded by the cache's fetch timeout; the request's own context
// governs the batch that fetches the template and its declared partials
// before pongo2 sees them.
type URLLoader struct {
	fetcher Fetcher
	base    string

	mu     sync.RWMutex
	paths  map[string]string
	primed map[string]primedTemplate
}

type primedTemplate struct {
	url  string
	path string
}

var _ pongo2.TemplateLoader = (*URLLoader)(nil)

// NewURLLoader returns a loader that resolves relative names against base.
func NewURLLoader(fetcher Fetcher, base string) *URLLoader {
	return &URLLoader{
		fetcher: fetcher,
		base:    strings.TrimRight(base, "/"),
		paths:   map[string]string{},
		primed:  map[string]primedTemplate{},
	}
}

func (l *URLLoader) Abs(base, name string) string {
	ref, err := url.Parse(name)
	if err != nil || ref.IsAbs() {
		return name
	}
	if base == "" || !isURL(base) {
		if l.base == "" {
			return name
		}
		base = l.base + "/"
	}
	b, err := url.Parse(base)
	if err != nil {
		return name
	}
	return b.ResolveReference(ref).String()
}

func (l *URLLoader) Get(path string) (io.Reader, error) {
	l.mu.RLock()
	p, ok := l.primed[path]
	l.mu.RUnlock()
	if ok {
		if body, err := os.ReadFile(p.path); err == nil {
			l.mu.Lock()
			l.paths[p.path] = path
			l.mu.Unlock()
			return bytes.NewReader(body), nil
		}
		path = p.url
	}

	body, ent, err := l.fetcher.ReadFile(context.Background(), key.New(path))
	if err != nil {
		return nil, err
	}
	l.mu.Lock()
	l.paths[ent.Path] = path
	l.mu.Unlock()
	return bytes.NewReader(body), nil
}

// Prime records that url has already been fetched to the local file at
// path, so loading it does not go through the fetcher again. It returns the
// template name to load: url with the local file name as its fragment, so
// one URL cached under two extensions compiles as two templates. Relative
// includes resolve against it exactly as against url.
func (l *URLLoader) Prime(url, path string) string {
	name := url + "#" + filepath.Base(path)
	l.mu.Lock()
	defer l.mu.Unlock()
	l.primed[name] = primedTemplate{url: url, path: path}
	return name
}

// Loaded reports whether the local file at path has been handed to pongo2.
func (l *URLLoader) Loaded(path string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.paths[path]
	return ok
}

func isURL(s string) bool {
	u, err := url.Parse(s)
	return err == nil && u.IsAbs() && u.Host != ""
}
