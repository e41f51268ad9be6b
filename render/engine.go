package render

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

//go:generate mockgen -package=mock_render -source=engine.go -destination=mock/engine.go

var ErrUnknownEngine = errors.New("unknown template engine")

// Source identifies the template an Engine renders.
type Source struct {
	// Name is the template URL. Loader-backed engines resolve it themselves.
	Name string
	// Path is the local file holding the template body.
	Path string
	// BaseDir is the directory relative lookups are confined to.
	BaseDir  string
	Options  map[string]any
	Partials map[string]string
}

// Engine turns a template and its data into HTML.
type Engine interface {
	Render(ctx context.Context, src Source, data map[string]any) (string, error)
}

// FragmentRenderer is implemented by engines that render inline template
// text as well as template files.
type FragmentRenderer interface {
	RenderFragment(ctx context.Context, name, text string, data any) (string, error)
}

// Invalidator is implemented by engines that keep compiled templates. It is
// called with the local path of every cache file that was rewritten.
type Invalidator interface {
	Invalidate(path string)
}

type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

func NewRegistry() *Registry {
	return &Registry{engines: map[string]Engine{}}
}

// Register adds e under name and every alias. Names are case-insensitive.
func (r *Registry) Register(e Engine, name string, aliases ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range append([]string{name}, aliases...) {
		r.engines[strings.ToLower(n)] = e
	}
}

func (r *Registry) Lookup(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for n := range r.engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Fragment returns the engine registered under name as a FragmentRenderer.
func (r *Registry) Fragment(name string) (FragmentRenderer, error) {
	e, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	fr, ok := e.(FragmentRenderer)
	if !ok {
		return nil, fmt.Errorf("%w: %q cannot render fragments", ErrUnknownEngine, name)
	}
	return fr, nil
}

// Invalidate forwards path to every registered Invalidator once.
func (r *Registry) Invalidate(path string) {
	r.mu.RLock()
	seen := map[Invalidator]struct{}{}
	var targets []Invalidator
	for _, e := range r.engines {
		inv, ok := e.(Invalidator)
		if !ok {
			continue
		}
		if _, dup := seen[inv]; dup {
			continue
		}
		seen[inv] = struct{}{}
		targets = append(targets, inv)
	}
	r.mu.RUnlock()
	for _, inv := range targets {
		inv.Invalidate(path)
	}
}

const (
	// DefaultEngine is used when a request names no engine.
	DefaultEngine = "pongo2"
	// FragmentEngine renders generated markup such as the SEO block.
	FragmentEngine = "html"
)

// NewDefaultRegistry registers the built-in engines. The pongo2 engine loads
// templates through loader; the others read the local files they are given.
func NewDefaultRegistry(name string, loader *URLLoader) *Registry {
	r := NewRegistry()
	r.Register(NewPongoEngine(name, loader), DefaultEngine, "nunjucks", "django", "jinja")
	r.Register(NewGoTemplateEngine(), FragmentEngine, "gotemplate")
	r.Register(NewMarkdownEngine(), "markdown", "md")
	return r
}
