package render

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Masterminds/sprig/v3"
)

// GoTemplateEngine renders html/template files with the sprig function map.
// Parsed templates are cached per file, partial set and options.
type GoTemplateEngine struct {
	mu    sync.RWMutex
	cache map[string]cachedTemplate
}

type cachedTemplate struct {
	tmpl *template.Template
	deps []string
}

var (
	_ Engine           = (*GoTemplateEngine)(nil)
	_ Invalidator      = (*GoTemplateEngine)(nil)
	_ FragmentRenderer = (*GoTemplateEngine)(nil)
)

func NewGoTemplateEngine() *GoTemplateEngine {
	return &GoTemplateEngine{cache: map[string]cachedTemplate{}}
}

func (e *GoTemplateEngine) Render(_ context.Context, src Source, data map[string]any) (string, error) {
	opts := parseOptions(src.Options)
	tmpl, err := e.template(src, opts)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// RenderFragment executes inline template text. Fragments have no files
// behind them, so they stay parsed for the engine's lifetime.
func (e *GoTemplateEngine) RenderFragment(_ context.Context, name, text string, data any) (string, error) {
	cacheKey := "fragment|" + name + "|" + text
	e.mu.RLock()
	c, ok := e.cache[cacheKey]
	e.mu.RUnlock()
	if !ok {
		tmpl, err := template.New(name).Funcs(sprig.FuncMap()).Parse(text)
		if err != nil {
			return "", err
		}
		c = cachedTemplate{tmpl: tmpl}
		e.mu.Lock()
		e.cache[cacheKey] = c
		e.mu.Unlock()
	}
	var buf bytes.Buffer
	if err := c.tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (e *GoTemplateEngine) Invalidate(path string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for k, c := range e.cache {
		for _, d := range c.deps {
			if d == path {
				delete(e.cache, k)
				break
			}
		}
	}
}

func (e *GoTemplateEngine) template(src Source, opts engineOptions) (*template.Template, error) {
	names := sortedKeys(src.Partials)
	cacheKey := src.Path + "|" + opts.signature()
	for _, n := range names {
		cacheKey += "|" + n + "=" + src.Partials[n]
	}

	e.mu.RLock()
	c, ok := e.cache[cacheKey]
	e.mu.RUnlock()
	if ok {
		return c.tmpl, nil
	}

	fsys := os.DirFS(src.BaseDir)
	body, err := readIn(fsys, src.BaseDir, src.Path)
	if err != nil {
		return nil, err
	}
	tmpl, err := template.New(filepath.Base(src.Path)).
		Delims(opts.leftDelim, opts.rightDelim).
		Option(opts.missingKey()).
		Funcs(sprig.FuncMap()).
		Parse(string(body))
	if err != nil {
		return nil, err
	}
	deps := []string{src.Path}
	for _, n := range names {
		p := src.Partials[n]
		pb, err := readIn(fsys, src.BaseDir, p)
		if err != nil {
			return nil, fmt.Errorf("partial %s: %w", n, err)
		}
		if _, err := tmpl.New(n).Parse(string(pb)); err != nil {
			return nil, fmt.Errorf("partial %s: %w", n, err)
		}
		deps = append(deps, p)
	}

	e.mu.Lock()
	e.cache[cacheKey] = cachedTemplate{tmpl: tmpl, deps: deps}
	e.mu.Unlock()
	return tmpl, nil
}

// readIn reads path through fsys, refusing anything outside baseDir.
func readIn(fsys fs.FS, baseDir, path string) ([]byte, error) {
	rel, err := filepath.Rel(baseDir, path)
	if err != nil {
		return nil, err
	}
	rel = filepath.ToSlash(rel)
	if !fs.ValidPath(rel) || strings.HasPrefix(rel, "../") {
		return nil, fmt.Errorf("%s is outside %s", path, baseDir)
	}
	return fs.ReadFile(fsys, rel)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
