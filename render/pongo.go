package render

import (
	"context"
	"fmt"

	"github.com/flosch/pongo2/v6"
)

// PongoEngine renders Django/Jinja style templates, the closest Go
// equivalent of nunjucks. Templates are loaded by URL through a URLLoader
// and compiled once until the cache reports a change.
type PongoEngine struct {
	set    *pongo2.TemplateSet
	loader *URLLoader
}

var (
	_ Engine      = (*PongoEngine)(nil)
	_ Invalidator = (*PongoEngine)(nil)
)

func NewPongoEngine(name string, loader *URLLoader) *PongoEngine {
	return &PongoEngine{
		set:    pongo2.NewSet(name, loader),
		loader: loader,
	}
}

func (e *PongoEngine) Render(ctx context.Context, src Source, data map[string]any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := src.Name
	if src.Path != "" {
		name = e.loader.Prime(src.Name, src.Path)
	}
	tpl, err := e.set.FromCache(name)
	if err != nil {
		return "", fmt.Errorf("compile %s: %w", src.Name, err)
	}
	out, err := tpl.Execute(pongo2.Context(data))
	if err != nil {
		return "", fmt.Errorf("execute %s: %w", src.Name, err)
	}
	return out, nil
}

// Invalidate drops every compiled template once one of the files it was
// built from changes. Includes are inlined at compile time, so a changed
// partial has to invalidate its parents too.
func (e *PongoEngine) Invalidate(path string) {
	if e.loader.Loaded(path) {
		e.set.CleanCache()
	}
}
