package render

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// MarkdownEngine expands a markdown file as a text/template and converts
// the result to HTML.
type MarkdownEngine struct {
	md goldmark.Markdown
}

var _ Engine = (*MarkdownEngine)(nil)

func NewMarkdownEngine() *MarkdownEngine {
	return &MarkdownEngine{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

func (e *MarkdownEngine) Render(_ context.Context, src Source, data map[string]any) (string, error) {
	opts := parseOptions(src.Options)
	fsys := os.DirFS(src.BaseDir)
	body, err := readIn(fsys, src.BaseDir, src.Path)
	if err != nil {
		return "", err
	}
	tmpl, err := template.New(filepath.Base(src.Path)).
		Delims(opts.leftDelim, opts.rightDelim).
		Option(opts.missingKey()).
		Funcs(sprig.TxtFuncMap()).
		Parse(string(body))
	if err != nil {
		return "", err
	}
	for _, n := range sortedKeys(src.Partials) {
		pb, err := readIn(fsys, src.BaseDir, src.Partials[n])
		if err != nil {
			return "", err
		}
		if _, err := tmpl.New(n).Parse(string(pb)); err != nil {
			return "", err
		}
	}

	var expanded bytes.Buffer
	if err := tmpl.Execute(&expanded, data); err != nil {
		return "", err
	}
	var out bytes.Buffer
	if err := e.md.Convert(expanded.Bytes(), &out); err != nil {
		return "", err
	}
	return out.String(), nil
}
