package postprocess

import (
	"bytes"
	"context"
	"html/template"
)

const seoFragment = `{{ if .Title }}<title>{{ .Title }}</title>{{ else }}{{ .Existing }}{{ end }}
{{- with .CanonicalURL }}
<link rel="canonical" href="{{ . }}" />{{ end }}
{{- with .Description }}
<meta name="description" content="{{ . }}" />{{ end }}
{{- with .Robots }}
<meta name="robots" content="{{ . }}" />{{ end }}
<meta property="og:type" content="{{ or .PageType "article" }}" />
{{- with .Title }}
<meta property="og:title" content="{{ . }}" />{{ end }}
{{- with .Description }}
<meta property="og:description" content="{{ . }}" />{{ end }}
{{- with .CanonicalURL }}
<meta property="og:url" content="{{ . }}" />{{ end }}
{{- with .Image }}
<meta property="og:image" content="{{ . }}" />{{ end }}
{{- with .SiteName }}
<meta property="og:site_name" content="{{ . }}" />{{ end }}
{{- with .TwitterCard }}
<meta name="twitter:card" content="{{ . }}" />{{ end }}
{{- with .TwitterSite }}
<meta name="twitter:site" content="{{ . }}" />{{ end }}
{{- with .Title }}
<meta name="twitter:title" content="{{ . }}" />{{ end }}
{{- with .Description }}
<meta name="twitter:description" content="{{ . }}" />{{ end }}
{{- with .Image }}
<meta name="twitter:image" content="{{ . }}" />{{ end }}
{{- with .Title }}
<meta itemprop="name" content="{{ . }}" />{{ end }}
{{- with .Description }}
<meta itemprop="description" content="{{ . }}" />{{ end }}
{{- with .Image }}
<meta itemprop="image" content="{{ . }}" />{{ end }}`

// FragmentRenderer renders inline html/template text. The view engine
// passes its html render engine so the SEO block is rendered like any
// other template.
type FragmentRenderer interface {
	RenderFragment(ctx context.Context, name, text string, data any) (string, error)
}

// HTMLFragments renders fragments with html/template alone. It is the
// default when no render engine is supplied.
type HTMLFragments struct{}

func (HTMLFragments) RenderFragment(_ context.Context, name, text string, data any) (string, error) {
	tmpl, err := template.New(name).Parse(text)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type seoData struct {
	SEO
	Existing template.HTML
}

// renderSEO renders the metadata block. existing is the title block already
// in the document, kept when s has no title of its own.
func renderSEO(ctx context.Context, r FragmentRenderer, s SEO, existing string) (string, error) {
	return r.RenderFragment(ctx, "seo", seoFragment, seoData{SEO: s.Normalize(), Existing: template.HTML(existing)})
}
