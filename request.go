package remoteviews

import (
	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
	"github.com/Arthur1/remote-views/postprocess"
)

// TemplateSpec names the template to render and how.
type TemplateSpec struct {
	URL           string                    `json:"url" validate:"omitempty,url"`
	Engine        string                    `json:"engine,omitempty"`
	EngineOptions map[string]any            `json:"engineOptions,omitempty"`
	Extension     string                    `json:"extension,omitempty" validate:"omitempty,max=16"`
	Pretty        bool                      `json:"pretty,omitempty"`
	Minify        bool                      `json:"minify,omitempty"`
	Partials      map[string]key.Descriptor `json:"partials,omitempty"`
}

// RenderRequest is one inbound render call.
type RenderRequest struct {
	Template    TemplateSpec              `json:"template"`
	State       map[string]any            `json:"state,omitempty"`
	Widgets     map[string]key.Descriptor `json:"widgets,omitempty"`
	StateURLs   map[string]key.Descriptor `json:"stateUrls,omitempty"`
	RelatedURLs []key.Descriptor          `json:"relatedUrls,omitempty"`
	Extra       *postprocess.Extra        `json:"extra,omitempty"`
	SEO         *postprocess.SEO          `json:"seo,omitempty" validate:"omitempty"`

	// InitURL is the URL the request itself was loaded from, if any. It
	// provides the bucket defaults when the template URL is omitted.
	InitURL string `json:"-"`
}

// Partial is a resolved named include.
type Partial struct {
	URL  string
	Path string
}

// RenderContext is everything a template sees. It is built per call and
// never shared.
type RenderContext struct {
	Template cache.Entry
	State    map[string]any
	Widgets  map[string]any
	Partials map[string]Partial
	Includes []string
	Extra    *postprocess.Extra
	SEO      *postprocess.SEO
}

// Data is the engine input: the state, with widgets under "widgets" and
// partial URLs under "partials".
func (rc *RenderContext) Data() map[string]any {
	data := make(map[string]any, len(rc.State)+2)
	for k, v := range rc.State {
		data[k] = v
	}
	data["widgets"] = rc.Widgets
	partials := make(map[string]string, len(rc.Partials))
	for n, p := range rc.Partials {
		partials[n] = p.URL
	}
	data["partials"] = partials
	return data
}

func (rc *RenderContext) partialPaths() map[string]string {
	paths := make(map[string]string, len(rc.Partials))
	for n, p := range rc.Partials {
		paths[n] = p.Path
	}
	return paths
}
