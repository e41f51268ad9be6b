package postprocess

import (
	"strings"
)

// Extra carries per-request markup splices.
type Extra struct {
	Title           string `json:"title,omitempty"`
	HeadAppends     string `json:"headAppends,omitempty"`
	ContentPrepends string `json:"contentPrepends,omitempty"`
	ContentAppends  string `json:"contentAppends,omitempty"`
	TitleTop        string `json:"titleTop,omitempty"`
	TitleBottom     string `json:"titleBottom,omitempty"`
}

// SEO holds the fields of the generated metadata block.
type SEO struct {
	Title        string `json:"title,omitempty"`
	CanonicalURL string `json:"canonicalUrl,omitempty" validate:"omitempty,url"`
	Description  string `json:"description,omitempty"`
	Image        string `json:"image,omitempty"`
	SiteName     string `json:"siteName,omitempty"`
	TwitterCard  string `json:"twitterCard,omitempty"`
	TwitterSite  string `json:"twitterSite,omitempty"`
	Robots       string `json:"robots,omitempty"`
	Host         string `json:"host,omitempty"`
	BasePath     string `json:"basePath,omitempty"`
	Slug         string `json:"slug,omitempty"`
	PageType     string `json:"pageType,omitempty"`
}

func (s *SEO) IsZero() bool {
	return s == nil || *s == SEO{}
}

// Normalize fills derived fields: the host gains an https scheme, slashes
// are trimmed from host, base path and slug, the canonical URL defaults to
// host/basePath/slug and the page type to "website" on the site root.
func (s SEO) Normalize() SEO {
	s.Host = strings.Trim(strings.TrimSpace(s.Host), "/")
	s.BasePath = strings.Trim(strings.TrimSpace(s.BasePath), "/")
	s.Slug = strings.Trim(strings.TrimSpace(s.Slug), "/")
	if s.Host != "" && !strings.HasPrefix(s.Host, "http://") && !strings.HasPrefix(s.Host, "https://") {
		s.Host = "https://" + s.Host
	}
	if s.CanonicalURL == "" && s.Host != "" {
		parts := []string{s.Host}
		for _, p := range []string{s.BasePath, s.Slug} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		s.CanonicalURL = strings.Join(parts, "/")
	}
	if s.PageType == "" && s.BasePath == "" {
		s.PageType = "website"
	}
	if s.TwitterCard == "" && s.Image != "" {
		s.TwitterCard = "summary_large_image"
	}
	return s
}

// Options selects the transforms Apply runs.
type Options struct {
	Extra  *Extra
	SEO    *SEO
	Pretty bool
	Minify bool
}
