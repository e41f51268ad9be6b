package postprocess

import (
	"context"
	"html"
	"log/slog"
	"regexp"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	mhtml "github.com/tdewolff/minify/v2/html"
	"github.com/yosssi/gohtml"
)

const (
	minTitleBlock  = 10
	minInlineSEO   = 32
	inlineSEOStart = `<script type="text/seo">`
)

var (
	titlePattern     = regexp.MustCompile(`(?is)<title>.*?</title>`)
	bodyOpenPattern  = regexp.MustCompile(`(?i)<body[^>]*>`)
	inlineSEOPattern = regexp.MustCompile(`(?is)<script type="text/seo">(.*?)</script>`)
)

type Minifier interface {
	Minify(html string) (string, error)
}

type Formatter interface {
	Format(html string) string
}

// Processor applies the HTML transforms that follow rendering.
type Processor struct {
	minifier  Minifier
	formatter Formatter
	fragments FragmentRenderer
	logger    *slog.Logger
}

type options struct {
	minifier  Minifier
	formatter Formatter
	fragments FragmentRenderer
	logger    *slog.Logger
}

type Option interface {
	apply(opts *options)
}

var (
	_ Option = minifierOption{}
	_ Option = formatterOption{}
	_ Option = fragmentsOption{}
	_ Option = loggerOption{}
)

type minifierOption struct {
	minifier Minifier
}

func (o minifierOption) apply(opts *options) {
	opts.minifier = o.minifier
}

func WithMinifier(minifier Minifier) minifierOption {
	return minifierOption{minifier}
}

type formatterOption struct {
	formatter Formatter
}

func (o formatterOption) apply(opts *options) {
	opts.formatter = o.formatter
}

func WithFormatter(formatter Formatter) formatterOption {
	return formatterOption{formatter}
}

type fragmentsOption struct {
	fragments FragmentRenderer
}

func (o fragmentsOption) apply(opts *options) {
	opts.fragments = o.fragments
}

// WithFragmentRenderer sets the renderer of the structured SEO block.
func WithFragmentRenderer(fragments FragmentRenderer) fragmentsOption {
	return fragmentsOption{fragments}
}

type loggerOption struct {
	logger *slog.Logger
}

func (o loggerOption) apply(opts *options) {
	opts.logger = o.logger
}

func WithLogger(logger *slog.Logger) loggerOption {
	return loggerOption{logger}
}

func New(opts ...Option) *Processor {
	options := &options{
		minifier:  NewMinifier(),
		formatter: Indenter{},
		fragments: HTMLFragments{},
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o.apply(options)
	}
	return &Processor{
		minifier:  options.minifier,
		formatter: options.formatter,
		fragments: options.fragments,
		logger:    options.logger,
	}
}

// Apply runs, in order: title replace, head and body splices, the inline
// SEO block, the structured SEO block, pretty-printing, minification and a
// final trim. Each step is skipped when its input is absent. The SEO block
// replaces the title block, so a document without one keeps no SEO block.
func (p *Processor) Apply(ctx context.Context, doc string, o Options) (string, error) {
	if o.Extra != nil {
		if o.Extra.Title != "" {
			doc = ReplaceTitle(doc, o.Extra.Title)
		}
		doc = Splice(doc, *o.Extra)
	}
	doc = p.inlineSEO(ctx, doc)
	if !o.SEO.IsZero() {
		if loc := titleBlock(doc); loc != nil {
			block, err := renderSEO(ctx, p.fragments, *o.SEO, doc[loc[0]:loc[1]])
			if err != nil {
				return "", err
			}
			doc = doc[:loc[0]] + block + doc[loc[1]:]
		} else {
			p.logger.DebugContext(ctx, "no title block, skipping seo block")
		}
	}
	if o.Pretty {
		doc = p.formatter.Format(doc)
	}
	if o.Minify {
		m, err := p.minifier.Minify(doc)
		if err != nil {
			return "", err
		}
		doc = m
	}
	return strings.TrimSpace(doc), nil
}

// ReplaceTitle swaps the first <title> block for title. Plain text is
// wrapped in a title element; a value that starts with markup is used as is.
func ReplaceTitle(doc, title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return doc
	}
	if !strings.HasPrefix(title, "<") {
		title = "<title>" + html.EscapeString(title) + "</title>"
	}
	return replaceTitleBlock(doc, title)
}

func replaceTitleBlock(doc, block string) string {
	loc := titleBlock(doc)
	if loc == nil {
		return doc
	}
	return doc[:loc[0]] + block + doc[loc[1]:]
}

// titleBlock locates the first <title> block long enough to be replaced.
func titleBlock(doc string) []int {
	loc := titlePattern.FindStringIndex(doc)
	if loc == nil || loc[1]-loc[0] <= minTitleBlock {
		return nil
	}
	return loc
}

// Splice inserts the extra markup around the title, at the end of the head
// and at both ends of the body. Without a body element the content is
// prepended or appended to the whole document.
func Splice(doc string, e Extra) string {
	if e.TitleTop != "" {
		doc = strings.Replace(doc, "<title>", e.TitleTop+"<title>", 1)
	}
	if e.TitleBottom != "" {
		doc = strings.Replace(doc, "</title>", "</title>"+e.TitleBottom, 1)
	}
	if e.HeadAppends != "" {
		doc = strings.Replace(doc, "</head>", e.HeadAppends+"</head>", 1)
	}
	if e.ContentPrepends != "" {
		if loc := bodyOpenPattern.FindStringIndex(doc); loc != nil {
			doc = doc[:loc[1]] + e.ContentPrepends + doc[loc[1]:]
		} else {
			doc = e.ContentPrepends + doc
		}
	}
	if e.ContentAppends != "" {
		if i := strings.LastIndex(doc, "</body>"); i >= 0 {
			doc = doc[:i] + e.ContentAppends + doc[i:]
		} else {
			doc += e.ContentAppends
		}
	}
	return doc
}

// inlineSEO moves a <script type="text/seo"> block authored in the body
// into the title slot.
func (p *Processor) inlineSEO(ctx context.Context, doc string) string {
	if !strings.Contains(doc, inlineSEOStart) {
		return doc
	}
	m := inlineSEOPattern.FindStringSubmatch(doc)
	if m == nil || len(m[0]) <= minInlineSEO {
		return doc
	}
	p.logger.DebugContext(ctx, "moving inline seo block into head")
	doc = inlineSEOPattern.ReplaceAllString(doc, "")
	return ReplaceTitle(doc, m[1])
}

// HTMLMinifier minifies documents and their inline stylesheets, keeping
// html, head and body tags and closing tags so later splices still work.
type HTMLMinifier struct {
	m *minify.M
}

func NewMinifier() *HTMLMinifier {
	m := minify.New()
	m.Add("text/html", &mhtml.Minifier{
		KeepDocumentTags: true,
		KeepEndTags:      true,
		KeepQuotes:       true,
	})
	m.AddFunc("text/css", css.Minify)
	return &HTMLMinifier{m: m}
}

func (h *HTMLMinifier) Minify(doc string) (string, error) {
	return h.m.String("text/html", doc)
}

// Indenter pretty-prints with gohtml.
type Indenter struct{}

func (Indenter) Format(doc string) string {
	return gohtml.Format(doc)
}
