// Package remoteviews renders remotely hosted templates. Templates, partials,
// widgets and JSON state are fetched through a per-bucket file cache, merged
// into one render context, rendered by a named engine and post-processed.
package remoteviews

import (
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/postprocess"
	"github.com/Arthur1/remote-views/render"
)

const (
	defaultTemplateName = "page.htm"
	defaultNavName      = "nav.phtm"
	tracerName          = "github.com/Arthur1/remote-views"
)

// ViewEngine renders requests for one bucket.
type ViewEngine struct {
	bucket      *cache.Bucket
	registry    *render.Registry
	processor   *postprocess.Processor
	logger      *slog.Logger
	tracer      trace.Tracer
	recorder    Recorder
	baseURL     string
	unsubscribe func()
}

// Recorder observes completed renders.
type Recorder interface {
	ObserveRender(bucket, engine string, elapsed time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) ObserveRender(string, string, time.Duration, error) {}

var (
	defaultLogger = slog.Default()
)

type options struct {
	registry       *render.Registry
	processor      *postprocess.Processor
	logger         *slog.Logger
	tracerProvider trace.TracerProvider
	recorder       Recorder
	initURL        string
}

type Option interface {
	apply(opts *options)
}

var (
	_ Option = registryOption{}
	_ Option = processorOption{}
	_ Option = loggerOption{}
	_ Option = tracerProviderOption{}
	_ Option = recorderOption{}
	_ Option = baseURLOption("")
)

type registryOption struct {
	registry *render.Registry
}

func (o registryOption) apply(opts *options) {
	opts.registry = o.registry
}

// WithRegistry replaces the built-in engines.
func WithRegistry(registry *render.Registry) registryOption {
	return registryOption{registry}
}

type processorOption struct {
	processor *postprocess.Processor
}

func (o processorOption) apply(opts *options) {
	opts.processor = o.processor
}

func WithProcessor(processor *postprocess.Processor) processorOption {
	return processorOption{processor}
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

type tracerProviderOption struct {
	tp trace.TracerProvider
}

func (o tracerProviderOption) apply(opts *options) {
	opts.tracerProvider = o.tp
}

func WithTracerProvider(tp trace.TracerProvider) tracerProviderOption {
	return tracerProviderOption{tp}
}

type recorderOption struct {
	recorder Recorder
}

func (o recorderOption) apply(opts *options) {
	opts.recorder = o.recorder
}

func WithRecorder(recorder Recorder) recorderOption {
	return recorderOption{recorder}
}

type baseURLOption string

func (o baseURLOption) apply(opts *options) {
	opts.initURL = string(o)
}

// WithBaseURL derives the bucket defaults from initURL. When initURL has a
// /{bucket}/ segment, requests without a template URL render
// {base}/page.htm with {base}/nav.phtm as the "nav" partial, where base is
// initURL up to and including /{bucket}.
func WithBaseURL(initURL string) baseURLOption {
	return baseURLOption(initURL)
}

// New returns a ViewEngine for bucket. The engine subscribes to cache
// updates to drop compiled templates; Close removes the subscription.
func New(c *cache.Cache, bucket string, opts ...Option) (*ViewEngine, error) {
	b, err := c.Bucket(bucket)
	if err != nil {
		return nil, &ConfigurationError{Field: "bucket", Reason: "invalid", Err: err}
	}

	options := &options{
		logger:         defaultLogger,
		tracerProvider: otel.GetTracerProvider(),
		recorder:       nopRecorder{},
	}
	for _, o := range opts {
		o.apply(options)
	}

	base := baseURL(options.initURL, b.Name())
	if options.registry == nil {
		options.registry = render.NewDefaultRegistry(b.Name(), render.NewURLLoader(b, base))
	}
	if options.processor == nil {
		popts := []postprocess.Option{postprocess.WithLogger(options.logger)}
		if fr, err := options.registry.Fragment(render.FragmentEngine); err == nil {
			popts = append(popts, postprocess.WithFragmentRenderer(fr))
		}
		options.processor = postprocess.New(popts...)
	}

	v := &ViewEngine{
		bucket:    b,
		registry:  options.registry,
		processor: options.processor,
		logger:    options.logger,
		tracer:    options.tracerProvider.Tracer(tracerName),
		recorder:  options.recorder,
		baseURL:   base,
	}
	v.unsubscribe = c.Subscribe(v.registry.Invalidate)
	return v, nil
}

func (v *ViewEngine) Bucket() *cache.Bucket {
	return v.bucket
}

func (v *ViewEngine) Close() {
	v.unsubscribe()
}

// baseURL returns initURL up to and including /{bucket}, or "" when
// initURL has no such segment.
func baseURL(initURL, bucket string) string {
	if initURL == "" || bucket == "" {
		return ""
	}
	seg := "/" + bucket + "/"
	i := strings.Index(strings.ToLower(initURL), seg)
	if i < 0 {
		return ""
	}
	return initURL[:i+len(seg)-1]
}

// defaults returns the template and nav URLs implied by base.
func defaults(base string) (string, string) {
	if base == "" {
		return "", ""
	}
	return base + "/" + defaultTemplateName, base + "/" + defaultNavName
}
