// Package handler is the front end: it turns inbound events into render
// requests and render results into status codes.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	remoteviews "github.com/Arthur1/remote-views"
	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
)

// Event is one inbound call, shaped like an API gateway proxy event.
type Event struct {
	Bucket                string            `json:"bucket"`
	Body                  string            `json:"body"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	Headers               map[string]string `json:"headers"`
}

type Response struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

// Handler renders events, keeping one ViewEngine per bucket.
type Handler struct {
	cache       *cache.Cache
	viewOptions []remoteviews.Option
	logger      *slog.Logger
	validate    *validator.Validate

	mu      sync.Mutex
	engines map[string]*remoteviews.ViewEngine
}

var (
	defaultLogger = slog.Default()
)

type options struct {
	viewOptions []remoteviews.Option
	logger      *slog.Logger
}

type Option interface {
	apply(opts *options)
}

var (
	_ Option = viewOptionsOption{}
	_ Option = loggerOption{}
)

type viewOptionsOption []remoteviews.Option

func (o viewOptionsOption) apply(opts *options) {
	opts.viewOptions = append(opts.viewOptions, o...)
}

// WithViewOptions is passed to every ViewEngine the handler creates.
func WithViewOptions(opts ...remoteviews.Option) viewOptionsOption {
	return viewOptionsOption(opts)
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

func New(c *cache.Cache, opts ...Option) *Handler {
	options := &options{
		logger: defaultLogger,
	}
	for _, o := range opts {
		o.apply(options)
	}
	return &Handler{
		cache:       c,
		viewOptions: append([]remoteviews.Option{remoteviews.WithLogger(options.logger)}, options.viewOptions...),
		logger:      options.logger,
		validate:    validator.New(validator.WithRequiredStructEnabled()),
		engines:     map[string]*remoteviews.ViewEngine{},
	}
}

// Engine returns the ViewEngine of bucket, creating it on first use.
func (h *Handler) Engine(bucket string) (*remoteviews.ViewEngine, error) {
	name, err := cache.NormalizeBucket(bucket)
	if err != nil {
		return nil, &remoteviews.ConfigurationError{Field: "bucket", Reason: "invalid", Err: err}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if v, ok := h.engines[name]; ok {
		return v, nil
	}
	v, err := remoteviews.New(h.cache, name, h.viewOptions...)
	if err != nil {
		return nil, err
	}
	h.engines[name] = v
	return v, nil
}

// Close releases every ViewEngine.
func (h *Handler) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, v := range h.engines {
		v.Close()
		delete(h.engines, name)
	}
}

// Template renders the request carried in the event body.
func (h *Handler) Template(ctx context.Context, ev Event) Response {
	req, err := h.decode([]byte(ev.Body))
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	return h.render(ctx, ev, req)
}

// Remote loads the render request from the URL in the "url" query
// parameter, through the bucket's cache, and renders it. Bucket defaults
// resolve against that URL.
func (h *Handler) Remote(ctx context.Context, ev Event) Response {
	u := strings.TrimSpace(ev.QueryStringParameters["url"])
	if u == "" {
		return h.fail(ctx, ev, &remoteviews.ConfigurationError{Field: "url", Reason: "missing required query parameter"})
	}
	v, err := h.Engine(ev.Bucket)
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	body, _, err := v.Bucket().ReadFile(ctx, key.New(u))
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	req, err := h.decode(body)
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	req.InitURL = u
	return h.render(ctx, ev, req)
}

func (h *Handler) render(ctx context.Context, ev Event, req remoteviews.RenderRequest) Response {
	v, err := h.Engine(ev.Bucket)
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	html, err := v.Render(ctx, req)
	if err != nil {
		return h.fail(ctx, ev, err)
	}
	return Response{
		StatusCode: http.StatusOK,
		Headers:    map[string]string{"Content-Type": "text/html; charset=utf-8"},
		Body:       html,
	}
}

func (h *Handler) decode(b []byte) (remoteviews.RenderRequest, error) {
	req, err := remoteviews.DecodeRequest(b)
	if err != nil {
		return remoteviews.RenderRequest{}, &remoteviews.ConfigurationError{Field: "body", Reason: "malformed json", Err: err}
	}
	if err := h.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return remoteviews.RenderRequest{}, &remoteviews.ConfigurationError{Field: verrs[0].Namespace(), Reason: "failed " + verrs[0].Tag(), Err: err}
		}
		return remoteviews.RenderRequest{}, &remoteviews.ConfigurationError{Field: "body", Reason: "invalid", Err: err}
	}
	return req, nil
}

func (h *Handler) fail(ctx context.Context, ev Event, err error) Response {
	status := StatusCode(err)
	h.logger.WarnContext(ctx, "request failed", slog.String("bucket", ev.Bucket), slog.Int("status", status), slog.Any("error", err))
	return Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "text/plain; charset=utf-8"},
		Body:       fmt.Sprintf("%d %s: %v", status, http.StatusText(status), err),
	}
}

// StatusCode maps an error from this module to an HTTP status: 422 for
// configuration errors, 502 when the template could not be fetched and 500
// for everything else.
func StatusCode(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, remoteviews.ErrConfiguration):
		return http.StatusUnprocessableEntity
	case errors.Is(err, remoteviews.ErrRenderFailed):
		return http.StatusInternalServerError
	case errors.Is(err, cache.ErrFetchFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
