package remoteviews

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
	"github.com/Arthur1/remote-views/postprocess"
	"github.com/Arthur1/remote-views/render"
)

type slotKind int

const (
	slotTemplate slotKind = iota
	slotPartial
	slotWidget
	slotState
	slotRelated
)

func (k slotKind) String() string {
	switch k {
	case slotTemplate:
		return "template"
	case slotPartial:
		return "partial"
	case slotWidget:
		return "widget"
	case slotState:
		return "state"
	default:
		return "related"
	}
}

type slot struct {
	kind  slotKind
	name  string
	index int
}

// batch collects the descriptors of one request. Descriptors that resolve
// to the same local file are fetched once and shared by their slots.
type batch struct {
	bucket      *cache.Bucket
	descriptors []key.Descriptor
	byPath      map[string]int
	slots       []slot
}

func (b *batch) add(kind slotKind, name string, d key.Descriptor) error {
	loc, err := b.bucket.Locate(d)
	if err != nil {
		return err
	}
	idx, ok := b.byPath[loc.Path]
	if !ok {
		idx = len(b.descriptors)
		b.byPath[loc.Path] = idx
		b.descriptors = append(b.descriptors, d)
	}
	b.slots = append(b.slots, slot{kind: kind, name: name, index: idx})
	return nil
}

func sortedNames(m map[string]key.Descriptor) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Compose fetches everything req refers to in one concurrent batch and
// builds the render context. Only a failure to obtain the template itself
// is an error; other slots that cannot be fetched are left out.
func (v *ViewEngine) Compose(ctx context.Context, req RenderRequest) (*RenderContext, error) {
	ctx, span := v.tracer.Start(ctx, "remoteviews.Compose", trace.WithAttributes(
		attribute.String("remoteviews.bucket", v.bucket.Name()),
	))
	defer span.End()

	rc, err := v.compose(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("remoteviews.includes", len(rc.Includes)))
	return rc, nil
}

func (v *ViewEngine) compose(ctx context.Context, req RenderRequest) (*RenderContext, error) {
	templateURL := req.Template.URL
	partials := make(map[string]key.Descriptor, len(req.Template.Partials)+1)
	for n, d := range req.Template.Partials {
		partials[n] = d
	}
	if templateURL == "" {
		base := v.baseURL
		if b := baseURL(req.InitURL, v.bucket.Name()); b != "" {
			base = b
		}
		var nav string
		templateURL, nav = defaults(base)
		if _, ok := partials["nav"]; !ok && nav != "" {
			partials["nav"] = key.New(nav)
		}
	}
	if templateURL == "" {
		return nil, &ConfigurationError{Field: "template.url", Reason: "required"}
	}

	b := &batch{bucket: v.bucket, byPath: map[string]int{}}
	td := key.New(templateURL)
	td.Extension = req.Template.Extension
	if err := b.add(slotTemplate, "", td); err != nil {
		return nil, &ConfigurationError{Field: "template.url", Reason: "invalid", Err: err}
	}
	groups := []struct {
		kind slotKind
		m    map[string]key.Descriptor
	}{
		{slotPartial, partials},
		{slotWidget, req.Widgets},
		{slotState, req.StateURLs},
	}
	for _, g := range groups {
		for _, n := range sortedNames(g.m) {
			if err := b.add(g.kind, n, g.m[n]); err != nil {
				v.logger.WarnContext(ctx, "skipping descriptor", slog.String("kind", g.kind.String()), slog.String("name", n), slog.Any("error", err))
			}
		}
	}
	for _, d := range req.RelatedURLs {
		if err := b.add(slotRelated, "", d); err != nil {
			v.logger.WarnContext(ctx, "skipping descriptor", slog.String("kind", slotRelated.String()), slog.Any("error", err))
		}
	}

	start := time.Now()
	results := v.bucket.FetchAll(ctx, b.descriptors)
	v.logger.DebugContext(ctx, "fetched render inputs",
		slog.String("bucket", v.bucket.Name()),
		slog.Int("urls", len(b.descriptors)),
		slog.Int("slots", len(b.slots)),
		slog.Duration("elapsed", time.Since(start)),
	)

	rc := &RenderContext{
		State:    make(map[string]any, len(req.State)+len(req.StateURLs)),
		Widgets:  map[string]any{},
		Partials: map[string]Partial{},
		Extra:    req.Extra,
		SEO:      req.SEO,
	}
	for k, val := range req.State {
		rc.State[k] = val
	}
	for _, r := range results {
		if r.Err == nil {
			rc.Includes = append(rc.Includes, r.Entry.Path)
		}
	}

	values := map[int]any{}
	value := func(idx int) (any, error) {
		if val, ok := values[idx]; ok {
			return val, nil
		}
		val, err := v.readValue(ctx, results[idx].Entry)
		if err != nil {
			return nil, err
		}
		values[idx] = val
		return val, nil
	}

	for _, s := range b.slots {
		r := results[s.index]
		if r.Err != nil {
			if s.kind == slotTemplate {
				return nil, r.Err
			}
			v.logger.WarnContext(ctx, "leaving slot empty", slog.String("kind", s.kind.String()), slog.String("name", s.name), slog.String("url", r.Descriptor.URL), slog.Any("error", r.Err))
			continue
		}
		switch s.kind {
		case slotTemplate:
			rc.Template = r.Entry
		case slotPartial:
			rc.Partials[s.name] = Partial{URL: r.Descriptor.URL, Path: r.Entry.Path}
		case slotWidget, slotState:
			val, err := value(s.index)
			if err != nil {
				v.logger.WarnContext(ctx, "leaving slot empty", slog.String("kind", s.kind.String()), slog.String("name", s.name), slog.Any("error", err))
				continue
			}
			if s.kind == slotWidget {
				rc.Widgets[s.name] = val
			} else {
				rc.State[s.name] = val
			}
		}
	}
	return rc, nil
}

// readValue returns the parsed JSON document of a JSON entry and the raw
// text otherwise. Malformed JSON falls back to the raw text.
func (v *ViewEngine) readValue(ctx context.Context, ent cache.Entry) (any, error) {
	body, err := os.ReadFile(ent.Path)
	if err != nil {
		return nil, err
	}
	if !ent.IsJSON() {
		return string(body), nil
	}
	val, ok, err := parseLenient(body)
	if err != nil {
		v.logger.WarnContext(ctx, "malformed json, using raw text", slog.String("url", ent.URL), slog.Any("error", err))
		return string(body), nil
	}
	if !ok {
		return string(body), nil
	}
	return val, nil
}

// Render composes req, runs the selected engine and post-processes the
// result.
func (v *ViewEngine) Render(ctx context.Context, req RenderRequest) (string, error) {
	start := time.Now()
	engineName := req.Template.Engine
	if engineName == "" {
		engineName = render.DefaultEngine
	}
	ctx, span := v.tracer.Start(ctx, "remoteviews.Render", trace.WithAttributes(
		attribute.String("remoteviews.bucket", v.bucket.Name()),
		attribute.String("remoteviews.engine", engineName),
	))
	defer span.End()

	out, err := v.render(ctx, engineName, req)
	v.recorder.ObserveRender(v.bucket.Name(), engineName, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		level := slog.LevelError
		if errors.Is(err, ErrConfiguration) {
			level = slog.LevelWarn
		}
		v.logger.Log(ctx, level, "render failed", slog.String("bucket", v.bucket.Name()), slog.String("engine", engineName), slog.Any("error", err))
		return "", err
	}
	return out, nil
}

func (v *ViewEngine) render(ctx context.Context, engineName string, req RenderRequest) (string, error) {
	engine, err := v.registry.Lookup(engineName)
	if err != nil {
		return "", &ConfigurationError{Field: "template.engine", Reason: "unknown", Err: err}
	}
	rc, err := v.Compose(ctx, req)
	if err != nil {
		return "", err
	}

	src := render.Source{
		Name:     rc.Template.URL,
		Path:     rc.Template.Path,
		BaseDir:  v.bucket.Dir(),
		Options:  req.Template.EngineOptions,
		Partials: rc.partialPaths(),
	}
	html, err := engine.Render(ctx, src, rc.Data())
	if err != nil {
		return "", &RenderError{Template: src.Name, Err: err}
	}
	out, err := v.processor.Apply(ctx, html, postprocess.Options{
		Extra:  rc.Extra,
		SEO:    rc.SEO,
		Pretty: req.Template.Pretty,
		Minify: req.Template.Minify,
	})
	if err != nil {
		return "", &RenderError{Template: src.Name, Err: err}
	}
	return out, nil
}
