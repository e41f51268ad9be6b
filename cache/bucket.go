package cache

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Arthur1/remote-views/cache/key"
)

// Bucket is a tenant namespace of a Cache. Entries fetched through one bucket
// are never visible through another, even for identical descriptors.
type Bucket struct {
	c    *Cache
	name string
	dir  string
}

// Result is one element of FetchAll's output.
type Result struct {
	Descriptor key.Descriptor
	Entry      Entry
	Err        error
}

func (b *Bucket) Name() string {
	return b.name
}

// Dir is the directory holding this bucket's files.
func (b *Bucket) Dir() string {
	return b.dir
}

// Locate computes the key and local path of d without touching the network
// or the filesystem.
func (b *Bucket) Locate(d key.Descriptor) (Entry, error) {
	d = key.Canonicalize(d)
	k, err := b.c.keyGenerator.Key(d)
	if err != nil {
		return Entry{}, err
	}
	ext := key.Ext(d)
	return Entry{
		Key:       k,
		URL:       d.URL,
		Path:      filepath.Join(b.dir, k+ext),
		Extension: ext,
	}, nil
}

// Fetch returns the local entry for d. A fresh file is returned as is. A
// stale file is revalidated with If-Modified-Since and served unchanged if
// the origin cannot be reached. A missing file is fetched unconditionally;
// failing that, the error wraps ErrFetchFailed. Concurrent callers for the
// same entry share one origin request, but a caller whose ctx ends stops
// waiting without failing the others.
func (b *Bucket) Fetch(ctx context.Context, d key.Descriptor) (Entry, error) {
	d = key.Canonicalize(d)
	ent, err := b.Locate(d)
	if err != nil {
		b.c.recorder.ObserveFetch(b.name, OutcomeFailed)
		return Entry{}, &FetchError{URL: d.URL, Err: err}
	}

	modTime, exists, err := stat(ent.Path)
	if err != nil {
		b.c.recorder.ObserveFetch(b.name, OutcomeFailed)
		return Entry{}, &FetchError{URL: d.URL, Err: err}
	}
	if exists && b.c.now().Before(modTime.Add(b.c.freshness)) {
		b.c.logger.DebugContext(ctx, "cache hit", slog.String("bucket", b.name), slog.String("path", ent.Path))
		b.c.recorder.ObserveFetch(b.name, OutcomeHit)
		return b.describe(ctx, ent, modTime), nil
	}
	if !exists {
		if err := os.MkdirAll(b.dir, 0o755); err != nil {
			b.c.recorder.ObserveFetch(b.name, OutcomeFailed)
			return Entry{}, &FetchError{URL: d.URL, Err: err}
		}
	}

	// The shared origin call outlives any single caller. It is bounded by the
	// fetch timeout only, and each caller stops waiting on its own context.
	ch := b.c.group.DoChan(b.name+"/"+ent.Key, func() (any, error) {
		return b.fetchOrigin(context.WithoutCancel(ctx), d, ent, modTime, exists)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return Entry{}, res.Err
		}
		return res.Val.(Entry), nil
	case <-ctx.Done():
		return b.fallback(context.WithoutCancel(ctx), ent, modTime, exists, &FetchError{URL: d.URL, Err: ctx.Err()})
	}
}

// FetchAll fetches every descriptor concurrently. The i-th result always
// belongs to the i-th descriptor.
func (b *Bucket) FetchAll(ctx context.Context, ds []key.Descriptor) []Result {
	results := make([]Result, len(ds))
	var g errgroup.Group
	if b.c.concurrency > 0 {
		g.SetLimit(b.c.concurrency)
	}
	for i, d := range ds {
		g.Go(func() error {
			ent, err := b.Fetch(ctx, d)
			results[i] = Result{Descriptor: d, Entry: ent, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// ReadFile fetches d and returns the file contents.
func (b *Bucket) ReadFile(ctx context.Context, d key.Descriptor) ([]byte, Entry, error) {
	ent, err := b.Fetch(ctx, d)
	if err != nil {
		return nil, Entry{}, err
	}
	body, err := os.ReadFile(ent.Path)
	if err != nil {
		return nil, Entry{}, &FetchError{URL: ent.URL, Err: err}
	}
	return body, ent, nil
}

func (b *Bucket) storeKey(ent Entry) string {
	return b.name + ":" + ent.Key
}

func (b *Bucket) fetchOrigin(ctx context.Context, d key.Descriptor, ent Entry, modTime time.Time, stale bool) (Entry, error) {
	reqCtx := ctx
	if b.c.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, b.c.timeout)
		defer cancel()
	}

	req, err := newRequest(reqCtx, d)
	if err != nil {
		return b.fallback(ctx, ent, modTime, stale, &FetchError{URL: d.URL, Err: err})
	}
	if stale {
		req.Header.Set("If-Modified-Since", modTime.UTC().Format(http.TimeFormat))
	}

	res, err := b.c.client.Do(req)
	if err != nil {
		return b.fallback(ctx, ent, modTime, stale, &FetchError{URL: d.URL, Err: err})
	}
	defer res.Body.Close()

	if stale && res.StatusCode == http.StatusNotModified {
		now := b.c.now()
		if err := os.Chtimes(ent.Path, now, now); err != nil {
			b.c.logger.WarnContext(ctx, "failed to refresh cache mtime", slog.String("path", ent.Path), slog.Any("error", err))
		}
		b.c.logger.DebugContext(ctx, "not modified", slog.String("bucket", b.name), slog.String("url", d.URL))
		b.c.recorder.ObserveFetch(b.name, OutcomeNotModified)
		return b.describe(ctx, ent, now), nil
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, res.Body)
		return b.fallback(ctx, ent, modTime, stale, &FetchError{URL: d.URL, StatusCode: res.StatusCode})
	}

	contentType := res.Header.Get("Content-Type")
	var body io.Reader = res.Body
	if contentType == "" {
		mt, r, err := detect(body)
		if err != nil {
			return b.fallback(ctx, ent, modTime, stale, &FetchError{URL: d.URL, Err: err})
		}
		contentType, body = mt.String(), r
	}

	if err := writeFile(ent.Path, body, b.c.maxBodySize); err != nil {
		return b.fallback(ctx, ent, modTime, stale, &FetchError{URL: d.URL, Err: err})
	}
	now := b.c.now()
	if err := os.Chtimes(ent.Path, now, now); err != nil {
		b.c.logger.WarnContext(ctx, "failed to set cache mtime", slog.String("path", ent.Path), slog.Any("error", err))
	}

	ent.ContentType = contentType
	ent.FetchedAt = now
	if err := b.c.store.Set(ctx, b.storeKey(ent), ent); err != nil {
		b.c.logger.ErrorContext(ctx, "failed to store cache entry", slog.String("key", b.storeKey(ent)), slog.Any("error", err))
	}

	outcome := OutcomeMiss
	if stale {
		outcome = OutcomeRevalidated
	}
	b.c.logger.DebugContext(ctx, "fetched from origin", slog.String("bucket", b.name), slog.String("url", d.URL), slog.String("outcome", string(outcome)))
	b.c.recorder.ObserveFetch(b.name, outcome)
	b.c.notify(ent.Path)
	return ent, nil
}

// fallback serves the stale copy when there is one and reports ferr
// otherwise.
func (b *Bucket) fallback(ctx context.Context, ent Entry, modTime time.Time, stale bool, ferr *FetchError) (Entry, error) {
	if stale {
		b.c.logger.WarnContext(ctx, "revalidation failed, serving stale copy", slog.String("bucket", b.name), slog.String("url", ent.URL), slog.Any("error", ferr))
		b.c.recorder.ObserveFetch(b.name, OutcomeStale)
		return b.describe(ctx, ent, modTime), nil
	}
	b.c.logger.ErrorContext(ctx, "fetch failed", slog.String("bucket", b.name), slog.String("url", ent.URL), slog.Any("error", ferr))
	b.c.recorder.ObserveFetch(b.name, OutcomeFailed)
	return Entry{}, ferr
}

// describe fills in metadata for an existing file, from the store when it
// has a record and from the file itself otherwise.
func (b *Bucket) describe(ctx context.Context, ent Entry, modTime time.Time) Entry {
	stored, ok, err := b.c.store.Get(ctx, b.storeKey(ent))
	if err != nil {
		b.c.logger.WarnContext(ctx, "failed to read cache entry", slog.String("key", b.storeKey(ent)), slog.Any("error", err))
	}
	if ok && stored.ContentType != "" {
		ent.ContentType = stored.ContentType
	} else {
		ent.ContentType = detectFile(ent.Path)
	}
	ent.FetchedAt = modTime
	return ent
}

func newRequest(ctx context.Context, d key.Descriptor) (*http.Request, error) {
	var body io.Reader
	if len(d.Body) > 0 {
		body = bytes.NewReader(d.Body)
	}
	req, err := http.NewRequestWithContext(ctx, d.Method, d.URL, body)
	if err != nil {
		return nil, err
	}
	for k, v := range d.Headers {
		req.Header.Set(k, v)
	}
	if body != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
