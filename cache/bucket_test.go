package cache_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
	mock_cache "github.com/Arthur1/remote-views/cache/mock"
	"github.com/Arthur1/remote-views/internal/testutil"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newCache(t *testing.T, opts ...cache.Option) *cache.Cache {
	t.Helper()
	return cache.New(t.TempDir(), append([]cache.Option{cache.WithLogger(discard)}, opts...)...)
}

func bucket(t *testing.T, c *cache.Cache, name string) *cache.Bucket {
	t.Helper()
	b, err := c.Bucket(name)
	require.NoError(t, err)
	return b
}

// age moves the mtime of path back by d.
func age(t *testing.T, path string, d time.Duration) {
	t.Helper()
	old := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(path, old, old))
}

func TestBucketFetch(t *testing.T) {
	t.Parallel()

	t.Run("fresh file is served without a network call", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, "<p>{{ name }}</p>")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		ctx := context.Background()
		d := key.New(ts.URL + "/views/test1.html")

		first, err := b.Fetch(ctx, d)
		require.NoError(t, err)
		second, err := b.Fetch(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, int64(1), calls.Load())
		assert.Equal(t, first.Path, second.Path)
		assert.Equal(t, ".html", filepath.Ext(first.Path))
		assert.Equal(t, filepath.Join(b.Dir(), first.Key+".html"), first.Path)
		assert.Equal(t, "text/html", second.ContentType)
		body, err := os.ReadFile(first.Path)
		require.NoError(t, err)
		assert.Equal(t, "<p>{{ name }}</p>", string(body))
	})

	t.Run("same descriptor in different buckets uses different files", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			fmt.Fprint(w, "ok")
		}))
		defer ts.Close()

		c := newCache(t)
		ctx := context.Background()
		d := key.New(ts.URL + "/a.html")
		ea, err := bucket(t, c, "tenant-a").Fetch(ctx, d)
		require.NoError(t, err)
		eb, err := bucket(t, c, "tenant-b").Fetch(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, int64(2), calls.Load())
		assert.Equal(t, ea.Key, eb.Key)
		assert.NotEqual(t, ea.Path, eb.Path)
		assert.Equal(t, "tenant-a", filepath.Base(filepath.Dir(ea.Path)))
		assert.Equal(t, "tenant-b", filepath.Base(filepath.Dir(eb.Path)))
	})

	t.Run("stale file is revalidated", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		var ims atomic.Value
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			n := calls.Add(1)
			ims.Store(r.Header.Get("If-Modified-Since"))
			fmt.Fprintf(w, "v%d", n)
		}))
		defer ts.Close()

		b := bucket(t, newCache(t, cache.WithFreshness(time.Minute)), "test")
		ctx := context.Background()
		d := key.New(ts.URL + "/a.html")
		ent, err := b.Fetch(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, "", ims.Load())

		age(t, ent.Path, time.Hour)
		_, err = b.Fetch(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, int64(2), calls.Load())
		assert.NotEmpty(t, ims.Load())
		body, _ := os.ReadFile(ent.Path)
		assert.Equal(t, "v2", string(body))
	})

	t.Run("not modified refreshes the file", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("If-Modified-Since") != "" {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			fmt.Fprint(w, "original")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t, cache.WithFreshness(time.Minute)), "test")
		ctx := context.Background()
		d := key.New(ts.URL + "/a.html")
		ent, err := b.Fetch(ctx, d)
		require.NoError(t, err)

		age(t, ent.Path, time.Hour)
		_, err = b.Fetch(ctx, d)
		require.NoError(t, err)
		_, err = b.Fetch(ctx, d)
		require.NoError(t, err)

		assert.Equal(t, int64(2), calls.Load())
		body, _ := os.ReadFile(ent.Path)
		assert.Equal(t, "original", string(body))
		fi, err := os.Stat(ent.Path)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now(), fi.ModTime(), 10*time.Second)
	})

	t.Run("stale copy is served when the origin is down", func(t *testing.T) {
		t.Parallel()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "cached")
		}))

		b := bucket(t, newCache(t, cache.WithFreshness(time.Minute)), "test")
		ctx := context.Background()
		d := key.New(ts.URL + "/a.html")
		ent, err := b.Fetch(ctx, d)
		require.NoError(t, err)
		ts.Close()

		age(t, ent.Path, time.Hour)
		got, err := b.Fetch(ctx, d)
		require.NoError(t, err)
		assert.Equal(t, ent.Path, got.Path)
		body, _ := os.ReadFile(got.Path)
		assert.Equal(t, "cached", string(body))
	})

	t.Run("stale copy is served on an error status", func(t *testing.T) {
		t.Parallel()
		var fail atomic.Bool
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				http.Error(w, "boom", http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, "cached")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t, cache.WithFreshness(time.Minute)), "test")
		ctx := context.Background()
		d := key.New(ts.URL + "/a.html")
		ent, err := b.Fetch(ctx, d)
		require.NoError(t, err)

		fail.Store(true)
		age(t, ent.Path, time.Hour)
		_, err = b.Fetch(ctx, d)
		require.NoError(t, err)
		body, _ := os.ReadFile(ent.Path)
		assert.Equal(t, "cached", string(body))
	})

	t.Run("fetch failed without a cached copy", func(t *testing.T) {
		t.Parallel()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		_, err := b.Fetch(context.Background(), key.New(ts.URL+"/missing.html"))
		assert.ErrorIs(t, err, cache.ErrFetchFailed)
		var ferr *cache.FetchError
		require.True(t, errors.As(err, &ferr))
		assert.Equal(t, http.StatusNotFound, ferr.StatusCode)
		entries, _ := os.ReadDir(b.Dir())
		assert.Empty(t, entries)
	})

	t.Run("timeout", func(t *testing.T) {
		t.Parallel()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-time.After(time.Second):
			case <-r.Context().Done():
			}
			fmt.Fprint(w, "late")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t, cache.WithTimeout(50*time.Millisecond)), "test")
		_, err := b.Fetch(context.Background(), key.New(ts.URL+"/slow.html"))
		assert.ErrorIs(t, err, cache.ErrFetchFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("body size limit", func(t *testing.T) {
		t.Parallel()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, "0123456789")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t, cache.WithMaxBodySize(4)), "test")
		_, err := b.Fetch(context.Background(), key.New(ts.URL+"/big.html"))
		assert.ErrorIs(t, err, cache.ErrFetchFailed)
		assert.ErrorIs(t, err, cache.ErrBodyTooLarge)
	})

	t.Run("descriptor method, headers and body reach the origin", func(t *testing.T) {
		t.Parallel()
		type seen struct {
			method, auth, contentType, body string
		}
		var got atomic.Value
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, _ := io.ReadAll(r.Body)
			got.Store(seen{r.Method, r.Header.Get("Authorization"), r.Header.Get("Content-Type"), string(b)})
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"ok":true}`)
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		ent, err := b.Fetch(context.Background(), key.Descriptor{
			URL:     ts.URL + "/query",
			Headers: map[string]string{"authorization": "Bearer t"},
			Body:    []byte(`{"q":1}`),
		})
		require.NoError(t, err)
		assert.Equal(t, seen{http.MethodPost, "Bearer t", "application/json", `{"q":1}`}, got.Load())
		assert.True(t, ent.IsJSON())
	})

	t.Run("content type is sniffed when the origin omits it", func(t *testing.T) {
		t.Parallel()
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header()["Content-Type"] = nil
			fmt.Fprint(w, `{"a":[1,2,3]}`)
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		ent, err := b.Fetch(context.Background(), key.New(ts.URL+"/data"))
		require.NoError(t, err)
		assert.Equal(t, "", ent.Extension)
		assert.Equal(t, "application/json", ent.ContentType)
		assert.True(t, ent.IsJSON())
	})

	t.Run("concurrent misses share one origin request", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			time.Sleep(100 * time.Millisecond)
			fmt.Fprint(w, "ok")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		d := key.New(ts.URL + "/a.html")
		var wg sync.WaitGroup
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Fetch(context.Background(), d)
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("a caller that gives up does not fail callers sharing its request", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			time.Sleep(200 * time.Millisecond)
			fmt.Fprint(w, "ok")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		d := key.New(ts.URL + "/page.html")

		short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		errc := make(chan error, 1)
		go func() {
			_, err := b.Fetch(short, d)
			errc <- err
		}()
		time.Sleep(10 * time.Millisecond)

		ent, err := b.Fetch(context.Background(), d)
		require.NoError(t, err)
		body, err := os.ReadFile(ent.Path)
		require.NoError(t, err)
		assert.Equal(t, "ok", string(body))

		err = <-errc
		assert.ErrorIs(t, err, cache.ErrFetchFailed)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Equal(t, int64(1), calls.Load())
	})

	t.Run("a caller that gives up on revalidation gets the stale copy", func(t *testing.T) {
		t.Parallel()
		var calls atomic.Int64
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) > 1 {
				time.Sleep(200 * time.Millisecond)
				fmt.Fprint(w, "v2")
				return
			}
			fmt.Fprint(w, "v1")
		}))
		defer ts.Close()

		b := bucket(t, newCache(t), "test")
		d := key.New(ts.URL + "/page.html")
		ent, err := b.Fetch(context.Background(), d)
		require.NoError(t, err)
		age(t, ent.Path, time.Hour)

		short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		got, err := b.Fetch(short, d)
		require.NoError(t, err)
		body, err := os.ReadFile(got.Path)
		require.NoError(t, err)
		assert.Equal(t, "v1", string(body))

		// The shared revalidation still completes for callers that wait.
		got, err = b.Fetch(context.Background(), d)
		require.NoError(t, err)
		body, err = os.ReadFile(got.Path)
		require.NoError(t, err)
		assert.Equal(t, "v2", string(body))
		assert.Equal(t, int64(2), calls.Load())
	})
}

func TestBucketFetchAll(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Duration(rand.IntN(30)) * time.Millisecond)
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, r.URL.Path)
	}))
	defer ts.Close()

	b := bucket(t, newCache(t, cache.WithConcurrency(3)), "test")
	paths := []string{"/0", "/1", "/missing", "/3", "/4", "/5", "/6"}
	ds := make([]key.Descriptor, len(paths))
	for i, p := range paths {
		ds[i] = key.New(ts.URL + p)
	}

	results := b.FetchAll(context.Background(), ds)
	require.Len(t, results, len(paths))
	for i, r := range results {
		assert.Equal(t, ds[i].URL, r.Descriptor.URL)
		if paths[i] == "/missing" {
			assert.ErrorIs(t, r.Err, cache.ErrFetchFailed)
			continue
		}
		require.NoError(t, r.Err)
		body, err := os.ReadFile(r.Entry.Path)
		require.NoError(t, err)
		assert.Equal(t, paths[i], string(body))
	}
}

func TestBucketReadFile(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "hello")
	}))
	defer ts.Close()

	b := bucket(t, newCache(t), "test")
	body, ent, err := b.ReadFile(context.Background(), key.New(ts.URL+"/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, ".txt", ent.Extension)
}

func TestCacheSubscribe(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "content")
	}))
	defer ts.Close()

	c := newCache(t)
	b := bucket(t, c, "test")

	var mu sync.Mutex
	var events []string
	cancel := c.Subscribe(func(path string) {
		body, err := os.ReadFile(path)
		assert.NoError(t, err)
		assert.Equal(t, "content", string(body))
		mu.Lock()
		events = append(events, path)
		mu.Unlock()
	})
	defer cancel()

	ctx := context.Background()
	d := key.New(ts.URL + "/a.html")
	ent, err := b.Fetch(ctx, d)
	require.NoError(t, err)
	_, err = b.Fetch(ctx, d)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{ent.Path}, events)
}

func TestBucketStore(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/x-template")
		fmt.Fprint(w, "tpl")
	}))
	t.Cleanup(ts.Close)

	t.Run("entries are recorded under a bucket-scoped key", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(testutil.NewConcurrentTestReporter(t))
		store := mock_cache.NewMockStore(ctrl)
		b := bucket(t, newCache(t, cache.WithStore(store)), "test")
		d := key.New(ts.URL + "/a.tpl")
		loc, err := b.Locate(d)
		require.NoError(t, err)

		store.EXPECT().Set(gomock.Any(), "test:"+loc.Key, gomock.Any()).DoAndReturn(
			func(_ context.Context, _ string, e cache.Entry) error {
				assert.Equal(t, "text/x-template", e.ContentType)
				assert.Equal(t, loc.Path, e.Path)
				return nil
			}).Times(1)
		store.EXPECT().Get(gomock.Any(), "test:"+loc.Key).Return(cache.Entry{ContentType: "text/x-template"}, true, nil).Times(1)

		_, err = b.Fetch(context.Background(), d)
		require.NoError(t, err)
		got, err := b.Fetch(context.Background(), d)
		require.NoError(t, err)
		assert.Equal(t, "text/x-template", got.ContentType)
	})

	t.Run("store failures do not fail the fetch", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(testutil.NewConcurrentTestReporter(t))
		store := mock_cache.NewMockStore(ctrl)
		store.EXPECT().Set(gomock.Any(), gomock.Any(), gomock.Any()).Return(errors.New("down")).Times(1)
		store.EXPECT().Get(gomock.Any(), gomock.Any()).Return(cache.Entry{}, false, errors.New("down")).Times(1)

		b := bucket(t, newCache(t, cache.WithStore(store)), "test")
		d := key.New(ts.URL + "/b.tpl")
		_, err := b.Fetch(context.Background(), d)
		require.NoError(t, err)
		got, err := b.Fetch(context.Background(), d)
		require.NoError(t, err)
		assert.NotEmpty(t, got.ContentType)
	})
}
