package remoteviews_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	remoteviews "github.com/Arthur1/remote-views"
	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/engine/rediscache"
	"github.com/Arthur1/remote-views/cache/key"
)

func TestViewEngineWithRedisStore(t *testing.T) {
	t.Parallel()
	var counter int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&counter, 1)
		switch r.URL.Path {
		case "/views/menu.htm":
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<ul>{% for item in widgets.menu.items %}<li>{{ item }}</li>{% endfor %}</ul>`)
		case "/api/menu":
			w.Header().Set("Content-Type", "application/vnd.menu+json")
			fmt.Fprint(w, `{"items":["home","about"]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer ts.Close()

	rs := miniredis.RunT(t)
	redisCli := redis.NewClient(&redis.Options{
		Addr: rs.Addr(),
		DB:   0,
	})
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	root := t.TempDir()
	req := remoteviews.RenderRequest{
		Template: remoteviews.TemplateSpec{URL: ts.URL + "/views/menu.htm"},
		Widgets:  map[string]key.Descriptor{"menu": key.New(ts.URL + "/api/menu")},
	}
	want := "<ul><li>home</li><li>about</li></ul>"

	// access origin
	c1 := cache.New(root, cache.WithStore(rediscache.New(redisCli)), cache.WithLogger(logger))
	v1, err := remoteviews.New(c1, "test", remoteviews.WithLogger(logger))
	require.NoError(t, err)
	defer v1.Close()
	got, err := v1.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(2), atomic.LoadInt64(&counter))

	loc, err := v1.Bucket().Locate(key.New(ts.URL + "/api/menu"))
	require.NoError(t, err)
	assert.True(t, rs.Exists("remoteviews:test:"+loc.Key))

	// a second process sharing the directory and redis reads from the cache
	c2 := cache.New(root, cache.WithStore(rediscache.New(redisCli)), cache.WithLogger(logger))
	v2, err := remoteviews.New(c2, "test", remoteviews.WithLogger(logger))
	require.NoError(t, err)
	defer v2.Close()
	got, err = v2.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(2), atomic.LoadInt64(&counter))

	// another bucket does not share entries
	v3, err := remoteviews.New(c2, "other", remoteviews.WithLogger(logger))
	require.NoError(t, err)
	defer v3.Close()
	got, err = v3.Render(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int64(4), atomic.LoadInt64(&counter))
}
