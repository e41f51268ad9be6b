package render

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arthur1/remote-views/cache"
	"github.com/Arthur1/remote-views/cache/key"
)

type memFetcher struct {
	mu    sync.Mutex
	files map[string]string
	calls map[string]int
}

func newMemFetcher(files map[string]string) *memFetcher {
	return &memFetcher{files: files, calls: map[string]int{}}
}

func (f *memFetcher) set(url, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[url] = body
}

func (f *memFetcher) ReadFile(_ context.Context, d key.Descriptor) ([]byte, cache.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[d.URL]++
	body, ok := f.files[d.URL]
	if !ok {
		return nil, cache.Entry{}, &cache.FetchError{URL: d.URL, StatusCode: 404}
	}
	return []byte(body), cache.Entry{URL: d.URL, Path: "/cache/" + path.Base(d.URL)}, nil
}

func TestURLLoaderAbs(t *testing.T) {
	t.Parallel()
	l := NewURLLoader(nil, "https://cdn.example.com/views/test/")
	tests := []struct {
		base, name, want string
	}{
		{"", "https://other.example.com/a.html", "https://other.example.com/a.html"},
		{"", "page.htm", "https://cdn.example.com/views/test/page.htm"},
		{"https://cdn.example.com/views/test/pages/home.htm", "../nav.phtm", "https://cdn.example.com/views/test/nav.phtm"},
		{"https://cdn.example.com/views/test/pages/home.htm", "footer.htm", "https://cdn.example.com/views/test/pages/footer.htm"},
		{"/local/file", "x.htm", "https://cdn.example.com/views/test/x.htm"},
	}
	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, l.Abs(tt.base, tt.name))
		})
	}

	assert.Equal(t, "a.htm", NewURLLoader(nil, "").Abs("", "a.htm"))
}

func TestPongoEngine(t *testing.T) {
	t.Parallel()
	const page = "https://cdn.example.com/test/page.htm"

	t.Run("renders state", func(t *testing.T) {
		t.Parallel()
		f := newMemFetcher(map[string]string{
			page: `<html><head><title>hi</title></head><body class="hi"><div>Hi {{name}}!</div><div>{{age}}</div></body></html>`,
		})
		e := NewPongoEngine("test", NewURLLoader(f, "https://cdn.example.com/test"))
		out, err := e.Render(context.Background(), Source{Name: page}, map[string]any{"name": "john", "age": 100})
		require.NoError(t, err)
		assert.Equal(t, `<html><head><title>hi</title></head><body class="hi"><div>Hi john!</div><div>100</div></body></html>`, out)
	})

	t.Run("includes resolve through the loader", func(t *testing.T) {
		t.Parallel()
		f := newMemFetcher(map[string]string{
			page: `<nav>{% include "nav.phtm" %}</nav><main>{% include partials.body %}</main>`,
			"https://cdn.example.com/test/nav.phtm":  `{% for w in widgets.menu %}<a>{{ w }}</a>{% endfor %}`,
			"https://cdn.example.com/test/body.phtm": `{{ title|upper }}`,
		})
		e := NewPongoEngine("test", NewURLLoader(f, "https://cdn.example.com/test"))
		out, err := e.Render(context.Background(), Source{Name: page}, map[string]any{
			"title":    "hello",
			"widgets":  map[string]any{"menu": []any{"a", "b"}},
			"partials": map[string]string{"body": "https://cdn.example.com/test/body.phtm"},
		})
		require.NoError(t, err)
		assert.Equal(t, `<nav><a>a</a><a>b</a></nav><main>HELLO</main>`, out)
	})

	t.Run("compiled templates are reused until invalidated", func(t *testing.T) {
		t.Parallel()
		f := newMemFetcher(map[string]string{page: `v1 {{ n }}`})
		e := NewPongoEngine("test", NewURLLoader(f, ""))
		ctx := context.Background()

		for i := range 3 {
			out, err := e.Render(ctx, Source{Name: page}, map[string]any{"n": i})
			require.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("v1 %d", i), out)
		}
		assert.Equal(t, 1, f.calls[page])

		f.set(page, `v2 {{ n }}`)
		e.Invalidate("/cache/unrelated.htm")
		out, _ := e.Render(ctx, Source{Name: page}, map[string]any{"n": 0})
		assert.Equal(t, "v1 0", out)

		e.Invalidate("/cache/page.htm")
		out, err := e.Render(ctx, Source{Name: page}, map[string]any{"n": 0})
		require.NoError(t, err)
		assert.Equal(t, "v2 0", out)
		assert.Equal(t, 2, f.calls[page])
	})

	t.Run("syntax error", func(t *testing.T) {
		t.Parallel()
		f := newMemFetcher(map[string]string{page: `{% if %}`})
		e := NewPongoEngine("test", NewURLLoader(f, ""))
		_, err := e.Render(context.Background(), Source{Name: page}, nil)
		assert.Error(t, err)
	})

	t.Run("missing template", func(t *testing.T) {
		t.Parallel()
		e := NewPongoEngine("test", NewURLLoader(newMemFetcher(map[string]string{}), ""))
		_, err := e.Render(context.Background(), Source{Name: page}, nil)
		assert.Error(t, err)
	})
}

func TestPongoEnginePrimedSource(t *testing.T) {
	t.Parallel()
	const page = "https://cdn.example.com/test/page"
	dir := t.TempDir()
	local := writeTemplate(t, dir, "abc.html", `<p>{{ name }}</p>`)
	f := newMemFetcher(map[string]string{})
	e := NewPongoEngine("test", NewURLLoader(f, ""))

	out, err := e.Render(context.Background(), Source{Name: page, Path: local, BaseDir: dir}, map[string]any{"name": "john"})
	require.NoError(t, err)
	assert.Equal(t, "<p>john</p>", out)
	assert.Equal(t, 0, f.calls[page])
	assert.True(t, e.loader.Loaded(local))
}

func TestPongoEnginePrimedSourcesOfOneURL(t *testing.T) {
	t.Parallel()
	const page = "https://cdn.example.com/test/page"
	dir := t.TempDir()
	asHTML := writeTemplate(t, dir, "abc.html", `<p>{{ name }}</p>`)
	asText := writeTemplate(t, dir, "abc.txt", `text {{ name }}`)
	f := newMemFetcher(map[string]string{page: "fetched {{ name }}"})
	e := NewPongoEngine("test", NewURLLoader(f, ""))
	ctx := context.Background()

	out, err := e.Render(ctx, Source{Name: page, Path: asHTML, BaseDir: dir}, map[string]any{"name": "john"})
	require.NoError(t, err)
	assert.Equal(t, "<p>john</p>", out)
	out, err = e.Render(ctx, Source{Name: page, Path: asText, BaseDir: dir}, map[string]any{"name": "john"})
	require.NoError(t, err)
	assert.Equal(t, "text john", out)
	out, err = e.Render(ctx, Source{Name: page, Path: asHTML, BaseDir: dir}, map[string]any{"name": "jane"})
	require.NoError(t, err)
	assert.Equal(t, "<p>jane</p>", out)
	assert.Equal(t, 0, f.calls[page])

	// A primed file that has gone away is fetched by its URL.
	gone := filepath.Join(dir, "gone.html")
	out, err = e.Render(ctx, Source{Name: page, Path: gone, BaseDir: dir}, map[string]any{"name": "john"})
	require.NoError(t, err)
	assert.Equal(t, "fetched john", out)
	assert.Equal(t, 1, f.calls[page])
}

func TestPongoEngineCanceledContext(t *testing.T) {
	t.Parallel()
	const page = "https://cdn.example.com/test/page.htm"
	f := newMemFetcher(map[string]string{page: "x"})
	e := NewPongoEngine("test", NewURLLoader(f, ""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Render(ctx, Source{Name: page}, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, f.calls[page])
}
