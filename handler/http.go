package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-Id"
	maxRequestBody  = 10 << 20

	// Bodies shorter than this are sent as is.
	minCompressSize = 512
)

var brotliWriterPool = sync.Pool{
	New: func() any {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

// NewServeMux routes the HTTP surface onto h. metrics may be nil.
func NewServeMux(h *Handler, metrics http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /{bucket}/render", h.serveTemplate)
	mux.HandleFunc("GET /{bucket}/render", h.serveRemote)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = io.WriteString(w, "ok")
	})
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	return mux
}

func (h *Handler) serveTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	ev := newEvent(r)
	ev.Body = string(body)
	writeResponse(w, r, h.Template(r.Context(), ev))
}

func (h *Handler) serveRemote(w http.ResponseWriter, r *http.Request) {
	writeResponse(w, r, h.Remote(r.Context(), newEvent(r)))
}

func newEvent(r *http.Request) Event {
	ev := Event{
		Bucket:                r.PathValue("bucket"),
		QueryStringParameters: map[string]string{},
		Headers:               map[string]string{},
	}
	for k := range r.URL.Query() {
		ev.QueryStringParameters[k] = r.URL.Query().Get(k)
	}
	for k := range r.Header {
		ev.Headers[k] = r.Header.Get(k)
	}
	return ev
}

// writeResponse sends res, brotli-compressed when the client accepts it and
// the body is large enough to benefit.
func writeResponse(w http.ResponseWriter, r *http.Request, res Response) {
	for k, v := range res.Headers {
		w.Header().Set(k, v)
	}
	w.Header().Add("Vary", "Accept-Encoding")
	if len(res.Body) < minCompressSize || !acceptsBrotli(r) {
		w.WriteHeader(res.StatusCode)
		_, _ = io.WriteString(w, res.Body)
		return
	}

	w.Header().Set("Content-Encoding", "br")
	w.Header().Del("Content-Length")
	w.WriteHeader(res.StatusCode)
	bw := brotliWriterPool.Get().(*brotli.Writer)
	bw.Reset(w)
	defer func() {
		bw.Reset(nil)
		brotliWriterPool.Put(bw)
	}()
	_, _ = io.WriteString(bw, res.Body)
	_ = bw.Close()
}

func acceptsBrotli(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc, q, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.EqualFold(strings.TrimSpace(enc), "br") && strings.TrimSpace(q) != "q=0" {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// WithRequestLog tags every request with an X-Request-Id, reusing the
// caller's when present, and logs its completion.
func WithRequestLog(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(requestIDHeader)
			if id == "" {
				id = uuid.NewString()
				r.Header.Set(requestIDHeader, id)
			}
			w.Header().Set(requestIDHeader, id)

			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			logger.InfoContext(r.Context(), "request",
				slog.String("request_id", id),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.status),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}
