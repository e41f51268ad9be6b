package cache

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Arthur1/remote-views/cache/key"
)

// Cache stores fetched resources as plain files under one directory per
// bucket: {root}/{bucket}/{key}{ext}.
type Cache struct {
	root         string
	client       *http.Client
	store        Store
	keyGenerator key.KeyGenerator
	logger       *slog.Logger
	recorder     Recorder
	freshness    time.Duration
	timeout      time.Duration
	concurrency  int
	maxBodySize  int64
	now          func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	listeners map[uint64]Listener
	nextID    uint64
}

// Listener is called with the local path of every resource that was written.
// It runs after the file has been flushed and renamed into place.
type Listener func(path string)

type Outcome string

const (
	OutcomeHit         Outcome = "hit"
	OutcomeMiss        Outcome = "miss"
	OutcomeRevalidated Outcome = "revalidated"
	OutcomeNotModified Outcome = "not_modified"
	OutcomeStale       Outcome = "stale"
	OutcomeFailed      Outcome = "failed"
)

type Recorder interface {
	ObserveFetch(bucket string, outcome Outcome)
}

type nopRecorder struct{}

func (nopRecorder) ObserveFetch(string, Outcome) {}

var (
	defaultClient      = &http.Client{}
	defaultLogger      = slog.Default()
	defaultFreshness   = 10 * time.Minute
	defaultTimeout     = 30 * time.Second
	defaultMaxBodySize = int64(0)
)

type options struct {
	client       *http.Client
	store        Store
	keyGenerator key.KeyGenerator
	logger       *slog.Logger
	recorder     Recorder
	freshness    time.Duration
	timeout      time.Duration
	concurrency  int
	maxBodySize  int64
	now          func() time.Time
}

type Option interface {
	apply(opts *options)
}

var (
	_ Option = clientOption{}
	_ Option = storeOption{}
	_ Option = keyGeneratorOption{}
	_ Option = loggerOption{}
	_ Option = recorderOption{}
	_ Option = freshnessOption(0)
	_ Option = timeoutOption(0)
	_ Option = concurrencyOption(0)
	_ Option = maxBodySizeOption(0)
	_ Option = clockOption(nil)
)

type clientOption struct {
	client *http.Client
}

func (o clientOption) apply(opts *options) {
	opts.client = o.client
}

// WithClient sets the HTTP client used to reach origins. Its own Timeout is
// left alone; per-fetch timeouts come from WithTimeout.
func WithClient(client *http.Client) clientOption {
	return clientOption{client}
}

type storeOption struct {
	store Store
}

func (o storeOption) apply(opts *options) {
	opts.store = o.store
}

func WithStore(store Store) storeOption {
	return storeOption{store}
}

type keyGeneratorOption struct {
	keyGenerator key.KeyGenerator
}

func (o keyGeneratorOption) apply(opts *options) {
	opts.keyGenerator = o.keyGenerator
}

func WithKeyGenerator(keyGenerator key.KeyGenerator) keyGeneratorOption {
	return keyGeneratorOption{keyGenerator}
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

type recorderOption struct {
	recorder Recorder
}

func (o recorderOption) apply(opts *options) {
	opts.recorder = o.recorder
}

func WithRecorder(recorder Recorder) recorderOption {
	return recorderOption{recorder}
}

type freshnessOption time.Duration

func (o freshnessOption) apply(opts *options) {
	opts.freshness = time.Duration(o)
}

// WithFreshness sets how long a cached file is served without contacting
// the origin.
func WithFreshness(freshness time.Duration) freshnessOption {
	return freshnessOption(freshness)
}

type timeoutOption time.Duration

func (o timeoutOption) apply(opts *options) {
	opts.timeout = time.Duration(o)
}

// WithTimeout bounds every outbound request. Zero disables the bound.
func WithTimeout(timeout time.Duration) timeoutOption {
	return timeoutOption(timeout)
}

type concurrencyOption int

func (o concurrencyOption) apply(opts *options) {
	opts.concurrency = int(o)
}

// WithConcurrency limits how many fetches FetchAll runs at once. Zero means
// no limit.
func WithConcurrency(n int) concurrencyOption {
	return concurrencyOption(n)
}

type maxBodySizeOption int64

func (o maxBodySizeOption) apply(opts *options) {
	opts.maxBodySize = int64(o)
}

// WithMaxBodySize rejects origin bodies larger than n bytes. Zero means no
// limit.
func WithMaxBodySize(n int64) maxBodySizeOption {
	return maxBodySizeOption(n)
}

type clockOption func() time.Time

func (o clockOption) apply(opts *options) {
	opts.now = o
}

func WithClock(now func() time.Time) clockOption {
	return clockOption(now)
}

// DefaultRoot is {TMPDIR}/views.
func DefaultRoot() string {
	return filepath.Join(os.TempDir(), "views")
}

func New(root string, opts ...Option) *Cache {
	options := &options{
		client:       defaultClient,
		keyGenerator: key.NewKeyGenerator(),
		logger:       defaultLogger,
		recorder:     nopRecorder{},
		freshness:    defaultFreshness,
		timeout:      defaultTimeout,
		maxBodySize:  defaultMaxBodySize,
		now:          time.Now,
	}
	for _, o := range opts {
		o.apply(options)
	}
	if options.store == nil {
		options.store = NewMemoryStore()
	}
	if root == "" {
		root = DefaultRoot()
	}

	return &Cache{
		root:         root,
		client:       options.client,
		store:        options.store,
		keyGenerator: options.keyGenerator,
		logger:       options.logger,
		recorder:     options.recorder,
		freshness:    options.freshness,
		timeout:      options.timeout,
		concurrency:  options.concurrency,
		maxBodySize:  options.maxBodySize,
		now:          options.now,
		listeners:    map[uint64]Listener{},
	}
}

func (c *Cache) Root() string {
	return c.root
}

func (c *Cache) Freshness() time.Duration {
	return c.freshness
}

var bucketPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// NormalizeBucket trims slashes and lower-cases name, and rejects anything
// that could escape the cache root.
func NormalizeBucket(name string) (string, error) {
	n := strings.ToLower(strings.Trim(strings.TrimSpace(name), "/"))
	if n == "" || !bucketPattern.MatchString(n) || strings.Contains(n, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidBucket, name)
	}
	return n, nil
}

// Bucket returns the namespace view of the cache for name.
func (c *Cache) Bucket(name string) (*Bucket, error) {
	n, err := NormalizeBucket(name)
	if err != nil {
		return nil, err
	}
	return &Bucket{c: c, name: n, dir: filepath.Join(c.root, n)}, nil
}

// Subscribe registers l for update notifications. The returned function
// removes it again.
func (c *Cache) Subscribe(l Listener) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = l
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Cache) notify(path string) {
	c.mu.RLock()
	ls := make([]Listener, 0, len(c.listeners))
	for _, l := range c.listeners {
		ls = append(ls, l)
	}
	c.mu.RUnlock()
	for _, l := range ls {
		l(path)
	}
}
