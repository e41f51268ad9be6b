package valkeycache

import (
	"context"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/valkey-io/valkey-go"

	"github.com/Arthur1/remote-views/cache"
)

// Store keeps entry metadata in Valkey as JSON strings.
type Store struct {
	client valkey.Client
	prefix string
	ttl    time.Duration
}

var _ cache.Store = (*Store)(nil)

type Option interface {
	apply(opts *options)
}

var (
	_ Option = ttlOption(0)
	_ Option = prefixOption("")
)

type options struct {
	ttl    time.Duration
	prefix string
}

type ttlOption time.Duration

func (o ttlOption) apply(opts *options) {
	opts.ttl = time.Duration(o)
}

// WithTTL sets the lifetime of stored entries. Zero or less keeps them
// forever.
func WithTTL(ttl time.Duration) ttlOption {
	return ttlOption(ttl)
}

type prefixOption string

func (o prefixOption) apply(opts *options) {
	opts.prefix = string(o)
}

func WithPrefix(prefix string) prefixOption {
	return prefixOption(prefix)
}

// Dial connects to the Valkey server at addr. Client-side caching is turned
// off for local addresses, where the server is usually a test double that
// does not speak RESP3 tracking.
func Dial(addr string) (valkey.Client, error) {
	return valkey.NewClient(valkey.ClientOption{
		DisableCache: strings.Contains(addr, "127.0.0.1") || strings.Contains(addr, "localhost"),
		InitAddress:  []string{addr},
	})
}

func New(client valkey.Client, opts ...Option) *Store {
	options := &options{
		prefix: "remoteviews:",
	}
	for _, o := range opts {
		o.apply(options)
	}
	return &Store{
		client: client,
		prefix: options.prefix,
		ttl:    options.ttl,
	}
}

func (s *Store) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	cmd := s.client.B().Get().Key(s.prefix + key).Build()
	val, err := s.client.Do(ctx, cmd).AsBytes()
	if valkey.IsValkeyNil(err) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	var ent cache.Entry
	if err := sonic.Unmarshal(val, &ent); err != nil {
		return cache.Entry{}, false, err
	}
	return ent, true, nil
}

func (s *Store) Set(ctx context.Context, key string, entry cache.Entry) error {
	b, err := sonic.Marshal(entry)
	if err != nil {
		return err
	}
	if s.ttl > 0 {
		cmd := s.client.B().Set().Key(s.prefix + key).Value(valkey.BinaryString(b)).Px(s.ttl).Build()
		return s.client.Do(ctx, cmd).Error()
	}
	cmd := s.client.B().Set().Key(s.prefix + key).Value(valkey.BinaryString(b)).Build()
	return s.client.Do(ctx, cmd).Error()
}

func (s *Store) Close() {
	s.client.Close()
}
