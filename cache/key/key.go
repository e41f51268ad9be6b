package key

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/bytedance/sonic"
)

var ErrEmptyURL = errors.New("descriptor url is empty")

// Descriptor describes one outbound fetch. It is the only identity the cache
// knows about: two descriptors with the same canonical form share a key.
type Descriptor struct {
	URL     string            `json:"url"`
	Method  string            `json:"method,omitempty"`
	Body    []byte            `json:"body,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`

	// Extension overrides the file extension inferred from the URL path. It
	// affects the local file name only, never the key.
	Extension string `json:"-"`
}

func New(rawURL string) Descriptor {
	return Descriptor{URL: rawURL}
}

// UnmarshalJSON accepts either a bare URL string or an object.
func (d *Descriptor) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := sonic.Unmarshal(b, &s); err != nil {
			return err
		}
		*d = Descriptor{URL: s}
		return nil
	}

	var raw struct {
		URL     string            `json:"url"`
		Method  string            `json:"method"`
		Body    any               `json:"body"`
		Headers map[string]string `json:"headers"`
	}
	if err := sonic.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := Descriptor{URL: raw.URL, Method: raw.Method, Headers: raw.Headers}
	switch body := raw.Body.(type) {
	case nil:
	case string:
		out.Body = []byte(body)
	default:
		enc, err := sonic.ConfigStd.Marshal(body)
		if err != nil {
			return err
		}
		out.Body = enc
	}
	*d = out
	return nil
}

// Canonicalize returns a normalized copy of d. The method defaults to POST
// when a body is present and GET otherwise, header names are canonicalized,
// and the headers map is always non-nil.
func Canonicalize(d Descriptor) Descriptor {
	out := Descriptor{
		URL:       strings.TrimSpace(d.URL),
		Method:    strings.ToUpper(strings.TrimSpace(d.Method)),
		Extension: d.Extension,
		Headers:   make(map[string]string, len(d.Headers)),
	}
	if len(d.Body) > 0 {
		out.Body = append([]byte(nil), d.Body...)
	}
	if out.Method == "" {
		if len(out.Body) > 0 {
			out.Method = http.MethodPost
		} else {
			out.Method = http.MethodGet
		}
	}

	// Header names that collide after canonicalization resolve to the value
	// of the lexically last original name, independent of map order.
	names := make([]string, 0, len(d.Headers))
	for name := range d.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Headers[http.CanonicalHeaderKey(strings.TrimSpace(name))] = d.Headers[name]
	}
	return out
}

// Bytes is the deterministic serialization of the canonical descriptor.
// Map keys are emitted in sorted order.
func Bytes(d Descriptor) ([]byte, error) {
	return sonic.ConfigStd.Marshal(Canonicalize(d))
}

// Ext returns the file extension used for the descriptor's local file.
func Ext(d Descriptor) string {
	if d.Extension != "" {
		if !strings.HasPrefix(d.Extension, ".") {
			return "." + d.Extension
		}
		return d.Extension
	}
	u, err := url.Parse(d.URL)
	if err != nil {
		return ""
	}
	return path.Ext(u.Path)
}

type KeyGenerator interface {
	Key(d Descriptor) (key string, err error)
}

// DefaultKeyGenerator hashes the canonical serialization with 128-bit FNV-1a.
type DefaultKeyGenerator struct{}

func NewKeyGenerator() *DefaultKeyGenerator {
	return &DefaultKeyGenerator{}
}

func (g *DefaultKeyGenerator) Key(d Descriptor) (string, error) {
	if strings.TrimSpace(d.URL) == "" {
		return "", ErrEmptyURL
	}
	b, err := Bytes(d)
	if err != nil {
		return "", fmt.Errorf("serialize descriptor: %w", err)
	}
	h := fnv.New128a()
	h.Write(b)
	return hex.EncodeToString(h.Sum(nil)), nil
}
