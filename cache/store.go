package cache

import (
	"context"
	"strings"
	"time"
)

//go:generate mockgen -package=mock_cache -source=store.go -destination=mock/store.go

// Entry is the bookkeeping record of one cached resource.
type Entry struct {
	Key         string    `json:"key" msgpack:"key"`
	URL         string    `json:"url" msgpack:"url"`
	Path        string    `json:"path" msgpack:"path"`
	ContentType string    `json:"contentType" msgpack:"contentType"`
	Extension   string    `json:"extension" msgpack:"extension"`
	FetchedAt   time.Time `json:"fetchedAt" msgpack:"fetchedAt"`
}

// Store persists Entry metadata. Keys are already namespaced by bucket.
type Store interface {
	Get(ctx context.Context, key string) (entry Entry, ok bool, err error)
	Set(ctx context.Context, key string, entry Entry) error
}

// IsJSON reports whether the entry holds a JSON document, judging by its
// extension first and its content type second.
func (e Entry) IsJSON() bool {
	switch strings.ToLower(e.Extension) {
	case ".json", ".js":
		return true
	}
	ct := strings.ToLower(e.ContentType)
	return strings.HasPrefix(ct, "application/j") || strings.Contains(ct, "+json")
}
