package leveldbcache

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/Arthur1/remote-views/cache"
)

// Store keeps entry metadata in a LevelDB database on local disk, so it
// survives restarts alongside the cached files.
type Store struct {
	db *leveldb.DB
}

var _ cache.Store = (*Store)(nil)

func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Get(_ context.Context, key string) (cache.Entry, bool, error) {
	b, err := s.db.Get([]byte("e:"+key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return cache.Entry{}, false, nil
	}
	if err != nil {
		return cache.Entry{}, false, err
	}
	var ent cache.Entry
	if err := decodeGob(b, &ent); err != nil {
		return cache.Entry{}, false, err
	}
	return ent, true, nil
}

func (s *Store) Set(_ context.Context, key string, entry cache.Entry) error {
	b, err := encodeGob(entry)
	if err != nil {
		return err
	}
	return s.db.Put([]byte("e:"+key), b, nil)
}

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
