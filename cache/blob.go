package cache

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

var ErrBodyTooLarge = errors.New("response body too large")

func stat(path string) (time.Time, bool, error) {
	fi, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return fi.ModTime(), true, nil
}

// writeFile streams r into a temporary sibling of path and renames it into
// place once flushed, so readers never observe a partial file.
func writeFile(path string, r io.Reader, limit int64) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if limit > 0 {
		r = io.LimitReader(r, limit+1)
	}
	n, err := io.Copy(f, r)
	if err == nil && limit > 0 && n > limit {
		err = ErrBodyTooLarge
	}
	if err == nil {
		err = f.Chmod(0o644)
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
