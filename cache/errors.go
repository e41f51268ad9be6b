package cache

import (
	"errors"
	"fmt"
)

// ErrFetchFailed is returned when a resource could not be fetched and no
// cached copy exists to fall back on.
var ErrFetchFailed = errors.New("fetch failed")

var ErrInvalidBucket = errors.New("invalid bucket name")

type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	return target == ErrFetchFailed
}
