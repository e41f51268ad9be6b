package testutil

import (
	"runtime"
	"testing"
)

// ConcurrentTestReporter lets gomock report failures from goroutines other
// than the one running the test. See https://github.com/golang/mock/issues/145.
type ConcurrentTestReporter struct {
	*testing.T
}

func NewConcurrentTestReporter(t *testing.T) *ConcurrentTestReporter {
	return &ConcurrentTestReporter{t}
}

func (r *ConcurrentTestReporter) Fatalf(format string, args ...any) {
	r.T.Errorf(format, args...)
	runtime.Goexit()
}
