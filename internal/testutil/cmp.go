package testutil

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func NoDiff(t *testing.T, want, got any, opts []cmp.Option) {
	t.Helper()
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}
