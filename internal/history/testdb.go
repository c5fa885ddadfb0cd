// SPDX-License-Identifier: MPL-2.0

package history

import (
	"context"
	"testing"
)

// OpenTestService opens an in-memory history service with all migrations
// applied. It is closed when the test finishes.
func OpenTestService(t testing.TB, opts ...Option) *Service {
	t.Helper()
	s, err := Open(context.Background(), ":memory:", opts...)
	if err != nil {
		t.Fatalf("open test history: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}
