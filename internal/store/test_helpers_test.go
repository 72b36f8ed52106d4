package store

import (
	"path/filepath"
	"testing"
	"time"
)

// createTestStore creates a new file-backed store in a temp dir.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// testTime returns a fixed UTC instant offset by the given number of days.
func testTime(days int) time.Time {
	return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC).AddDate(0, 0, days)
}
