package testutil

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nhle/heritage-client/internal/store"
)

// NewTestStore returns an empty in-memory feed cache, closed with the test.
func NewTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err, "opening feed cache")
	t.Cleanup(func() {
		require.NoError(t, s.Close(), "closing feed cache")
	})

	return s
}
