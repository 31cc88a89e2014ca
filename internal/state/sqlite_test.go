package state

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLiteStore(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scope := []string{"prod", "web"}
	require.NoError(t, st.Put(ctx, scope, "server", testRecord(scope, "server")))

	rec, err := st.Get(ctx, scope, "server")
	require.NoError(t, err)
	assert.Equal(t, "server", rec.ID)
	assert.Equal(t, []string{"prod", "web"}, rec.ScopePath)
	assert.Equal(t, "remote-server", rec.Output["id"])
}

func TestSQLiteStore_Upsert(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scope := []string{"prod"}
	rec := testRecord(scope, "server")
	require.NoError(t, st.Put(ctx, scope, "server", rec))

	rec.Status = StatusReplacing
	require.NoError(t, st.Put(ctx, scope, "server", rec))

	got, err := st.Get(ctx, scope, "server")
	require.NoError(t, err)
	assert.Equal(t, StatusReplacing, got.Status)

	records, err := st.List(ctx, scope)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.Get(context.Background(), []string{"prod"}, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestSQLiteStore_ListPrefix(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, []string{"prod"}, "a", testRecord([]string{"prod"}, "a")))
	require.NoError(t, st.Put(ctx, []string{"prod", "web"}, "b", testRecord([]string{"prod", "web"}, "b")))
	require.NoError(t, st.Put(ctx, []string{"production"}, "c", testRecord([]string{"production"}, "c")))

	records, err := st.List(ctx, []string{"prod"})
	require.NoError(t, err)
	// "production" must not match the "prod" prefix.
	require.Len(t, records, 2)

	all, err := st.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestSQLiteStore_ListPrefixEscapesWildcards(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, []string{"pr_d"}, "a", testRecord([]string{"pr_d"}, "a")))
	require.NoError(t, st.Put(ctx, []string{"pr_d", "web"}, "b", testRecord([]string{"pr_d", "web"}, "b")))
	require.NoError(t, st.Put(ctx, []string{"prod", "web"}, "c", testRecord([]string{"prod", "web"}, "c")))

	// "_" in a scope name is a literal, not a single-character wildcard:
	// the "pr_d" subtree must not pick up records under "prod".
	records, err := st.List(ctx, []string{"pr_d"})
	require.NoError(t, err)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.Equal(t, "pr_d", rec.ScopePath[0])
	}
}

func TestSQLiteStore_Delete(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	scope := []string{"prod"}
	require.NoError(t, st.Put(ctx, scope, "server", testRecord(scope, "server")))
	require.NoError(t, st.Delete(ctx, scope, "server"))

	_, err := st.Get(ctx, scope, "server")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}
