package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRecord(scopePath []string, id string) *Record {
	return &Record{
		ScopePath: scopePath,
		ID:        id,
		Kind:      "null",
		Inputs:    map[string]any{"size": "small"},
		Output:    map[string]any{"id": "remote-" + id},
		Status:    StatusCreated,
		UpdatedAt: time.Now().UTC(),
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	scope := []string{"prod", "web"}
	require.NoError(t, st.Put(ctx, scope, "server", testRecord(scope, "server")))

	rec, err := st.Get(ctx, scope, "server")
	require.NoError(t, err)
	assert.Equal(t, "server", rec.ID)
	assert.Equal(t, "null", rec.Kind)
	assert.Equal(t, "small", rec.Inputs["size"])
	assert.Equal(t, StatusCreated, rec.Status)
}

func TestFileStore_GetMissing(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = st.Get(context.Background(), []string{"prod"}, "nope")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestFileStore_Delete(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	scope := []string{"prod"}
	require.NoError(t, st.Put(ctx, scope, "server", testRecord(scope, "server")))
	require.NoError(t, st.Delete(ctx, scope, "server"))

	_, err = st.Get(ctx, scope, "server")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	// Deleting again is fine.
	require.NoError(t, st.Delete(ctx, scope, "server"))
}

func TestFileStore_ListPrefix(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, []string{"prod"}, "a", testRecord([]string{"prod"}, "a")))
	require.NoError(t, st.Put(ctx, []string{"prod", "web"}, "b", testRecord([]string{"prod", "web"}, "b")))
	require.NoError(t, st.Put(ctx, []string{"staging"}, "c", testRecord([]string{"staging"}, "c")))

	records, err := st.List(ctx, []string{"prod"})
	require.NoError(t, err)
	require.Len(t, records, 2)

	all, err := st.List(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := st.List(ctx, []string{"absent"})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFileStore_Lock(t *testing.T) {
	st, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, st.Lock(ctx))
	err = st.Lock(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "locked by another process")

	require.NoError(t, st.Unlock(ctx))
	require.NoError(t, st.Lock(ctx))
	require.NoError(t, st.Unlock(ctx))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "prod/web/server", Key([]string{"prod", "web"}, "server"))
	assert.Equal(t, "server", Key(nil, "server"))
}
