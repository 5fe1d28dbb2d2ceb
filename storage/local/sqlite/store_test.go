package sqlitestore_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ibam/learnsync/recovery"
	"github.com/ibam/learnsync/storage/local/sqlite"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "learner.db")
	ctx := context.Background()

	store, err := sqlitestore.Open(path)
	require.NoError(t, err)

	_, err = store.Get(ctx, recovery.KeySessionState)
	assert.Equal(t, recovery.ErrNotFound, err)

	require.NoError(t, store.Set(ctx, recovery.KeySessionState, []byte(`{"userId":"u1"}`)))
	require.NoError(t, store.Set(ctx, recovery.KeySessionState, []byte(`{"userId":"u2"}`)))
	require.NoError(t, store.Set(ctx, recovery.KeyOperationQueue, []byte(`[]`)))
	require.NoError(t, store.Set(ctx, recovery.KeyDeadLetters, []byte(`[{"id":"x"}]`)))

	v, err := store.Get(ctx, recovery.KeySessionState)
	require.NoError(t, err)
	assert.JSONEq(t, `{"userId":"u2"}`, string(v))

	// survives a reopen
	require.NoError(t, store.Close())
	store, err = sqlitestore.Open(path)
	require.NoError(t, err)
	defer store.Close()

	v, err = store.Get(ctx, recovery.KeyOperationQueue)
	require.NoError(t, err)
	assert.Equal(t, "[]", string(v))

	require.NoError(t, store.Delete(ctx, recovery.KeySessionState, recovery.KeyOperationQueue, "missing"))
	require.NoError(t, store.Delete(ctx))
	_, err = store.Get(ctx, recovery.KeySessionState)
	assert.Equal(t, recovery.ErrNotFound, err)
	_, err = store.Get(ctx, recovery.KeyOperationQueue)
	assert.Equal(t, recovery.ErrNotFound, err)
	_, err = store.Get(ctx, recovery.KeyDeadLetters)
	assert.NoError(t, err)
}
