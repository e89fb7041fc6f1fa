package pebble

import (
	"fmt"
	"testing"

	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/status"
)

func TestMaintenance(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *DB)
	}{
		{name: "delete_range", fn: testDeleteRange},
		{name: "delete_range_edges", fn: testDeleteRangeEdges},
		{name: "approximate_sizes", fn: testApproximateSizes},
		{name: "flush_and_compact", fn: testFlushAndCompact},
		{name: "closed_store", fn: testMaintenanceAfterClose},
	}

	for _, mode := range []Mode{Plain, LockBased, Optimistic} {
		for _, tc := range tests {
			t.Run(mode.String()+"/"+tc.name, func(t *testing.T) {
				store := newTestStore(t, mode)
				defer store.Close()

				tc.fn(t, store)
			})
		}
	}
}

func scan(t *testing.T, store *DB) []string {
	t.Helper()
	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	return collect(t, it)
}

func testDeleteRange(t *testing.T, store *DB) {
	put(t, store, "a", "1", "b", "2", "c", "3", "d", "4", "e", "5")

	require.NoError(t, store.DeleteRange(nil, []byte("b"), []byte("d")))
	assert.Equal(t, []string{"a", "d", "e"}, scan(t, store))
}

func testDeleteRangeEdges(t *testing.T, store *DB) {
	put(t, store, "a", "1", "b", "2")

	require.NoError(t, store.DeleteRange(nil, []byte("b"), []byte("b")))
	assert.Equal(t, []string{"a", "b"}, scan(t, store))

	err := store.DeleteRange(nil, []byte("b"), []byte("a"))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
	assert.Equal(t, []string{"a", "b"}, scan(t, store))
}

func testApproximateSizes(t *testing.T, store *DB) {
	value := make([]byte, 1024)
	for i := 0; i < 200; i++ {
		require.NoError(t, store.Put(nil, []byte(fmt.Sprintf("k%04d", i)), value))
	}
	require.NoError(t, store.Flush(db.DefaultFlushOptions()))

	sizes, err := store.ApproximateSizes([]db.Range{
		{Start: []byte("k0000"), Limit: []byte("k9999")},
		{Start: []byte("z"), Limit: []byte("a")},
	})
	require.NoError(t, err)
	require.Len(t, sizes, 2)
	assert.NotZero(t, sizes[0])
	assert.Zero(t, sizes[1])

	sizes, err = store.ApproximateSizes(nil)
	require.NoError(t, err)
	assert.Empty(t, sizes)
}

func testFlushAndCompact(t *testing.T, store *DB) {
	// compacting an empty store is a no-op
	require.NoError(t, store.CompactAll())

	put(t, store, "a", "1", "b", "2", "c", "3")
	require.NoError(t, store.Delete(nil, []byte("b")))

	require.NoError(t, store.Flush(db.DefaultFlushOptions().SetWait(false)))
	require.NoError(t, store.Flush(db.DefaultFlushOptions()))
	require.NoError(t, store.CompactAll())
	assert.Equal(t, []string{"a", "c"}, scan(t, store))

	stats, err := store.Stats()
	require.NoError(t, err)
	assert.NotEmpty(t, stats)
}

func testMaintenanceAfterClose(t *testing.T, store *DB) {
	require.NoError(t, store.Close())

	_, err := store.ApproximateSizes([]db.Range{{Start: []byte("a"), Limit: []byte("b")}})
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.DeleteRange(nil, []byte("a"), []byte("b")), ErrClosed)
	assert.ErrorIs(t, store.Flush(nil), ErrClosed)
	assert.ErrorIs(t, store.CompactAll(), ErrClosed)
	_, err = store.Stats()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestDeleteRangeConflictsWithOptimisticRead(t *testing.T) {
	store := newTestStore(t, Optimistic)
	defer store.Close()
	put(t, store, "c", "3")

	txn := begin(t, store)
	_, err := txn.GetForUpdate(nil, []byte("c"), true)
	require.NoError(t, err)
	require.NoError(t, txn.Put([]byte("c"), []byte("txn")))

	require.NoError(t, store.DeleteRange(nil, []byte("a"), []byte("z")))

	assert.ErrorIs(t, txn.Commit(), ErrConflict)
	require.NoError(t, txn.Rollback())
}

func TestRepair(t *testing.T) {
	opts := memOptions()
	store, err := Open("db", opts)
	require.NoError(t, err)
	put(t, store, "a", "1", "b", "2")
	require.NoError(t, store.Close())

	require.NoError(t, Repair("db", opts))

	store, err = Open("db", opts)
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, []string{"a", "b"}, scan(t, store))

	err = Repair("missing", opts)
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}

func TestDestroy(t *testing.T) {
	fs := vfs.NewMem()
	opts := db.DefaultOptions().SetCreateIfMissing(true).SetFS(fs)

	store, err := Open("db", opts)
	require.NoError(t, err)
	put(t, store, "a", "1")
	require.NoError(t, store.Close())

	require.NoError(t, Destroy("db", opts))
	_, err = fs.Stat("db")
	assert.Error(t, err)

	// destroying a missing store is fine
	require.NoError(t, Destroy("db", opts))

	_, err = Open("db", db.DefaultOptions().SetFS(fs))
	assert.Equal(t, status.InvalidArgument, status.CodeOf(err))
}
