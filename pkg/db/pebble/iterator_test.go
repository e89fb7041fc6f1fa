package pebble

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/status"
)

// collect walks it forward from its current position.
func collect(t *testing.T, it db.Iterator) []string {
	t.Helper()
	var keys []string
	for ; it.Valid(); it.Next() {
		k, err := it.Key()
		require.NoError(t, err)
		keys = append(keys, string(k))
	}
	require.NoError(t, it.Err())
	return keys
}

// collectReverse walks it backwards from its current position.
func collectReverse(t *testing.T, it db.Iterator) []string {
	t.Helper()
	var keys []string
	for ; it.Valid(); it.Prev() {
		k, err := it.Key()
		require.NoError(t, err)
		keys = append(keys, string(k))
	}
	require.NoError(t, it.Err())
	return keys
}

func TestIterator(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *DB)
	}{
		{name: "forward_scan", fn: testForwardScan},
		{name: "reverse_scan", fn: testReverseScan},
		{name: "seek", fn: testSeek},
		{name: "direction_switch", fn: testDirectionSwitch},
		{name: "bounds", fn: testBounds},
		{name: "invalid_cursor", fn: testInvalidCursor},
		{name: "snapshot_cursor", fn: testSnapshotCursor},
		{name: "refresh", fn: testRefresh},
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

func testForwardScan(t *testing.T, store *DB) {
	put(t, store, "b", "2", "a", "1", "c", "3")

	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), k)
	v, err := it.Value()
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	assert.Equal(t, []string{"a", "b", "c"}, collect(t, it))
	assert.False(t, it.Valid())
}

func testReverseScan(t *testing.T, store *DB) {
	put(t, store, "a", "1", "b", "2", "c", "3")

	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToLast()
	assert.Equal(t, []string{"c", "b", "a"}, collectReverse(t, it))
}

func testSeek(t *testing.T, store *DB) {
	put(t, store, "a", "1", "c", "3", "e", "5")

	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	tests := []struct {
		name    string
		forPrev bool
		target  string
		want    string
	}{
		{name: "exact", target: "c", want: "c"},
		{name: "between", target: "b", want: "c"},
		{name: "past_end", target: "f"},
		{name: "for_prev_exact", forPrev: true, target: "c", want: "c"},
		{name: "for_prev_between", forPrev: true, target: "d", want: "c"},
		{name: "for_prev_before_start", forPrev: true, target: "0"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.forPrev {
				it.SeekForPrev([]byte(tc.target))
			} else {
				it.Seek([]byte(tc.target))
			}
			if tc.want == "" {
				assert.False(t, it.Valid())
				return
			}
			require.True(t, it.Valid())
			k, err := it.Key()
			require.NoError(t, err)
			assert.Equal(t, tc.want, string(k))
		})
	}
}

func testDirectionSwitch(t *testing.T, store *DB) {
	put(t, store, "a", "1", "b", "2", "c", "3")

	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	it.Seek([]byte("b"))
	it.Prev()
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), k)

	it.Next()
	k, err = it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
}

func testBounds(t *testing.T, store *DB) {
	put(t, store, "a", "1", "b", "2", "c", "3", "d", "4")

	ro := db.DefaultReadOptions().
		SetIterateLowerBound([]byte("b")).
		SetIterateUpperBound([]byte("d"))
	it, err := store.NewIterator(ro)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	assert.Equal(t, []string{"b", "c"}, collect(t, it))
	it.SeekToLast()
	assert.Equal(t, []string{"c", "b"}, collectReverse(t, it))

	it.Seek([]byte("a"))
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), k)
}

func testInvalidCursor(t *testing.T, store *DB) {
	it, err := store.NewIterator(nil)
	require.NoError(t, err)

	it.SeekToFirst()
	assert.False(t, it.Valid())
	_, err = it.Key()
	assert.ErrorIs(t, err, ErrIteratorInvalid)
	_, err = it.Value()
	assert.ErrorIs(t, err, ErrIteratorInvalid)
	assert.NoError(t, it.Err())

	require.NoError(t, it.Close())
	require.NoError(t, it.Close())
	_, err = it.Key()
	assert.ErrorIs(t, err, ErrIteratorClosed)
	assert.ErrorIs(t, it.Refresh(), ErrIteratorClosed)
	assert.Zero(t, store.dependents.Load())
}

func testSnapshotCursor(t *testing.T, store *DB) {
	put(t, store, "a", "1")
	snap, err := store.NewSnapshot()
	require.NoError(t, err)
	defer snap.Release() //nolint:errcheck
	put(t, store, "b", "2")

	it, err := store.NewIterator(db.DefaultReadOptions().SetSnapshot(snap))
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	assert.Equal(t, []string{"a"}, collect(t, it))
}

func testRefresh(t *testing.T, store *DB) {
	put(t, store, "a", "1")

	it, err := store.NewIterator(nil)
	require.NoError(t, err)
	defer it.Close()

	put(t, store, "b", "2")
	it.SeekToFirst()
	assert.Equal(t, []string{"a"}, collect(t, it))

	require.NoError(t, it.Refresh())
	assert.False(t, it.Valid())
	it.SeekToFirst()
	assert.Equal(t, []string{"a", "b"}, collect(t, it))
}

func TestTransactionCursor(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, store *DB, txn *Transaction)
	}{
		{name: "merges_pending_writes", fn: testMergedScan},
		{name: "merges_in_reverse", fn: testMergedReverse},
		{name: "pending_writes_respect_bounds", fn: testMergedBounds},
		{name: "refresh_sees_new_writes", fn: testMergedRefresh},
	}

	for _, mode := range []Mode{LockBased, Optimistic} {
		for _, tc := range tests {
			t.Run(mode.String()+"/"+tc.name, func(t *testing.T) {
				store := newTestStore(t, mode)
				defer store.Close()
				put(t, store, "a", "base-a", "b", "base-b", "d", "base-d")

				txn := begin(t, store)
				defer txn.Rollback() //nolint:errcheck
				require.NoError(t, txn.Put([]byte("b"), []byte("txn-b")))
				require.NoError(t, txn.Put([]byte("c"), []byte("txn-c")))
				require.NoError(t, txn.Delete([]byte("d")))

				tc.fn(t, store, txn)
			})
		}
	}
}

func testMergedScan(t *testing.T, _ *DB, txn *Transaction) {
	it, err := txn.Iterator(nil)
	require.NoError(t, err)
	defer it.Close()

	want := []struct{ k, v string }{
		{"a", "base-a"},
		{"b", "txn-b"},
		{"c", "txn-c"},
	}
	it.SeekToFirst()
	for _, w := range want {
		require.True(t, it.Valid())
		k, err := it.Key()
		require.NoError(t, err)
		v, err := it.Value()
		require.NoError(t, err)
		assert.Equal(t, w.k, string(k))
		assert.Equal(t, w.v, string(v))
		it.Next()
	}
	assert.False(t, it.Valid())
}

func testMergedReverse(t *testing.T, _ *DB, txn *Transaction) {
	it, err := txn.Iterator(nil)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToLast()
	assert.Equal(t, []string{"c", "b", "a"}, collectReverse(t, it))

	it.SeekForPrev([]byte("d"))
	k, err := it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), k)

	it.Prev()
	it.Next()
	k, err = it.Key()
	require.NoError(t, err)
	assert.Equal(t, []byte("c"), k)
}

func testMergedBounds(t *testing.T, _ *DB, txn *Transaction) {
	require.NoError(t, txn.Put([]byte("z"), []byte("txn-z")))

	ro := db.DefaultReadOptions().SetIterateUpperBound([]byte("c"))
	it, err := txn.Iterator(ro)
	require.NoError(t, err)
	defer it.Close()

	it.SeekToFirst()
	assert.Equal(t, []string{"a", "b"}, collect(t, it))
	it.SeekToLast()
	assert.Equal(t, []string{"b", "a"}, collectReverse(t, it))

	// targets at or past upper land on the last key inside the bound
	for _, target := range []string{"c", "d", "z"} {
		it.SeekForPrev([]byte(target))
		require.True(t, it.Valid(), target)
		assert.Equal(t, []string{"b", "a"}, collectReverse(t, it), target)
	}
}

func testMergedRefresh(t *testing.T, _ *DB, txn *Transaction) {
	it, err := txn.Iterator(nil)
	require.NoError(t, err)
	defer it.Close()

	require.NoError(t, txn.Put([]byte("e"), []byte("txn-e")))
	it.SeekToFirst()
	assert.Equal(t, []string{"a", "b", "c"}, collect(t, it))

	require.NoError(t, it.Refresh())
	it.SeekToFirst()
	assert.Equal(t, []string{"a", "b", "c", "e"}, collect(t, it))
}

func TestPrefixIterator(t *testing.T) {
	opts := memOptions().SetFixedPrefixExtractor(2).SetBloomFilter(10, false)
	store, err := Open("db", opts)
	require.NoError(t, err)
	defer store.Close()
	put(t, store, "aa1", "1", "aa2", "2", "ab1", "3", "b", "4")

	t.Run("same_as_start", func(t *testing.T) {
		it, err := store.NewIterator(db.DefaultReadOptions().SetPrefixSameAsStart(true))
		require.NoError(t, err)
		defer it.Close()

		it.Seek([]byte("aa"))
		assert.Equal(t, []string{"aa1", "aa2"}, collect(t, it))

		it.Seek([]byte("aa2"))
		require.True(t, it.Valid())
		it.Prev()
		assert.False(t, it.Valid())
		assert.Equal(t, status.NotSupported, status.CodeOf(it.Err()))
	})

	t.Run("total_order_overrides", func(t *testing.T) {
		ro := db.DefaultReadOptions().SetPrefixSameAsStart(true).SetTotalOrderSeek(true)
		it, err := store.NewIterator(ro)
		require.NoError(t, err)
		defer it.Close()

		it.Seek([]byte("aa"))
		assert.Equal(t, []string{"aa1", "aa2", "ab1", "b"}, collect(t, it))
	})

	t.Run("auto_prefix", func(t *testing.T) {
		ro := db.DefaultReadOptions().SetAutoPrefixMode(true).SetIterateUpperBound([]byte("aa9"))
		it, err := store.NewIterator(ro)
		require.NoError(t, err)
		defer it.Close()

		it.Seek([]byte("aa"))
		assert.Equal(t, []string{"aa1", "aa2"}, collect(t, it))
	})
}
