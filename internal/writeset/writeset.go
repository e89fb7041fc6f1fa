// Package writeset holds the pending writes of a transaction in key order.
package writeset

import (
	"bytes"

	"github.com/google/btree"
)

// Entry is one pending write. A tombstone hides the key from reads.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Set is an ordered write set. The zero value is not usable; call New.
type Set struct {
	cmp  func(a, b []byte) int
	tree *btree.BTreeG[Entry]
}

const degree = 16

// New returns an empty set ordered by cmp. A nil cmp orders bytewise.
func New(cmp func(a, b []byte) int) *Set {
	if cmp == nil {
		cmp = bytes.Compare
	}
	less := func(a, b Entry) bool { return cmp(a.Key, b.Key) < 0 }
	return &Set{cmp: cmp, tree: btree.NewG[Entry](degree, less)}
}

// Put records key=value, copying both.
func (s *Set) Put(key, value []byte) {
	s.tree.ReplaceOrInsert(Entry{Key: bytes.Clone(key), Value: cloneValue(value)})
}

// Delete records a tombstone for key.
func (s *Set) Delete(key []byte) {
	s.tree.ReplaceOrInsert(Entry{Key: bytes.Clone(key), Tombstone: true})
}

// Get returns the pending write for key, if any.
func (s *Set) Get(key []byte) (Entry, bool) {
	return s.tree.Get(Entry{Key: key})
}

func (s *Set) Len() int {
	return s.tree.Len()
}

// Clone returns a copy-on-write snapshot of s in O(1). Later writes to either
// set are not seen by the other.
func (s *Set) Clone() *Set {
	return &Set{cmp: s.cmp, tree: s.tree.Clone()}
}

// Ascend calls fn for every entry in order until fn returns false.
func (s *Set) Ascend(fn func(Entry) bool) {
	s.tree.Ascend(btree.ItemIteratorG[Entry](fn))
}

// Keys returns the keys of every entry in order.
func (s *Set) Keys() [][]byte {
	keys := make([][]byte, 0, s.tree.Len())
	s.tree.Ascend(func(e Entry) bool {
		keys = append(keys, e.Key)
		return true
	})
	return keys
}

func (s *Set) First() (Entry, bool) {
	return s.tree.Min()
}

func (s *Set) Last() (Entry, bool) {
	return s.tree.Max()
}

// SeekGE returns the first entry with a key >= key.
func (s *Set) SeekGE(key []byte) (e Entry, ok bool) {
	s.tree.AscendGreaterOrEqual(Entry{Key: key}, func(item Entry) bool {
		e, ok = item, true
		return false
	})
	return e, ok
}

// SeekGT returns the first entry with a key > key.
func (s *Set) SeekGT(key []byte) (e Entry, ok bool) {
	s.tree.AscendGreaterOrEqual(Entry{Key: key}, func(item Entry) bool {
		if s.cmp(item.Key, key) == 0 {
			return true
		}
		e, ok = item, true
		return false
	})
	return e, ok
}

// SeekLE returns the last entry with a key <= key.
func (s *Set) SeekLE(key []byte) (e Entry, ok bool) {
	s.tree.DescendLessOrEqual(Entry{Key: key}, func(item Entry) bool {
		e, ok = item, true
		return false
	})
	return e, ok
}

// SeekLT returns the last entry with a key < key.
func (s *Set) SeekLT(key []byte) (e Entry, ok bool) {
	s.tree.DescendLessOrEqual(Entry{Key: key}, func(item Entry) bool {
		if s.cmp(item.Key, key) == 0 {
			return true
		}
		e, ok = item, true
		return false
	})
	return e, ok
}

// cloneValue keeps an empty value distinct from a nil one.
func cloneValue(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return bytes.Clone(v)
}
