package db

import "bytes"

// CompareFunc orders two keys, returning a negative, zero or positive value.
// It must be a pure total order that never changes for data written under it.
type CompareFunc func(a, b []byte) int

// Comparator adapts a caller-supplied ordering for use inside the engine.
// The name is persisted with the data; reopening a store under a different
// name fails, while changing the function under the same name silently
// corrupts the ordering and is not detected.
type Comparator struct {
	name                string
	fn                  CompareFunc
	differentBytesEqual bool
}

// NewComparator wraps fn. diffBytesCanBeEqual must be true when two keys with
// different bytes can compare equal.
//
// Point locks in lock-based transactions are keyed by the exact key bytes, so
// such keys do not lock each other out. Callers that need them to conflict
// must write a canonical form of the key.
func NewComparator(name string, fn CompareFunc, diffBytesCanBeEqual bool) *Comparator {
	return &Comparator{name: name, fn: fn, differentBytesEqual: diffBytesCanBeEqual}
}

// BytewiseComparator orders keys lexicographically.
func BytewiseComparator() *Comparator {
	return NewComparator("leveldb.BytewiseComparator", bytes.Compare, false)
}

func (c *Comparator) Name() string {
	return c.name
}

// Compare returns -1, 0 or 1.
func (c *Comparator) Compare(a, b []byte) int {
	switch r := c.fn(a, b); {
	case r < 0:
		return -1
	case r > 0:
		return 1
	default:
		return 0
	}
}

func (c *Comparator) CanKeysWithDifferentByteContentsBeEqual() bool {
	return c.differentBytesEqual
}

// FindShortestSeparator leaves start unchanged.
func (c *Comparator) FindShortestSeparator(start, _ []byte) []byte {
	return start
}

// FindShortSuccessor leaves key unchanged.
func (c *Comparator) FindShortSuccessor(key []byte) []byte {
	return key
}
