package db

import "fmt"

// PrefixExtractor maps a key to the prefix used for prefix filters and
// prefix-restricted cursors. Keys sharing a prefix must be contiguous under
// the store's comparator.
type PrefixExtractor interface {
	Name() string

	// Transform returns the prefix of key. It may alias key.
	Transform(key []byte) []byte

	// InDomain reports whether key has a prefix at all.
	InDomain(key []byte) bool
}

// FixedPrefixExtractor uses the first n bytes of each key. Shorter keys are
// out of domain.
type FixedPrefixExtractor struct {
	n int
}

func NewFixedPrefixExtractor(n int) *FixedPrefixExtractor {
	if n <= 0 {
		n = 1
	}
	return &FixedPrefixExtractor{n: n}
}

func (e *FixedPrefixExtractor) Name() string {
	return fmt.Sprintf("rocksdb.FixedPrefix.%d", e.n)
}

func (e *FixedPrefixExtractor) Transform(key []byte) []byte {
	if len(key) < e.n {
		return key
	}
	return key[:e.n]
}

func (e *FixedPrefixExtractor) InDomain(key []byte) bool {
	return len(key) >= e.n
}

// CappedPrefixExtractor uses min(n, len(key)) bytes; every key is in domain.
type CappedPrefixExtractor struct {
	n int
}

func NewCappedPrefixExtractor(n int) *CappedPrefixExtractor {
	if n <= 0 {
		n = 1
	}
	return &CappedPrefixExtractor{n: n}
}

func (e *CappedPrefixExtractor) Name() string {
	return fmt.Sprintf("rocksdb.CappedPrefix.%d", e.n)
}

func (e *CappedPrefixExtractor) Transform(key []byte) []byte {
	return key[:min(e.n, len(key))]
}

func (e *CappedPrefixExtractor) InDomain([]byte) bool {
	return true
}
