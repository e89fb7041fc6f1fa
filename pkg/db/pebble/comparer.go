package pebble

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvbridge/pkg/db"
)

// newComparer adapts a caller comparator and prefix extractor to the
// engine's Comparer. With neither set the engine default is used as is.
func newComparer(c *db.Comparator, pe db.PrefixExtractor) *pebble.Comparer {
	if c == nil && pe == nil {
		return pebble.DefaultComparer
	}

	cmp := *pebble.DefaultComparer
	if c != nil {
		cmp.Name = c.Name()
		cmp.Compare = c.Compare
		cmp.AbbreviatedKey = func([]byte) uint64 { return 0 }
		if c.CanKeysWithDifferentByteContentsBeEqual() {
			cmp.Equal = func(a, b []byte) bool { return c.Compare(a, b) == 0 }
		} else {
			cmp.Equal = bytes.Equal
		}
		// no shortening: index keys stay full user keys
		cmp.Separator = func(dst, a, _ []byte) []byte {
			return append(dst, c.FindShortestSeparator(a, nil)...)
		}
		cmp.Successor = func(dst, a []byte) []byte {
			return append(dst, c.FindShortSuccessor(a)...)
		}
		cmp.ImmediateSuccessor = func(dst, a []byte) []byte {
			return append(append(dst, a...), 0x00)
		}
	}

	if pe != nil {
		cmp.Split = prefixSplit(pe)
	} else {
		cmp.Split = func(a []byte) int { return len(a) }
	}
	return &cmp
}

// prefixSplit maps a prefix extractor to the engine's key split. Keys outside
// the extractor's domain are their own prefix.
func prefixSplit(pe db.PrefixExtractor) func([]byte) int {
	return func(a []byte) int {
		if !pe.InDomain(a) {
			return len(a)
		}
		return len(pe.Transform(a))
	}
}

// prefixOf returns the prefix of key, or nil when key has none.
func prefixOf(pe db.PrefixExtractor, key []byte) []byte {
	if pe == nil || !pe.InDomain(key) {
		return nil
	}
	return pe.Transform(key)
}
