package pebble

import (
	"bytes"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvbridge/internal/writeset"
	"github.com/eigerco/kvbridge/pkg/db"
)

var _ db.Iterator = (*Iterator)(nil)

const (
	forward = 1
	reverse = -1
)

// Iterator is a cursor over a store, or over a transaction's view of it. A
// transaction cursor merges the transaction's pending writes (the delta) over
// the engine iterator (the base); on equal keys the delta wins and delta
// tombstones hide base keys.
type Iterator struct {
	owner *DB
	txn   *Transaction

	source   func() (pebble.Reader, error)
	deltaSrc func() *writeset.Set

	base  *pebble.Iterator
	delta *writeset.Set
	cmp   func(a, b []byte) int

	lower, upper []byte
	prefix       db.PrefixExtractor
	prefixSame   bool
	autoPrefix   bool
	// seekPrefix restricts the cursor after a prefix-mode seek.
	seekPrefix []byte

	dir       int
	deltaCur  writeset.Entry
	deltaOK   bool
	fromDelta bool
	valid     bool

	err    error
	closed bool
}

// newIterator is called with the owner known to be open.
func newIterator(d *DB, txn *Transaction, ro *db.ReadOptions, source func() (pebble.Reader, error), deltaSrc func() *writeset.Set) (*Iterator, error) {
	it := &Iterator{
		owner:      d,
		txn:        txn,
		source:     source,
		deltaSrc:   deltaSrc,
		cmp:        d.cmp.Compare,
		lower:      bytes.Clone(ro.IterateLowerBound),
		upper:      bytes.Clone(ro.IterateUpperBound),
		prefix:     d.prefix,
		prefixSame: d.prefix != nil && ro.PrefixSameAsStart && !ro.TotalOrderSeek,
		autoPrefix: d.prefix != nil && ro.AutoPrefixMode && !ro.TotalOrderSeek && d.bytewise,
	}
	if err := it.open(); err != nil {
		return nil, err
	}
	d.dependents.Add(1)
	if txn != nil {
		txn.cursors[it] = struct{}{}
	}
	return it, nil
}

func (it *Iterator) open() error {
	r, err := it.source()
	if err != nil {
		return err
	}
	base, err := r.NewIter(&pebble.IterOptions{
		LowerBound: it.lower,
		UpperBound: it.upper,
	})
	if err != nil {
		return translate(err)
	}
	it.base = base
	if it.deltaSrc != nil {
		it.delta = it.deltaSrc()
	}
	return nil
}

func (it *Iterator) SeekToFirst() {
	if !it.reset() {
		return
	}
	it.dir = forward
	it.base.First()
	if it.lower != nil {
		it.deltaSeekGE(it.lower)
	} else {
		it.deltaFirst()
	}
	it.settleForward()
}

func (it *Iterator) SeekToLast() {
	if !it.reset() {
		return
	}
	it.dir = reverse
	it.base.Last()
	if it.upper != nil {
		it.deltaSeekLT(it.upper)
	} else {
		it.deltaLast()
	}
	it.settleReverse()
}

// Seek positions at the first key >= target. With PrefixSameAsStart the
// cursor is then confined to target's prefix.
func (it *Iterator) Seek(target []byte) {
	if !it.reset() {
		return
	}
	if it.lower != nil && it.cmp(target, it.lower) < 0 {
		target = it.lower
	}
	it.dir = forward

	p := prefixOf(it.prefix, target)
	switch {
	case p != nil && it.prefixSame:
		it.seekPrefix = bytes.Clone(p)
		it.base.SeekPrefixGE(target)
	case p != nil && it.autoPrefix && it.upper != nil && bytes.Equal(p, prefixOf(it.prefix, it.upper)):
		// every key in [target, upper) shares the prefix, so the filtered
		// seek returns what a total-order seek would
		it.base.SeekPrefixGE(target)
	default:
		it.base.SeekGE(target)
	}
	it.deltaSeekGE(target)
	it.settleForward()
}

// SeekForPrev positions at the last key <= target.
func (it *Iterator) SeekForPrev(target []byte) {
	if !it.reset() {
		return
	}
	it.dir = reverse
	if p := prefixOf(it.prefix, target); p != nil && it.prefixSame {
		it.seekPrefix = bytes.Clone(p)
	}

	if it.upper != nil && it.cmp(target, it.upper) >= 0 {
		// everything at or past upper is out of range
		it.base.SeekLT(it.upper)
		it.deltaSeekLT(it.upper)
		it.settleReverse()
		return
	}
	if !it.base.SeekGE(target) || it.cmp(it.base.Key(), target) != 0 {
		it.base.SeekLT(target)
	}
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekLE, target)
	it.settleReverse()
}

func (it *Iterator) Next() {
	if it.closed || !it.valid {
		return
	}
	if it.dir == reverse {
		it.switchToForward()
		return
	}
	if it.fromDelta {
		it.deltaNext()
	} else {
		it.base.Next()
	}
	it.settleForward()
}

// Prev moves backwards. A cursor confined to a prefix cannot move backwards
// and is invalidated with a NotSupported status.
func (it *Iterator) Prev() {
	if it.closed || !it.valid {
		return
	}
	if it.seekPrefix != nil {
		it.valid = false
		it.err = errPrefixReverse
		return
	}
	if it.dir == forward {
		it.switchToReverse()
		return
	}
	if it.fromDelta {
		it.deltaPrev()
	} else {
		it.base.Prev()
	}
	it.settleReverse()
}

func (it *Iterator) Valid() bool {
	return !it.closed && it.valid
}

// Key returns the current key. It aliases memory valid until the next
// movement.
func (it *Iterator) Key() ([]byte, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	return it.key(), nil
}

func (it *Iterator) Value() ([]byte, error) {
	if err := it.check(); err != nil {
		return nil, err
	}
	if it.fromDelta {
		return it.deltaCur.Value, nil
	}
	value, err := it.base.ValueAndErr()
	if err != nil {
		return nil, translate(err)
	}
	return value, nil
}

func (it *Iterator) Err() error {
	if it.err != nil {
		return it.err
	}
	if it.closed {
		return nil
	}
	return translate(it.base.Error())
}

// Refresh rebuilds the cursor on the latest state of its source, including
// the owning transaction's latest writes. The cursor is left unpositioned.
func (it *Iterator) Refresh() error {
	if it.closed {
		return ErrIteratorClosed
	}
	if it.txn != nil {
		if err := it.txn.check(); err != nil {
			return err
		}
	}
	if err := it.base.Close(); err != nil {
		return translate(err)
	}
	it.base = nil
	it.valid = false
	it.err = nil
	it.seekPrefix = nil
	if err := it.open(); err != nil {
		it.err = err
		return err
	}
	return nil
}

// Close releases the cursor. Closing twice is a no-op.
func (it *Iterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.valid = false
	var err error
	if it.base != nil {
		err = it.base.Close()
		it.base = nil
	}
	it.owner.dependents.Add(-1)
	if it.txn != nil {
		delete(it.txn.cursors, it)
	}
	return translate(err)
}

// reset clears the position before a seek. It reports false when the cursor
// cannot be positioned.
func (it *Iterator) reset() bool {
	if it.closed || it.base == nil {
		return false
	}
	it.valid = false
	it.fromDelta = false
	it.err = nil
	it.seekPrefix = nil
	return true
}

func (it *Iterator) check() error {
	if it.closed {
		return ErrIteratorClosed
	}
	if !it.valid {
		return ErrIteratorInvalid
	}
	return nil
}

func (it *Iterator) key() []byte {
	if it.fromDelta {
		return it.deltaCur.Key
	}
	return it.base.Key()
}

// settleForward picks the smaller of the base and delta heads.
func (it *Iterator) settleForward() {
	for {
		bv := it.baseValid()
		dv := it.deltaValid()
		if !bv && !dv {
			it.valid = false
			return
		}
		if dv {
			c := -1
			if bv {
				c = it.cmp(it.deltaCur.Key, it.base.Key())
			}
			if c <= 0 {
				if c == 0 {
					it.base.Next()
				}
				if it.deltaCur.Tombstone {
					it.deltaNext()
					continue
				}
				it.fromDelta, it.valid = true, true
				return
			}
		}
		it.fromDelta, it.valid = false, true
		return
	}
}

// settleReverse picks the larger of the base and delta heads.
func (it *Iterator) settleReverse() {
	for {
		bv := it.baseValid()
		dv := it.deltaValid()
		if !bv && !dv {
			it.valid = false
			return
		}
		if dv {
			c := 1
			if bv {
				c = it.cmp(it.deltaCur.Key, it.base.Key())
			}
			if c >= 0 {
				if c == 0 {
					it.base.Prev()
				}
				if it.deltaCur.Tombstone {
					it.deltaPrev()
					continue
				}
				it.fromDelta, it.valid = true, true
				return
			}
		}
		it.fromDelta, it.valid = false, true
		return
	}
}

// switchToForward repositions both sides after the current key.
func (it *Iterator) switchToForward() {
	cur := bytes.Clone(it.key())
	it.dir = forward
	if it.base.SeekGE(cur) && it.cmp(it.base.Key(), cur) == 0 {
		it.base.Next()
	}
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekGT, cur)
	it.settleForward()
}

// switchToReverse repositions both sides before the current key.
func (it *Iterator) switchToReverse() {
	cur := bytes.Clone(it.key())
	it.dir = reverse
	it.base.SeekLT(cur)
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekLT, cur)
	it.settleReverse()
}

func (it *Iterator) baseValid() bool {
	if !it.base.Valid() {
		return false
	}
	return it.seekPrefix == nil || it.inPrefix(it.base.Key())
}

// deltaValid applies the bounds and the seek prefix to the delta head; the
// engine applies them to the base itself.
func (it *Iterator) deltaValid() bool {
	if !it.deltaOK {
		return false
	}
	k := it.deltaCur.Key
	if it.lower != nil && it.cmp(k, it.lower) < 0 {
		return false
	}
	if it.upper != nil && it.cmp(k, it.upper) >= 0 {
		return false
	}
	return it.seekPrefix == nil || it.inPrefix(k)
}

func (it *Iterator) inPrefix(key []byte) bool {
	p := prefixOf(it.prefix, key)
	return p != nil && bytes.Equal(p, it.seekPrefix)
}

func (it *Iterator) deltaSeek(seek func(*writeset.Set, []byte) (writeset.Entry, bool), key []byte) (writeset.Entry, bool) {
	if it.delta == nil {
		return writeset.Entry{}, false
	}
	return seek(it.delta, key)
}

func (it *Iterator) deltaSeekGE(key []byte) {
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekGE, key)
}

func (it *Iterator) deltaSeekLT(key []byte) {
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekLT, key)
}

func (it *Iterator) deltaFirst() {
	if it.delta == nil {
		it.deltaOK = false
		return
	}
	it.deltaCur, it.deltaOK = it.delta.First()
}

func (it *Iterator) deltaLast() {
	if it.delta == nil {
		it.deltaOK = false
		return
	}
	it.deltaCur, it.deltaOK = it.delta.Last()
}

func (it *Iterator) deltaNext() {
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekGT, it.deltaCur.Key)
}

func (it *Iterator) deltaPrev() {
	it.deltaCur, it.deltaOK = it.deltaSeek((*writeset.Set).SeekLT, it.deltaCur.Key)
}
