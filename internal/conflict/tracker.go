// Package conflict keeps the commit sequence of a store and the last sequence
// at which each key was written, so transactions can detect writes that
// happened after they observed a key.
package conflict

import (
	"bytes"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
)

// ErrConflict is returned when a checked key was written after it was observed.
var ErrConflict = errors.New("conflict: key written since it was read")

// Range is a half-open key range [Start, End).
type Range struct {
	Start []byte
	End   []byte
}

// Check asks whether Key was written after sequence Seq.
type Check struct {
	Key []byte
	Seq uint64
}

// Write is the footprint of one committed write.
type Write struct {
	Keys   [][]byte
	Ranges []Range
}

type version struct {
	key []byte
	seq uint64
}

type rangeVersion struct {
	Range
	seq uint64
}

// pruneEvery bounds how many versions accumulate between pruning passes.
const pruneEvery = 1024

// Tracker orders writes into a single sequence. Writes are applied under its
// exclusive latch; readers that must agree with that order (snapshots) run
// under the shared latch.
type Tracker struct {
	cmp func(a, b []byte) int

	mu       sync.RWMutex
	seq      uint64
	versions *btree.BTreeG[version]
	ranges   []rangeVersion
	sinceGC  int

	activeMu sync.Mutex
	active   map[uint64]uint64
}

// New returns a tracker ordering keys with cmp; nil orders bytewise.
func New(cmp func(a, b []byte) int) *Tracker {
	if cmp == nil {
		cmp = bytes.Compare
	}
	return &Tracker{
		cmp:      cmp,
		versions: btree.NewG[version](16, func(a, b version) bool { return cmp(a.key, b.key) < 0 }),
		active:   make(map[uint64]uint64),
	}
}

// Seq is the sequence of the last applied write.
func (t *Tracker) Seq() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seq
}

// Pin runs fn (may be nil) under the shared latch and returns the sequence
// it observed. The sequence is registered for id so versions newer than it
// survive pruning until Release(id).
func (t *Tracker) Pin(id uint64, fn func()) uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if fn != nil {
		fn()
	}
	seq := t.seq

	t.activeMu.Lock()
	if cur, ok := t.active[id]; !ok || seq < cur {
		t.active[id] = seq
	}
	t.activeMu.Unlock()
	return seq
}

// Hold registers seq for id without reading the current sequence. The caller
// must already hold a pin at or below seq, so nothing above it was pruned.
func (t *Tracker) Hold(id, seq uint64) {
	t.activeMu.Lock()
	if cur, ok := t.active[id]; !ok || seq < cur {
		t.active[id] = seq
	}
	t.activeMu.Unlock()
}

// Release drops the registration of id.
func (t *Tracker) Release(id uint64) {
	t.activeMu.Lock()
	delete(t.active, id)
	t.activeMu.Unlock()
}

// Validate fails with ErrConflict if key was written after seq.
func (t *Tracker) Validate(key []byte, seq uint64) error {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastWrite(key) > seq {
		return errors.Wrapf(ErrConflict, "key %q", key)
	}
	return nil
}

// Commit validates checks, runs apply and, if both succeed, assigns the next
// sequence to every key and range in w. Nothing is recorded when apply fails.
func (t *Tracker) Commit(checks []Check, w Write, apply func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, c := range checks {
		if t.lastWrite(c.Key) > c.Seq {
			return errors.Wrapf(ErrConflict, "key %q", c.Key)
		}
	}
	if err := apply(); err != nil {
		return err
	}

	t.seq++
	for _, k := range w.Keys {
		t.versions.ReplaceOrInsert(version{key: bytes.Clone(k), seq: t.seq})
	}
	for _, r := range w.Ranges {
		t.ranges = append(t.ranges, rangeVersion{
			Range: Range{Start: bytes.Clone(r.Start), End: bytes.Clone(r.End)},
			seq:   t.seq,
		})
	}

	t.sinceGC += len(w.Keys) + len(w.Ranges)
	if t.sinceGC >= pruneEvery {
		t.prune()
	}
	return nil
}

// Len is the number of versions and ranges currently retained.
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.versions.Len() + len(t.ranges)
}

// lastWrite is called with mu held.
func (t *Tracker) lastWrite(key []byte) uint64 {
	var seq uint64
	if v, ok := t.versions.Get(version{key: key}); ok {
		seq = v.seq
	}
	for _, r := range t.ranges {
		if r.seq > seq && t.cmp(r.Start, key) <= 0 && t.cmp(key, r.End) < 0 {
			seq = r.seq
		}
	}
	return seq
}

// prune drops versions no registered reader can conflict with. It is called
// with mu held exclusively, so no Pin is in flight.
func (t *Tracker) prune() {
	t.sinceGC = 0
	floor := t.seq

	t.activeMu.Lock()
	for _, seq := range t.active {
		floor = min(floor, seq)
	}
	t.activeMu.Unlock()

	var stale []version
	t.versions.Ascend(func(v version) bool {
		if v.seq <= floor {
			stale = append(stale, v)
		}
		return true
	})
	for _, v := range stale {
		t.versions.Delete(v)
	}

	kept := t.ranges[:0]
	for _, r := range t.ranges {
		if r.seq > floor {
			kept = append(kept, r)
		}
	}
	t.ranges = kept
}
