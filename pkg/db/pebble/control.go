package pebble

import (
	"bytes"
	"time"

	"github.com/google/btree"

	"github.com/eigerco/kvbridge/internal/conflict"
	"github.com/eigerco/kvbridge/internal/lock"
	"github.com/eigerco/kvbridge/pkg/db"
)

// concurrencyControl is the part of a transaction that differs between the
// lock-based and the optimistic mode.
type concurrencyControl interface {
	// read registers key for GetForUpdate.
	read(t *Transaction, key []byte, exclusive bool) error
	// write registers key before it is buffered.
	write(t *Transaction, key []byte) error
	savePoint() any
	rollbackTo(t *Transaction, mark any)
	// commit runs apply once the transaction may commit.
	commit(t *Transaction, w conflict.Write, apply func() error) error
	release(t *Transaction)
}

// pessimistic locks every key before it is read for update or written. With
// a snapshot set, a newly locked key must not have been written since the
// snapshot was taken.
type pessimistic struct {
	locks   *lock.Manager
	tracker *conflict.Tracker
	opts    *db.TransactionOptions
	timeout time.Duration

	// keys in the order they were first locked; held maps a key to its
	// index in keys.
	keys  [][]byte
	types []lock.Type
	held  map[string]int
}

func (p *pessimistic) read(t *Transaction, key []byte, exclusive bool) error {
	typ := lock.Shared
	if exclusive {
		typ = lock.Exclusive
	}
	return p.lock(t, key, typ)
}

func (p *pessimistic) write(t *Transaction, key []byte) error {
	return p.lock(t, key, lock.Exclusive)
}

func (p *pessimistic) lock(t *Transaction, key []byte, typ lock.Type) error {
	i, ok := p.held[string(key)]
	if ok && (p.types[i] == lock.Exclusive || typ == lock.Shared) {
		return nil
	}

	err := p.locks.Lock(t.id, lock.Request{
		Key:            key,
		Type:           typ,
		Timeout:        p.timeout,
		DeadlockDetect: p.opts.DeadlockDetect,
		DetectDepth:    p.opts.DeadlockDetectDepth,
	})
	if err != nil {
		t.log.Debug().Err(err).Bytes("key", key).Msg("lock not acquired")
		return translate(err)
	}

	if seq, pinned := t.snapshotSeq(); pinned {
		if err := p.tracker.Validate(key, seq); err != nil {
			if !ok {
				p.locks.Unlock(t.id, key)
			}
			return translate(err)
		}
	}

	if ok {
		p.types[i] = typ
		return nil
	}
	p.held[string(key)] = len(p.keys)
	p.keys = append(p.keys, bytes.Clone(key))
	p.types = append(p.types, typ)
	return nil
}

func (p *pessimistic) savePoint() any {
	return len(p.keys)
}

func (p *pessimistic) rollbackTo(t *Transaction, mark any) {
	n := mark.(int)
	if n >= len(p.keys) {
		return
	}
	p.locks.UnlockAll(t.id, p.keys[n:])
	for _, k := range p.keys[n:] {
		delete(p.held, string(k))
	}
	p.keys = p.keys[:n]
	p.types = p.types[:n]
}

// commit runs with every written key already locked exclusively, so only
// the version bump is left.
func (p *pessimistic) commit(_ *Transaction, w conflict.Write, apply func() error) error {
	return p.tracker.Commit(nil, w, apply)
}

func (p *pessimistic) release(t *Transaction) {
	p.locks.UnlockAll(t.id, p.keys)
	p.keys, p.types, p.held = nil, nil, nil
}

// optimistic records the sequence at which each key was first observed and
// fails the commit if any of them was written afterwards.
type optimistic struct {
	tracker *conflict.Tracker
	tracked *btree.BTreeG[conflict.Check]
}

func newOptimistic(tracker *conflict.Tracker, cmp func(a, b []byte) int) *optimistic {
	return &optimistic{
		tracker: tracker,
		tracked: btree.NewG[conflict.Check](16, func(a, b conflict.Check) bool {
			return cmp(a.Key, b.Key) < 0
		}),
	}
}

func (o *optimistic) read(t *Transaction, key []byte, _ bool) error {
	o.track(t, key)
	return nil
}

func (o *optimistic) write(t *Transaction, key []byte) error {
	o.track(t, key)
	return nil
}

// track keeps the earliest sequence a key was seen at. Without a snapshot
// that is the sequence current when the key was first touched.
func (o *optimistic) track(t *Transaction, key []byte) {
	if _, ok := o.tracked.Get(conflict.Check{Key: key}); ok {
		return
	}
	seq, pinned := t.snapshotSeq()
	if pinned {
		// the snapshot may be replaced before commit
		o.tracker.Hold(t.id, seq)
	} else {
		seq = o.tracker.Pin(t.id, nil)
	}
	o.tracked.ReplaceOrInsert(conflict.Check{Key: bytes.Clone(key), Seq: seq})
}

func (o *optimistic) savePoint() any {
	return o.tracked.Clone()
}

func (o *optimistic) rollbackTo(_ *Transaction, mark any) {
	o.tracked = mark.(*btree.BTreeG[conflict.Check])
}

func (o *optimistic) commit(_ *Transaction, w conflict.Write, apply func() error) error {
	checks := make([]conflict.Check, 0, o.tracked.Len())
	o.tracked.Ascend(func(c conflict.Check) bool {
		checks = append(checks, c)
		return true
	})
	return o.tracker.Commit(checks, w, apply)
}

func (o *optimistic) release(t *Transaction) {
	o.tracker.Release(t.id)
	o.tracked.Clear(false)
}
