package pebble

import (
	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog"

	"github.com/eigerco/kvbridge/internal/conflict"
	"github.com/eigerco/kvbridge/internal/writeset"
	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/status"
	"github.com/eigerco/kvbridge/pkg/log"
)

var _ db.ReadWriter = (*Transaction)(nil)

// TxnState is the lifecycle state of a transaction.
type TxnState uint8

const (
	TxnActive TxnState = iota
	TxnCommitted
	TxnRolledBack
)

func (s TxnState) String() string {
	switch s {
	case TxnActive:
		return "active"
	case TxnCommitted:
		return "committed"
	case TxnRolledBack:
		return "rolled-back"
	default:
		return "unknown"
	}
}

// Transaction buffers writes and applies them atomically on Commit. The same
// type serves both store modes; the mode only selects its concurrency
// control. A transaction is owned by one goroutine.
type Transaction struct {
	db    *DB
	id    uint64
	state TxnState

	// wo is retained for the transaction's lifetime and read at commit.
	wo *db.WriteOptions
	cc concurrencyControl

	writes     *writeset.Set
	snap       *Snapshot
	savepoints []savePoint
	cursors    map[*Iterator]struct{}

	log zerolog.Logger
}

type savePoint struct {
	writes *writeset.Set
	mark   any
}

// BeginTransaction starts a lock-based transaction. On a store opened in
// another mode it returns nil and no error.
func (d *DB) BeginTransaction(wo *db.WriteOptions, to *db.TransactionOptions) (*Transaction, error) {
	if d.mode != LockBased {
		return nil, nil
	}
	if to == nil {
		to = db.DefaultTransactionOptions()
	}
	timeout := to.LockTimeout
	if timeout < 0 {
		timeout = d.txnOpts.TransactionLockTimeout
	}
	return d.beginTxn(wo, to.SetSnapshot, &pessimistic{
		locks:   d.locks,
		tracker: d.tracker,
		opts:    to,
		timeout: timeout,
		held:    make(map[string]int),
	})
}

// BeginOptimisticTransaction starts an optimistic transaction. On a store
// opened in another mode it returns nil and no error.
func (d *DB) BeginOptimisticTransaction(wo *db.WriteOptions, oto *db.OptimisticTransactionOptions) (*Transaction, error) {
	if d.mode != Optimistic {
		return nil, nil
	}
	if oto == nil {
		oto = db.DefaultOptimisticTransactionOptions()
	}
	cmp := d.cmp
	if oto.Comparator != nil {
		cmp = oto.Comparator
	}
	return d.beginTxn(wo, oto.SetSnapshot, newOptimistic(d.tracker, cmp.Compare))
}

func (d *DB) beginTxn(wo *db.WriteOptions, snapshot bool, cc concurrencyControl) (*Transaction, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	if wo == nil {
		wo = db.DefaultWriteOptions()
	}
	t := &Transaction{
		db:      d,
		id:      d.newID(),
		wo:      wo,
		cc:      cc,
		writes:  writeset.New(d.cmp.Compare),
		cursors: make(map[*Iterator]struct{}),
	}
	t.log = log.Txn.With().Uint64("txn", t.id).Str("mode", d.mode.String()).Logger()
	d.dependents.Add(1)
	if snapshot {
		t.snap = d.newSnapshot()
	}
	return t, nil
}

func (t *Transaction) ID() uint64 {
	return t.id
}

func (t *Transaction) State() TxnState {
	return t.state
}

// SetSnapshot pins the transaction's reads, and its write validation in the
// lock-based mode, to the current committed state. Calling it again moves the
// snapshot forward.
func (t *Transaction) SetSnapshot() error {
	if err := t.check(); err != nil {
		return err
	}
	if t.snap != nil {
		if err := t.snap.Release(); err != nil {
			return err
		}
	}
	t.snap = t.db.newSnapshot()
	return nil
}

// Snapshot returns the transaction's snapshot, nil when none was set. It is
// owned by the transaction and released with it.
func (t *Transaction) Snapshot() *Snapshot {
	return t.snap
}

// Get reads key, seeing the transaction's own pending writes first.
func (t *Transaction) Get(ro *db.ReadOptions, key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if e, ok := t.writes.Get(key); ok {
		if e.Tombstone {
			return nil, ErrNotFound
		}
		result := make([]byte, len(e.Value))
		copy(result, e.Value)
		return result, nil
	}
	r, err := t.reader(ro)
	if err != nil {
		return nil, err
	}
	return get(r, key)
}

// GetInto is Get into a reusable view.
func (t *Transaction) GetInto(ro *db.ReadOptions, key []byte, v *ValueView) error {
	v.Reset()
	if err := t.check(); err != nil {
		return err
	}
	if e, ok := t.writes.Get(key); ok {
		if e.Tombstone {
			return ErrNotFound
		}
		v.fill(e.Value)
		return nil
	}
	r, err := t.reader(ro)
	if err != nil {
		return err
	}
	return v.load(t.db, r, key)
}

// GetForUpdate reads key and registers it for conflict detection: a shared
// or exclusive lock in the lock-based mode, a tracked read in the optimistic
// mode.
func (t *Transaction) GetForUpdate(ro *db.ReadOptions, key []byte, exclusive bool) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if err := t.cc.read(t, key, exclusive); err != nil {
		return nil, err
	}
	return t.Get(ro, key)
}

func (t *Transaction) Put(key, value []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.cc.write(t, key); err != nil {
		return err
	}
	t.writes.Put(key, value)
	return nil
}

func (t *Transaction) Delete(key []byte) error {
	if err := t.check(); err != nil {
		return err
	}
	if err := t.cc.write(t, key); err != nil {
		return err
	}
	t.writes.Delete(key)
	return nil
}

func (t *Transaction) SetSavePoint() error {
	if err := t.check(); err != nil {
		return err
	}
	t.savepoints = append(t.savepoints, savePoint{
		writes: t.writes.Clone(),
		mark:   t.cc.savePoint(),
	})
	return nil
}

// RollbackToSavePoint discards writes made since the last savepoint and pops
// it. Locks first taken after the savepoint are released.
func (t *Transaction) RollbackToSavePoint() error {
	if err := t.check(); err != nil {
		return err
	}
	n := len(t.savepoints)
	if n == 0 {
		return ErrNoSavePoint
	}
	sp := t.savepoints[n-1]
	t.savepoints = t.savepoints[:n-1]
	t.writes = sp.writes
	t.cc.rollbackTo(t, sp.mark)
	return nil
}

// PopSavePoint drops the last savepoint, keeping its writes.
func (t *Transaction) PopSavePoint() error {
	if err := t.check(); err != nil {
		return err
	}
	n := len(t.savepoints)
	if n == 0 {
		return ErrNoSavePoint
	}
	t.savepoints = t.savepoints[:n-1]
	return nil
}

// Iterator returns a cursor over the transaction's view: its pending writes
// as of this call layered over its snapshot, or the latest committed state.
// The cursor is closed when the transaction ends.
func (t *Transaction) Iterator(ro *db.ReadOptions) (db.Iterator, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	if ro == nil {
		ro = db.DefaultReadOptions()
	}
	it, err := newIterator(t.db, t, ro,
		func() (pebble.Reader, error) { return t.reader(ro) },
		func() *writeset.Set { return t.writes.Clone() },
	)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// NewIterator is Iterator under the name shared with the store handle.
func (t *Transaction) NewIterator(ro *db.ReadOptions) (db.Iterator, error) {
	return t.Iterator(ro)
}

// Commit applies every pending write atomically. On failure nothing is
// applied and the transaction stays active; the caller decides whether to
// roll back.
func (t *Transaction) Commit() error {
	if err := t.check(); err != nil {
		return err
	}
	w := conflict.Write{Keys: t.writes.Keys()}
	apply := func() error {
		if t.writes.Len() == 0 {
			return nil
		}
		b := t.db.newWriteBatch()
		defer b.Close() //nolint:errcheck // closing a committed batch only recycles it
		if err := b.Fill(t.writes); err != nil {
			return err
		}
		return b.Commit(t.wo)
	}
	if err := t.cc.commit(t, w, apply); err != nil {
		err = translate(err)
		t.log.Debug().Err(err).Int("writes", len(w.Keys)).Msg("commit failed")
		return err
	}
	t.log.Debug().Int("writes", len(w.Keys)).Msg("committed")
	t.finish(TxnCommitted)
	return nil
}

// Rollback discards every pending write.
func (t *Transaction) Rollback() error {
	if err := t.check(); err != nil {
		return err
	}
	t.log.Debug().Int("writes", t.writes.Len()).Msg("rolled back")
	t.finish(TxnRolledBack)
	return nil
}

// finish moves the transaction into a terminal state and releases everything
// it borrowed: cursors, snapshot, locks and its hold on the store.
func (t *Transaction) finish(state TxnState) {
	t.state = state
	for it := range t.cursors {
		_ = it.Close()
	}
	if t.snap != nil {
		_ = t.snap.Release()
		t.snap = nil
	}
	t.cc.release(t)
	t.writes = nil
	t.savepoints = nil
	t.db.dependents.Add(-1)
}

func (t *Transaction) check() error {
	if t.state != TxnActive {
		return status.Newf(status.InvalidArgument, status.SubNone, status.TxnFinished, "transaction %d is %s", t.id, t.state)
	}
	return nil
}

// reader resolves the read view: an explicit snapshot in ro, then the
// transaction's snapshot, then the latest committed state.
func (t *Transaction) reader(ro *db.ReadOptions) (pebble.Reader, error) {
	if ro != nil && ro.Snapshot != nil {
		return t.db.reader(ro)
	}
	if t.snap != nil {
		return t.snap.reader()
	}
	return t.db.db, nil
}

// snapshotSeq is the sequence reads are pinned to, and whether there is one.
func (t *Transaction) snapshotSeq() (uint64, bool) {
	if t.snap == nil {
		return 0, false
	}
	return t.snap.seq, true
}
