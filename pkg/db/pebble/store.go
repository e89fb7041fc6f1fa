// Package pebble is the storage handle: it owns a pebble instance, layers
// lock-based or optimistic transactions on top of it and hands out cursors,
// snapshots and value views that borrow from it.
package pebble

import (
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/rs/zerolog"

	"github.com/eigerco/kvbridge/internal/conflict"
	"github.com/eigerco/kvbridge/internal/lock"
	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/db/status"
	"github.com/eigerco/kvbridge/pkg/log"
)

var _ db.Reader = (*DB)(nil)

// Mode is the concurrency-control backing chosen when a store is opened.
type Mode uint8

const (
	Plain Mode = iota
	LockBased
	Optimistic
)

func (m Mode) String() string {
	switch m {
	case Plain:
		return "plain"
	case LockBased:
		return "lock-based"
	case Optimistic:
		return "optimistic"
	default:
		return "unknown"
	}
}

// DB is an open store. Transactions, cursors, snapshots and pinned value
// views borrow from it; Close refuses to run while any of them is live.
type DB struct {
	db     *pebble.DB
	closed bool
	mu     sync.RWMutex

	path      string
	fs        vfs.FS
	mode      Mode
	cmp       *db.Comparator
	engineCmp *pebble.Comparer
	prefix    db.PrefixExtractor
	bytewise  bool

	// locks is set in LockBased mode, tracker in both transactional modes.
	locks   *lock.Manager
	txnOpts *db.TransactionDBOptions
	tracker *conflict.Tracker

	dependents    atomic.Int64
	nextID        atomic.Uint64
	destroyOnExit bool

	log zerolog.Logger
}

// Open opens a plain store at path.
func Open(path string, opts *db.Options) (*DB, error) {
	return open(path, opts, Plain, nil)
}

// OpenTransactionDB opens a store whose transactions take point locks.
func OpenTransactionDB(path string, opts *db.Options, tdbOpts *db.TransactionDBOptions) (*DB, error) {
	if tdbOpts == nil {
		tdbOpts = db.DefaultTransactionDBOptions()
	}
	return open(path, opts, LockBased, tdbOpts)
}

// OpenOptimisticTransactionDB opens a store whose transactions validate
// their reads at commit time.
func OpenOptimisticTransactionDB(path string, opts *db.Options) (*DB, error) {
	return open(path, opts, Optimistic, nil)
}

func open(path string, opts *db.Options, mode Mode, tdbOpts *db.TransactionDBOptions) (*DB, error) {
	if opts == nil {
		opts = db.DefaultOptions()
	}
	eo := engineOptions(opts)

	pdb, err := pebble.Open(path, eo)
	if err != nil {
		return nil, translate(err)
	}
	if opts.ParanoidChecks {
		if err := pdb.CheckLevels(nil); err != nil {
			_ = pdb.Close()
			return nil, translate(err)
		}
	}

	logger := log.Storage
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	d := &DB{
		db:        pdb,
		path:      path,
		fs:        eo.FS,
		mode:      mode,
		cmp:       opts.Comparator,
		engineCmp: eo.Comparer,
		prefix:    opts.PrefixExtractor,
		bytewise:  opts.Comparator == nil,
		txnOpts:   tdbOpts,
		log:       logger.With().Str("path", path).Str("mode", mode.String()).Logger(),
	}
	if d.cmp == nil {
		d.cmp = db.BytewiseComparator()
	}

	switch mode {
	case LockBased:
		d.locks = lock.NewManager(lock.Options{
			NumStripes: tdbOpts.NumStripes,
			MaxLocks:   tdbOpts.MaxNumLocks,
		})
		d.tracker = conflict.New(d.cmp.Compare)
	case Optimistic:
		d.tracker = conflict.New(d.cmp.Compare)
	}

	d.log.Info().Msg("store opened")
	return d, nil
}

func (d *DB) Mode() Mode {
	return d.mode
}

func (d *DB) Path() string {
	return d.path
}

// Get returns a copy of the value stored under key.
func (d *DB) Get(ro *db.ReadOptions, key []byte) ([]byte, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	r, err := d.reader(ro)
	if err != nil {
		return nil, err
	}
	return get(r, key)
}

// GetInto fills v with the value under key without copying it. v pins engine
// memory until it is reset.
func (d *DB) GetInto(ro *db.ReadOptions, key []byte, v *ValueView) error {
	v.Reset()

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	r, err := d.reader(ro)
	if err != nil {
		return err
	}
	return v.load(d, r, key)
}

func (d *DB) Put(wo *db.WriteOptions, key, value []byte) error {
	return d.write(wo, conflict.Write{Keys: [][]byte{key}}, func(b *writeBatch) error {
		return b.Put(key, value)
	})
}

// Delete removes key. Deleting a missing key is not an error.
func (d *DB) Delete(wo *db.WriteOptions, key []byte) error {
	return d.write(wo, conflict.Write{Keys: [][]byte{key}}, func(b *writeBatch) error {
		return b.Delete(key)
	})
}

// NewIterator returns a cursor over the latest committed state, or over
// ro.Snapshot when set.
func (d *DB) NewIterator(ro *db.ReadOptions) (db.Iterator, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	if ro == nil {
		ro = db.DefaultReadOptions()
	}
	if _, err := d.reader(ro); err != nil {
		return nil, err
	}
	it, err := newIterator(d, nil, ro, func() (pebble.Reader, error) { return d.reader(ro) }, nil)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// NewSnapshot pins the current committed state. Release it when done.
func (d *DB) NewSnapshot() (*Snapshot, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	return d.newSnapshot(), nil
}

// Update runs fn in a transaction of the store's mode and commits it when fn
// returns nil. The transaction is rolled back on any error.
func (d *DB) Update(fn func(txn *Transaction) error) error {
	txn, err := d.begin(nil, false)
	if err != nil {
		return err
	}
	if err := fn(txn); err != nil {
		_ = txn.Rollback()
		return err
	}
	if err := txn.Commit(); err != nil {
		_ = txn.Rollback()
		return err
	}
	return nil
}

// View runs fn in a snapshot transaction that is always rolled back.
func (d *DB) View(fn func(txn *Transaction) error) error {
	txn, err := d.begin(nil, true)
	if err != nil {
		return err
	}
	defer txn.Rollback() //nolint:errcheck // rollback of a read-only txn cannot fail
	return fn(txn)
}

func (d *DB) begin(wo *db.WriteOptions, snapshot bool) (*Transaction, error) {
	switch d.mode {
	case LockBased:
		return d.BeginTransaction(wo, db.DefaultTransactionOptions().SetSetSnapshot(snapshot))
	case Optimistic:
		return d.BeginOptimisticTransaction(wo, db.DefaultOptimisticTransactionOptions().SetSetSnapshot(snapshot))
	default:
		return nil, errPlainHandle
	}
}

// Close closes the store. It fails with a DependentsLive status while any
// transaction, cursor, snapshot or pinned view is still open. Closing twice
// is a no-op.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	if n := d.dependents.Load(); n > 0 {
		return status.Newf(status.Busy, status.SubNone, status.DependentsLive, "%d dependents still open", n)
	}
	d.closed = true

	err := d.db.Close()
	if d.destroyOnExit {
		if derr := destroy(d.fs, d.path); err == nil {
			err = derr
		}
	}
	if err != nil {
		d.log.Error().Err(err).Msg("store close failed")
		return translate(err)
	}
	d.log.Info().Bool("destroyed", d.destroyOnExit).Msg("store closed")
	return nil
}

// write applies one direct write. In transactional modes it takes part in
// concurrency control: lock-based stores lock the keys briefly and both
// modes publish a new version for every key written.
func (d *DB) write(wo *db.WriteOptions, w conflict.Write, fill func(b *writeBatch) error) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}

	if d.locks != nil && len(w.Keys) > 0 {
		id := d.newID()
		for i, k := range w.Keys {
			err := d.locks.Lock(id, lock.Request{Key: k, Type: lock.Exclusive, Timeout: d.txnOpts.DefaultLockTimeout})
			if err != nil {
				d.locks.UnlockAll(id, w.Keys[:i])
				return translate(err)
			}
		}
		defer d.locks.UnlockAll(id, w.Keys)
	}

	apply := func() error {
		b := d.newWriteBatch()
		defer b.Close() //nolint:errcheck // closing a committed batch only recycles it
		if err := fill(b); err != nil {
			return err
		}
		return b.Commit(wo)
	}
	if d.tracker != nil {
		return translate(d.tracker.Commit(nil, w, apply))
	}
	return translate(apply())
}

// reader resolves the read view selected by ro.
func (d *DB) reader(ro *db.ReadOptions) (pebble.Reader, error) {
	if ro == nil || ro.Snapshot == nil {
		return d.db, nil
	}
	s, ok := ro.Snapshot.(*Snapshot)
	if !ok || s.db != d {
		return nil, errForeignSnapshot
	}
	return s.reader()
}

func (d *DB) newID() uint64 {
	if d.locks != nil {
		return d.locks.NewID()
	}
	return d.nextID.Add(1)
}

func get(r pebble.Reader, key []byte) ([]byte, error) {
	value, closer, err := r.Get(key)
	if err != nil {
		return nil, translate(err)
	}
	defer closer.Close()

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}
