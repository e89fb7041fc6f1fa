package pebble

import (
	"bytes"
	"io/fs"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/eigerco/kvbridge/internal/conflict"
	"github.com/eigerco/kvbridge/pkg/db"
	"github.com/eigerco/kvbridge/pkg/log"
)

// ApproximateSizes estimates the on-disk size of each range. The result is
// index-aligned with ranges; empty or inverted ranges estimate to zero.
func (d *DB) ApproximateSizes(ranges []db.Range) ([]uint64, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return nil, ErrClosed
	}
	sizes := make([]uint64, len(ranges))
	for i, r := range ranges {
		if d.cmp.Compare(r.Start, r.Limit) >= 0 {
			continue
		}
		size, err := d.db.EstimateDiskUsage(r.Start, r.Limit)
		if err != nil {
			return nil, translate(err)
		}
		sizes[i] = size
	}
	return sizes, nil
}

// DeleteRange removes every key in [start, end) with a single range
// tombstone. An empty range is a no-op; an inverted one is rejected.
func (d *DB) DeleteRange(wo *db.WriteOptions, start, end []byte) error {
	switch c := d.cmp.Compare(start, end); {
	case c == 0:
		return nil
	case c > 0:
		return errInvertedRange
	}
	w := conflict.Write{Ranges: []conflict.Range{{Start: start, End: end}}}
	return d.write(wo, w, func(b *writeBatch) error {
		return b.DeleteRange(start, end)
	})
}

// Flush writes the memtable out to tables. Without Wait the flush is only
// scheduled.
func (d *DB) Flush(fo *db.FlushOptions) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	if fo == nil {
		fo = db.DefaultFlushOptions()
	}
	if fo.Wait {
		return translate(d.db.Flush())
	}
	_, err := d.db.AsyncFlush()
	return translate(err)
}

// CompactAll compacts the whole keyspace down to the bottom level.
func (d *DB) CompactAll() error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return ErrClosed
	}
	return d.compactAll()
}

func (d *DB) compactAll() error {
	first, last, err := d.keyspan()
	if err != nil || first == nil {
		return err
	}
	end := d.engineCmp.ImmediateSuccessor(nil, last)
	if d.engineCmp.Compare(end, last) <= 0 {
		// a custom order need not place last+0x00 after last
		if d.engineCmp.Compare(first, last) >= 0 {
			return nil
		}
		end = last
	}
	d.log.Debug().Bytes("first", first).Bytes("last", last).Msg("compacting")
	return translate(d.db.Compact(first, end, true))
}

// keyspan returns copies of the smallest and largest keys, nil when empty.
func (d *DB) keyspan() (first, last []byte, err error) {
	iter, err := d.db.NewIter(nil)
	if err != nil {
		return nil, nil, translate(err)
	}
	defer iter.Close()

	if iter.First() {
		first = bytes.Clone(iter.Key())
	}
	if iter.Last() {
		last = bytes.Clone(iter.Key())
	}
	return first, last, translate(iter.Error())
}

// Stats renders the engine's metrics.
func (d *DB) Stats() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.closed {
		return "", ErrClosed
	}
	return d.db.Metrics().String(), nil
}

// Repair opens the store at path, verifies every level and rewrites it with a
// full compaction. The store must exist and must not be open elsewhere.
func Repair(path string, opts *db.Options) error {
	ro := db.DefaultOptions()
	if opts != nil {
		c := *opts
		ro = &c
	}
	ro.CreateIfMissing = false

	d, err := Open(path, ro)
	if err != nil {
		return err
	}
	if err := d.db.CheckLevels(nil); err != nil {
		_ = d.Close()
		return translate(err)
	}
	if err := d.compactAll(); err != nil {
		_ = d.Close()
		return err
	}
	log.Storage.Info().Str("path", path).Msg("store repaired")
	return d.Close()
}

// Destroy removes the store at path. A missing store is not an error.
func Destroy(path string, opts *db.Options) error {
	var fsys vfs.FS = vfs.Default
	if opts != nil && opts.FS != nil {
		fsys = opts.FS
	}
	return destroy(fsys, path)
}

func destroy(fsys vfs.FS, path string) error {
	if _, err := fsys.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return translate(err)
	}
	// refuse to remove a store another handle holds
	l, err := fsys.Lock(fsys.PathJoin(path, "LOCK"))
	if err != nil {
		return translate(err)
	}
	if err := l.Close(); err != nil {
		return translate(err)
	}
	if err := fsys.RemoveAll(path); err != nil {
		return translate(err)
	}
	log.Storage.Info().Str("path", path).Msg("store destroyed")
	return nil
}
