package pebble

import (
	"sync/atomic"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvbridge/internal/writeset"
	"github.com/eigerco/kvbridge/pkg/db"
)

// writeBatch stages the writes of one direct operation or one transaction
// commit and applies them to the engine atomically.
type writeBatch struct {
	batch *pebble.Batch
	done  atomic.Bool
}

func (d *DB) newWriteBatch() *writeBatch {
	return &writeBatch{
		batch: d.db.NewBatch(),
	}
}

func (b *writeBatch) Put(key, value []byte) error {
	if b.done.Load() {
		return errBatchDone
	}
	return b.batch.Set(key, value, nil)
}

func (b *writeBatch) Delete(key []byte) error {
	if b.done.Load() {
		return errBatchDone
	}
	return b.batch.Delete(key, nil)
}

func (b *writeBatch) DeleteRange(start, end []byte) error {
	if b.done.Load() {
		return errBatchDone
	}
	return b.batch.DeleteRange(start, end, nil)
}

// Fill stages every entry of ws.
func (b *writeBatch) Fill(ws *writeset.Set) error {
	var err error
	ws.Ascend(func(e writeset.Entry) bool {
		if e.Tombstone {
			err = b.Delete(e.Key)
		} else {
			err = b.Put(e.Key, e.Value)
		}
		return err == nil
	})
	return err
}

func (b *writeBatch) Commit(wo *db.WriteOptions) error {
	if b.done.Load() {
		return errBatchDone
	}
	if err := b.batch.Commit(writeMode(wo)); err != nil {
		return err
	}
	b.done.Store(true)
	return nil
}

// Close releases the batch. A batch that was not committed is discarded.
func (b *writeBatch) Close() error {
	if b.batch == nil {
		return nil
	}
	err := b.batch.Close()
	b.batch = nil
	b.done.Store(true)
	return err
}

// writeMode maps write options onto the engine's durability modes. The engine
// has no per-write WAL bypass, so DisableWAL degrades to an unsynced write.
func writeMode(wo *db.WriteOptions) *pebble.WriteOptions {
	if wo == nil {
		return pebble.Sync
	}
	if wo.DisableWAL || !wo.Sync {
		return pebble.NoSync
	}
	return pebble.Sync
}
