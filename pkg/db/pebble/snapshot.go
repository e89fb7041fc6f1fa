package pebble

import (
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvbridge/pkg/db"
)

var _ db.Snapshot = (*Snapshot)(nil)

// Snapshot is a point-in-time view of a store. It is a dependent of the store
// until released.
type Snapshot struct {
	db   *DB
	snap *pebble.Snapshot

	// id registers seq with the store's conflict tracker.
	id  uint64
	seq uint64

	mu       sync.Mutex
	released bool
}

// newSnapshot is called with the store known to be open. In transactional
// modes the engine snapshot and its sequence are taken under the tracker's
// shared latch, so no commit falls between them.
func (d *DB) newSnapshot() *Snapshot {
	s := &Snapshot{db: d, id: d.newID()}
	if d.tracker != nil {
		s.seq = d.tracker.Pin(s.id, func() { s.snap = d.db.NewSnapshot() })
	} else {
		s.snap = d.db.NewSnapshot()
	}
	d.dependents.Add(1)
	return s
}

// Release frees the snapshot. Releasing twice is a no-op.
func (s *Snapshot) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	if s.db.tracker != nil {
		s.db.tracker.Release(s.id)
	}
	err := s.snap.Close()
	s.db.dependents.Add(-1)
	return translate(err)
}

// Seq is the commit sequence the snapshot observed; zero in plain mode.
func (s *Snapshot) Seq() uint64 {
	return s.seq
}

func (s *Snapshot) reader() (pebble.Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil, errSnapshotGone
	}
	return s.snap, nil
}
