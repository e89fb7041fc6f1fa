// Package lock implements the point lock manager behind lock-based
// transactions: shared/exclusive key locks, FIFO wait queues, lock timeouts and
// wait-for graph deadlock detection.
//
// Locks are keyed by the exact key bytes. Two keys that differ in bytes are
// locked independently even if a custom comparator orders them as equal.
package lock

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zeebo/xxh3"
)

var (
	// ErrTimeout is returned when a lock cannot be acquired within the timeout.
	ErrTimeout = errors.New("lock: request timed out")

	// ErrDeadlock is returned when waiting would close a cycle in the wait-for graph.
	ErrDeadlock = errors.New("lock: deadlock detected")

	// ErrLimit is returned when the manager already tracks MaxLocks keys.
	ErrLimit = errors.New("lock: lock limit reached")
)

// Type is the mode a key is locked in.
type Type uint8

const (
	Shared Type = iota
	Exclusive
)

func (t Type) String() string {
	switch t {
	case Shared:
		return "shared"
	case Exclusive:
		return "exclusive"
	default:
		return "unknown"
	}
}

// Request describes a single lock acquisition.
type Request struct {
	Key  []byte
	Type Type

	// Timeout bounds the wait. Zero fails immediately, negative waits forever.
	Timeout time.Duration

	// DeadlockDetect checks the wait-for graph before waiting. DetectDepth
	// bounds the search; exceeding it is reported as a deadlock.
	DeadlockDetect bool
	DetectDepth    int
}

type waiter struct {
	txn     uint64
	typ     Type
	granted bool
	ready   chan struct{}
}

type keyLock struct {
	holders map[uint64]Type
	queue   []*waiter
}

type stripe struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

// Options configures a Manager.
type Options struct {
	NumStripes int

	// MaxLocks caps the number of locked keys; 0 is unlimited.
	MaxLocks int64
}

// Manager grants point locks to transaction ids. Keys are spread over
// independently latched stripes; the wait-for graph has its own latch and is
// always taken after a stripe latch.
type Manager struct {
	stripes  []*stripe
	maxLocks int64
	numLocks atomic.Int64
	nextID   atomic.Uint64

	graphMu sync.Mutex
	waitFor map[uint64]map[uint64]struct{}
}

func NewManager(opts Options) *Manager {
	n := opts.NumStripes
	if n <= 0 {
		n = 16
	}
	m := &Manager{
		stripes:  make([]*stripe, n),
		maxLocks: opts.MaxLocks,
		waitFor:  make(map[uint64]map[uint64]struct{}),
	}
	for i := range m.stripes {
		m.stripes[i] = &stripe{locks: make(map[string]*keyLock)}
	}
	return m
}

// NewID hands out a fresh lock owner id.
func (m *Manager) NewID() uint64 {
	return m.nextID.Add(1)
}

func (m *Manager) stripeFor(key string) *stripe {
	return m.stripes[xxh3.HashString(key)%uint64(len(m.stripes))]
}

// Lock acquires req.Key for txn, waiting according to req.
func (m *Manager) Lock(txn uint64, req Request) error {
	key := string(req.Key)
	s := m.stripeFor(key)

	s.mu.Lock()
	kl, ok := s.locks[key]
	if !ok {
		if m.maxLocks > 0 && m.numLocks.Load() >= m.maxLocks {
			s.mu.Unlock()
			return ErrLimit
		}
		kl = &keyLock{holders: make(map[uint64]Type)}
		s.locks[key] = kl
		m.numLocks.Add(1)
	}

	if kl.grantable(txn, req.Type, true) {
		kl.holders[txn] = maxType(kl.holders[txn], req.Type)
		s.mu.Unlock()
		return nil
	}

	if req.Timeout == 0 {
		m.dropIfIdle(s, key, kl)
		s.mu.Unlock()
		return ErrTimeout
	}

	pos := kl.enqueuePos(txn)
	blockers := kl.blockers(txn, pos)
	m.graphMu.Lock()
	if req.DeadlockDetect && m.cycles(txn, blockers, req.DetectDepth) {
		m.graphMu.Unlock()
		m.dropIfIdle(s, key, kl)
		s.mu.Unlock()
		return ErrDeadlock
	}
	m.setEdges(txn, blockers)
	m.graphMu.Unlock()

	w := &waiter{txn: txn, typ: req.Type, ready: make(chan struct{})}
	kl.queue = append(kl.queue, nil)
	copy(kl.queue[pos+1:], kl.queue[pos:])
	kl.queue[pos] = w
	if pos < len(kl.queue)-1 {
		// waiters behind an upgrade now wait on it too
		m.refreshEdges(kl)
	}
	s.mu.Unlock()

	var timeout <-chan time.Time
	if req.Timeout > 0 {
		timer := time.NewTimer(req.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-w.ready:
		return nil
	case <-timeout:
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if w.granted {
		return nil
	}
	kl.remove(w)
	m.clearEdges(txn)
	// a departing waiter can unblock the ones behind it
	m.grantWaiters(kl)
	m.dropIfIdle(s, key, kl)
	return ErrTimeout
}

// Unlock releases txn's lock on key and wakes compatible waiters.
func (m *Manager) Unlock(txn uint64, key []byte) {
	k := string(key)
	s := m.stripeFor(k)

	s.mu.Lock()
	defer s.mu.Unlock()

	kl, ok := s.locks[k]
	if !ok {
		return
	}
	if _, held := kl.holders[txn]; !held {
		return
	}
	delete(kl.holders, txn)
	m.grantWaiters(kl)
	m.dropIfIdle(s, k, kl)
}

// UnlockAll releases every key in keys held by txn.
func (m *Manager) UnlockAll(txn uint64, keys [][]byte) {
	for _, key := range keys {
		m.Unlock(txn, key)
	}
	m.clearEdges(txn)
}

// Holders returns the lock holders of key, for tests and diagnostics.
func (m *Manager) Holders(key []byte) map[uint64]Type {
	k := string(key)
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[uint64]Type)
	if kl, ok := s.locks[k]; ok {
		for id, t := range kl.holders {
			out[id] = t
		}
	}
	return out
}

// Waiting reports whether txn is blocked in Lock.
func (m *Manager) Waiting(txn uint64) bool {
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	_, ok := m.waitFor[txn]
	return ok
}

// NumLocks is the number of keys currently tracked.
func (m *Manager) NumLocks() int64 {
	return m.numLocks.Load()
}

// grantWaiters is called with the stripe latch held.
func (m *Manager) grantWaiters(kl *keyLock) {
	remaining := kl.queue[:0]
	for i, w := range kl.queue {
		// FIFO: stop at the first waiter that still conflicts so later
		// shared requests cannot starve an earlier exclusive one.
		if !kl.grantable(w.txn, w.typ, false) {
			remaining = append(remaining, kl.queue[i:]...)
			break
		}
		kl.holders[w.txn] = maxType(kl.holders[w.txn], w.typ)
		w.granted = true
		m.clearEdges(w.txn)
		close(w.ready)
	}
	kl.queue = remaining
	m.refreshEdges(kl)
}

// refreshEdges rebuilds the wait-for edges of every queued waiter from the
// current holders and the waiters ahead of it. Called with the stripe latch
// held.
func (m *Manager) refreshEdges(kl *keyLock) {
	if len(kl.queue) == 0 {
		return
	}
	m.graphMu.Lock()
	defer m.graphMu.Unlock()
	for i, w := range kl.queue {
		m.setEdges(w.txn, kl.blockers(w.txn, i))
	}
}

func (m *Manager) dropIfIdle(s *stripe, key string, kl *keyLock) {
	if len(kl.holders) == 0 && len(kl.queue) == 0 {
		delete(s.locks, key)
		m.numLocks.Add(-1)
	}
}

// setEdges replaces the out-edges of txn. A transaction waits on at most one
// key at a time. Called with graphMu held.
func (m *Manager) setEdges(txn uint64, blockers []uint64) {
	edges := make(map[uint64]struct{}, len(blockers))
	for _, b := range blockers {
		edges[b] = struct{}{}
	}
	m.waitFor[txn] = edges
}

func (m *Manager) clearEdges(txn uint64) {
	m.graphMu.Lock()
	delete(m.waitFor, txn)
	m.graphMu.Unlock()
}

// cycles reports whether any blocker transitively waits for txn. It is
// called with graphMu held.
func (m *Manager) cycles(txn uint64, blockers []uint64, depth int) bool {
	if depth <= 0 {
		depth = 50
	}
	visited := make(map[uint64]struct{})
	var walk func(node uint64, d int) bool
	walk = func(node uint64, d int) bool {
		if node == txn {
			return true
		}
		if d > depth {
			return true
		}
		if _, seen := visited[node]; seen {
			return false
		}
		visited[node] = struct{}{}
		for next := range m.waitFor[node] {
			if walk(next, d+1) {
				return true
			}
		}
		return false
	}
	for _, b := range blockers {
		if walk(b, 1) {
			return true
		}
	}
	return false
}

// grantable reports whether txn may take the lock now. When queued is set a
// shared request also yields to waiters already in the queue.
func (kl *keyLock) grantable(txn uint64, typ Type, queued bool) bool {
	if len(kl.holders) == 0 {
		return true
	}
	if held, ok := kl.holders[txn]; ok {
		if held == Exclusive || typ == Shared {
			return true
		}
		// upgrade; it is queued ahead of non-holders, so it never yields
		return len(kl.holders) == 1
	}
	if typ == Exclusive {
		return false
	}
	for _, t := range kl.holders {
		if t == Exclusive {
			return false
		}
	}
	return !queued || len(kl.queue) == 0
}

// enqueuePos is where a new waiter for txn joins the queue. Upgrades by a
// current holder go ahead of every waiter that holds nothing: the holder
// cannot release while it waits, so queuing it behind a conflicting request
// would deadlock the key.
func (kl *keyLock) enqueuePos(txn uint64) int {
	if _, held := kl.holders[txn]; !held {
		return len(kl.queue)
	}
	pos := 0
	for pos < len(kl.queue) {
		if _, held := kl.holders[kl.queue[pos].txn]; !held {
			break
		}
		pos++
	}
	return pos
}

// blockers lists what a waiter for txn at queue position pos waits on: every
// other holder and every waiter ahead of it.
func (kl *keyLock) blockers(txn uint64, pos int) []uint64 {
	out := make([]uint64, 0, len(kl.holders)+pos)
	for id := range kl.holders {
		if id != txn {
			out = append(out, id)
		}
	}
	for _, w := range kl.queue[:pos] {
		if w.txn != txn {
			out = append(out, w.txn)
		}
	}
	return out
}

func (kl *keyLock) remove(w *waiter) {
	for i, q := range kl.queue {
		if q == w {
			kl.queue = append(kl.queue[:i], kl.queue[i+1:]...)
			return
		}
	}
}

func maxType(a, b Type) Type {
	if a == Exclusive || b == Exclusive {
		return Exclusive
	}
	return Shared
}
