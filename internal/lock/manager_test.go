package lock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func exclusive(key string, timeout time.Duration) Request {
	return Request{Key: []byte(key), Type: Exclusive, Timeout: timeout}
}

func shared(key string, timeout time.Duration) Request {
	return Request{Key: []byte(key), Type: Shared, Timeout: timeout}
}

func TestManager(t *testing.T) {
	tests := []struct {
		name string
		fn   func(t *testing.T, m *Manager)
	}{
		{name: "shared_locks_coexist", fn: testSharedCoexist},
		{name: "exclusive_blocks_and_times_out", fn: testExclusiveTimeout},
		{name: "upgrade_sole_holder", fn: testUpgrade},
		{name: "waiter_granted_on_unlock", fn: testWaiterGranted},
		{name: "deadlock_detected", fn: testDeadlock},
		{name: "upgrade_ahead_of_waiter", fn: testUpgradeAheadOfWaiter},
		{name: "competing_upgrades_deadlock", fn: testCompetingUpgrades},
		{name: "deadlock_after_grant", fn: testDeadlockAfterGrant},
		{name: "lock_limit", fn: testLimit},
		{name: "unlock_all_releases_keys", fn: testUnlockAll},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, NewManager(Options{NumStripes: 4}))
		})
	}
}

func testSharedCoexist(t *testing.T, m *Manager) {
	a, b := m.NewID(), m.NewID()
	require.NoError(t, m.Lock(a, shared("k", 0)))
	require.NoError(t, m.Lock(b, shared("k", 0)))

	holders := m.Holders([]byte("k"))
	assert.Len(t, holders, 2)
	assert.Equal(t, Shared, holders[a])

	// an exclusive request with no wait fails straight away
	c := m.NewID()
	assert.ErrorIs(t, m.Lock(c, exclusive("k", 0)), ErrTimeout)
}

func testExclusiveTimeout(t *testing.T, m *Manager) {
	a, b := m.NewID(), m.NewID()
	require.NoError(t, m.Lock(a, exclusive("k", 0)))

	start := time.Now()
	err := m.Lock(b, exclusive("k", 20*time.Millisecond))
	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)

	// the timed-out waiter left no trace
	assert.Equal(t, map[uint64]Type{a: Exclusive}, m.Holders([]byte("k")))
	assert.EqualValues(t, 1, m.NumLocks())
}

func testUpgrade(t *testing.T, m *Manager) {
	a := m.NewID()
	require.NoError(t, m.Lock(a, shared("k", 0)))
	require.NoError(t, m.Lock(a, exclusive("k", 0)))
	assert.Equal(t, Exclusive, m.Holders([]byte("k"))[a])

	// re-acquiring shared keeps the stronger mode
	require.NoError(t, m.Lock(a, shared("k", 0)))
	assert.Equal(t, Exclusive, m.Holders([]byte("k"))[a])

	b := m.NewID()
	require.NoError(t, m.Lock(b, shared("j", 0)))
	c := m.NewID()
	require.NoError(t, m.Lock(c, shared("j", 0)))
	assert.ErrorIs(t, m.Lock(b, exclusive("j", 0)), ErrTimeout)
}

func testWaiterGranted(t *testing.T, m *Manager) {
	a, b := m.NewID(), m.NewID()
	require.NoError(t, m.Lock(a, exclusive("k", 0)))

	done := make(chan error, 1)
	go func() {
		done <- m.Lock(b, exclusive("k", -1))
	}()

	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 1
	}, time.Second, time.Millisecond)

	m.Unlock(a, []byte("k"))
	require.NoError(t, <-done)
	assert.Equal(t, map[uint64]Type{b: Exclusive}, m.Holders([]byte("k")))
}

func testDeadlock(t *testing.T, m *Manager) {
	a, b := m.NewID(), m.NewID()
	require.NoError(t, m.Lock(a, exclusive("x", 0)))
	require.NoError(t, m.Lock(b, exclusive("y", 0)))

	waiting := make(chan error, 1)
	go func() {
		req := exclusive("y", time.Second)
		req.DeadlockDetect = true
		waiting <- m.Lock(a, req)
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("y")) == 1
	}, time.Second, time.Millisecond)

	req := exclusive("x", time.Second)
	req.DeadlockDetect = true
	assert.ErrorIs(t, m.Lock(b, req), ErrDeadlock)

	// b gives up its locks, a gets y
	m.UnlockAll(b, [][]byte{[]byte("y")})
	require.NoError(t, <-waiting)
	assert.Equal(t, Exclusive, m.Holders([]byte("y"))[a])
}

func detect(req Request, timeout time.Duration) Request {
	req.Timeout = timeout
	req.DeadlockDetect = true
	return req
}

func testUpgradeAheadOfWaiter(t *testing.T, m *Manager) {
	t1, t2, t3 := m.NewID(), m.NewID(), m.NewID()
	require.NoError(t, m.Lock(t1, shared("k", 0)))
	require.NoError(t, m.Lock(t2, shared("k", 0)))

	waiter := make(chan error, 1)
	go func() {
		waiter <- m.Lock(t3, detect(exclusive("k", 0), -1))
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 1
	}, time.Second, time.Millisecond)

	upgrade := make(chan error, 1)
	go func() {
		upgrade <- m.Lock(t1, detect(exclusive("k", 0), time.Second))
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 2
	}, time.Second, time.Millisecond)

	// the upgrade goes before t3 once t1 is the only holder
	m.Unlock(t2, []byte("k"))
	require.NoError(t, <-upgrade)
	assert.Equal(t, map[uint64]Type{t1: Exclusive}, m.Holders([]byte("k")))
	assert.Equal(t, 1, m.queued([]byte("k")))

	m.Unlock(t1, []byte("k"))
	require.NoError(t, <-waiter)
	assert.Equal(t, map[uint64]Type{t3: Exclusive}, m.Holders([]byte("k")))
}

func testCompetingUpgrades(t *testing.T, m *Manager) {
	t1, t2 := m.NewID(), m.NewID()
	require.NoError(t, m.Lock(t1, shared("k", 0)))
	require.NoError(t, m.Lock(t2, shared("k", 0)))

	upgrade := make(chan error, 1)
	go func() {
		upgrade <- m.Lock(t1, detect(exclusive("k", 0), time.Second))
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 1
	}, time.Second, time.Millisecond)

	assert.ErrorIs(t, m.Lock(t2, detect(exclusive("k", 0), time.Second)), ErrDeadlock)

	m.Unlock(t2, []byte("k"))
	require.NoError(t, <-upgrade)
	assert.Equal(t, map[uint64]Type{t1: Exclusive}, m.Holders([]byte("k")))
}

func testDeadlockAfterGrant(t *testing.T, m *Manager) {
	a, x, y := m.NewID(), m.NewID(), m.NewID()
	require.NoError(t, m.Lock(a, exclusive("k", 0)))
	require.NoError(t, m.Lock(x, exclusive("m", 0)))

	first := make(chan error, 1)
	go func() {
		first <- m.Lock(y, exclusive("k", -1))
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 1
	}, time.Second, time.Millisecond)

	second := make(chan error, 1)
	go func() {
		second <- m.Lock(x, detect(exclusive("k", 0), time.Second))
	}()
	require.Eventually(t, func() bool {
		return m.queued([]byte("k")) == 2
	}, time.Second, time.Millisecond)

	// y takes k from a; x now waits on y, not a
	m.Unlock(a, []byte("k"))
	require.NoError(t, <-first)

	assert.ErrorIs(t, m.Lock(y, detect(exclusive("m", 0), time.Second)), ErrDeadlock)

	m.UnlockAll(y, [][]byte{[]byte("k")})
	require.NoError(t, <-second)
	assert.Equal(t, map[uint64]Type{x: Exclusive}, m.Holders([]byte("k")))
}

func TestKeysLockedByBytes(t *testing.T) {
	m := NewManager(Options{})
	a, b := m.NewID(), m.NewID()

	// keys a custom comparator may treat as equal still lock independently
	require.NoError(t, m.Lock(a, exclusive("K", 0)))
	require.NoError(t, m.Lock(b, exclusive("k", 0)))
	assert.EqualValues(t, 2, m.NumLocks())
}

func testLimit(t *testing.T, _ *Manager) {
	m := NewManager(Options{MaxLocks: 2})
	a := m.NewID()
	require.NoError(t, m.Lock(a, exclusive("a", 0)))
	require.NoError(t, m.Lock(a, exclusive("b", 0)))
	assert.ErrorIs(t, m.Lock(a, exclusive("c", 0)), ErrLimit)

	// already tracked keys are not limited
	require.NoError(t, m.Lock(a, exclusive("b", 0)))

	m.Unlock(a, []byte("a"))
	require.NoError(t, m.Lock(a, exclusive("c", 0)))
}

func testUnlockAll(t *testing.T, m *Manager) {
	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	owner := m.NewID()
	for _, k := range keys {
		require.NoError(t, m.Lock(owner, Request{Key: k, Type: Exclusive}))
	}
	assert.EqualValues(t, 3, m.NumLocks())

	var g errgroup.Group
	for _, k := range keys {
		k := k
		g.Go(func() error {
			return m.Lock(m.NewID(), Request{Key: k, Type: Exclusive, Timeout: time.Second})
		})
	}
	m.UnlockAll(owner, keys)
	require.NoError(t, g.Wait())
	assert.EqualValues(t, 3, m.NumLocks())
}

// queued returns the wait queue length of key.
func (m *Manager) queued(key []byte) int {
	k := string(key)
	s := m.stripeFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if kl, ok := s.locks[k]; ok {
		return len(kl.queue)
	}
	return 0
}
