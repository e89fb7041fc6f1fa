package pebble

import (
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"

	"github.com/eigerco/kvbridge/internal/conflict"
	"github.com/eigerco/kvbridge/internal/lock"
	"github.com/eigerco/kvbridge/pkg/db/status"
)

// Errors returned by this package are *status.Status values; these aliases
// are the ones callers match most often.
var (
	ErrNotFound        = status.ErrNotFound
	ErrClosed          = status.ErrHandleClosed
	ErrBusy            = status.ErrBusy
	ErrConflict        = status.ErrConflict
	ErrDeadlock        = status.ErrDeadlock
	ErrLockTimeout     = status.ErrLockTimeout
	ErrTxnFinished     = status.ErrTxnFinished
	ErrIteratorInvalid = status.ErrCursorInvalid
	ErrIteratorClosed  = status.ErrCursorClosed
	ErrDependentsLive  = status.ErrDependentsLive
	ErrNoSavePoint     = status.ErrNoSavePoint
)

var (
	errForeignSnapshot = status.Newf(status.InvalidArgument, status.SubNone, status.BridgeNone, "snapshot does not belong to this store")
	errSnapshotGone    = status.Newf(status.InvalidArgument, status.SubNone, status.BridgeNone, "snapshot already released")
	errPrefixReverse   = status.Newf(status.NotSupported, status.SubNone, status.BridgeNone, "reverse movement in prefix mode")
	errInvertedRange   = status.Newf(status.InvalidArgument, status.SubNone, status.BridgeNone, "range start sorts after its end")
	errBatchDone       = status.Newf(status.InvalidArgument, status.SubNone, status.BridgeNone, "batch already committed or closed")
	errPlainHandle     = status.Newf(status.NotSupported, status.SubNone, status.ModeMismatch, "store was opened without transactions")
)

// translate funnels every engine, lock and conflict error into a status.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var s *status.Status
	if errors.As(err, &s) {
		return s
	}

	switch {
	case errors.Is(err, pebble.ErrNotFound):
		return status.Wrap(err, status.NotFound, status.SubNone, status.NoError, status.BridgeNone)
	case errors.Is(err, pebble.ErrClosed):
		return status.Wrap(err, status.ShutdownInProgress, status.SubNone, status.NoError, status.HandleClosed)
	case errors.Is(err, pebble.ErrReadOnly):
		return status.Wrap(err, status.NotSupported, status.SubNone, status.NoError, status.ReadOnly)
	case errors.Is(err, pebble.ErrBatchTooLarge):
		return status.Wrap(err, status.InvalidArgument, status.SubNone, status.NoError, status.BridgeNone)
	case errors.Is(err, pebble.ErrDBDoesNotExist),
		errors.Is(err, pebble.ErrDBAlreadyExists),
		errors.Is(err, pebble.ErrDBNotPristine):
		return status.Wrap(err, status.InvalidArgument, status.SubNone, status.NoError, status.BridgeNone)
	case errors.Is(err, lock.ErrTimeout):
		return status.Wrap(err, status.TimedOut, status.LockTimeout, status.NoError, status.BridgeNone)
	case errors.Is(err, lock.ErrDeadlock):
		return status.Wrap(err, status.Busy, status.Deadlock, status.NoError, status.BridgeNone)
	case errors.Is(err, lock.ErrLimit):
		return status.Wrap(err, status.Busy, status.LockLimit, status.NoError, status.BridgeNone)
	case errors.Is(err, conflict.ErrConflict):
		return status.Wrap(err, status.Busy, status.SubNone, status.NoError, status.Conflict)
	}

	// pebble reports these through formatted errors without sentinels
	msg := err.Error()
	switch {
	case strings.Contains(msg, "corrupt"):
		return status.Wrap(err, status.Corruption, status.SubNone, status.HardError, status.BridgeNone)
	case strings.Contains(msg, "comparer name"), strings.Contains(msg, "merger name"):
		return status.Wrap(err, status.InvalidArgument, status.SubNone, status.NoError, status.BridgeNone)
	}
	return status.Translate(err)
}
