//go:build unix

package status

import (
	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

func classifyErrno(err error) (SubCode, Severity, bool) {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return SubNone, NoError, false
	}
	switch errno {
	case unix.ENOSPC, unix.EDQUOT:
		return NoSpace, HardError, true
	case unix.ENOENT:
		return PathNotFound, NoError, true
	case unix.ESTALE:
		return StaleFile, NoError, true
	case unix.EIO:
		return SubNone, FatalError, true
	case unix.ENOMEM:
		return MemoryLimit, HardError, true
	}
	return SubNone, NoError, true
}
