package status

import (
	"io/fs"
	"os"

	"github.com/cockroachdb/errors"
)

// FromError converts any error returned by the engine or the bridge into a
// Status. nil converts to the OK status.
func FromError(err error) Status {
	if err == nil {
		return Status{}
	}
	var s *Status
	if errors.As(err, &s) {
		return *s
	}
	return *Translate(err)
}

// Translate classifies an error that is not already a Status. Callers that
// know more about the error (engine sentinels) should classify those first.
func Translate(err error) *Status {
	if err == nil {
		return nil
	}
	var s *Status
	if errors.As(err, &s) {
		return s
	}
	if sub, sev, ok := classifyErrno(err); ok {
		return Wrap(err, IOError, sub, sev, BridgeNone)
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return Wrap(err, IOError, PathNotFound, NoError, BridgeNone)
	case errors.Is(err, fs.ErrPermission), errors.Is(err, fs.ErrExist):
		return Wrap(err, IOError, SubNone, NoError, BridgeNone)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return Wrap(err, TimedOut, SubNone, NoError, BridgeNone)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return Wrap(err, IOError, SubNone, NoError, BridgeNone)
	}
	return Wrap(err, Unknown, SubNone, NoError, BridgeNone)
}

// CodeOf returns the status code of err, OK for nil.
func CodeOf(err error) Code {
	return FromError(err).Code
}
