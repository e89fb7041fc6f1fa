// Package status translates engine and bridge failures into a flat status
// record of {code, sub-code, severity, bridge code}.
package status

import (
	"fmt"
	"strings"
)

// Code is the primary classification of a result.
type Code uint8

const (
	OK Code = iota
	NotFound
	Corruption
	NotSupported
	InvalidArgument
	IOError
	MergeInProgress
	Incomplete
	ShutdownInProgress
	TimedOut
	Aborted
	Busy
	Expired
	TryAgain
	CompactionTooLarge
	ColumnFamilyDropped
	Unknown
)

var codeNames = [...]string{
	OK:                  "OK",
	NotFound:            "NotFound",
	Corruption:          "Corruption",
	NotSupported:        "NotSupported",
	InvalidArgument:     "InvalidArgument",
	IOError:             "IOError",
	MergeInProgress:     "MergeInProgress",
	Incomplete:          "Incomplete",
	ShutdownInProgress:  "ShutdownInProgress",
	TimedOut:            "TimedOut",
	Aborted:             "Aborted",
	Busy:                "Busy",
	Expired:             "Expired",
	TryAgain:            "TryAgain",
	CompactionTooLarge:  "CompactionTooLarge",
	ColumnFamilyDropped: "ColumnFamilyDropped",
	Unknown:             "Unknown",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("Code(%d)", c)
}

// SubCode refines a Code.
type SubCode uint8

const (
	SubNone SubCode = iota
	MutexTimeout
	LockTimeout
	LockLimit
	NoSpace
	Deadlock
	StaleFile
	MemoryLimit
	SpaceLimit
	PathNotFound
	MergeOperandsInsufficientCapacity
	ManualCompactionPaused
	Overwritten
	TxnNotPrepared
	IOFenced
)

var subCodeNames = [...]string{
	SubNone:                           "None",
	MutexTimeout:                      "MutexTimeout",
	LockTimeout:                       "LockTimeout",
	LockLimit:                         "LockLimit",
	NoSpace:                           "NoSpace",
	Deadlock:                          "Deadlock",
	StaleFile:                         "StaleFile",
	MemoryLimit:                       "MemoryLimit",
	SpaceLimit:                        "SpaceLimit",
	PathNotFound:                      "PathNotFound",
	MergeOperandsInsufficientCapacity: "MergeOperandsInsufficientCapacity",
	ManualCompactionPaused:            "ManualCompactionPaused",
	Overwritten:                       "Overwritten",
	TxnNotPrepared:                    "TxnNotPrepared",
	IOFenced:                          "IOFenced",
}

func (s SubCode) String() string {
	if int(s) < len(subCodeNames) {
		return subCodeNames[s]
	}
	return fmt.Sprintf("SubCode(%d)", s)
}

// Severity tells how far a failure reaches beyond the call that reported it.
type Severity uint8

const (
	NoError Severity = iota
	SoftError
	HardError
	FatalError
	UnrecoverableError
)

var severityNames = [...]string{
	NoError:            "NoError",
	SoftError:          "SoftError",
	HardError:          "HardError",
	FatalError:         "FatalError",
	UnrecoverableError: "UnrecoverableError",
}

func (s Severity) String() string {
	if int(s) < len(severityNames) {
		return severityNames[s]
	}
	return fmt.Sprintf("Severity(%d)", s)
}

// BridgeCode carries failures raised by the bridge itself rather than the engine.
type BridgeCode uint8

const (
	BridgeNone BridgeCode = iota
	TxnFinished
	CursorInvalid
	CursorClosed
	HandleClosed
	DependentsLive
	ModeMismatch
	NoSavePoint
	Conflict
	ReadOnly
)

var bridgeNames = [...]string{
	BridgeNone:     "None",
	TxnFinished:    "TxnFinished",
	CursorInvalid:  "CursorInvalid",
	CursorClosed:   "CursorClosed",
	HandleClosed:   "HandleClosed",
	DependentsLive: "DependentsLive",
	ModeMismatch:   "ModeMismatch",
	NoSavePoint:    "NoSavePoint",
	Conflict:       "Conflict",
	ReadOnly:       "ReadOnly",
}

func (b BridgeCode) String() string {
	if int(b) < len(bridgeNames) {
		return bridgeNames[b]
	}
	return fmt.Sprintf("BridgeCode(%d)", b)
}

// Status is the record produced for every engine call. The zero value is OK.
type Status struct {
	Code     Code
	SubCode  SubCode
	Severity Severity
	Bridge   BridgeCode

	msg   string
	cause error
}

// New builds a status from its four fields. Only the benign engine signals
// OK/NoSpace and OK/NoError collapse to the zero Status; any other OK
// combination keeps its fields.
func New(code Code, sub SubCode, sev Severity, bridge BridgeCode) Status {
	if code == OK && bridge == BridgeNone && sev == NoError && (sub == SubNone || sub == NoSpace) {
		return Status{}
	}
	return Status{Code: code, SubCode: sub, Severity: sev, Bridge: bridge}
}

// Newf is New with a message attached.
func Newf(code Code, sub SubCode, bridge BridgeCode, format string, args ...any) *Status {
	s := New(code, sub, NoError, bridge)
	s.msg = fmt.Sprintf(format, args...)
	return &s
}

// Wrap builds a status with cause as the underlying error.
func Wrap(cause error, code Code, sub SubCode, sev Severity, bridge BridgeCode) *Status {
	s := New(code, sub, sev, bridge)
	s.cause = cause
	return &s
}

// OK reports whether the status represents success.
func (s Status) OK() bool {
	return s.Code == OK && s.SubCode == SubNone && s.Severity == NoError && s.Bridge == BridgeNone
}

// Err returns nil for a successful status and the status itself otherwise.
func (s Status) Err() error {
	if s.OK() {
		return nil
	}
	return &s
}

func (s *Status) Error() string {
	var b strings.Builder
	b.WriteString(s.Code.String())
	if s.SubCode != SubNone {
		b.WriteString("/")
		b.WriteString(s.SubCode.String())
	}
	if s.Severity != NoError {
		b.WriteString(" [")
		b.WriteString(s.Severity.String())
		b.WriteString("]")
	}
	if s.Bridge != BridgeNone {
		b.WriteString(" (bridge: ")
		b.WriteString(s.Bridge.String())
		b.WriteString(")")
	}
	if s.msg != "" {
		b.WriteString(": ")
		b.WriteString(s.msg)
	}
	if s.cause != nil {
		b.WriteString(": ")
		b.WriteString(s.cause.Error())
	}
	return b.String()
}

func (s *Status) Unwrap() error {
	return s.cause
}

// Is matches target statuses on their non-zero fields, so a sentinel such as
// ErrBusy matches every Busy status regardless of sub-code.
func (s *Status) Is(target error) bool {
	t, ok := target.(*Status)
	if !ok {
		return false
	}
	if s.Code != t.Code {
		return false
	}
	if t.SubCode != SubNone && s.SubCode != t.SubCode {
		return false
	}
	if t.Bridge != BridgeNone && s.Bridge != t.Bridge {
		return false
	}
	return true
}

// Sentinel statuses for errors.Is.
var (
	ErrNotFound        = &Status{Code: NotFound}
	ErrCorruption      = &Status{Code: Corruption}
	ErrNotSupported    = &Status{Code: NotSupported}
	ErrInvalidArgument = &Status{Code: InvalidArgument}
	ErrIO              = &Status{Code: IOError}
	ErrTimedOut        = &Status{Code: TimedOut}
	ErrAborted         = &Status{Code: Aborted}
	ErrBusy            = &Status{Code: Busy}
	ErrShutdown        = &Status{Code: ShutdownInProgress}

	ErrLockTimeout    = &Status{Code: TimedOut, SubCode: LockTimeout}
	ErrDeadlock       = &Status{Code: Busy, SubCode: Deadlock}
	ErrLockLimit      = &Status{Code: Busy, SubCode: LockLimit}
	ErrConflict       = &Status{Code: Busy, Bridge: Conflict}
	ErrTxnFinished    = &Status{Code: InvalidArgument, Bridge: TxnFinished}
	ErrCursorInvalid  = &Status{Code: InvalidArgument, Bridge: CursorInvalid}
	ErrCursorClosed   = &Status{Code: InvalidArgument, Bridge: CursorClosed}
	ErrHandleClosed   = &Status{Code: ShutdownInProgress, Bridge: HandleClosed}
	ErrDependentsLive = &Status{Code: Busy, Bridge: DependentsLive}
	ErrNoSavePoint    = &Status{Code: NotFound, Bridge: NoSavePoint}
)
