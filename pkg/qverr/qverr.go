// Package qverr carries the runtime's stable numeric return-code enum across
// process and wire boundaries, alongside ordinary Go error ergonomics.
package qverr

import (
	"github.com/pkg/errors"
)

// Code is the stable, wire-transmissible return code of every public entry point.
type Code int32

const (
	// Success indicates the call completed as requested.
	Success Code = iota
	// SuccessAlreadyDone indicates the requested state already held.
	SuccessAlreadyDone
	// SuccessShutdown indicates a clean shutdown in progress/completed.
	SuccessShutdown
	// Err is a generic, unclassified failure.
	Err
	// ErrEnv indicates a problem with the process environment.
	ErrEnv
	// ErrInternal indicates an internal invariant violation.
	ErrInternal
	// ErrFileIO indicates a filesystem operation failed.
	ErrFileIO
	// ErrSys indicates an OS/syscall failure.
	ErrSys
	// ErrOOR indicates an out-of-range argument or lookup.
	ErrOOR
	// ErrInvalidArg indicates a precondition failure in caller-supplied arguments.
	ErrInvalidArg
	// ErrHWLoc indicates a topology-oracle failure.
	ErrHWLoc
	// ErrMPI indicates an MPI group-backend failure.
	ErrMPI
	// ErrMsg indicates a wire (de)serialization failure.
	ErrMsg
	// ErrRPC indicates an RMI transport failure.
	ErrRPC
	// ErrNotSupported indicates the operation is recognized but unsupported.
	ErrNotSupported
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound
	// ErrSplit indicates the splitting engine could not satisfy the request.
	ErrSplit
	// ResUnavailable indicates the RMI server could not be reached.
	ResUnavailable
)

var names = map[Code]string{
	Success:             "SUCCESS",
	SuccessAlreadyDone:  "SUCCESS_ALREADY_DONE",
	SuccessShutdown:     "SUCCESS_SHUTDOWN",
	Err:                 "ERR",
	ErrEnv:              "ERR_ENV",
	ErrInternal:         "ERR_INTERNAL",
	ErrFileIO:           "ERR_FILE_IO",
	ErrSys:              "ERR_SYS",
	ErrOOR:              "ERR_OOR",
	ErrInvalidArg:       "ERR_INVLD_ARG",
	ErrHWLoc:            "ERR_HWLOC",
	ErrMPI:              "ERR_MPI",
	ErrMsg:              "ERR_MSG",
	ErrRPC:              "ERR_RPC",
	ErrNotSupported:     "ERR_NOT_SUPPORTED",
	ErrNotFound:         "ERR_NOT_FOUND",
	ErrSplit:            "ERR_SPLIT",
	ResUnavailable:      "RES_UNAVAILABLE",
}

// String renders the code using its stable name.
func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "ERR_UNKNOWN"
}

// OK reports whether the code denotes a success variant.
func (c Code) OK() bool {
	return c == Success || c == SuccessAlreadyDone || c == SuccessShutdown
}

// qverror pairs a stable Code with a wrapped Go error chain.
type qverror struct {
	code Code
	err  error
}

// New creates an error carrying code, formatting format/args as its message.
func New(code Code, format string, args ...interface{}) error {
	return &qverror{code: code, err: errors.Errorf(format, args...)}
}

// Wrap attaches code to an existing error, preserving its chain for %+v and errors.Is/As.
func Wrap(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &qverror{code: code, err: errors.Wrapf(err, format, args...)}
}

func (e *qverror) Error() string {
	return e.code.String() + ": " + e.err.Error()
}

func (e *qverror) Unwrap() error {
	return e.err
}

// CodeOf extracts the Code carried by err, or Err if err does not carry one.
func CodeOf(err error) Code {
	if err == nil {
		return Success
	}
	var qv *qverror
	if errors.As(err, &qv) {
		return qv.code
	}
	return Err
}
