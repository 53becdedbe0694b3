// Package rmi implements the runtime's RPC transport: a length-delimited
// binary protocol over a loopback TCP socket pair, connecting a task's
// client to the node daemon's server. The wire format is a 4-byte function
// id followed by a cereal-style typed body (see pkg/wire), all behind a
// 4-byte length prefix that frames one message per connection read.
package rmi

import (
	"github.com/openhpc/quovadis-go/pkg/qverr"
)

// FID identifies the requested RPC. An unrecognized FID reaching the
// server's dispatch table is an internal invariant violation: the client
// and server are built from the same protocol definition, so it can only
// happen from a corrupted stream or a version skew the runtime does not
// support.
type FID int32

const (
	FIDInvalid FID = iota
	FIDShutdown
	FIDHello
	FIDGoodbye
	FIDGetCPUBind
	FIDSetCPUBind
	FIDObjTypeDepth
	FIDGetNObjsInCpuset
	FIDGetDeviceInCpuset
	FIDGetIntrinsicHWPool
)

var fidNames = map[FID]string{
	FIDInvalid:            "INVALID",
	FIDShutdown:           "SHUTDOWN",
	FIDHello:              "HELLO",
	FIDGoodbye:            "GOODBYE",
	FIDGetCPUBind:         "GET_CPUBIND",
	FIDSetCPUBind:         "SET_CPUBIND",
	FIDObjTypeDepth:       "OBJ_TYPE_DEPTH",
	FIDGetNObjsInCpuset:   "GET_NOBJS_IN_CPUSET",
	FIDGetDeviceInCpuset:  "GET_DEVICE_IN_CPUSET",
	FIDGetIntrinsicHWPool: "GET_INTRINSIC_HWPOOL",
}

func (f FID) String() string {
	if n, ok := fidNames[f]; ok {
		return n
	}
	return "UNKNOWN"
}

// Intrinsic names one of the scopes GET_INTRINSIC_HWPOOL can derive a
// cpuset for. It is distinct from group.IntrinsicScope: the wire protocol
// additionally carries SYSTEM, which the server always rejects, where the
// in-process group abstraction has no notion of a system-wide group at all.
type Intrinsic int32

const (
	IntrinsicSystem Intrinsic = iota
	IntrinsicUser
	IntrinsicJob
	IntrinsicProcess
)

// maxFrameLen bounds a single message body, guarding the server against a
// corrupt or malicious length prefix driving an unbounded allocation.
const maxFrameLen = 64 << 20

// errorToCode maps a local error to the stable return code the wire
// protocol carries in every reply, defaulting to a generic RPC failure for
// errors that were never classified by pkg/qverr.
func errorToCode(err error) qverr.Code {
	if err == nil {
		return qverr.Success
	}
	code := qverr.CodeOf(err)
	if code == qverr.Err {
		return qverr.ErrRPC
	}
	return code
}
