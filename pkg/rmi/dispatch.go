package rmi

import (
	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	"github.com/openhpc/quovadis-go/pkg/qverr"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/wire"
)

// dispatch runs the handler named by fid against body, returning the reply
// body and whether the whole server (shutdown) or just this connection
// (done) should end after the reply is sent. An unrecognized fid is the one case
// the transport itself treats as fatal to the connection: client and server
// are built from the same protocol, so it can only mean a framing bug.
func (s *Server) dispatch(fid FID, body *wire.Buffer) (reply *wire.Buffer, shutdown, done bool) {
	reply = wire.NewBuffer()

	switch fid {
	case FIDShutdown:
		reply.WriteInt32(int32(qverr.SuccessShutdown))
		return reply, true, true

	case FIDGoodbye:
		reply.WriteInt32(int32(qverr.Success))
		return reply, false, true

	case FIDHello:
		tid, err := body.ReadInt32()
		if err != nil {
			s.log.Warn("hello: malformed request: %v", err)
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		s.log.Debug("hello from tid=%d", tid)
		reply.WriteInt32(int32(qverr.Success))
		reply.WriteString(s.topoPath)
		return reply, false, false

	case FIDGetCPUBind:
		tid, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		cs, err := s.oracle.TaskGetCPUBind(int(tid))
		if err != nil {
			s.log.Error("get_cpubind(%d) failed: %v", tid, err)
			reply.WriteInt32(int32(qverr.ErrSys))
			reply.WriteString("")
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		reply.WriteString(cs.String())
		return reply, false, false

	case FIDSetCPUBind:
		tid, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			return reply, false, false
		}
		csStr, err := body.ReadString()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			return reply, false, false
		}
		cs, err := bitmap.Parse(csStr)
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrInvalidArg))
			return reply, false, false
		}
		if err := s.oracle.TaskSetCPUBindFromCpuset(int(tid), cs); err != nil {
			s.log.Error("set_cpubind(%d, %s) failed: %v", tid, cs, err)
			reply.WriteInt32(int32(qverr.ErrSys))
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		return reply, false, false

	case FIDObjTypeDepth:
		typ, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteInt32(0)
			return reply, false, false
		}
		depth, err := s.oracle.ObjTypeDepth(sysfs.HWObjType(typ))
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrHWLoc))
			reply.WriteInt32(0)
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		reply.WriteInt32(int32(depth))
		return reply, false, false

	case FIDGetNObjsInCpuset:
		typ, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteInt32(0)
			return reply, false, false
		}
		csStr, err := body.ReadString()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteInt32(0)
			return reply, false, false
		}
		cs, err := bitmap.Parse(csStr)
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrInvalidArg))
			reply.WriteInt32(0)
			return reply, false, false
		}
		n, err := s.oracle.NObjsInCpuset(sysfs.HWObjType(typ), cs)
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrHWLoc))
			reply.WriteInt32(0)
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		reply.WriteInt32(int32(n))
		return reply, false, false

	case FIDGetDeviceInCpuset:
		typ, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		idx, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		csStr, err := body.ReadString()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		idFormat, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			reply.WriteString("")
			return reply, false, false
		}
		cs, err := bitmap.Parse(csStr)
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrInvalidArg))
			reply.WriteString("")
			return reply, false, false
		}
		id, err := s.oracle.GetDeviceIDInCpuset(sysfs.HWObjType(typ), int(idx), cs, sysfs.DeviceIDFormat(idFormat))
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrNotFound))
			reply.WriteString("")
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		reply.WriteString(id)
		return reply, false, false

	case FIDGetIntrinsicHWPool:
		pids, err := wire.UnpackInt32s(body)
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			return reply, false, false
		}
		scope, err := body.ReadInt32()
		if err != nil {
			reply.WriteInt32(int32(qverr.ErrMsg))
			return reply, false, false
		}
		cs, err := s.derivePoolCpuset(pids, Intrinsic(scope))
		if err != nil {
			s.log.Warn("get_intrinsic_hwpool failed: %v", err)
			reply.WriteInt32(int32(errorToCode(err)))
			return reply, false, false
		}
		pool, err := hwpool.Initialize(s.oracle, cs)
		if err != nil {
			s.log.Error("get_intrinsic_hwpool: failed to initialize pool: %v", err)
			reply.WriteInt32(int32(qverr.ErrInternal))
			return reply, false, false
		}
		reply.WriteInt32(int32(qverr.Success))
		pool.Pack(reply)
		return reply, false, false

	default:
		s.log.Error("received unrecognized function id %d, closing connection", fid)
		reply.WriteInt32(int32(qverr.ErrInternal))
		return reply, false, true
	}
}
