package rmi

import (
	"encoding/binary"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/wire"
)

// writeFrame sends one u32-length-prefixed message: fid followed by body.
func writeFrame(conn net.Conn, fid FID, body *wire.Buffer) error {
	payload := body.Bytes()
	msg := wire.NewBuffer()
	msg.WriteInt32(int32(fid))
	msg.Append(payload)

	var lenPrefix [4]byte
	binary.LittleEndian.PutUint32(lenPrefix[:], uint32(len(msg.Bytes())))
	if _, err := conn.Write(lenPrefix[:]); err != nil {
		return errors.Wrap(err, "rmi: failed to write frame length")
	}
	if _, err := conn.Write(msg.Bytes()); err != nil {
		return errors.Wrap(err, "rmi: failed to write frame body")
	}
	return nil
}

// readFrame receives one u32-length-prefixed message and splits it into its
// fid and remaining body.
func readFrame(conn net.Conn) (FID, *wire.Buffer, error) {
	var lenPrefix [4]byte
	if _, err := io.ReadFull(conn, lenPrefix[:]); err != nil {
		return FIDInvalid, nil, err
	}
	n := binary.LittleEndian.Uint32(lenPrefix[:])
	if n > maxFrameLen {
		return FIDInvalid, nil, errors.Errorf("rmi: frame length %d exceeds limit", n)
	}
	raw := make([]byte, n)
	if _, err := io.ReadFull(conn, raw); err != nil {
		return FIDInvalid, nil, errors.Wrap(err, "rmi: failed to read frame body")
	}
	b := wire.FromBytes(raw)
	fidRaw, err := b.ReadInt32()
	if err != nil {
		return FIDInvalid, nil, errors.Wrap(err, "rmi: failed to read frame fid")
	}
	return FID(fidRaw), b, nil
}

// readFrameDeadline is readFrame with a read deadline applied first, used by
// the server's poll loop to periodically recheck shutdown_signaled instead
// of blocking forever on a single connection.
func readFrameDeadline(conn net.Conn, d time.Duration) (FID, *wire.Buffer, error) {
	if err := conn.SetReadDeadline(time.Now().Add(d)); err != nil {
		return FIDInvalid, nil, err
	}
	return readFrame(conn)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
