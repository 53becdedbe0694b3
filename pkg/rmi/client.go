package rmi

import (
	"io/ioutil"
	"math/rand"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	"github.com/openhpc/quovadis-go/pkg/hwpool"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/qverr"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/wire"
)

// recvTimeout bounds a client's wait for any single reply, so a broken or
// wedged server surfaces as ResUnavailable instead of hanging the caller.
const recvTimeout = 5 * time.Second

// daemonProcName is the executable name the client scans /proc for when no
// port was given explicitly or via QV_PORT.
const daemonProcName = "quo-vadisd"

// Client is one task's connection to the node daemon. It implements
// task.BindClient directly so a *Task can be built straight from it.
type Client struct {
	log      logger.Logger
	conn     net.Conn
	TopoPath string
}

// Dial resolves the daemon's port (explicit argument, then QV_PORT, then
// /proc discovery, forking a daemon as a last resort), connects, and
// performs the HELLO handshake. timeout bounds the whole resolve+connect
// sequence's retry backoff.
func Dial(explicitPort int, timeout time.Duration) (*Client, error) {
	port, err := resolvePort(explicitPort, timeout)
	if err != nil {
		return nil, err
	}

	conn, err := net.DialTimeout("tcp", localAddr(port), recvTimeout)
	if err != nil {
		return nil, qverr.New(qverr.ResUnavailable, "rmi: failed to connect to daemon on port %d: %v", port, err)
	}

	c := &Client{log: logger.Get("rmi-client"), conn: conn}
	if err := c.hello(); err != nil {
		conn.Close()
		return nil, err
	}
	return c, nil
}

func (c *Client) call(fid FID, body *wire.Buffer) (*wire.Buffer, error) {
	if err := c.conn.SetDeadline(time.Now().Add(recvTimeout)); err != nil {
		return nil, err
	}
	if err := writeFrame(c.conn, fid, body); err != nil {
		return nil, qverr.Wrap(qverr.ErrRPC, err, "rmi: failed to send %s", fid)
	}
	_, reply, err := readFrame(c.conn)
	if err != nil {
		if isTimeout(err) {
			return nil, qverr.New(qverr.ResUnavailable, "rmi: timed out waiting for %s reply", fid)
		}
		return nil, qverr.Wrap(qverr.ErrRPC, err, "rmi: failed to read %s reply", fid)
	}
	return reply, nil
}

func readRC(b *wire.Buffer) (qverr.Code, error) {
	rc, err := b.ReadInt32()
	return qverr.Code(rc), err
}

func (c *Client) hello() error {
	req := wire.NewBuffer()
	req.WriteInt32(int32(mytid()))
	reply, err := c.call(FIDHello, req)
	if err != nil {
		return err
	}
	rc, err := readRC(reply)
	if err != nil {
		return qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed hello reply")
	}
	if !rc.OK() {
		return qverr.New(rc, "rmi: hello rejected by daemon")
	}
	path, err := reply.ReadString()
	if err != nil {
		return qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed hello reply path")
	}
	c.TopoPath = path
	c.log.Debug("hello acknowledged, topology at %s", path)
	return nil
}

// Goodbye tells the daemon this client is done and closes the connection.
func (c *Client) Goodbye() error {
	req := wire.NewBuffer()
	req.WriteInt32(int32(mytid()))
	_, err := c.call(FIDGoodbye, req)
	c.conn.Close()
	return err
}

// GetCPUBind implements task.BindClient.
func (c *Client) GetCPUBind() (bitmap.Bitmap, error) {
	req := wire.NewBuffer()
	req.WriteInt32(int32(mytid()))
	reply, err := c.call(FIDGetCPUBind, req)
	if err != nil {
		return bitmap.Bitmap{}, err
	}
	rc, err := readRC(reply)
	if err != nil {
		return bitmap.Bitmap{}, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_cpubind reply")
	}
	csStr, err := reply.ReadString()
	if err != nil {
		return bitmap.Bitmap{}, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_cpubind reply")
	}
	if !rc.OK() {
		return bitmap.Bitmap{}, qverr.New(rc, "rmi: get_cpubind failed")
	}
	return bitmap.Parse(csStr)
}

// SetCPUBind implements task.BindClient.
func (c *Client) SetCPUBind(cs bitmap.Bitmap) error {
	req := wire.NewBuffer()
	req.WriteInt32(int32(mytid()))
	req.WriteString(cs.String())
	reply, err := c.call(FIDSetCPUBind, req)
	if err != nil {
		return err
	}
	rc, err := readRC(reply)
	if err != nil {
		return qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed set_cpubind reply")
	}
	if !rc.OK() {
		return qverr.New(rc, "rmi: set_cpubind failed")
	}
	return nil
}

// ObjTypeDepth asks the daemon for a topology type's depth.
func (c *Client) ObjTypeDepth(t sysfs.HWObjType) (int, error) {
	req := wire.NewBuffer()
	req.WriteInt32(int32(t))
	reply, err := c.call(FIDObjTypeDepth, req)
	if err != nil {
		return 0, err
	}
	rc, err := readRC(reply)
	if err != nil {
		return 0, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed obj_type_depth reply")
	}
	depth, err := reply.ReadInt32()
	if err != nil {
		return 0, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed obj_type_depth reply")
	}
	if !rc.OK() {
		return 0, qverr.New(rc, "rmi: obj_type_depth failed")
	}
	return int(depth), nil
}

// GetNObjsInCpuset asks the daemon how many objects of type t fall within cs.
func (c *Client) GetNObjsInCpuset(t sysfs.HWObjType, cs bitmap.Bitmap) (int, error) {
	req := wire.NewBuffer()
	req.WriteInt32(int32(t))
	req.WriteString(cs.String())
	reply, err := c.call(FIDGetNObjsInCpuset, req)
	if err != nil {
		return 0, err
	}
	rc, err := readRC(reply)
	if err != nil {
		return 0, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_nobjs_in_cpuset reply")
	}
	n, err := reply.ReadInt32()
	if err != nil {
		return 0, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_nobjs_in_cpuset reply")
	}
	if !rc.OK() {
		return 0, qverr.New(rc, "rmi: get_nobjs_in_cpuset failed")
	}
	return int(n), nil
}

// GetDeviceInCpuset asks the daemon to format the i-th device of type t
// affine to cs.
func (c *Client) GetDeviceInCpuset(t sysfs.HWObjType, i int, cs bitmap.Bitmap, idFormat sysfs.DeviceIDFormat) (string, error) {
	req := wire.NewBuffer()
	req.WriteInt32(int32(t))
	req.WriteInt32(int32(i))
	req.WriteString(cs.String())
	req.WriteInt32(int32(idFormat))
	reply, err := c.call(FIDGetDeviceInCpuset, req)
	if err != nil {
		return "", err
	}
	rc, err := readRC(reply)
	if err != nil {
		return "", qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_device_in_cpuset reply")
	}
	id, err := reply.ReadString()
	if err != nil {
		return "", qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_device_in_cpuset reply")
	}
	if !rc.OK() {
		return "", qverr.New(rc, "rmi: get_device_in_cpuset failed")
	}
	return id, nil
}

// GetIntrinsicHWPool asks the daemon to derive and pack a fresh pool for the
// given intrinsic scope and pid set.
func (c *Client) GetIntrinsicHWPool(intrinsic Intrinsic, pids []int32) (*hwpool.Pool, error) {
	req := wire.NewBuffer()
	wire.PackInt32s(req, pids)
	req.WriteInt32(int32(intrinsic))
	reply, err := c.call(FIDGetIntrinsicHWPool, req)
	if err != nil {
		return nil, err
	}
	rc, err := readRC(reply)
	if err != nil {
		return nil, qverr.Wrap(qverr.ErrMsg, err, "rmi: malformed get_intrinsic_hwpool reply")
	}
	if !rc.OK() {
		return nil, qverr.New(rc, "rmi: get_intrinsic_hwpool failed")
	}
	return hwpool.Unpack(reply)
}

// Shutdown asks the daemon to shut down cleanly.
func (c *Client) Shutdown() error {
	reply, err := c.call(FIDShutdown, wire.NewBuffer())
	if err != nil {
		return err
	}
	_, err = readRC(reply)
	return err
}

// Close releases the client's connection without notifying the daemon.
func (c *Client) Close() error {
	return c.conn.Close()
}

func mytid() int {
	return os.Getpid()
}

// resolvePort implements the spec's precedence: explicit argument, then
// QV_PORT, then /proc discovery. If the first scan finds no daemon it forks
// one, then rescans with exponential backoff + jitter until timeout elapses.
func resolvePort(explicit int, timeout time.Duration) (int, error) {
	if explicit > 0 {
		return explicit, nil
	}
	if v, ok := os.LookupEnv("QV_PORT"); ok && v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			return port, nil
		}
	}

	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Millisecond
	forked := false
	for {
		if port, ok := discoverDaemonPort(); ok {
			return port, nil
		}
		if !forked {
			forked = true
			if err := forkDaemon(); err != nil {
				return 0, qverr.Wrap(qverr.ResUnavailable, err, "rmi: no running daemon found and failed to start one")
			}
		}
		if time.Now().After(deadline) {
			return 0, qverr.New(qverr.ResUnavailable, "rmi: timed out waiting for a daemon to become reachable")
		}
		jitter := time.Duration(rand.Int63n(int64(backoff) / 2))
		time.Sleep(backoff + jitter)
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
}

// discoverDaemonPort scans /proc/*/comm for the daemon's process name, then
// reads its cmdline/environ for --port or QV_PORT.
func discoverDaemonPort() (int, bool) {
	entries, err := ioutil.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		pid := e.Name()
		if _, err := strconv.Atoi(pid); err != nil {
			continue
		}
		comm, err := ioutil.ReadFile("/proc/" + pid + "/comm")
		if err != nil || strings.TrimSpace(string(comm)) != daemonProcName {
			continue
		}
		if port, ok := portFromCmdline(pid); ok {
			return port, true
		}
		if port, ok := portFromEnviron(pid); ok {
			return port, true
		}
	}
	return 0, false
}

func portFromCmdline(pid string) (int, bool) {
	raw, err := ioutil.ReadFile("/proc/" + pid + "/cmdline")
	if err != nil {
		return 0, false
	}
	args := strings.Split(string(raw), "\x00")
	for i, a := range args {
		if a == "--port" && i+1 < len(args) {
			if port, err := strconv.Atoi(args[i+1]); err == nil {
				return port, true
			}
		}
		if strings.HasPrefix(a, "--port=") {
			if port, err := strconv.Atoi(strings.TrimPrefix(a, "--port=")); err == nil {
				return port, true
			}
		}
	}
	return 0, false
}

func portFromEnviron(pid string) (int, bool) {
	raw, err := ioutil.ReadFile("/proc/" + pid + "/environ")
	if err != nil {
		return 0, false
	}
	for _, kv := range strings.Split(string(raw), "\x00") {
		if strings.HasPrefix(kv, "QV_PORT=") {
			if port, err := strconv.Atoi(strings.TrimPrefix(kv, "QV_PORT=")); err == nil {
				return port, true
			}
		}
	}
	return 0, false
}

// forkDaemon starts a detached quo-vadisd instance when discovery finds
// none running. It does not wait for the new daemon to become ready;
// resolvePort's retry loop handles that.
func forkDaemon() error {
	path, err := exec.LookPath(daemonProcName)
	if err != nil {
		return errors.Wrapf(err, "rmi: %s not found on PATH", daemonProcName)
	}
	// Give the new daemon an explicit --port so discoverDaemonPort can read
	// it back from the daemon's cmdline.
	lis, err := net.Listen("tcp", localAddr(0))
	if err != nil {
		return errors.Wrap(err, "rmi: failed to pick a port for a new daemon")
	}
	port := lis.Addr().(*net.TCPAddr).Port
	lis.Close()
	cmd := exec.Command(path, "--port", strconv.Itoa(port))
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "rmi: failed to start %s", daemonProcName)
	}
	go cmd.Wait() // reap; we don't track the daemon's lifetime beyond launch
	return nil
}
