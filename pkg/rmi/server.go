package rmi

import (
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/qverr"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

// pollInterval is how often a per-connection read loop rechecks the
// shutdown flag instead of blocking indefinitely. The accept loop does not
// poll; Stop closing the listener ends it.
const pollInterval = 1 * time.Second

// Server is the node daemon's RMI endpoint: a loopback TCP listener
// dispatching requests against a read-only topology oracle. The server keeps
// no hardware pool of its own: each GET_INTRINSIC_HWPOOL request builds a
// fresh pool from the oracle. The oracle never changes after Start, so
// handlers read it without locking; only the shutdown flag and connection
// bookkeeping are shared mutable state.
type Server struct {
	log      logger.Logger
	oracle   *sysfs.Oracle
	topoPath string

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup

	shutdownSignaled int32
	sigCh            chan os.Signal
}

// NewServer builds a server over oracle, replying to HELLO with topoPath as
// the topology XML clients should load.
func NewServer(oracle *sysfs.Oracle, topoPath string) *Server {
	return &Server{
		log:      logger.Get("rmi-server"),
		oracle:   oracle,
		topoPath: topoPath,
	}
}

// Start binds the loopback listener on port (0 picks an ephemeral port),
// sets SO_LINGER=0 so a later Stop discards rather than drains pending
// connections, and launches the accept loop. It returns the bound port.
func (s *Server) Start(port int) (int, error) {
	lis, err := net.Listen("tcp", localAddr(port))
	if err != nil {
		return 0, errors.Wrap(err, "rmi: failed to listen")
	}
	if tl, ok := lis.(*net.TCPListener); ok {
		if err := setNoLinger(tl); err != nil {
			s.log.Warn("failed to set SO_LINGER=0 on listener: %v", err)
		}
	}

	s.mu.Lock()
	s.listener = lis
	s.mu.Unlock()

	s.sigCh = make(chan os.Signal, 1)
	signal.Notify(s.sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	go s.watchSignals()

	s.wg.Add(1)
	go s.acceptLoop()

	return lis.Addr().(*net.TCPAddr).Port, nil
}

// Stop signals a shutdown and waits for the accept loop and every live
// connection handler to return.
func (s *Server) Stop() {
	atomic.StoreInt32(&s.shutdownSignaled, 1)
	s.mu.Lock()
	if s.listener != nil {
		s.listener.Close()
	}
	s.mu.Unlock()
	if s.sigCh != nil {
		signal.Stop(s.sigCh)
	}
	s.wg.Wait()
}

// Wait blocks until the accept loop and every live connection handler have
// returned, without itself requesting a shutdown. Call it after Start from
// a daemon's main goroutine to block until a signal (handled by
// watchSignals) or an explicit Stop call brings the server down.
func (s *Server) Wait() {
	s.wg.Wait()
}

func (s *Server) watchSignals() {
	if _, ok := <-s.sigCh; ok {
		s.log.Info("received shutdown signal")
		s.Stop()
	}
}

func (s *Server) isShuttingDown() bool {
	return atomic.LoadInt32(&s.shutdownSignaled) != 0
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.isShuttingDown() {
				return
			}
			s.log.Warn("accept failed: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn serves one client connection: a sequence of request/reply
// exchanges, polling with a 1s read deadline so the loop notices a shutdown
// even with no traffic. SHUTDOWN replies then tears down the whole server;
// GOODBYE or a closed connection ends just this one handler.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	for {
		if s.isShuttingDown() {
			return
		}
		fid, body, err := readFrameDeadline(conn, pollInterval)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return // client disconnected or a framing error; nothing more to serve
		}

		reply, shutdown, done := s.dispatch(fid, body)
		if err := writeFrame(conn, fid, reply); err != nil {
			s.log.Warn("failed to write reply to %s: %v", fid, err)
			return
		}
		if shutdown {
			go s.Stop()
			return
		}
		if done {
			return
		}
	}
}

func localAddr(port int) string {
	if port <= 0 {
		port = 0
	}
	return "127.0.0.1:" + strconv.Itoa(port)
}

// setNoLinger applies SO_LINGER{onoff:1, linger:0} to the listener's
// underlying file descriptor, matching the transport's "shutdown discards
// pending messages" requirement.
func setNoLinger(tl *net.TCPListener) error {
	rc, err := tl.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = rc.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 0})
	})
	if err != nil {
		return err
	}
	return sockErr
}

// derivePoolCpuset computes the cpuset GET_INTRINSIC_HWPOOL should pack a
// fresh pool from, for the requested intrinsic scope.
func (s *Server) derivePoolCpuset(pids []int32, intrinsic Intrinsic) (bitmap.Bitmap, error) {
	switch intrinsic {
	case IntrinsicSystem:
		return bitmap.Bitmap{}, qverr.New(qverr.ErrNotSupported, "rmi: the SYSTEM intrinsic scope is not supported")
	case IntrinsicUser:
		return bitmap.FromCPUSet(s.oracle.System().CPUSet()), nil
	case IntrinsicJob:
		if len(pids) == 0 {
			return bitmap.Bitmap{}, qverr.New(qverr.ErrInvalidArg, "rmi: JOB intrinsic scope requires at least one pid")
		}
		acc := bitmap.Empty()
		for _, pid := range pids {
			cs, err := s.oracle.TaskGetCPUBind(int(pid))
			if err != nil {
				return bitmap.Bitmap{}, qverr.Wrap(qverr.ErrSys, err, "rmi: failed to read cpu bind for pid %d", pid)
			}
			acc = acc.Union(cs)
		}
		return acc, nil
	case IntrinsicProcess:
		if len(pids) != 1 {
			return bitmap.Bitmap{}, qverr.New(qverr.ErrInvalidArg, "rmi: PROCESS intrinsic scope requires exactly one pid, got %d", len(pids))
		}
		cs, err := s.oracle.TaskGetCPUBind(int(pids[0]))
		if err != nil {
			return bitmap.Bitmap{}, qverr.Wrap(qverr.ErrSys, err, "rmi: failed to read cpu bind for pid %d", pids[0])
		}
		return cs, nil
	default:
		return bitmap.Bitmap{}, qverr.New(qverr.ErrInvalidArg, "rmi: unknown intrinsic scope %d", intrinsic)
	}
}
