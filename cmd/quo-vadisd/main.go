// Command quo-vadisd is the node-local daemon: it publishes the discovered
// hardware topology and serves RMI requests against it until signaled to
// stop. Argument parsing, daemonization, and signal wiring are themselves
// treated as external plumbing the way the core library treats hwloc or
// MPI — this binary is the thin driver that wires pkg/rmi's server to a
// real topology and a session directory on disk.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/openhpc/quovadis-go/pkg/gpu"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/qvconfig"
	"github.com/openhpc/quovadis-go/pkg/rmi"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
	"github.com/openhpc/quovadis-go/pkg/version"
)

var log = logger.Get("quo-vadisd")

func main() {
	port := flag.Int("port", 0, "TCP port to listen on (0: resolve from QV_PORT or pick an ephemeral port)")
	noDaemonize := flag.Bool("no-daemonize", false, "run in the foreground instead of detaching (detaching is not implemented; accepted for command-line compatibility)")
	flag.Parse()

	if err := run(*port, *noDaemonize); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(requestedPort int, noDaemonize bool) error {
	resolvedPort, err := qvconfig.Port(requestedPort)
	if err != nil {
		return err
	}

	boundPort, lis, err := reservePort(resolvedPort)
	if err != nil {
		return fmt.Errorf("quo-vadisd: failed to reserve port: %w", err)
	}
	lis.Close()

	sessionDir := filepath.Join(qvconfig.TmpDir(), fmt.Sprintf("quo-vadisd.%d", boundPort))
	if err := os.Mkdir(sessionDir, 0o755); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("quo-vadisd: a daemon already owns port %d (%s exists)", boundPort, sessionDir)
		}
		return fmt.Errorf("quo-vadisd: failed to create session directory: %w", err)
	}
	defer os.RemoveAll(sessionDir)

	sys, err := sysfs.DiscoverSystem()
	if err != nil {
		return fmt.Errorf("quo-vadisd: hardware discovery failed: %w", err)
	}

	gpus, err := gpu.Discover(sys.CPUCount())
	if err != nil {
		log.Warn("GPU discovery failed, continuing without GPUs: %v", err)
		gpus = nil
	}
	oracle := sysfs.NewOracle(sys, gpus)

	topoPath := filepath.Join(sessionDir, fmt.Sprintf("hwtopo.%d.xml", os.Getpid()))
	if err := sysfs.ExportTopologyXML(sys, topoPath); err != nil {
		return fmt.Errorf("quo-vadisd: failed to publish topology: %w", err)
	}

	server := rmi.NewServer(oracle, topoPath)
	actualPort, err := server.Start(boundPort)
	if err != nil {
		return fmt.Errorf("quo-vadisd: failed to start RMI server: %w", err)
	}

	logger.WatchDebugToggleSignal(syscall.SIGUSR1)
	defer logger.UnwatchDebugToggleSignal()

	log.Info("%s (version %s, build %s) listening on 127.0.0.1:%d, session directory %s",
		filepath.Base(os.Args[0]), version.Version, version.Build, actualPort, sessionDir)
	if noDaemonize {
		log.Info("running in the foreground")
	}
	server.Wait()
	log.Info("shut down cleanly")
	return nil
}

// reservePort binds requestedPort (0 for an OS-chosen ephemeral port) long
// enough to learn the concrete port number the session directory and the
// RMI server itself will use, then releases it. The gap between release and
// the server's own bind is unavoidable without plumbing the raw listener
// through the server's constructor, and is harmless here: nothing can
// discover this daemon's port before it finishes starting.
func reservePort(requestedPort int) (int, *net.TCPListener, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", requestedPort))
	if err != nil {
		return 0, nil, err
	}
	tl := lis.(*net.TCPListener)
	return tl.Addr().(*net.TCPAddr).Port, tl, nil
}
