// Command quo-vadis-info attaches to a running quo-vadisd, asks it for the
// caller's intrinsic USER hardware pool, and prints it. It exercises the
// full client stack end to end: port resolution, the HELLO handshake, a
// task's bind stack, and GET_INTRINSIC_HWPOOL.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/rmi"
	"github.com/openhpc/quovadis-go/pkg/task"
	"github.com/openhpc/quovadis-go/pkg/version"
)

var log = logger.Get("quo-vadis-info")

func main() {
	port := flag.Int("port", 0, "daemon TCP port (0: resolve via QV_PORT or discovery)")
	timeout := flag.Duration("timeout", 10*time.Second, "how long to wait for a daemon to become reachable")
	flag.Parse()

	if err := run(*port, *timeout); err != nil {
		log.Error("%v", err)
		os.Exit(1)
	}
}

func run(port int, timeout time.Duration) error {
	client, err := rmi.Dial(port, timeout)
	if err != nil {
		return fmt.Errorf("quo-vadis-info: failed to attach: %w", err)
	}
	defer client.Close()

	tsk, err := task.New(client)
	if err != nil {
		return fmt.Errorf("quo-vadis-info: failed to create task: %w", err)
	}

	pool, err := client.GetIntrinsicHWPool(rmi.IntrinsicUser, nil)
	if err != nil {
		return fmt.Errorf("quo-vadis-info: failed to fetch intrinsic USER pool: %w", err)
	}

	fmt.Printf("quo-vadis-info %s (build %s)\n", version.Version, version.Build)
	fmt.Printf("topology:          %s\n", client.TopoPath)
	fmt.Printf("user scope cpuset: %s\n", pool.Cpuset())
	for devType, devs := range pool.Devices() {
		for _, d := range devs {
			fmt.Printf("  device %s: uuid=%s pci=%s\n", devType, d.UUID, d.PCIBusID)
		}
	}
	fmt.Printf("current cpubind:   %s\n", tsk.BindTop())
	return nil
}
