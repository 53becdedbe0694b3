// Package gpu discovers NVIDIA GPUs visible to the current process via NVML
// and reports them as sysfs.DeviceDescriptor values, including each
// device's CPU affinity, for use by the hardware pool and oracle.
package gpu

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	logger "github.com/openhpc/quovadis-go/pkg/log"
	"github.com/openhpc/quovadis-go/pkg/sysfs"
)

var log = logger.Get("gpu")

// Discover enumerates the GPUs visible on this host via NVML. numCPUs is the
// width of the affinity bitmap to request from the driver (normally the
// oracle's total PU count). If NVML cannot be initialized at all — no
// driver, no library, a container without GPU passthrough — Discover
// returns an empty, non-error result: GPU discovery is always optional.
func Discover(numCPUs int) ([]sysfs.DeviceDescriptor, error) {
	if ret := nvml.Init(); ret != nvml.SUCCESS {
		log.Info("NVML unavailable (%v), no GPUs discovered", ret)
		return nil, nil
	}
	defer nvml.Shutdown()

	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, errors.Errorf("nvmlDeviceGetCount failed: %v", ret)
	}

	handles := make([]nvml.Device, 0, count)
	uuids := make([]string, 0, count)
	for i := 0; i < count; i++ {
		dev, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			log.Warn("skipping GPU %d: %v", i, ret)
			continue
		}
		uuid, ret := dev.GetUUID()
		if ret != nvml.SUCCESS {
			log.Warn("skipping GPU %d: %v", i, ret)
			continue
		}
		handles = append(handles, dev)
		uuids = append(uuids, uuid)
	}

	ordinals := visibleOrdinals(uuids)

	devs := make([]sysfs.DeviceDescriptor, 0, len(handles))
	for i, dev := range handles {
		d, err := describe(dev, i, numCPUs)
		if err != nil {
			log.Warn("skipping GPU %d: %v", i, err)
			continue
		}
		d.Ordinal = ordinals[i]
		devs = append(devs, d)
	}
	return devs, nil
}

func describe(dev nvml.Device, index, numCPUs int) (sysfs.DeviceDescriptor, error) {
	name, ret := dev.GetName()
	if ret != nvml.SUCCESS {
		return sysfs.DeviceDescriptor{}, errors.Errorf("GetName: %v", ret)
	}

	uuid, ret := dev.GetUUID()
	if ret != nvml.SUCCESS {
		return sysfs.DeviceDescriptor{}, errors.Errorf("GetUUID: %v", ret)
	}

	pci, ret := dev.GetPciInfo()
	if ret != nvml.SUCCESS {
		return sysfs.DeviceDescriptor{}, errors.Errorf("GetPciInfo: %v", ret)
	}

	busid := busID(pci.BusId)

	var aff bitmap.Bitmap
	if words, ret := dev.GetCpuAffinity(numCPUs); ret == nvml.SUCCESS {
		aff = decodeAffinity(words)
	} else {
		var sysfsErr error
		aff, sysfsErr = affinityFromSysfs(busid)
		if sysfsErr != nil {
			return sysfs.DeviceDescriptor{}, errors.Errorf("GetCpuAffinity failed (%v) and sysfs fallback also failed: %v", ret, sysfsErr)
		}
		log.Info("GPU %d: NVML affinity query failed (%v), using sysfs topology hint instead", index, ret)
	}

	return sysfs.DeviceDescriptor{
		Type:     sysfs.GPU,
		Affinity: aff,
		VendorID: "NVIDIA",
		SMI:      strconv.Itoa(index),
		Name:     name,
		PCIBusID: busid,
		UUID:     uuid,
	}, nil
}

// affinityFromSysfs derives a GPU's CPU affinity from its PCI sysfs node's
// local_cpulist, the same hint a driver's own affinity query is ultimately
// backed by. It's the fallback path for drivers or NVML builds that don't
// support GetCpuAffinity.
func affinityFromSysfs(pciBusID string) (bitmap.Bitmap, error) {
	hints, err := sysfs.DiscoverPCIAffinityHints(filepath.Join("/sys/bus/pci/devices", pciBusID))
	if err != nil {
		return bitmap.Bitmap{}, err
	}
	for _, h := range hints {
		if h.CPUs == "" {
			continue
		}
		return bitmap.Parse(h.CPUs)
	}
	return bitmap.Bitmap{}, errors.Errorf("no local_cpulist hint found under /sys/bus/pci/devices/%s", pciBusID)
}

// decodeAffinity turns the word-packed CPU affinity mask NVML returns into a
// bitmap, one bit per PU, word 0 holding the lowest-numbered PUs.
func decodeAffinity(words []uint) bitmap.Bitmap {
	bits := strconv.IntSize
	var pus []int
	for w, word := range words {
		for b := 0; b < bits; b++ {
			if word&(1<<uint(b)) != 0 {
				pus = append(pus, w*bits+b)
			}
		}
	}
	return bitmap.New(pus...)
}

// busID extracts the NUL-terminated PCI bus id out of NVML's fixed-size
// char array and lower-cases it to match sysfs's convention.
func busID(raw [32]int8) string {
	b := make([]byte, 0, len(raw))
	for _, c := range raw {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return strings.ToLower(string(b))
}

// visibleOrdinals resolves NVIDIA_VISIBLE_DEVICES (a comma-separated list of
// NVML indices and/or "GPU-"/"MIG-" UUIDs, or "all"/unset for everything) into
// per-device ordinals in the order they appear in the variable, matching the
// ordinals CUDA assigns inside the resulting process's container.
func visibleOrdinals(uuids []string) []int {
	ordinals := make([]int, len(uuids))
	for i := range ordinals {
		ordinals[i] = sysfs.Invisible
	}

	spec := strings.TrimSpace(os.Getenv("NVIDIA_VISIBLE_DEVICES"))
	if spec == "" || spec == "all" {
		for i := range ordinals {
			ordinals[i] = i
		}
		return ordinals
	}

	ord := 0
	for _, tok := range strings.Split(spec, ",") {
		tok = strings.TrimSpace(tok)
		switch {
		case tok == "":
			continue
		case strings.HasPrefix(tok, "GPU-") || strings.HasPrefix(tok, "MIG-"):
			for i, uuid := range uuids {
				if strings.EqualFold(uuid, tok) && ordinals[i] == sysfs.Invisible {
					ordinals[i] = ord
					ord++
					break
				}
			}
		default:
			if idx, err := strconv.Atoi(tok); err == nil && idx >= 0 && idx < len(uuids) {
				ordinals[idx] = ord
				ord++
			}
		}
	}
	return ordinals
}
