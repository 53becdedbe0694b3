// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package sysfs

import (
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/openhpc/quovadis-go/pkg/bitmap"
	logger "github.com/openhpc/quovadis-go/pkg/log"
)

// HWObjType is the closed enumeration of hardware object types the oracle
// reasons about. LAST is a sentinel meaning "no specific type" for split
// entry points that partition by PU count rather than by object.
type HWObjType int

const (
	Machine HWObjType = iota
	Package
	Core
	PU
	L1Cache
	L2Cache
	L3Cache
	L4Cache
	L5Cache
	NUMANode
	GPU
	Last
)

var objTypeNames = map[HWObjType]string{
	Machine:  "MACHINE",
	Package:  "PACKAGE",
	Core:     "CORE",
	PU:       "PU",
	L1Cache:  "L1CACHE",
	L2Cache:  "L2CACHE",
	L3Cache:  "L3CACHE",
	L4Cache:  "L4CACHE",
	L5Cache:  "L5CACHE",
	NUMANode: "NUMANODE",
	GPU:      "GPU",
	Last:     "LAST",
}

func (t HWObjType) String() string {
	if n, ok := objTypeNames[t]; ok {
		return n
	}
	return "UNKNOWN"
}

// IsHostResource reports whether t names a resource native to the host
// topology, as opposed to a device (GPU) or the LAST sentinel.
func IsHostResource(t HWObjType) bool {
	return t != GPU && t != Last
}

// DeviceIDFormat selects how GetDeviceIDInCpuset renders a device identity.
type DeviceIDFormat int

const (
	// IDFormatUUID renders the device's UUID.
	IDFormatUUID DeviceIDFormat = iota
	// IDFormatPCI renders the device's PCI bus id.
	IDFormatPCI
	// IDFormatOrdinal renders the device's visible-devices ordinal.
	IDFormatOrdinal
)

// BindFlags selects how BindString renders a cpuset.
type BindFlags int

const (
	// BindPhysical renders physical PU indices.
	BindPhysical BindFlags = 1 << iota
	// BindLogical renders each PU's logical (topology-order) index instead.
	BindLogical
)

// Invisible is the ordinal sentinel for a device not included in the
// process's visible-devices list.
const Invisible = -1

// DeviceDescriptor describes one device discovered by the oracle (currently
// only GPUs are populated; the shape generalizes to other device types).
type DeviceDescriptor struct {
	Type     HWObjType
	Hints    string
	Affinity bitmap.Bitmap
	Ordinal  int
	VendorID string
	SMI      string
	Name     string
	PCIBusID string
	UUID     string
}

// Equal compares two device descriptors by UUID, per the spec's identity rule.
func (d DeviceDescriptor) Equal(o DeviceDescriptor) bool {
	return d.UUID == o.UUID
}

// Oracle wraps a discovered System and a set of out-of-band discovered
// devices (GPUs), answering every topology query the rest of the core needs.
type Oracle struct {
	log  logger.Logger
	sys  System
	gpus []DeviceDescriptor // deduplicated by PCI bus id
}

// NewOracle builds an oracle over a discovered system and device list.
func NewOracle(sys System, gpus []DeviceDescriptor) *Oracle {
	return &Oracle{
		log:  logger.Get("hwloc-oracle"),
		sys:  sys,
		gpus: dedupDevicesByPCI(gpus),
	}
}

func dedupDevicesByPCI(devs []DeviceDescriptor) []DeviceDescriptor {
	seen := make(map[string]struct{}, len(devs))
	out := make([]DeviceDescriptor, 0, len(devs))
	for _, d := range devs {
		if _, ok := seen[d.PCIBusID]; ok {
			continue
		}
		seen[d.PCIBusID] = struct{}{}
		out = append(out, d)
	}
	return out
}

// System returns the underlying discovered system, for callers (e.g. the
// hardware pool) that need direct topology access.
func (o *Oracle) System() System {
	return o.sys
}

// NObjsByType returns the number of topology objects of type t in the whole system.
func (o *Oracle) NObjsByType(t HWObjType) (int, error) {
	switch t {
	case Machine:
		return 1, nil
	case Package:
		return o.sys.PackageCount(), nil
	case NUMANode:
		return o.sys.NUMANodeCount(), nil
	case Core:
		return len(o.coreIDs(o.sys.CPUSet())), nil
	case PU:
		return o.sys.CPUCount(), nil
	case GPU:
		return len(o.gpus), nil
	default:
		return 0, errors.Errorf("nobjs_by_type: unsupported type %s", t)
	}
}

// NObjsInCpuset returns the count of topology objects of type t whose
// representative PU(s) fall within cs (for host types), or the number of
// devices of type t affine to cs (for device types).
func (o *Oracle) NObjsInCpuset(t HWObjType, cs bitmap.Bitmap) (int, error) {
	if !IsHostResource(t) {
		devs, err := o.GetDevicesInCpuset(t, cs)
		if err != nil {
			return 0, err
		}
		return len(devs), nil
	}

	switch t {
	case Machine:
		if cs.IsEmpty() {
			return 0, nil
		}
		return 1, nil
	case PU:
		return cs.Intersection(o.sys.CPUSet()).Size(), nil
	case Core:
		return len(o.coreIDs(cs)), nil
	case Package:
		n := 0
		for _, id := range o.sys.PackageIDs() {
			if o.sys.Package(id).CPUSet().Intersection(cs.CPUSet()).Size() > 0 {
				n++
			}
		}
		return n, nil
	case NUMANode:
		n := 0
		for _, id := range o.sys.NodeIDs() {
			if o.sys.Node(id).CPUSet().Intersection(cs.CPUSet()).Size() > 0 {
				n++
			}
		}
		return n, nil
	default:
		return 0, errors.Errorf("nobjs_in_cpuset: unsupported type %s", t)
	}
}

// ObjTypeDepth returns the topology depth of t, root (MACHINE) being 0.
func (o *Oracle) ObjTypeDepth(t HWObjType) (int, error) {
	switch t {
	case Machine:
		return 0, nil
	case Package:
		return 1, nil
	case NUMANode:
		return 2, nil
	case Core:
		return 3, nil
	case PU:
		return 4, nil
	default:
		return 0, errors.Errorf("obj_type_depth: %s has no host depth", t)
	}
}

// coreIDs returns, in topology order, the distinct core ids whose PUs
// intersect cs, keyed by (package, core) to disambiguate core ids that are
// only unique within a package.
func (o *Oracle) coreIDs(cs bitmap.Bitmap) []HWID {
	type coreKey struct{ pkg, core HWID }
	seen := map[coreKey]HWID{}
	order := []coreKey{}
	for _, puID := range o.sys.CPUSet().List() {
		if !cs.Contains(puID) {
			continue
		}
		cpu := o.sys.CPU(HWID(puID))
		if cpu == nil {
			continue
		}
		key := coreKey{pkg: cpu.PackageID(), core: cpu.CoreID()}
		if _, ok := seen[key]; !ok {
			seen[key] = cpu.CoreID()
			order = append(order, key)
		}
	}
	ids := make([]HWID, len(order))
	for i, k := range order {
		ids[i] = k.core
	}
	return ids
}

// GetCpusetForNObjs returns the union of the first n objects of type t inside
// parentCs, in topology order.
func (o *Oracle) GetCpusetForNObjs(parentCs bitmap.Bitmap, t HWObjType, n int) (bitmap.Bitmap, error) {
	if n <= 0 {
		return bitmap.Empty(), nil
	}

	switch t {
	case PU:
		pus := intersectSorted(parentCs)
		if n > len(pus) {
			n = len(pus)
		}
		return bitmap.New(pus[:n]...), nil

	case Core:
		type coreKey struct{ pkg, core HWID }
		order := []coreKey{}
		members := map[coreKey][]int{}
		seen := map[coreKey]struct{}{}
		for _, puID := range o.sys.CPUSet().List() {
			if !parentCs.Contains(puID) {
				continue
			}
			cpu := o.sys.CPU(HWID(puID))
			if cpu == nil {
				continue
			}
			key := coreKey{pkg: cpu.PackageID(), core: cpu.CoreID()}
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				order = append(order, key)
			}
			members[key] = append(members[key], puID)
		}
		if n > len(order) {
			n = len(order)
		}
		var pus []int
		for _, key := range order[:n] {
			pus = append(pus, members[key]...)
		}
		return bitmap.New(pus...), nil

	case Package:
		ids := o.sys.PackageIDs()
		if n > len(ids) {
			n = len(ids)
		}
		var pus []int
		for _, id := range ids[:n] {
			pkgCs := o.sys.Package(id).CPUSet().Intersection(parentCs.CPUSet())
			pus = append(pus, pkgCs.List()...)
		}
		return bitmap.New(pus...), nil

	case NUMANode:
		ids := o.sys.NodeIDs()
		if n > len(ids) {
			n = len(ids)
		}
		var pus []int
		for _, id := range ids[:n] {
			nodeCs := o.sys.Node(id).CPUSet().Intersection(parentCs.CPUSet())
			pus = append(pus, nodeCs.List()...)
		}
		return bitmap.New(pus...), nil

	default:
		return bitmap.Bitmap{}, errors.Errorf("get_cpuset_for_nobjs: unsupported type %s", t)
	}
}

func intersectSorted(cs bitmap.Bitmap) []int {
	pus := cs.List()
	sort.Ints(pus)
	return pus
}

// SplitCpusetByChunkID partitions the PUs of parentCs into nchunks contiguous
// equal-size chunks (in topology/ascending PU order) and returns chunk chunkID.
func (o *Oracle) SplitCpusetByChunkID(parentCs bitmap.Bitmap, nchunks, chunkID int) (bitmap.Bitmap, error) {
	if nchunks <= 0 || chunkID < 0 || chunkID >= nchunks {
		return bitmap.Bitmap{}, errors.Errorf("split_cpuset_by_chunk_id: invalid chunk_id %d of %d", chunkID, nchunks)
	}
	pus := intersectSorted(parentCs)
	chunkSize := len(pus) / nchunks
	if chunkSize == 0 {
		return bitmap.Bitmap{}, errors.Errorf("split_cpuset_by_chunk_id: %d PUs cannot be split into %d nonempty chunks", len(pus), nchunks)
	}
	start := chunkID * chunkSize
	end := start + chunkSize
	return bitmap.New(pus[start:end]...), nil
}

// TaskGetCPUBind returns the current CPU affinity of the OS thread tid.
func (o *Oracle) TaskGetCPUBind(tid int) (bitmap.Bitmap, error) {
	var set unix.CPUSet
	if err := unix.SchedGetaffinity(tid, &set); err != nil {
		return bitmap.Bitmap{}, errors.Wrapf(err, "sched_getaffinity(%d)", tid)
	}
	var pus []int
	for _, id := range o.sys.CPUIDs() {
		if set.IsSet(int(id)) {
			pus = append(pus, int(id))
		}
	}
	return bitmap.New(pus...), nil
}

// TaskSetCPUBindFromCpuset sets the CPU affinity of the OS thread tid to cs.
func (o *Oracle) TaskSetCPUBindFromCpuset(tid int, cs bitmap.Bitmap) error {
	var set unix.CPUSet
	set.Zero()
	for _, pu := range cs.List() {
		set.Set(pu)
	}
	if err := unix.SchedSetaffinity(tid, &set); err != nil {
		return errors.Wrapf(err, "sched_setaffinity(%d, %s)", tid, cs)
	}
	return nil
}

// BindString renders cs according to flags: physical PU list, logical
// (topology-order ordinal) list, or both separated by a slash.
func (o *Oracle) BindString(cs bitmap.Bitmap, flags BindFlags) string {
	var parts []string
	if flags&BindPhysical != 0 || flags == 0 {
		parts = append(parts, cs.String())
	}
	if flags&BindLogical != 0 {
		all := intersectSorted(bitmap.FromCPUSet(o.sys.CPUSet()))
		index := make(map[int]int, len(all))
		for i, pu := range all {
			index[pu] = i
		}
		var logical []int
		for _, pu := range cs.List() {
			if idx, ok := index[pu]; ok {
				logical = append(logical, idx)
			}
		}
		parts = append(parts, bitmap.New(logical...).String())
	}
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// GetDevicesInCpuset enumerates devices of type t whose affinity is a subset of cs.
func (o *Oracle) GetDevicesInCpuset(t HWObjType, cs bitmap.Bitmap) ([]DeviceDescriptor, error) {
	switch t {
	case GPU:
		var out []DeviceDescriptor
		for _, d := range o.gpus {
			if d.Affinity.IsSubsetOf(cs) {
				out = append(out, d)
			}
		}
		return out, nil
	default:
		return nil, errors.Errorf("get_devices_in_cpuset: unsupported device type %s", t)
	}
}

// GetDeviceIDInCpuset formats the i-th device of type t affine to cs, per idFormat.
func (o *Oracle) GetDeviceIDInCpuset(t HWObjType, i int, cs bitmap.Bitmap, idFormat DeviceIDFormat) (string, error) {
	devs, err := o.GetDevicesInCpuset(t, cs)
	if err != nil {
		return "", err
	}
	if i < 0 || i >= len(devs) {
		return "", errors.Errorf("get_device_id_in_cpuset: index %d out of range (%d devices)", i, len(devs))
	}
	d := devs[i]
	switch idFormat {
	case IDFormatUUID:
		return d.UUID, nil
	case IDFormatPCI:
		return d.PCIBusID, nil
	case IDFormatOrdinal:
		if d.Ordinal == Invisible {
			return "", errors.Errorf("get_device_id_in_cpuset: device %s has no visible ordinal", d.UUID)
		}
		return intToStr(d.Ordinal), nil
	default:
		return "", errors.Errorf("get_device_id_in_cpuset: unknown id format %d", idFormat)
	}
}

func intToStr(i int) string {
	if i == 0 {
		return "0"
	}
	neg := i < 0
	if neg {
		i = -i
	}
	var buf [20]byte
	pos := len(buf)
	for i > 0 {
		pos--
		buf[pos] = byte('0' + i%10)
		i /= 10
	}
	if neg {
		pos--
		buf[pos] = '-'
	}
	return string(buf[pos:])
}

// BitmapDisableSMT returns cs with all but the lowest PU of each contained core removed.
func (o *Oracle) BitmapDisableSMT(cs bitmap.Bitmap) bitmap.Bitmap {
	type coreKey struct{ pkg, core HWID }
	kept := map[coreKey]int{}
	order := []coreKey{}
	for _, puID := range intersectSorted(cs) {
		cpu := o.sys.CPU(HWID(puID))
		if cpu == nil {
			kept[coreKey{pkg: -1, core: HWID(puID)}] = puID
			order = append(order, coreKey{pkg: -1, core: HWID(puID)})
			continue
		}
		key := coreKey{pkg: cpu.PackageID(), core: cpu.CoreID()}
		if _, ok := kept[key]; !ok {
			kept[key] = puID
			order = append(order, key)
		}
	}
	pus := make([]int, 0, len(order))
	for _, key := range order {
		pus = append(pus, kept[key])
	}
	return bitmap.New(pus...)
}
