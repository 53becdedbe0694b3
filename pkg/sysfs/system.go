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
	"fmt"
	"io/ioutil"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"k8s.io/utils/cpuset"

	logger "github.com/openhpc/quovadis-go/pkg/log"
)

const (
	// SysfsRootPath is the mount path of sysfs.
	SysfsRootPath = "/sys"
	// sysfs devices/cpu subdirectory path
	sysfsCPUPath = "devices/system/cpu"
	// sysfs device/node subdirectory path
	sysfsNumaNodePath = "devices/system/node"
)

// DiscoveryFlag controls what hardware details to discover.
type DiscoveryFlag uint

const (
	// DiscoverCPUTopology requests discovering CPU topology details.
	DiscoverCPUTopology DiscoveryFlag = 1 << iota
	// DiscoverMemTopology requests discovering memory topology details.
	DiscoverMemTopology
	// DiscoverCache requests discovering CPU cache details.
	DiscoverCache
	// DiscoverNone is the zero value for discovery flags.
	DiscoverNone DiscoveryFlag = 0
	// DiscoverAll requests full supported discovery.
	DiscoverAll DiscoveryFlag = 0xffffffff
	// DiscoverDefault is the default set of discovery flags.
	DiscoverDefault DiscoveryFlag = (DiscoverCPUTopology | DiscoverMemTopology)
)

// MemoryType classifies the memory attached to a NUMA node.
type MemoryType int

const (
	// MemoryTypeDRAM means that the node has regular DRAM-type memory
	MemoryTypeDRAM MemoryType = iota
	// MemoryTypePMEM means that the node has persistent memory
	MemoryTypePMEM
	// MemoryTypeHBM means that the node has high bandwidth memory
	MemoryTypeHBM
)

// System is the discovered hardware inventory of the host: its packages
// (sockets), NUMA nodes, and processing units, plus the operations needed
// to bind tasks to and reconfigure a subset of them.
type System interface {
	Discover(flags DiscoveryFlag) error
	SetCpusOnline(online bool, pus HWIDSet) (HWIDSet, error)
	SetCPUFrequencyLimits(min, max uint64, pus HWIDSet) error
	PackageIDs() []HWID
	NodeIDs() []HWID
	CPUIDs() []HWID
	PackageCount() int
	SocketCount() int
	CPUCount() int
	NUMANodeCount() int
	ThreadCount() int
	CPUSet() cpuset.CPUSet
	Package(id HWID) CPUPackage
	Node(id HWID) Node
	CPU(id HWID) CPU
	Offlined() cpuset.CPUSet
	Isolated() cpuset.CPUSet
}

// system is the concrete, sysfs-backed System.
type system struct {
	logger.Logger                      // our logger instance
	flags         DiscoveryFlag        // discovery flags already applied
	path          string               // sysfs mount point
	packages      map[HWID]*cpuPackage // physical packages, by package id
	nodes         map[HWID]*node       // NUMA nodes, by node id
	pus           map[HWID]*pu         // processing units, by PU id
	cache         map[HWID]*Cache      // cache instances, by cache id
	offline       HWIDSet              // offlined PUs
	isolated      HWIDSet              // isolated PUs
	threads       int                  // hardware threads per core
}

// CPUPackage is a physical package (a socket, a collection of PUs).
type CPUPackage interface {
	Id() HWID
	CPUSet() cpuset.CPUSet
	NodeIDs() []HWID
}

type cpuPackage struct {
	id    HWID    // package id
	pus   HWIDSet // PUs in this package
	nodes HWIDSet // NUMA nodes in this package
}

// Node represents a NUMA node.
type Node interface {
	Id() HWID
	PackageID() HWID
	CPUSet() cpuset.CPUSet
	Distance() []int
	DistanceFrom(id HWID) int
	MemoryInfo() (*MemInfo, error)
	GetMemoryType() MemoryType
}

type node struct {
	path       string     // sysfs path
	id         HWID       // node id
	pkg        HWID       // owning package id
	pus        HWIDSet    // PUs local to this node
	memoryType MemoryType // node memory type
	distance   []int      // distance/cost to other NUMA nodes
}

// CPU is a single processing unit (a hardware thread).
type CPU interface {
	Id() HWID
	PackageID() HWID
	NodeID() HWID
	CoreID() HWID
	ThreadCPUSet() cpuset.CPUSet
	BaseFrequency() uint64
	FrequencyRange() CPUFreq
	Online() bool
	Isolated() bool
	SetFrequencyLimits(min, max uint64) error
}

// pu is one processing unit: a single hardware thread of a core.
type pu struct {
	path     string  // sysfs path
	id       HWID    // PU id
	pkg      HWID    // owning package id
	node     HWID    // owning NUMA node id
	core     HWID    // owning core id (topology/core_id, unique within a package)
	threads  HWIDSet // sibling hardware threads sharing this core
	baseFreq uint64  // base frequency
	freq     CPUFreq // frequency scaling range
	online   bool    // whether this PU is online
	isolated bool    // whether this PU is isolated
}

// CPUFreq is a CPU frequency scaling range
type CPUFreq struct {
	min uint64   // minimum frequency (kHz)
	max uint64   // maximum frequency (kHz)
	all []uint64 // discrete set of frequencies if applicable/known
}

// MemInfo contains data read from a NUMA node meminfo file.
type MemInfo struct {
	MemTotal uint64
	MemFree  uint64
	MemUsed  uint64
}

// CPU cache.
//   Notes: cache discovery is disabled: Discover masks DiscoverCache out of
//   the requested flags, so discoverCache never runs, even when DiscoverCache
//   is passed. The cache ids sysfs exposes aren't always unique across
//   packages, so a cache's scope has to be read off shared_cpu_list rather
//   than trusted from the id alone.

// CacheType specifies a cache type.
type CacheType string

const (
	// DataCache marks data cache.
	DataCache CacheType = "Data"
	// InstructionCache marks instruction cache.
	InstructionCache CacheType = "Instruction"
	// UnifiedCache marks a unified data/instruction cache.
	UnifiedCache CacheType = "Unified"
)

// Cache has details about cache.
type Cache struct {
	id    HWID      // cache id
	kind  CacheType // cache type
	size  uint64    // cache size
	level uint8     // cache level
	pus   HWIDSet   // PUs sharing this cache
}

// DiscoverSystem performs discovery of the running systems details.
func DiscoverSystem(args ...DiscoveryFlag) (System, error) {
	return DiscoverSystemAt(SysfsRootPath, args...)
}

// DiscoverSystemAt performs discovery of the running systems details from sysfs mounted at path.
func DiscoverSystemAt(path string, args ...DiscoveryFlag) (System, error) {
	var flags DiscoveryFlag

	if len(args) < 1 {
		flags = DiscoverDefault
	} else {
		flags = DiscoverNone
		for _, flag := range args {
			flags |= flag
		}
	}

	sys := &system{
		Logger:  logger.NewLogger("sysfs"),
		path:    path,
		offline: NewHWIDSet(),
	}

	if err := sys.Discover(flags); err != nil {
		return nil, err
	}

	return sys, nil
}

// Discover performs system/hardware discovery.
func (sys *system) Discover(flags DiscoveryFlag) error {
	sys.flags |= (flags &^ DiscoverCache)

	if (sys.flags & (DiscoverCPUTopology | DiscoverCache)) != 0 {
		if err := sys.discoverPUs(); err != nil {
			return err
		}
		if err := sys.discoverNodes(); err != nil {
			return err
		}
		if err := sys.discoverPackages(); err != nil {
			return err
		}
	}

	if (sys.flags & DiscoverMemTopology) != 0 {
		if err := sys.discoverNodes(); err != nil {
			return err
		}
	}

	if len(sys.nodes) > 0 {
		for _, pkg := range sys.packages {
			for _, nodeID := range pkg.nodes.SortedMembers() {
				if node, ok := sys.nodes[nodeID]; ok {
					node.pkg = pkg.id
				}
			}
		}
	}

	if sys.DebugEnabled() {
		for id, pkg := range sys.packages {
			sys.Info("package #%d:", id)
			sys.Debug("   pus: %s", pkg.pus)
			sys.Debug("  nodes: %s", pkg.nodes)
		}

		for id, node := range sys.nodes {
			sys.Debug("node #%d:", id)
			sys.Debug("       pus: %s", node.pus)
			sys.Debug("  distance: %v", node.distance)
		}

		for id, p := range sys.pus {
			sys.Debug("PU #%d:", id)
			sys.Debug("        pkg: %d", p.pkg)
			sys.Debug("       node: %d", p.node)
			sys.Debug("       core: %d", p.core)
			sys.Debug("    threads: %s", p.threads)
			sys.Debug("  base freq: %d", p.baseFreq)
			sys.Debug("       freq: %d - %d", p.freq.min, p.freq.max)
		}

		sys.Debug("offline PUs: %s", sys.offline)
		sys.Debug("isolated PUs: %s", sys.isolated)

		for id, cch := range sys.cache {
			sys.Debug("cache #%d:", id)
			sys.Debug("   type: %v", cch.kind)
			sys.Debug("   size: %d", cch.size)
			sys.Debug("  level: %d", cch.level)
			sys.Debug("    PUs: %s", cch.pus)
		}
	}

	return nil
}

// SetCpusOnline puts a set of PUs online. Return the toggled set. Nil set implies all PUs.
func (sys *system) SetCpusOnline(online bool, pus HWIDSet) (HWIDSet, error) {
	var entries []string

	if pus == nil {
		entries, _ = filepath.Glob(filepath.Join(sys.path, sysfsCPUPath, "cpu[0-9]*"))
	} else {
		entries = make([]string, pus.Size())
		for idx, id := range pus.Members() {
			entries[idx] = sys.path + "/" + sysfsCPUPath + "/cpu" + strconv.Itoa(int(id))
		}
	}

	desired := map[bool]int{false: 0, true: 1}[online]
	changed := NewHWIDSet()

	for _, entry := range entries {
		var current int

		id := getEnumeratedID(entry)
		if id <= 0 {
			continue
		}

		if _, err := writeSysfsEntry(entry, "online", desired, &current); err != nil {
			return nil, sysfsError(entry, "failed to set online to %d: %v", desired, err)
		}

		if desired != current {
			changed.Add(id)
			if p, found := sys.pus[id]; found {
				p.online = online

				if online {
					sys.offline.Del(id)
				} else {
					sys.offline.Add(id)
				}
			}
		}
	}

	return changed, nil
}

// SetCPUFrequencyLimits sets the frequency scaling limits for a set of PUs. Nil set implies all PUs.
func (sys *system) SetCPUFrequencyLimits(min, max uint64, pus HWIDSet) error {
	if pus == nil {
		pus = NewHWIDSet(sys.CPUIDs()...)
	}

	for _, id := range pus.Members() {
		if p, ok := sys.pus[id]; ok {
			if err := p.SetFrequencyLimits(min, max); err != nil {
				return err
			}
		}
	}

	return nil
}

// PackageIDs gets the ids of all packages present in the system.
func (sys *system) PackageIDs() []HWID {
	ids := make([]HWID, len(sys.packages))
	idx := 0
	for id := range sys.packages {
		ids[idx] = id
		idx++
	}

	sort.Slice(ids, func(i, j int) bool {
		return int(ids[i]) < int(ids[j])
	})

	return ids
}

// NodeIDs gets the ids of all NUMA nodes present in the system.
func (sys *system) NodeIDs() []HWID {
	ids := make([]HWID, len(sys.nodes))
	idx := 0
	for id := range sys.nodes {
		ids[idx] = id
		idx++
	}

	sort.Slice(ids, func(i, j int) bool {
		return int(ids[i]) < int(ids[j])
	})

	return ids
}

// CPUIDs gets the ids of all PUs present in the system.
func (sys *system) CPUIDs() []HWID {
	ids := make([]HWID, len(sys.pus))
	idx := 0
	for id := range sys.pus {
		ids[idx] = id
		idx++
	}

	sort.Slice(ids, func(i, j int) bool {
		return int(ids[i]) < int(ids[j])
	})

	return ids
}

// PackageCount returns the number of discovered packages (sockets).
func (sys *system) PackageCount() int {
	return len(sys.packages)
}

// SocketCount returns the number of discovered packages (sockets).
func (sys *system) SocketCount() int {
	return len(sys.packages)
}

// CPUCount returns the number of discovered PUs.
func (sys *system) CPUCount() int {
	return len(sys.pus)
}

// NUMANodeCount returns the number of discovered NUMA nodes.
func (sys *system) NUMANodeCount() int {
	cnt := len(sys.nodes)
	if cnt < 1 {
		cnt = 1
	}
	return cnt
}

// ThreadCount returns the number of hardware threads per core discovered.
func (sys *system) ThreadCount() int {
	return sys.threads
}

// CPUSet gets the ids of all PUs present in the system as a CPUSet.
func (sys *system) CPUSet() cpuset.CPUSet {
	return NewHWIDSet(sys.CPUIDs()...).CPUSet()
}

// Package gets the package with a given package id.
func (sys *system) Package(id HWID) CPUPackage {
	return sys.packages[id]
}

// Node gets the node with a given node id.
func (sys *system) Node(id HWID) Node {
	return sys.nodes[id]
}

// CPU gets the PU with a given PU id.
func (sys *system) CPU(id HWID) CPU {
	return sys.pus[id]
}

// Offlined gets the set of offlined PUs.
func (sys *system) Offlined() cpuset.CPUSet {
	return sys.offline.CPUSet()
}

// Isolated gets the set of isolated PUs.
func (sys *system) Isolated() cpuset.CPUSet {
	return sys.isolated.CPUSet()
}

// discoverPUs finds the processing units present in the system.
func (sys *system) discoverPUs() error {
	if sys.pus != nil {
		return nil
	}

	sys.pus = make(map[HWID]*pu)

	_, err := readSysfsEntry(sys.path, filepath.Join(sysfsCPUPath, "isolated"), &sys.isolated, ",")
	if err != nil {
		sys.Error("failed to get set of isolated PUs: %v", err)
	}

	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsCPUPath, "cpu[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverPU(entry); err != nil {
			return fmt.Errorf("failed to discover PU for entry %s: %v", entry, err)
		}
	}

	return nil
}

// discoverPU reads the details of a single processing unit.
func (sys *system) discoverPU(path string) error {
	p := &pu{path: path, id: getEnumeratedID(path), online: true}

	p.isolated = sys.isolated.Has(p.id)

	if online, err := readSysfsEntry(path, "online", nil); err == nil {
		p.online = (online != "" && online[0] != '0')
	}

	if p.online {
		if _, err := readSysfsEntry(path, "topology/physical_package_id", &p.pkg); err != nil {
			return err
		}
		if _, err := readSysfsEntry(path, "topology/core_id", &p.core); err != nil {
			return err
		}
		if _, err := readSysfsEntry(path, "topology/thread_siblings_list", &p.threads, ","); err != nil {
			return err
		}
	} else {
		sys.offline.Add(p.id)
	}

	if _, err := readSysfsEntry(path, "cpufreq/base_frequency", &p.baseFreq); err != nil {
		p.baseFreq = 0
	}
	if _, err := readSysfsEntry(path, "cpufreq/cpuinfo_min_freq", &p.freq.min); err != nil {
		p.freq.min = 0
	}
	if _, err := readSysfsEntry(path, "cpufreq/cpuinfo_max_freq", &p.freq.max); err != nil {
		p.freq.max = 0
	}
	if node, _ := filepath.Glob(filepath.Join(path, "node[0-9]*")); len(node) == 1 {
		p.node = getEnumeratedID(node[0])
	} else {
		return fmt.Errorf("exactly one NUMA node per PU allowed")
	}

	if sys.threads < 1 {
		sys.threads = 1
	}
	if p.threads.Size() > sys.threads {
		sys.threads = p.threads.Size()
	}

	sys.pus[p.id] = p

	if (sys.flags & DiscoverCache) != 0 {
		entries, _ := filepath.Glob(filepath.Join(path, "cache/index[0-9]*"))
		for _, entry := range entries {
			if err := sys.discoverCache(entry); err != nil {
				return err
			}
		}
	}

	return nil
}

// Id returns the id of this PU.
func (p *pu) Id() HWID {
	return p.id
}

// PackageID returns the package id owning this PU.
func (p *pu) PackageID() HWID {
	return p.pkg
}

// NodeID returns the NUMA node id owning this PU.
func (p *pu) NodeID() HWID {
	return p.node
}

// CoreID returns the core id of this PU, as read from topology/core_id.
func (p *pu) CoreID() HWID {
	return p.core
}

// ThreadCPUSet returns the CPUSet of all hardware threads sharing this PU's core.
func (p *pu) ThreadCPUSet() cpuset.CPUSet {
	return p.threads.CPUSet()
}

// BaseFrequency returns the base frequency setting for this PU.
func (p *pu) BaseFrequency() uint64 {
	return p.baseFreq
}

// FrequencyRange returns the frequency scaling range for this PU.
func (p *pu) FrequencyRange() CPUFreq {
	return p.freq
}

// Online returns if this PU is online.
func (p *pu) Online() bool {
	return p.online
}

// Isolated returns if this PU is isolated.
func (p *pu) Isolated() bool {
	return p.isolated
}

// SetFrequencyLimits sets the frequency scaling limits for this PU.
func (p *pu) SetFrequencyLimits(min, max uint64) error {
	if p.freq.min == 0 {
		return nil
	}

	min /= 1000
	max /= 1000
	if min < p.freq.min && min != 0 {
		min = p.freq.min
	}
	if min > p.freq.max {
		min = p.freq.max
	}
	if max < p.freq.min && max != 0 {
		max = p.freq.min
	}
	if max > p.freq.max {
		max = p.freq.max
	}

	if _, err := writeSysfsEntry(p.path, "cpufreq/scaling_min_freq", min, nil); err != nil {
		return err
	}
	if _, err := writeSysfsEntry(p.path, "cpufreq/scaling_max_freq", max, nil); err != nil {
		return err
	}

	return nil
}

func readCPUsetFile(base, entry string) (cpuset.CPUSet, error) {
	path := filepath.Join(base, entry)

	blob, err := ioutil.ReadFile(path)
	if err != nil {
		return cpuset.New(), sysfsError(path, "failed to read sysfs entry: %v", err)
	}

	return cpuset.Parse(strings.Trim(string(blob), "\n"))
}

// discoverNodes finds the NUMA nodes present in the system and classifies
// each one's memory as DRAM, PMEM, or HBM.
func (sys *system) discoverNodes() error {
	if sys.nodes != nil {
		return nil
	}

	sys.nodes = make(map[HWID]*node)
	entries, _ := filepath.Glob(filepath.Join(sys.path, sysfsNumaNodePath, "node[0-9]*"))
	for _, entry := range entries {
		if err := sys.discoverNode(entry); err != nil {
			return fmt.Errorf("failed to discover node for entry %s: %v", entry, err)
		}
	}

	return sys.classifyNodeMemory()
}

// classifyNodeMemory tags every discovered node with its MemoryType. A node
// with both PUs and memory is DRAM. A memory-only node is either PMEM or
// HBM: HBM if its capacity undercuts the average DRAM node, PMEM otherwise.
// Systems with no memory-only nodes at all (the overwhelming majority) skip
// the classification entirely and every node stays MemoryTypeDRAM.
func (sys *system) classifyNodeMemory() error {
	var cpuNodeIds, memoryNodeIds []int
	for _, n := range sys.nodes {
		if n.pus.Size() > 0 {
			cpuNodeIds = append(cpuNodeIds, int(n.id))
		}
		mem, _ := filepath.Glob(filepath.Join(n.path, "memory[0-9]*"))
		if len(mem) > 0 {
			memoryNodeIds = append(memoryNodeIds, int(n.id))
		}
	}
	cpuNodes := cpuset.New(cpuNodeIds...)
	memoryNodes := cpuset.New(memoryNodeIds...)

	sys.Logger.Info("NUMA nodes with PUs: %s", cpuNodes.String())
	sys.Logger.Info("NUMA nodes with memory: %s", memoryNodes.String())

	dramNodes := memoryNodes.Intersection(cpuNodes)
	specialNodes := memoryNodes.Difference(dramNodes)

	dramNodeIds := HWIDSetFromCPUSet(dramNodes)
	specialNodeIds := HWIDSetFromCPUSet(specialNodes)

	if specialNodeIds.Size() == 0 || dramNodeIds.Size() == 0 {
		// no memory-only nodes (or no DRAM nodes to compare against): every
		// discovered node keeps the MemoryTypeDRAM zero value.
		return nil
	}

	dramAvg, err := sys.averageDRAMCapacity(dramNodeIds)
	if err != nil {
		return err
	}

	for _, n := range sys.nodes {
		switch {
		case specialNodeIds.Has(n.id):
			info, err := n.MemoryInfo()
			if err != nil {
				return fmt.Errorf("failed to get memory info for node %d: %s", n.id, err)
			}
			if info.MemTotal < dramAvg {
				sys.Logger.Info("node %d has HBM memory", n.id)
				n.memoryType = MemoryTypeHBM
			} else {
				sys.Logger.Info("node %d has PMEM memory", n.id)
				n.memoryType = MemoryTypePMEM
			}
		case dramNodeIds.Has(n.id):
			sys.Logger.Info("node %d has DRAM memory", n.id)
			n.memoryType = MemoryTypeDRAM
		default:
			return fmt.Errorf("node %d has neither DRAM nor special memory (pmem/hbm nodes: %s, dram nodes: %s)", n.id, specialNodes, dramNodes)
		}
	}

	return nil
}

// averageDRAMCapacity returns the mean MemTotal across dramNodeIds, used as
// the HBM/PMEM size cutoff by classifyNodeMemory.
func (sys *system) averageDRAMCapacity(dramNodeIds HWIDSet) (uint64, error) {
	var total uint64
	for _, id := range dramNodeIds.Members() {
		n, ok := sys.nodes[id]
		if !ok {
			continue
		}
		info, err := n.MemoryInfo()
		if err != nil {
			return 0, fmt.Errorf("failed to get memory info for node %d: %s", id, err)
		}
		total += info.MemTotal
	}
	avg := total / uint64(dramNodeIds.Size())
	if avg == 0 {
		return 0, fmt.Errorf("dram nodes report zero total memory, cannot classify special memory nodes")
	}
	return avg, nil
}

// discoverNode reads the details of a single NUMA node.
func (sys *system) discoverNode(path string) error {
	n := &node{path: path, id: getEnumeratedID(path)}

	if _, err := readSysfsEntry(path, "cpulist", &n.pus, ","); err != nil {
		return err
	}
	if _, err := readSysfsEntry(path, "distance", &n.distance); err != nil {
		return err
	}

	sys.nodes[n.id] = n

	return nil
}

// Id returns id of this node.
func (n *node) Id() HWID {
	return n.id
}

// PackageID returns the owning package id of this node.
func (n *node) PackageID() HWID {
	return n.pkg
}

// CPUSet returns the CPUSet of all PUs in this node.
func (n *node) CPUSet() cpuset.CPUSet {
	return n.pus.CPUSet()
}

// Distance returns the distance vector for this node.
func (n *node) Distance() []int {
	return n.distance
}

// DistanceFrom returns the distance between this and a given node.
func (n *node) DistanceFrom(id HWID) int {
	if int(id) < len(n.distance) {
		return n.distance[int(id)]
	}

	return -1
}

// MemoryInfo returns the partial content of the node's meminfo sysfs entry.
func (n *node) MemoryInfo() (*MemInfo, error) {
	meminfo := filepath.Join(n.path, "meminfo")
	buf := &MemInfo{}
	err := ParseFileEntries(meminfo,
		map[string]interface{}{
			"MemTotal:": &buf.MemTotal,
			"MemFree:":  &buf.MemFree,
			"MemUsed:":  &buf.MemUsed,
		},
		func(line string) (string, string, error) {
			fields := strings.Fields(strings.TrimSpace(line))
			if len(fields) < 4 {
				return "", "", sysfsError(meminfo, "failed to parse entry: '%s'", line)
			}
			key := fields[2]
			val := fields[3]
			if len(fields) == 5 {
				val += " " + fields[4]
			}
			return key, val, nil
		},
	)

	if err != nil {
		return nil, err
	}
	return buf, nil
}

// GetMemoryType returns the memory type for this node.
func (n *node) GetMemoryType() MemoryType {
	return n.memoryType
}

// discoverPackages groups already-discovered PUs by physical package id.
func (sys *system) discoverPackages() error {
	if sys.packages != nil {
		return nil
	}

	sys.packages = make(map[HWID]*cpuPackage)

	for _, p := range sys.pus {
		pkg, found := sys.packages[p.pkg]
		if !found {
			pkg = &cpuPackage{
				id:    p.pkg,
				pus:   NewHWIDSet(),
				nodes: NewHWIDSet(),
			}
			sys.packages[p.pkg] = pkg
		}
		pkg.pus.Add(p.id)
		pkg.nodes.Add(p.node)
	}

	return nil
}

// Id returns the id of this package.
func (p *cpuPackage) Id() HWID {
	return p.id
}

// CPUSet returns the CPUSet for all PUs in this package.
func (p *cpuPackage) CPUSet() cpuset.CPUSet {
	return p.pus.CPUSet()
}

// NodeIDs returns the NUMA node ids for this package.
func (p *cpuPackage) NodeIDs() []HWID {
	return p.nodes.SortedMembers()
}

// discoverCache reads the cache instance at path, associated with some PU.
// It is reached only when DiscoverCache is set in sys.flags, which Discover
// never does, so it does not run. The cache ids sysfs exposes aren't always
// unique across packages, so callers that need authoritative scope should
// read shared_cpu_list instead of trusting the id alone.
func (sys *system) discoverCache(path string) error {
	var id HWID

	if _, err := readSysfsEntry(path, "id", &id); err != nil {
		return sysfsError(path, "can't read cache id: %v", err)
	}

	if sys.cache == nil {
		sys.cache = make(map[HWID]*Cache)
	}

	if _, found := sys.cache[id]; found {
		return nil
	}

	c := &Cache{id: id}

	if _, err := readSysfsEntry(path, "level", &c.level); err != nil {
		return sysfsError(path, "can't read cache level: %v", err)
	}
	if _, err := readSysfsEntry(path, "shared_cpu_list", &c.pus, ","); err != nil {
		return sysfsError(path, "can't read shared PUs: %v", err)
	}
	kind := ""
	if _, err := readSysfsEntry(path, "type", &kind); err != nil {
		return sysfsError(path, "can't read cache type: %v", err)
	}
	switch kind {
	case "Data":
		c.kind = DataCache
	case "Instruction":
		c.kind = InstructionCache
	case "Unified":
		c.kind = UnifiedCache
	default:
		return sysfsError(path, "unknown cache type: %s", kind)
	}

	size := ""
	if _, err := readSysfsEntry(path, "size", &size); err != nil {
		return sysfsError(path, "can't read cache size: %v", err)
	}

	base := size[0 : len(size)-1]
	suff := size[len(size)-1]
	unit := map[byte]uint64{'K': 1 << 10, 'M': 1 << 20, 'G': 1 << 30}

	val, err := strconv.ParseUint(base, 10, 0)
	if err != nil {
		return sysfsError(path, "can't parse cache size '%s': %v", size, err)
	}

	if u, ok := unit[suff]; ok {
		c.size = val * u
	} else {
		c.size = val*1000 + u - '0'
	}

	sys.cache[c.id] = c

	return nil
}
