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
	"strconv"

	"k8s.io/utils/cpuset"
)

// HWID identifies a single hardware object discovered under sysfs: a
// package, a NUMA node, a CPU, a core, or a cache. The numbering is the
// kernel's own (the Nth entry under /sys/devices/system/..., a CPU's
// /proc/cpuinfo "processor" field, and so on), not a synthetic index.
type HWID int

// UnknownID marks a hardware relationship that isn't applicable, e.g. a
// node's package id on a system with no package topology exposed.
const UnknownID HWID = -1

// HWIDSet is an unordered set of HWIDs, used throughout the discovered
// topology for a package's CPUs, a node's CPUs, a cache's sharers, and so on.
type HWIDSet map[HWID]struct{}

// NewHWIDSet creates a set containing ids.
func NewHWIDSet(ids ...HWID) HWIDSet {
	s := make(HWIDSet, len(ids))
	s.Add(ids...)
	return s
}

// NewHWIDSetFromInts creates a set from plain ints, for call sites that
// don't already have HWIDs on hand (flags, JSON, etc).
func NewHWIDSetFromInts(ids ...int) HWIDSet {
	s := make(HWIDSet, len(ids))
	for _, id := range ids {
		s[HWID(id)] = struct{}{}
	}
	return s
}

// HWIDSetFromCPUSet converts a cpuset.CPUSet into the equivalent HWIDSet.
func HWIDSetFromCPUSet(cset cpuset.CPUSet) HWIDSet {
	return NewHWIDSetFromInts(cset.ToSlice()...)
}

// Clone returns an independent copy of s.
func (s HWIDSet) Clone() HWIDSet {
	return NewHWIDSet(s.Members()...)
}

// Add adds ids to the set.
func (s HWIDSet) Add(ids ...HWID) {
	for _, id := range ids {
		s[id] = struct{}{}
	}
}

// Del removes ids from the set, if present.
func (s HWIDSet) Del(ids ...HWID) {
	if s == nil {
		return
	}
	for _, id := range ids {
		delete(s, id)
	}
}

// Size returns the number of ids in the set.
func (s HWIDSet) Size() int {
	return len(s)
}

// Has reports whether every one of ids is a member of the set.
func (s HWIDSet) Has(ids ...HWID) bool {
	if s == nil {
		return false
	}
	for _, id := range ids {
		if _, ok := s[id]; !ok {
			return false
		}
	}
	return true
}

// Members returns the set's ids, in unspecified order.
func (s HWIDSet) Members() []HWID {
	ids := make([]HWID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	return ids
}

// SortedMembers returns the set's ids in ascending order.
func (s HWIDSet) SortedMembers() []HWID {
	ids := s.Members()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// CPUSet converts the set to a cpuset.CPUSet.
func (s HWIDSet) CPUSet() cpuset.CPUSet {
	ints := make([]int, 0, len(s))
	for id := range s {
		ints = append(ints, int(id))
	}
	return cpuset.New(ints...)
}

// String renders the set as a comma-separated, ascending list of ids.
func (s HWIDSet) String() string {
	return s.StringWithSeparator(",")
}

// StringWithSeparator renders the set as an ascending list of ids joined by
// sep (defaulting to ",").
func (s HWIDSet) StringWithSeparator(sep ...string) string {
	if len(s) == 0 {
		return ""
	}
	separator := ","
	if len(sep) == 1 {
		separator = sep[0]
	}

	members := s.SortedMembers()
	parts := make([]string, len(members))
	for i, id := range members {
		parts[i] = strconv.Itoa(int(id))
	}

	joined := parts[0]
	for _, p := range parts[1:] {
		joined += separator + p
	}
	return joined
}
