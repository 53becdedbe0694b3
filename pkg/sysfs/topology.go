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
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// PCIAffinityHint records what a single /sys/devices/... node along a PCI
// device's ancestry says about its local CPU/NUMA/socket affinity. NVML
// affinity queries fail in containerized or virtualized environments more
// often than bare-metal ones; hints gathered here are the fallback the GPU
// discovery path falls back to in that case.
type PCIAffinityHint struct {
	SysFsPath string
	CPUs      string
	NUMAs     string
	Sockets   string
}

// DiscoverPCIAffinityHints walks up devPath's sysfs ancestry (and down into
// any RAID-style "slaves" it finds along the way) collecting affinity hints,
// stopping at the first ancestor that actually has one to report.
func DiscoverPCIAffinityHints(devPath string) ([]PCIAffinityHint, error) {
	realDevPath, err := filepath.EvalSymlinks(devPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to resolve realpath for %s", devPath)
	}

	var hints []PCIAffinityHint
	for p := realDevPath; strings.Contains(p, "/sys/devices/"); p = filepath.Dir(p) {
		hint := PCIAffinityHint{SysFsPath: p}
		fileMap := map[string]*string{
			"local_cpulist": &hint.CPUs,
			"numa_node":     &hint.NUMAs,
		}
		if err := readSysfsAttrs(fileMap, p); err != nil {
			return nil, err
		}

		// the kernel reports -1 for non-NUMA-aware devices; treat as absent
		if hint.NUMAs == "-1" {
			hint.NUMAs = ""
		}
		if hint.NUMAs != "" && hint.CPUs == "" {
			// some BIOSes report a socket id as the NUMA node with no
			// matching CPU list; try the parent for a real one first
			if parentHints, perr := DiscoverPCIAffinityHints(filepath.Dir(p)); perr == nil {
				cpus := uniqueNonEmpty(parentHints, func(h PCIAffinityHint) string { return h.CPUs })
				numas := uniqueNonEmpty(parentHints, func(h PCIAffinityHint) string { return h.NUMAs })
				if len(cpus) > 0 {
					hint.CPUs = strings.Join(cpus, ",")
				}
				if len(numas) > 0 {
					hint.NUMAs = strings.Join(numas, ",")
				}
			}
			if hint.CPUs == "" && hint.NUMAs != "" {
				hint.Sockets, hint.NUMAs = hint.NUMAs, ""
			}
		}

		if hint.CPUs != "" || hint.NUMAs != "" || hint.Sockets != "" {
			hints = append(hints, hint)
			break
		}
	}

	slaves, _ := filepath.Glob(filepath.Join(realDevPath, "slaves/*"))
	for _, slave := range slaves {
		slaveHints, err := DiscoverPCIAffinityHints(slave)
		if err != nil {
			return nil, err
		}
		hints = append(hints, slaveHints...)
	}

	return dedupeHintsByPath(hints), nil
}

// dedupeHintsByPath drops hints whose SysFsPath already appeared earlier in hints.
func dedupeHintsByPath(hints []PCIAffinityHint) []PCIAffinityHint {
	seen := make(map[string]struct{}, len(hints))
	out := make([]PCIAffinityHint, 0, len(hints))
	for _, hint := range hints {
		if _, ok := seen[hint.SysFsPath]; ok {
			continue
		}
		seen[hint.SysFsPath] = struct{}{}
		out = append(out, hint)
	}
	return out
}

// uniqueNonEmpty collects the distinct, non-empty values sel returns across hints.
func uniqueNonEmpty(hints []PCIAffinityHint, sel func(PCIAffinityHint) string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, h := range hints {
		v := sel(h)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// readSysfsAttrs reads each file named in fileMap (relative to dir) into its
// destination string, silently skipping attributes the kernel didn't expose.
func readSysfsAttrs(fileMap map[string]*string, dir string) error {
	for name, dst := range fileMap {
		b, err := ioutil.ReadFile(filepath.Join(dir, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errors.Wrapf(err, "%s: failed to read attribute %q", dir, name)
		}
		*dst = strings.TrimSpace(string(b))
	}
	return nil
}
