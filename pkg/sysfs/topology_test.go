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
	"path"
	"path/filepath"
	"testing"
)

func TestReadSysfsAttrs(t *testing.T) {
	var file, empty string
	fname := "test-a"
	content := []byte(" something\n")
	expectedContent := "something"

	fileMap := map[string]*string{
		fname:          &file,
		"non_existing": &empty,
	}

	dir, err := ioutil.TempDir("", "sysfs-attrs")
	if err != nil {
		t.Fatalf("unable to create test directory: %+v", err)
	}
	defer os.RemoveAll(dir)
	if err := ioutil.WriteFile(filepath.Join(dir, fname), content, 0644); err != nil {
		t.Fatalf("unable to write test file: %+v", err)
	}

	if err = readSysfsAttrs(fileMap, dir); err != nil {
		t.Fatalf("unexpected failure: %v", err)
	}
	if empty != "" {
		t.Fatalf("unexpected content: %q", empty)
	}
	if file != expectedContent {
		t.Fatalf("unexpected content: %q expected: %q", file, expectedContent)
	}
}

func TestDedupeHintsByPath(t *testing.T) {
	in := []PCIAffinityHint{
		{SysFsPath: "/sys/devices/a", CPUs: "0-1"},
		{SysFsPath: "/sys/devices/a", CPUs: "0-1"},
		{SysFsPath: "/sys/devices/b", CPUs: "2-3"},
	}
	out := dedupeHintsByPath(in)
	if len(out) != 2 {
		t.Fatalf("expected 2 deduplicated hints, got %d: %+v", len(out), out)
	}
}

// makeSysfsTree creates files and directories with the provided content,
// relative to root.
func makeSysfsTree(root string, files map[string][]byte) error {
	for filePath, content := range files {
		fullPath := path.Join(root, filePath)
		if err := os.MkdirAll(path.Dir(fullPath), 0755); err != nil {
			return err
		}
		if content != nil {
			if err := ioutil.WriteFile(fullPath, content, 0644); err != nil {
				return err
			}
		}
	}
	return nil
}

func TestDiscoverPCIAffinityHints(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping test in short mode.")
	}

	root, err := ioutil.TempDir("", "quovadis-topology-test")
	if err != nil {
		t.Fatalf("failed to create test root: %+v", err)
	}
	defer os.RemoveAll(root)

	sysFsTree := map[string][]byte{
		"sys/devices/pci0000:00/0000:00:02.0/local_cpulist":      []byte("0-7"),
		"sys/devices/pci0000:00/0000:00:02.0/numa_node":          []byte("-1"),
		"sys/devices/pci0000:00/0000:00:02.0/drm/renderD129/dev": []byte("226:129"),
		"sys/devices/pci0000:00/0000:00:02.0/drm/card1/dev":      []byte("226:1"),
	}
	if err := makeSysfsTree(root, sysFsTree); err != nil {
		t.Fatalf("failed to create test sysfs tree: %+v", err)
	}

	cases := []struct {
		name        string
		input       string
		numHints    int
		expectedErr bool
	}{
		{
			name:        "non-existing",
			input:       "non-existing",
			expectedErr: true,
		},
		{
			name:     "pci card1",
			input:    filepath.Join(root, "sys/devices/pci0000:00/0000:00:02.0/drm/card1"),
			numHints: 1,
		},
	}
	for _, tc := range cases {
		test := tc
		t.Run(test.name, func(t *testing.T) {
			output, err := DiscoverPCIAffinityHints(test.input)
			switch {
			case err != nil && !test.expectedErr:
				t.Fatalf("unexpected error returned: %+v", err)
			case err == nil && test.expectedErr:
				t.Fatalf("unexpected success: %+v", output)
			case len(output) != test.numHints:
				t.Fatalf("expected %d hints, got %d: %+v", test.numHints, len(output), output)
			}
		})
	}
}
