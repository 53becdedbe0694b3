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

// Package version carries build-time metadata (a 'git describe' version tag
// and the commit SHA1 the binary was built from) into the quo-vadis
// binaries, and registers a --version flag that prints it and exits.
//
// Version and Build are overridden at link time:
//
//	LDFLAGS=-ldflags \
//	  "-X=github.com/openhpc/quovadis-go/pkg/version.Version=<version> \
//	   -X=github.com/openhpc/quovadis-go/pkg/version.Build=<build-id>"
//
// A binary built without those flags falls back to the unresolved defaults
// below, which is itself a useful signal that the release process skipped
// stamping it.
package version

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Default values of variables we'll override with the linker.
var (
	// Version is our version as given by 'git describe'.
	Version = "<unstamped build, pass -ldflags to set pkg/version.Version>"
	// Build is the SHA1 of the repository we've been built from.
	Build = "<unstamped build, pass -ldflags to set pkg/version.Build>"
)

// PrintVersionInfo prints version information about this binary.
func PrintVersionInfo() {
	fmt.Printf("%s version information:\n", filepath.Base(os.Args[0]))
	fmt.Printf("  - version: %s\n", Version)
	fmt.Printf("  - build:   %s\n", Build)
}

// versionFlag hooks --version into flag.Value: a boolean flag whose Set,
// when given a true-ish value, prints version info and exits immediately
// rather than letting the rest of flag parsing or the program proceed.
type versionFlag struct{}

// IsBoolFlag tells flag that we only have optional arguments.
func (versionFlag) IsBoolFlag() bool {
	return true
}

// Set prints version information and exits if value parses as true.
func (versionFlag) Set(value string) error {
	print, err := strconv.ParseBool(value)
	if err != nil {
		return err
	}
	if print {
		PrintVersionInfo()
		os.Exit(0)
	}

	return nil
}

// String is the dummy flag.Value stringification function.
func (*versionFlag) String() string {
	return "false"
}

// Put in place a '--version' command line option for us.
func init() {
	flag.Var(&versionFlag{}, "version", "Print version information about "+filepath.Base(os.Args[0]))
}
