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

package log

import (
	"flag"
	"strconv"
	"strings"
)

const (
	// DefaultLevel is the default lowest unsuppressed severity.
	DefaultLevel = LevelInfo

	// optLogger selects the active logger backend.
	optLogger = "logger"
	// optLevel selects the lowest severity that passes through.
	optLevel = "logger-level"
	// optDebug toggles per-source debug logging.
	optDebug = "logger-debug"
)

// levelFlag adapts Level to flag.Value, applying changes through SetLevel.
type levelFlag struct{}

func (levelFlag) Set(value string) error {
	level, ok := NamedLevels[value]
	if !ok {
		return loggerError("unknown log level %q", value)
	}
	SetLevel(level)
	return nil
}

func (levelFlag) String() string {
	return GetLevel().String()
}

// backendFlag adapts backend selection to flag.Value, applying changes
// through SetBackend.
type backendFlag struct{}

func (backendFlag) Set(value string) error {
	return SetBackend(value)
}

func (backendFlag) String() string {
	return TextBackendName
}

// debugFlag parses a comma-separated list of "[state:]source,..." entries,
// applying the resulting per-source debug state to every known logger.
// "all"/"*" and "none" refer to every source. A bare entry with no leading
// state reuses the previously seen state, defaulting to "on".
type debugFlag struct{}

func (debugFlag) Set(value string) error {
	states := map[string]bool{}

	prev := "on"
	for _, req := range strings.Split(strings.TrimSpace(value), ",") {
		if req == "" {
			continue
		}

		status := prev
		names := req
		if split := strings.SplitN(req, ":", 2); len(split) == 2 {
			status, names = split[0], split[1]
			prev = status
		}

		state, err := parseState(status)
		if err != nil {
			return err
		}

		for _, name := range strings.Split(names, ",") {
			switch name {
			case "all", "*":
				states["*"] = state
			case "none":
				states["*"] = !state
			default:
				states[name] = state
			}
		}
	}

	applyDebugStates(states)
	return nil
}

func (debugFlag) String() string {
	return ""
}

func parseState(status string) (bool, error) {
	switch status {
	case "on", "enable", "enabled":
		return true, nil
	case "off", "disable", "disabled":
		return false, nil
	default:
		state, err := strconv.ParseBool(status)
		if err != nil {
			return false, loggerError("invalid debug state %q: %v", status, err)
		}
		return state, nil
	}
}

// applyDebugStates enables or disables debug logging on every currently
// known logger whose source matches an entry in states (falling back to the
// "*" wildcard entry).
func applyDebugStates(states map[string]bool) {
	reg.RLock()
	ids := make([]loggerID, 0, len(reg.sources))
	for id := range reg.sources {
		ids = append(ids, id)
	}
	reg.RUnlock()

	for _, id := range ids {
		state, ok := states[id.Source()]
		if !ok {
			state, ok = states["*"]
		}
		if ok {
			id.EnableDebug(state)
		}
	}
}

func init() {
	flag.Var(levelFlag{}, optLevel,
		"least severity of log messages to start passing through.")
	flag.Var(backendFlag{}, optLogger,
		"select logging backend to use")
	flag.Var(debugFlag{}, optDebug,
		"value is a comma-separated list of [state:]source entries.\n"+
			"Specify '*' or 'all' for every source. state defaults to 'on'.")
}
