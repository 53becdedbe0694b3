// Copyright 2019-2020 Intel Corporation. All Rights Reserved.
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
	"fmt"
	"sync"
)

// levelHighest is one past the highest severity ever filtered on; the
// backend-internal pseudo-levels (nop, stop) live above it.
const levelHighest = LevelPanic + 1

// LevelNames maps severity levels to their flag/display names.
var LevelNames = map[Level]string{
	LevelDebug: "debug",
	LevelInfo:  "info",
	LevelWarn:  "warning",
	LevelError: "error",
	LevelFatal: "fatal",
	LevelPanic: "panic",
}

// NamedLevels maps flag/display names to severity levels.
var NamedLevels = map[string]Level{
	"debug":   LevelDebug,
	"info":    LevelInfo,
	"warn":    LevelWarn,
	"warning": LevelWarn,
	"error":   LevelError,
	"fatal":   LevelFatal,
	"panic":   LevelPanic,
}

// String returns the flag/display name for l.
func (l Level) String() string {
	if name, ok := LevelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Level(%d)", int(l))
}

// registry is the package-wide bookkeeping for known sources, their
// per-logger state, and the currently active Backend. It is deliberately
// not named "log" to avoid shadowing the package itself at every call site.
type registry struct {
	sync.RWMutex
	level   Level
	active  Backend
	backend map[string]BackendFn
	states  map[loggerID]loggerState
	sources map[loggerID]string
	names   map[string]loggerID
	forced  bool
}

var reg = &registry{
	level:   DefaultLevel,
	backend: make(map[string]BackendFn),
	states:  make(map[loggerID]loggerState),
	sources: make(map[loggerID]string),
	names:   make(map[string]loggerID),
}

// get returns the loggerID for source, registering it on first use.
func (r *registry) get(source string) loggerID {
	r.Lock()
	defer r.Unlock()

	if id, ok := r.names[source]; ok {
		return id
	}

	id := loggerID(len(r.sources))
	r.sources[id] = source
	r.states[id] = newLoggerState(id, true, false)
	r.names[source] = id

	if r.active == nil {
		r.activateLocked(TextBackendName)
	}
	r.active.SetSourceAlignment(r.maxSourceLenLocked())

	return id
}

// maxSourceLenLocked returns the longest known source name; caller holds the lock.
func (r *registry) maxSourceLenLocked() int {
	longest := 0
	for _, src := range r.sources {
		if len(src) > longest {
			longest = len(src)
		}
	}
	return longest
}

// activateLocked activates backend name; caller holds the lock.
func (r *registry) activateLocked(name string) error {
	fn, ok := r.backend[name]
	if !ok {
		return loggerError("unknown logger backend %q", name)
	}
	if r.active != nil {
		r.active.Stop()
	}
	r.active = fn()
	r.active.SetSourceAlignment(r.maxSourceLenLocked())
	return nil
}

// threshold returns the currently configured severity floor.
func (r *registry) threshold() Level {
	r.RLock()
	defer r.RUnlock()
	return r.level
}

// forceDebug forcibly enables or disables debug logging for every logger,
// irrespective of their individual state.
func (r *registry) forceDebug(state bool) {
	r.Lock()
	defer r.Unlock()
	r.forced = state
}

// debugForced reports whether debug logging is currently force-enabled.
func (r *registry) debugForced() bool {
	r.RLock()
	defer r.RUnlock()
	return r.forced
}

// Get returns the Logger for source, creating it if this is the first use.
func Get(source string) Logger {
	return reg.get(source)
}

// NewLogger is an alias of Get, kept for readability at call sites that
// create a logger once and keep it around.
func NewLogger(source string) Logger {
	return reg.get(source)
}

// SetLevel sets the lowest severity of messages that pass through.
func SetLevel(l Level) {
	reg.Lock()
	defer reg.Unlock()
	reg.level = l
}

// GetLevel returns the currently configured severity threshold.
func GetLevel() Level {
	return reg.threshold()
}

// SetBackend activates the named, previously registered logger backend.
func SetBackend(name string) error {
	reg.Lock()
	defer reg.Unlock()
	return reg.activateLocked(name)
}

func loggerError(format string, args ...interface{}) error {
	return fmt.Errorf("log: "+format, args...)
}
