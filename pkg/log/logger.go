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
	"math"
	"os"
)

// Level describes the severity of log messages.
type Level int

const (
	// LevelDebug is the severity for debug messages.
	LevelDebug Level = iota
	// LevelInfo is the severity for informational messages.
	LevelInfo
	// LevelWarn is the severity for warnings.
	LevelWarn
	// LevelError is the severity for errors.
	LevelError
	// LevelFatal is the severity for fatal errors.
	LevelFatal
	// LevelPanic is the severity for panic messages.
	LevelPanic
)

// Logger produces messages for/from a single named source (a package, a
// subsystem, a running daemon component, ...).
type Logger interface {
	Debug(format string, args ...interface{})
	Info(format string, args ...interface{})
	Warn(format string, args ...interface{})
	Error(format string, args ...interface{})
	// Fatal logs and then os.Exit(1)s.
	Fatal(format string, args ...interface{})
	// Panic logs and then panics with the same message.
	Panic(format string, args ...interface{})

	DebugBlock(prefix string, format string, args ...interface{})
	InfoBlock(prefix string, format string, args ...interface{})
	WarnBlock(prefix string, format string, args ...interface{})
	ErrorBlock(prefix string, format string, args ...interface{})

	// EnableDebug enables/disables debug messages for this Logger, returning
	// the previous state.
	EnableDebug(bool) bool
	// DebugEnabled reports whether debug messages are enabled.
	DebugEnabled() bool

	// Source returns the name this Logger was created with.
	Source() string
}

// loggerID is the handle a named source is tracked by in the registry; it
// implements Logger by looking its live configuration and active backend up
// on every call, so changes to either take effect immediately for every
// Logger obtained from Get/NewLogger.
type loggerID uint

func (id loggerID) EnableDebug(enable bool) bool {
	reg.Lock()
	defer reg.Unlock()

	st := reg.states[id]
	was := st.setDebug(enable)
	reg.states[id] = st

	return was
}

func (id loggerID) DebugEnabled() bool {
	reg.RLock()
	defer reg.RUnlock()

	return reg.states[id].debugging()
}

func (id loggerID) Source() string {
	reg.RLock()
	defer reg.RUnlock()

	return reg.sources[id]
}

func (id loggerID) Debug(format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelDebug); emit {
		backend.Log(LevelDebug, st.source(), format, args...)
	}
}

func (id loggerID) Info(format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelInfo); emit {
		backend.Log(LevelInfo, st.source(), format, args...)
	}
}

func (id loggerID) Warn(format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelWarn); emit {
		backend.Log(LevelWarn, st.source(), format, args...)
	}
}

func (id loggerID) Error(format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelError); emit {
		backend.Log(LevelError, st.source(), format, args...)
	}
}

func (id loggerID) Fatal(format string, args ...interface{}) {
	st, backend, _ := id.resolve(LevelFatal)
	backend.Log(LevelFatal, st.source(), format, args...)
	os.Exit(1)
}

func (id loggerID) Panic(format string, args ...interface{}) {
	st, backend, _ := id.resolve(LevelPanic)
	backend.Log(LevelPanic, st.source(), format, args...)
	panic(fmt.Sprintf(st.source()+" "+format, args...))
}

func (id loggerID) DebugBlock(prefix, format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelDebug); emit {
		backend.Block(LevelDebug, st.source(), prefix, format, args...)
	}
}

func (id loggerID) InfoBlock(prefix, format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelInfo); emit {
		backend.Block(LevelInfo, st.source(), prefix, format, args...)
	}
}

func (id loggerID) WarnBlock(prefix, format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelWarn); emit {
		backend.Block(LevelWarn, st.source(), prefix, format, args...)
	}
}

func (id loggerID) ErrorBlock(prefix, format string, args ...interface{}) {
	if st, backend, emit := id.resolve(LevelError); emit {
		backend.Block(LevelError, st.source(), prefix, format, args...)
	}
}

// resolve looks up id's current state and the active backend, and reports
// whether a message at level should actually be emitted.
func (id loggerID) resolve(level Level) (loggerState, Backend, bool) {
	if level != LevelDebug && level < reg.threshold() {
		return loggerState{}, nil, false
	}

	reg.RLock()
	st := reg.states[id]
	backend := reg.active
	forced := reg.forced
	reg.RUnlock()

	switch level {
	case LevelInfo:
		return st, backend, st.active()
	case LevelDebug:
		return st, backend, st.debugging() || forced
	default:
		return st, backend, true
	}
}

// loggerState packs a logger's identity and on/off switches into one word:
// whether ordinary messages pass through at all, and whether its debug
// messages do.
const (
	maxLoggers = math.MaxUint16

	activeBit = 1 << iota
	debugBit
)

type loggerState struct {
	id    uint16
	flags uint16
}

func newLoggerState(id loggerID, active, debug bool) loggerState {
	st := loggerState{id: uint16(id)}
	st.setActive(active)
	if debug {
		st.flags |= debugBit
	}
	return st
}

func (st *loggerState) id16() loggerID {
	return loggerID(st.id)
}

// setActive sets or clears the active bit; the debug bit is left as it is
// (see setDebug).
func (st *loggerState) setActive(active bool) {
	if active {
		st.flags |= activeBit
	} else {
		st.flags &^= activeBit
	}
}

func (st *loggerState) active() bool {
	return st.flags&activeBit != 0
}

// setDebug sets/clears the debug bit, returning the previous value.
func (st *loggerState) setDebug(enable bool) bool {
	was := st.debugging()
	if enable {
		st.flags |= debugBit
	} else {
		st.flags &^= debugBit
	}
	return was
}

func (st *loggerState) debugging() bool {
	return st.flags&debugBit != 0
}

func (st loggerState) source() string {
	return st.id16().Source()
}
