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
	"strings"
)

// BackendFn creates a fresh Backend instance; used to lazily activate a
// registered backend only once it's actually selected.
type BackendFn func() Backend

// Backend formats and emits the messages a Logger produces.
type Backend interface {
	Name() string
	// Log emits a single-line message at the given severity, for source.
	Log(Level, string, string, ...interface{})
	// Block emits a multi-line message, with an extra per-line prefix.
	Block(Level, string, string, string, ...interface{})
	// Flush drains any buffered messages synchronously.
	Flush()
	// Sync waits until every message queued so far has been emitted.
	Sync()
	Stop()
	// SetSourceAlignment sets the column width sources are padded to.
	SetSourceAlignment(int)
}

// RegisterBackend registers a logger backend under name, for later
// activation via SetBackend or the --logger flag.
func RegisterBackend(name string, fn BackendFn) {
	reg.backend[name] = fn
}

// TextBackendName is the name of the default, console-printing backend.
const TextBackendName = "text"

const textQueueLen = 1024

// levelNop and levelStop are backend-internal pseudo-severities used to ask
// the emitter goroutine to sync or stop without actually logging anything.
const (
	levelNop Level = iota + levelHighest + 1
	levelStop
)

// severityTags prefixes messages the text backend emits.
var severityTags = map[Level]string{
	LevelDebug: "D: ",
	LevelInfo:  "I: ",
	LevelWarn:  "W: ",
	LevelError: "E: ",
	LevelFatal: "FATAL ERROR: ",
	LevelPanic: "PANIC: ",
}

// textBackend is the default Backend: it prints to stdout via fmt.Println.
// Until the first flush (an explicit Flush, an error-or-higher severity
// message, or a full buffer) it holds messages in memory; that flush emits
// them in order, and from then on every message is printed as soon as the
// emitter goroutine receives it. A Sync before the first flush returns once
// the queued messages are buffered, not printed.
type textBackend struct {
	entries chan *logEntry
	align   int
}

// logEntry is a single queued message for the emitter goroutine.
type logEntry struct {
	level  Level
	source string
	prefix string
	msg    string
	done   chan struct{} // non-nil for requests that must complete synchronously
	flush  bool          // stop buffering and flush everything queued so far
}

func newTextBackend() Backend {
	b := &textBackend{entries: make(chan *logEntry, textQueueLen)}
	go b.run()
	return b
}

func (*textBackend) Name() string { return TextBackendName }

func (b *textBackend) Log(level Level, source, format string, args ...interface{}) {
	b.enqueue(level, source, "", format, args...)
}

func (b *textBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	b.enqueue(level, source, prefix, format, args...)
}

func (b *textBackend) Flush() { b.control(levelNop, true) }
func (b *textBackend) Sync()  { b.control(levelNop, false) }
func (b *textBackend) Stop()  { b.control(levelStop, false) }

func (b *textBackend) SetSourceAlignment(width int) {
	b.align = width
}

// control sends a request carrying no message, just a level and/or a flush
// flag, and waits for the emitter goroutine to process it.
func (b *textBackend) control(level Level, flush bool) {
	done := make(chan struct{})
	b.entries <- &logEntry{level: level, flush: flush, done: done}
	<-done
}

// enqueue formats and queues a message; error-and-above severities wait for
// the emitter goroutine to actually process them before returning.
func (b *textBackend) enqueue(level Level, source, prefix, format string, args ...interface{}) {
	var done chan struct{}
	if level >= LevelError {
		done = make(chan struct{})
	}

	b.entries <- &logEntry{
		level:  level,
		source: source,
		prefix: prefix,
		msg:    fmt.Sprintf(format, args...),
		done:   done,
		flush:  level >= LevelError,
	}

	if done != nil {
		<-done
	}
}

// run is the sole goroutine allowed to print: it buffers incoming entries
// until told to flush (explicitly, by a high-severity entry, or because the
// buffer filled up), then emits everything queued in order.
func (b *textBackend) run() {
	buf := make([]*logEntry, 0, textQueueLen)

	for e := range b.entries {
		if buf == nil {
			b.print(e)
		} else if e.flush || len(buf) == cap(buf) {
			for _, queued := range buf {
				b.print(queued)
			}
			b.print(e)
			buf = nil
		} else {
			buf = append(buf, e)
		}

		if e.done != nil {
			close(e.done)
		}
		if e.level == levelStop {
			return
		}
	}
}

// print renders a single entry; entries with a pseudo-level carry no message.
func (b *textBackend) print(e *logEntry) {
	if e.level > levelHighest {
		return
	}

	pad := b.align - len(e.source)
	if pad < 0 {
		pad = 0
	}
	lead := pad / 2
	trail := pad - lead
	source := "[" + strings.Repeat(" ", lead) + e.source + strings.Repeat(" ", trail) + "]"

	for _, line := range strings.Split(e.msg, "\n") {
		if e.prefix == "" {
			fmt.Println(severityTags[e.level], source, line)
		} else {
			fmt.Println(severityTags[e.level], source, e.prefix, line)
		}
	}
}

func init() {
	RegisterBackend(TextBackendName, newTextBackend)
}
