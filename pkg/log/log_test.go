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
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

// probeBackend is a Backend double that can print, record, or silently
// discard messages, for verifying what actually got logged.
type probeBackend struct {
	sync.RWMutex                     // held only when concurrent tests need it
	protect      bool                // whether Log()/check() should actually lock
	recorded     []string            // messages recorded for check()
	emit         func(Level, string) // current emit strategy: print, record, both, or neither
	test         *testing.T
}

var probe *probeBackend

func newProbeBackend() Backend {
	p := &probeBackend{}
	p.emit = p.print
	probe = p
	return probe
}

const probeBackendName = "probe"

func (p *probeBackend) Name() string { return probeBackendName }

func (p *probeBackend) Log(level Level, source, format string, args ...interface{}) {
	p.emit(level, fmt.Sprintf("["+source+"] "+format, args...))
}

func (p *probeBackend) Block(level Level, source, prefix, format string, args ...interface{}) {
	p.emit(level, fmt.Sprintf("["+source+"] "+format, args...))
}

func (p *probeBackend) Flush()                 {}
func (p *probeBackend) Sync()                  {}
func (p *probeBackend) Stop()                  {}
func (p *probeBackend) SetSourceAlignment(int) {}

// setup activates the probe backend and configures how it handles messages:
// quiet suppresses printing, record>0 keeps the last `record` messages.
func setup(test *testing.T, quiet bool, record int, parallel bool) *probeBackend {
	if err := SetBackend(probeBackendName); err != nil {
		test.Errorf("failed to activate probe backend %q: %v", probeBackendName, err)
		return nil
	}
	p := probe

	p.test = test
	p.protect = parallel
	if record > 0 {
		p.recorded = make([]string, 0, record)
	} else {
		p.recorded = nil
	}

	switch {
	case quiet && record == 0:
		p.emit = func(Level, string) {}
	case !quiet && record > 0:
		p.emit = func(level Level, msg string) { p.print(level, msg); p.record(level, msg) }
	case !quiet:
		p.emit = p.print
	default:
		p.emit = p.record
	}

	return p
}

func (p *probeBackend) print(level Level, msg string) {
	fmt.Println("<log-test>", severityTags[level], msg)
}

func (p *probeBackend) record(_ Level, msg string) {
	if p.protect {
		p.Lock()
		defer p.Unlock()
	}
	p.recorded = append(p.recorded, msg)
}

func (p *probeBackend) check(expected []string, ordered bool, onlySources map[string]struct{}) {
	if p.protect {
		p.RLock()
		defer p.RUnlock()
	}

	recorded := p.recorded
	if !ordered {
		recorded = append([]string(nil), p.recorded...)
		sort.Strings(recorded)
		sort.Strings(expected)
	}

	for i, j := 0, 0; i < len(recorded) && j < len(expected); i++ {
		split := strings.SplitN(recorded[i], "] ", 2)
		source, message := strings.Trim(split[0], "[] "), split[1]
		if onlySources != nil {
			if _, ok := onlySources[source]; !ok {
				continue
			}
		}

		if message != expected[j] {
			p.test.Errorf("%s failed, #%d message is %q, expected %q", p.test.Name(), j, message, expected[j])
			return
		}
		j++
	}
}

// TestBackendOverride tests the effect of overriding the active log backend.
func TestBackendOverride(t *testing.T) {
	p := setup(t, false, 1024, false)

	SetLevel(LevelInfo)
	test := NewLogger("test")
	messages := []string{
		"this is a test info message",
		"this is a test warning message",
		"this is a test error message",
	}
	test.Info(messages[0])
	test.Warn(messages[1])
	test.Error(messages[2])

	p.check(messages, true, nil)
}

// TestSeverityFiltering tests severity-level-based filtering and the
// several ways debug logging can be turned on or off for a given source.
func TestSeverityFiltering(t *testing.T) {
	p := setup(t, false, 1024, false)

	test := NewLogger("test")
	logfns := map[Level]func(string){
		LevelDebug: func(s string) { test.Debug(s) },
		LevelInfo:  func(s string) { test.Info(s) },
		LevelWarn:  func(s string) { test.Warn(s) },
		LevelError: func(s string) { test.Error(s) },
	}
	setDebugFns := []func() bool{
		func() bool { test.EnableDebug(false); return false },
		func() bool { test.EnableDebug(true); return true },
		func() bool { flag.Set(optDebug, "off:*"); return false },
		func() bool { flag.Set(optDebug, "on:*"); return true },
		func() bool { flag.Set(optDebug, "on:*"); test.EnableDebug(false); return false },
		func() bool { flag.Set(optDebug, "off:*"); test.EnableDebug(true); return true },
	}
	loggingLevels := []Level{
		LevelDebug, LevelInfo, LevelWarn, LevelError,
		LevelError, LevelWarn, LevelInfo, LevelDebug,
	}
	mkmsg := func(threshold, level Level, msg string, count int) string {
		return fmt.Sprintf("filtering: %s, message: %s -> "+msg+" #%d", threshold, level, count)
	}

	cnt := 0
	var expected []string
	for _, setDebugFn := range setDebugFns {
		debugging := setDebugFn()
		for _, threshold := range loggingLevels {
			SetLevel(threshold)
			for _, msg := range []string{
				"test",
				"message",
				"test message",
				"test message once more",
				"test message a final time",
			} {
				for _, msgLevel := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError} {
					msg := mkmsg(threshold, msgLevel, msg, cnt)
					logfns[msgLevel](msg)
					cnt++
					switch {
					case msgLevel == LevelDebug && debugging:
						expected = append(expected, msg)
					case msgLevel != LevelDebug && msgLevel >= threshold:
						expected = append(expected, msg)
					}
				}
			}
		}
	}

	p.check(expected, true, nil)
}

// TestForcedDebugToggling tests toggling forced debug on/off through the
// registry accessors the debug-toggle signal handler uses, with the signal
// watcher installed; no signal is actually sent.
func TestForcedDebugToggling(t *testing.T) {
	p := setup(t, false, 1024, true)

	SetLevel(LevelInfo)
	test := NewLogger("test")

	debugSignal := syscall.SIGUSR1
	WatchDebugToggleSignal(debugSignal)
	defer UnwatchDebugToggleSignal()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, debugSignal)
	flag.Set(optDebug, "off:*")
	debugging := false

	var expected []string
	messages := []string{"debug", "info", "warning", "error"}
	for i := 0; i < 2; i++ {
		for _, msg := range messages {
			var logfn func(string, ...interface{})

			filtered := false
			switch msg {
			case "debug":
				logfn = test.Debug
				filtered = !debugging
			case "info":
				logfn = test.Info
			case "warning":
				logfn = test.Warn
			case "error":
				logfn = test.Error
			default:
				continue
			}
			logfn("%s", msg)
			if !filtered {
				expected = append(expected, msg)
			}
		}
		reg.forceDebug(!reg.debugForced())
		debugging = !debugging
	}

	sources := map[string]struct{}{"test": {}}
	p.check(expected, true, sources)
}

func getenv(key string, fallback interface{}) interface{} {
	strval := os.Getenv(key)
	if strval == "" {
		return fallback
	}
	switch defv := fallback.(type) {
	case int:
		v, err := strconv.ParseInt(strval, 10, 0)
		if err != nil {
			fmt.Printf("error: invalid environment variable %s = %s: %v\n", key, strval, err)
			return defv
		}
		return int(v)
	case time.Duration:
		v, err := time.ParseDuration(strval)
		if err != nil {
			fmt.Printf("error: invalid environment variable %s = %s: %v\n", key, strval, err)
			return defv
		}
		return v
	default:
		panic(fmt.Sprintf("environment variable %s=%s with unhandled type %T", key, strval, fallback))
	}
}

// numLoggers/numTogglers/testDuration control the size and length of the
// concurrent stress tests below; they default small and fast so the normal
// test run stays quick, and can be cranked up via env vars for soak testing.
var (
	numLoggers   = getenv("LOGTEST_LOGGERS", 16).(int)
	numTogglers  = getenv("LOGTEST_TOGGLERS", 2).(int)
	testDuration = getenv("LOGTEST_DURATION", 200*time.Millisecond).(time.Duration)
)

func createLoggers(cnt int) []Logger {
	loggers := make([]Logger, cnt)
	for idx := range loggers {
		loggers[idx] = NewLogger(fmt.Sprintf("stress-%d", idx))
		if idx%5 == 0 {
			loggers[idx].EnableDebug(true)
		}
	}
	return loggers
}

// exercise logs through every logger in loggers, in pseudo-random order,
// until stop is closed.
func exercise(loggers []Logger, levels []Level, start, stop chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	rnd := rand.New(rand.NewSource(int64(len(loggers)) + 1))
	order := rnd.Perm(len(loggers))
	<-start

	cnt := 0
	for {
		for _, i := range order {
			for _, level := range levels {
				switch level {
				case LevelDebug:
					loggers[i].Debug("logged debug message #%d", cnt)
				case LevelInfo:
					loggers[i].Info("logged info message #%d", cnt)
				case LevelWarn:
					loggers[i].Warn("logged warning message #%d", cnt)
				case LevelError:
					loggers[i].Error("logged error message #%d", cnt)
				}
			}
		}
		cnt++

		select {
		case <-stop:
			return
		default:
		}
	}
}

// toggle flips per-source debug state for a quarter of loggers, in
// pseudo-random order, until stop is closed.
func toggle(loggers []Logger, start, stop chan struct{}, flagMu *sync.Mutex, wg *sync.WaitGroup) {
	defer wg.Done()

	rnd := rand.New(rand.NewSource(int64(len(loggers)) + 2))
	order := rnd.Perm(len(loggers))
	<-start

	cnt := 0
	for {
		nth := 3 + cnt%7
		cfg, sep := "on:*,", "off:"
		for i := 0; i < len(order)/4; i++ {
			if i != 0 && i%nth == 0 {
				cfg += sep + loggers[order[i]].Source()
				sep = ","
			}
		}
		flagMu.Lock()
		flag.Set(optDebug, cfg)
		flagMu.Unlock()
		cnt++

		select {
		case <-stop:
			return
		default:
		}
	}
}

// TestConcurrentLogging exercises many loggers from many goroutines while
// other goroutines concurrently flip per-source debug state, with the race
// detector watching for unsynchronized access to shared logger state.
func TestConcurrentLogging(t *testing.T) {
	var wg sync.WaitGroup

	loggers := createLoggers(numLoggers)
	runtime.GOMAXPROCS(runtime.NumCPU())
	setup(t, true, 0, false)

	start := make(chan struct{})
	stop := make(chan struct{})

	levelSets := [][]Level{
		{LevelDebug, LevelInfo, LevelWarn, LevelError},
		{LevelInfo},
	}
	for i := 0; i < len(loggers); i += 4 {
		end := i + 4
		if end > len(loggers) {
			end = len(loggers)
		}
		wg.Add(1)
		go exercise(loggers[i:end], levelSets[i%len(levelSets)], start, stop, &wg)
	}

	var flagMu sync.Mutex
	for i := 0; i < numTogglers; i++ {
		wg.Add(1)
		go toggle(loggers, start, stop, &flagMu, &wg)
	}

	close(start)
	time.Sleep(testDuration)
	close(stop)
	wg.Wait()
}

func init() {
	RegisterBackend(probeBackendName, newProbeBackend)
}
