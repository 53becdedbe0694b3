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
	"os"
	"os/signal"
)

var debugToggle chan os.Signal

var toggleState = map[bool]string{false: "off", true: "on"}

// WatchDebugToggleSignal arranges for sig to flip full forced debugging on
// and off every time it's received, replacing any signal watched before.
func WatchDebugToggleSignal(sig os.Signal) {
	stopWatchingDebugToggle()

	debugToggle = make(chan os.Signal, 1)
	signal.Notify(debugToggle, sig)

	go func(ch <-chan os.Signal) {
		for range ch {
			forced := !reg.debugForced()
			reg.forceDebug(forced)
			Default().Warn("forced full debugging is now %s...", toggleState[forced])
		}
	}(debugToggle)
}

// UnwatchDebugToggleSignal removes the signal handler set up by
// WatchDebugToggleSignal, if any.
func UnwatchDebugToggleSignal() {
	stopWatchingDebugToggle()
}

func stopWatchingDebugToggle() {
	if debugToggle != nil {
		signal.Stop(debugToggle)
		close(debugToggle)
		debugToggle = nil
	}
}
