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
	"time"

	goxrate "golang.org/x/time/rate"
)

// Rate bounds how often a distinct message may repeat.
type Rate struct {
	Limit goxrate.Limit
	Burst int
	// Window caps how many distinct recent messages are tracked at once;
	// the oldest is evicted once a new one arrives past this size.
	Window int
}

const (
	// DefaultWindow is the default message window size for rate limiting.
	DefaultWindow = 256
	// MinimumWindow is the smallest message window size for rate limiting.
	MinimumWindow = 32
)

// Every defines a rate limit firing at most once per interval.
func Every(interval time.Duration) goxrate.Limit {
	return goxrate.Every(interval)
}

// Interval is a Rate allowing one message per interval, no bursting.
func Interval(interval time.Duration) Rate {
	return Rate{Limit: Every(interval), Burst: 1}
}

// RateLimit wraps log so that repeated identical messages are throttled
// independently of each other: a noisy "device X disappeared" loop doesn't
// drown out everything else, but a distinct message still gets through.
func RateLimit(log Logger, rate Rate) Logger {
	switch {
	case rate.Window == 0:
		rate.Window = DefaultWindow
	case rate.Window < MinimumWindow:
		rate.Window = MinimumWindow
	}
	if rate.Burst < 1 {
		rate.Burst = 1
	}
	return &limited{
		Logger: log,
		rate:   rate,
		window: make([]string, 0, rate.Window),
		limits: make(map[string]*goxrate.Limiter),
	}
}

// limited decorates a Logger, replacing its severity methods with
// rate-limited ones while leaving Fatal/Panic/Block/etc. untouched via
// embedding.
type limited struct {
	Logger
	sync.Mutex
	rate   Rate
	window []string
	limits map[string]*goxrate.Limiter
}

func (rl *limited) Debug(format string, args ...interface{}) { rl.emit(rl.Logger.Debug, format, args) }
func (rl *limited) Info(format string, args ...interface{})  { rl.emit(rl.Logger.Info, format, args) }
func (rl *limited) Warn(format string, args ...interface{})  { rl.emit(rl.Logger.Warn, format, args) }
func (rl *limited) Error(format string, args ...interface{}) { rl.emit(rl.Logger.Error, format, args) }

// emit formats the message once, checks its individual limiter, and only
// then defers to the underlying severity method.
func (rl *limited) emit(log func(string, ...interface{}), format string, args []interface{}) {
	msg := fmt.Sprintf(format, args...)
	if rl.limitFor(msg).Allow() {
		log("<rate-limited> %s", msg)
	}
}

// limitFor returns msg's limiter, creating one and evicting the oldest
// tracked message if the window is full.
func (rl *limited) limitFor(msg string) *goxrate.Limiter {
	rl.Lock()
	defer rl.Unlock()

	if limit, ok := rl.limits[msg]; ok {
		return limit
	}

	limit := goxrate.NewLimiter(rl.rate.Limit, rl.rate.Burst)
	if len(rl.limits) == rl.rate.Window {
		delete(rl.limits, rl.window[0])
		rl.window = rl.window[1:]
	}
	rl.window = append(rl.window, msg)
	rl.limits[msg] = limit

	return limit
}
