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

import "fmt"

// Lazy defers stringification of an argument until (and unless) a log
// message is actually going to be emitted, so building an expensive debug
// string doesn't cost anything when debug logging is off.
type Lazy interface {
	String() string
}

type lazyValue struct {
	v interface{}
}

// LazyVal wraps v for deferred .String() evaluation. v may be a plain value,
// a func() string, or a func() interface{}; anything else is rendered with
// fmt's default verb when String() is finally called.
func LazyVal(v interface{}) Lazy {
	return &lazyValue{v: v}
}

func (l *lazyValue) String() string {
	v := l.v
	switch fn := v.(type) {
	case func() string:
		return fn()
	case func() interface{}:
		v = fn()
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
