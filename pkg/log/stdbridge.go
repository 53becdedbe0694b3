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
	stdlog "log"
)

// stdBridge is an io.Writer that forwards whatever the standard log package
// writes to it into a Logger's debug stream, so output from code we don't
// control (vendored libraries calling stdlog.Printf, for instance) lands in
// the same place as everything else instead of going straight to stderr.
type stdBridge struct {
	dst Logger
}

// RedirectStdLog points the standard library's default logger at source (or
// at the default Logger, if source is empty).
func RedirectStdLog(source string) {
	dst := Default()
	if source != "" {
		dst = reg.get(source)
	}

	stdlog.SetPrefix("")
	stdlog.SetFlags(0)
	stdlog.SetOutput(&stdBridge{dst: dst})
}

func (b *stdBridge) Write(p []byte) (int, error) {
	b.dst.Debug("%s", string(p))
	return len(p), nil
}
