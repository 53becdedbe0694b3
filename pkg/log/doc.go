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

// Package log implements the runtime's logging, independent of any
// particular output backend. Every package gets its own named Logger via
// Get/NewLogger; severity filtering, the active backend, and per-source
// debug logging are all controlled from the command line:
//
//   --logger-level=warning            lowest severity that passes through
//   --logger=text                     select the active backend
//   --logger-debug=on:rmi-server,split  enable debug logging for some sources
//   --logger-debug=on:*               enable debug logging everywhere
//
// A running process can also be sent a signal (WatchDebugToggleSignal) to
// force-enable debug logging for every source regardless of their
// individual configuration, for ad hoc troubleshooting.
package log
