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
	"path/filepath"
)

// std is the logger every package-level convenience function below logs
// through; its source is the running binary's own name.
var std = reg.get(filepath.Base(filepath.Clean(os.Args[0])))

// Default returns the default Logger.
func Default() Logger {
	return std
}

func Info(format string, args ...interface{})  { std.Info(format, args...) }
func Warn(format string, args ...interface{})  { std.Warn(format, args...) }
func Error(format string, args ...interface{}) { std.Error(format, args...) }
func Debug(format string, args ...interface{}) { std.Debug(format, args...) }

// Fatal formats and emits an error message and os.Exit()'s with status 1.
func Fatal(format string, args ...interface{}) { std.Fatal(format, args...) }

// Panic formats and emits an error message, and panics with the same.
func Panic(format string, args ...interface{}) { std.Panic(format, args...) }

func InfoBlock(prefix, format string, args ...interface{})  { std.InfoBlock(prefix, format, args...) }
func WarnBlock(prefix, format string, args ...interface{})  { std.WarnBlock(prefix, format, args...) }
func ErrorBlock(prefix, format string, args ...interface{}) { std.ErrorBlock(prefix, format, args...) }
func DebugBlock(prefix, format string, args ...interface{}) { std.DebugBlock(prefix, format, args...) }
