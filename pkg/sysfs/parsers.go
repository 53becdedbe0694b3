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

package sysfs

import (
	"errors"
	"io/ioutil"
	"strconv"
	"strings"
)

// byte-unit multipliers sysfs files like meminfo express sizes with.
const (
	unitKi = int64(1) << 10
	unitMi = int64(1) << 20
	unitGi = int64(1) << 30
	unitTi = int64(1) << 40
)

var byteUnits = map[string]int64{
	"k": unitKi, "kB": unitKi,
	"M": unitMi, "MB": unitMi,
	"G": unitGi, "GB": unitGi,
	"T": unitTi, "TB": unitTi,
}

// PickEntryFn splits a single input line into a key and a value, or returns
// ErrSkip to have ParseFileEntries ignore the line.
type PickEntryFn func(string) (string, string, error)

// ErrSkip tells ParseFileEntries to move on without consuming a line.
var ErrSkip = errors.New("skip parsing this entry")

// splitNumericAndUnit splits a value like "131072 kB" into its numeric part
// and the multiplier its unit suffix stands for.
func splitNumericAndUnit(path, value string) (string, int64, error) {
	fields := strings.Fields(value)

	switch len(fields) {
	case 1:
		return fields[0], 1, nil
	case 2:
		unit, ok := byteUnits[fields[1]]
		if !ok {
			return "", -1, sysfsError(path, "invalid unit %q in value %q", fields[1], value)
		}
		return fields[0], unit, nil
	default:
		return "", -1, sysfsError(path, "invalid numeric value %q", value)
	}
}

// parseNumeric parses value (optionally unit-suffixed) into whatever
// numeric type ptr points at.
func parseNumeric(path, value string, ptr interface{}) error {
	numstr, unit, err := splitNumericAndUnit(path, value)
	if err != nil {
		return err
	}

	switch p := ptr.(type) {
	case *int:
		n, err := strconv.ParseInt(numstr, 0, strconv.IntSize)
		*p = int(n * unit)
		return err
	case *int8:
		n, err := strconv.ParseInt(numstr, 0, 8)
		*p = int8(n * unit)
		return err
	case *int16:
		n, err := strconv.ParseInt(numstr, 0, 16)
		*p = int16(n * unit)
		return err
	case *int32:
		n, err := strconv.ParseInt(numstr, 0, 32)
		*p = int32(n * unit)
		return err
	case *int64:
		n, err := strconv.ParseInt(numstr, 0, 64)
		*p = n * unit
		return err
	case *uint:
		n, err := strconv.ParseInt(numstr, 0, strconv.IntSize)
		*p = uint(n * unit)
		return err
	case *uint8:
		n, err := strconv.ParseInt(numstr, 0, 8)
		*p = uint8(n * unit)
		return err
	case *uint16:
		n, err := strconv.ParseInt(numstr, 0, 16)
		*p = uint16(n * unit)
		return err
	case *uint32:
		n, err := strconv.ParseInt(numstr, 0, 32)
		*p = uint32(n * unit)
		return err
	case *uint64:
		n, err := strconv.ParseInt(numstr, 0, 64)
		*p = uint64(n * unit)
		return err
	case *float32:
		f, err := strconv.ParseFloat(numstr, 32)
		*p = float32(f) * float32(unit)
		return err
	case *float64:
		f, err := strconv.ParseFloat(numstr, 64)
		*p = f * float64(unit)
		return err
	default:
		return sysfsError(path, "can't parse numeric value %q into %T", value, ptr)
	}
}

// ParseFileEntries reads path line by line, splits each with pickFn, and
// stores the value for every key present in values into its destination
// pointer, stopping once every requested key has been found.
func ParseFileEntries(path string, values map[string]interface{}, pickFn PickEntryFn) error {
	data, err := ioutil.ReadFile(path)
	if err != nil {
		return sysfsError(path, "failed to read file: %v", err)
	}

	remaining := len(values)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, err := pickFn(line)
		switch {
		case err == ErrSkip:
			continue
		case err != nil:
			return err
		}

		ptr, ok := values[key]
		if !ok {
			continue
		}

		switch v := ptr.(type) {
		case *int, *int8, *int32, *int16, *int64, *uint, *uint8, *uint16, *uint32, *uint64, *float32, *float64:
			if err := parseNumeric(path, value, ptr); err != nil {
				return err
			}
		case *string:
			*v = value
		case *bool:
			b, err := strconv.ParseBool(value)
			if err != nil {
				return sysfsError(path, "failed to parse line %q, value %q for boolean key %q", line, value, key)
			}
			*v = b
		default:
			return sysfsError(path, "don't know how to parse key %q of type %T", key, ptr)
		}

		remaining--
		if remaining == 0 {
			break
		}
	}

	return nil
}
