/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"bytes"
	"math"
	"strconv"
	"strings"
	"time"
)

// Conversions below follow SQLite's own column accessors: NULL reads as the
// zero value and text is parsed as a number when a number is asked for.

func asInt64(v any) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case float64:
		return int64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		return parseIntText(x)
	case []byte:
		return parseIntText(string(x))
	case time.Time:
		return x.Unix()
	}
	return 0
}

// parseIntText reads the longest numeric prefix of s, like sqlite3_column_int64.
func parseIntText(s string) int64 {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return int64(f)
	}
	end := 0
	if end < len(s) && (s[end] == '-' || s[end] == '+') {
		end++
	}
	for end < len(s) && isDigit(s[end]) {
		end++
	}
	n, _ := strconv.ParseInt(s[:end], 10, 64)
	return n
}

func asFloat64(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	case string:
		return parseFloatText(x)
	case []byte:
		return parseFloatText(string(x))
	case time.Time:
		return unixSeconds(x)
	}
	return 0
}

func parseFloatText(s string) float64 {
	if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
		return f
	}
	return float64(parseIntText(s))
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatReal(x)
	case bool:
		if x {
			return "1"
		}
		return "0"
	case time.Time:
		return storedTimeText(x)
	}
	return ""
}

// storedTimeText renders a date the driver parsed out of a DATE, DATETIME or
// TIMESTAMP column back into SQLite's text layout. Fractional seconds and the
// zone offset appear only when the stored value carried them.
func storedTimeText(t time.Time) string {
	if t.Location() == time.UTC {
		return t.Format("2006-01-02 15:04:05.999999999")
	}
	return t.Format(dateTextLayout)
}

// formatReal renders whole floats with a trailing ".0", as SQLite does.
func formatReal(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// asBytes returns the value's bytes. With clone unset a []byte value is
// returned as is, sharing the cursor's row buffer.
func asBytes(v any, clone bool) []byte {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		if clone {
			return bytes.Clone(x)
		}
		return x
	case string:
		return []byte(x)
	}
	return []byte(asString(v))
}

// dateTextLayout is how time.Time arguments are stored.
const dateTextLayout = "2006-01-02 15:04:05.999999999-07:00"

// timeLayouts are tried in order when a date is stored as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	dateTextLayout,
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
}

// asTime reads a date stored as Unix seconds (integer or real) or as text.
func asTime(v any) time.Time {
	switch x := v.(type) {
	case time.Time:
		return x
	case int64:
		return time.Unix(x, 0)
	case float64:
		return fromUnixSeconds(x)
	case string:
		return parseTimeText(x)
	case []byte:
		return parseTimeText(string(x))
	}
	return time.Time{}
}

func parseTimeText(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return fromUnixSeconds(f)
	}
	return time.Time{}
}

func unixSeconds(t time.Time) float64 {
	return float64(t.Unix()) + float64(t.Nanosecond())/float64(time.Second)
}

func fromUnixSeconds(f float64) time.Time {
	sec := math.Floor(f)
	nsec := math.Round((f - sec) * float64(time.Second))
	return time.Unix(int64(sec), int64(nsec))
}
