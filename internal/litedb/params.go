/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"database/sql"
	"database/sql/driver"
	"strconv"
	"time"
)

// placeholders describes the placeholders of one SQL text, numbered the way SQLite numbers them.
type placeholders struct {
	count int
	names []string // names[i] belongs to parameter i+1; "" for ? and ?NNN
}

// scanParams counts the parameters of query, skipping string literals, quoted
// identifiers and comments. Plain ? takes the next free index, ?NNN takes NNN and
// a repeated :name/@name/$name reuses its first index.
func scanParams(query string) placeholders {
	var (
		ph    placeholders
		named = map[string]int{}
	)
	setName := func(idx int, name string) {
		for len(ph.names) < idx {
			ph.names = append(ph.names, "")
		}
		if name != "" {
			ph.names[idx-1] = name
		}
		if idx > ph.count {
			ph.count = idx
		}
	}

	n := len(query)
	for i := 0; i < n; i++ {
		switch c := query[i]; c {
		case '\'', '"', '`':
			i = skipQuoted(query, i, c)
		case '[':
			for i++; i < n && query[i] != ']'; i++ {
			}
		case '-':
			if i+1 < n && query[i+1] == '-' {
				for i += 2; i < n && query[i] != '\n'; i++ {
				}
			}
		case '/':
			if i+1 < n && query[i+1] == '*' {
				i += 2
				for i+1 < n && !(query[i] == '*' && query[i+1] == '/') {
					i++
				}
				i++
			}
		case '?':
			j := i + 1
			for j < n && isDigit(query[j]) {
				j++
			}
			if j > i+1 {
				idx, err := strconv.Atoi(query[i+1 : j])
				if err == nil && idx > 0 {
					setName(idx, "")
				}
			} else {
				setName(ph.count+1, "")
			}
			i = j - 1
		case ':', '@', '$':
			j := i + 1
			for j < n && isIdentByte(query[j]) {
				j++
			}
			if j == i+1 {
				continue
			}
			name := query[i+1 : j]
			if _, seen := named[string(c)+name]; !seen {
				idx := ph.count + 1
				named[string(c)+name] = idx
				// $1-style names are matched by position.
				if !isLetter(name[0]) {
					name = ""
				}
				setName(idx, name)
			}
			i = j - 1
		}
	}
	return ph
}

func skipQuoted(s string, i int, quote byte) int {
	for j := i + 1; j < len(s); j++ {
		if s[j] != quote {
			continue
		}
		if j+1 < len(s) && s[j+1] == quote {
			j++
			continue
		}
		return j
	}
	return len(s) - 1
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isLetter(b byte) bool { return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80 }

func isIdentByte(b byte) bool {
	return b == '_' || isDigit(b) || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || b >= 0x80
}

// bindArgs checks args against the placeholders of query and converts them to the
// values handed to the driver. time.Time binds as text with nanoseconds and zone offset.
func bindArgs(query string, args []any) ([]any, *Error) {
	ph := scanParams(query)
	if len(args) != ph.count {
		return nil, &Error{
			Kind: ErrBind,
			Code: CodeRange,
			Msg:  "statement has " + strconv.Itoa(ph.count) + " placeholders, got " + strconv.Itoa(len(args)) + " arguments",
		}
	}
	out := make([]any, len(args))
	for i, a := range args {
		if t, ok := a.(time.Time); ok {
			a = t.Format(dateTextLayout)
		}
		v, err := driver.DefaultParameterConverter.ConvertValue(a)
		if err != nil {
			return nil, &Error{Kind: ErrBind, Code: CodeMisuse, Msg: "argument " + strconv.Itoa(i+1) + ": " + err.Error(), Err: err}
		}
		if i < len(ph.names) && ph.names[i] != "" {
			out[i] = sql.Named(ph.names[i], v)
			continue
		}
		out[i] = v
	}
	return out, nil
}
