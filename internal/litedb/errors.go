/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrOpen                  = errors.New("open failed")
	ErrPrepare               = errors.New("prepare failed")
	ErrBind                  = errors.New("bind failed")
	ErrStep                  = errors.New("step failed")
	ErrEncryptionUnsupported = errors.New("encryption unsupported")
	ErrMisuse                = errors.New("misuse")
)

// SQLite primary result codes used by this package.
const (
	CodeOK        = 0
	CodeError     = 1
	CodeBusy      = 5
	CodeLocked    = 6
	CodeInterrupt = 9
	CodeMisuse    = 21
	CodeRange     = 25
)

// Error is the failure type returned by Conn, Statement and Cursor operations.
type Error struct {
	Kind error  // one of the Err* kinds above
	Code int    // SQLite result code, possibly extended
	Msg  string // engine or layer message
	Err  error  // underlying cause, if any
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("litedb: %v (code %d)", e.Kind, e.Code)
	}
	return fmt.Sprintf("litedb: %v: %s (code %d)", e.Kind, e.Msg, e.Code)
}

// Unwrap exposes both the kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// PrimaryCode strips the extended bits from Code.
func (e *Error) PrimaryCode() int { return e.Code & 0xff }

func misuse(format string, args ...any) *Error {
	return &Error{Kind: ErrMisuse, Code: CodeMisuse, Msg: fmt.Sprintf(format, args...)}
}

// IsBusy reports whether err is a busy or locked condition.
func IsBusy(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	c := e.PrimaryCode()
	return c == CodeBusy || c == CodeLocked
}
