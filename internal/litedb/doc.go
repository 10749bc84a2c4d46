/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package litedb is a single-connection access layer over an embedded SQLite engine.
//
// A Conn owns one engine handle and a StatementCache of compiled statements keyed by
// their trimmed SQL text. ExecuteQuery hands out a forward-only Cursor with typed,
// case-insensitive column accessors; closing the cursor returns its statement to the
// cache. Failures are returned as *Error values and also recorded on the Conn, so the
// most recent outcome can be inspected with LastErrorCode/LastErrorMessage/HadError.
//
// All Conn operations are synchronous and serialized by the Conn's mutex. Locked or
// busy stores are retried with backoff until BusyRetryTimeout elapses.
package litedb
