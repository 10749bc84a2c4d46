/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"log/slog"
	"time"
)

// DefaultBusyRetryTimeout bounds how long a busy or locked store is retried.
const DefaultBusyRetryTimeout = 5 * time.Second

// Option configures a Conn at open time.
type Option func(*settings)

type settings struct {
	engine           string
	cacheStatements  bool
	busyRetryTimeout time.Duration
	logErrors        bool
	crashOnErrors    bool
	traceExecution   bool
	journalMode      string
	foreignKeys      *bool
	logger           *slog.Logger
}

func defaultSettings() settings {
	return settings{
		engine:           DefaultEngine,
		cacheStatements:  true,
		busyRetryTimeout: DefaultBusyRetryTimeout,
	}
}

// WithEngine selects the SQLite build by name; see Engines.
func WithEngine(name string) Option { return func(s *settings) { s.engine = name } }

// WithStatementCache turns statement caching on or off (default on).
func WithStatementCache(on bool) Option { return func(s *settings) { s.cacheStatements = on } }

// WithBusyRetryTimeout sets how long busy/locked results are retried. Zero disables retries.
func WithBusyRetryTimeout(d time.Duration) Option {
	return func(s *settings) { s.busyRetryTimeout = d }
}

// WithLogErrors logs every failed operation at error level.
func WithLogErrors(on bool) Option { return func(s *settings) { s.logErrors = on } }

// WithCrashOnErrors aborts the process on the first failed operation. Development aid.
func WithCrashOnErrors(on bool) Option { return func(s *settings) { s.crashOnErrors = on } }

// WithTraceExecution logs every statement before it runs.
func WithTraceExecution(on bool) Option { return func(s *settings) { s.traceExecution = on } }

// WithJournalMode issues PRAGMA journal_mode after opening, e.g. "wal".
func WithJournalMode(mode string) Option { return func(s *settings) { s.journalMode = mode } }

// WithForeignKeys sets PRAGMA foreign_keys after opening.
func WithForeignKeys(on bool) Option { return func(s *settings) { s.foreignKeys = &on } }

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option { return func(s *settings) { s.logger = l } }
