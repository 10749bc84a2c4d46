/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"context"
	"log/slog"
	"strings"

	"github.com/jmoiron/sqlx"
)

// Statement is one compiled SQL text owned by a Conn's StatementCache.
// The conn field is a back-reference; the statement never closes its Conn.
type Statement struct {
	conn     *Conn
	stmt     *sqlx.Stmt
	query    string
	useCount int64
	inUse    bool
	cached   bool
	closed   bool
	cursor   *Cursor // cursor currently driving the statement
}

// SQL returns the normalized text the statement was compiled from.
func (s *Statement) SQL() string { return s.query }

// UseCount is the number of times the statement has been handed out.
func (s *Statement) UseCount() int64 {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.useCount
}

// InUse reports whether an execution or an open cursor currently holds the statement.
func (s *Statement) InUse() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.inUse
}

// Closed reports whether the statement has been finalized.
func (s *Statement) Closed() bool {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	return s.closed
}

// Reset abandons the cursor driving s, if any, so the statement can be executed again.
func (s *Statement) Reset() {
	s.conn.mu.Lock()
	defer s.conn.mu.Unlock()
	if s.cursor != nil {
		s.cursor.closeLocked()
	}
}

// finalize closes the compiled handle. Only the first call does anything.
func (s *Statement) finalize() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.inUse = false
	return s.stmt.Close()
}

// StatementCache maps normalized SQL text to a reusable Statement.
// Its methods lock the owning Conn.
type StatementCache struct {
	conn    *Conn
	enabled bool
	entries map[string]*Statement
	log     *slog.Logger
}

func newStatementCache(conn *Conn, enabled bool, log *slog.Logger) *StatementCache {
	return &StatementCache{conn: conn, enabled: enabled, entries: make(map[string]*Statement), log: log}
}

// normalizeSQL is the cache key function: surrounding whitespace trimmed, case kept.
func normalizeSQL(query string) string { return strings.TrimSpace(query) }

// Acquire returns an idle cached statement for query or compiles a new one.
// The caller must hand it back with Release.
func (c *StatementCache) Acquire(ctx context.Context, query string) (*Statement, error) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	if err := c.conn.checkOpenLocked(); err != nil {
		return nil, err
	}
	return c.acquireLocked(ctx, query)
}

// Release returns st to the cache, or finalizes it when it is not the cached entry.
func (c *StatementCache) Release(st *Statement) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	c.releaseLocked(st)
}

// Clear finalizes every cached statement and empties the cache.
func (c *StatementCache) Clear() {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	c.clearLocked()
}

// Len is the number of cached statements.
func (c *StatementCache) Len() int {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	return len(c.entries)
}

// Lookup returns the cached statement for query, if any, without acquiring it.
func (c *StatementCache) Lookup(query string) (*Statement, bool) {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	st, ok := c.entries[normalizeSQL(query)]
	return st, ok
}

func (c *StatementCache) acquireLocked(ctx context.Context, query string) (*Statement, error) {
	key := normalizeSQL(query)
	if key == "" {
		return nil, &Error{Kind: ErrPrepare, Code: CodeMisuse, Msg: "empty statement"}
	}
	if c.enabled {
		if st, ok := c.entries[key]; ok && !st.inUse && !st.closed {
			st.inUse = true
			st.useCount++
			return st, nil
		}
	}

	var stmt *sqlx.Stmt
	err := c.conn.retryBusyLocked(ctx, func() error {
		var err error
		stmt, err = c.conn.sqlConn.PreparexContext(ctx, key)
		return err
	})
	if err != nil {
		return nil, c.conn.engineError(ErrPrepare, err)
	}

	st := &Statement{conn: c.conn, stmt: stmt, query: key, useCount: 1, inUse: true}
	if c.enabled {
		if cur, taken := c.entries[key]; !taken || cur.closed {
			st.cached = true
			c.entries[key] = st
		}
	}
	c.log.Debug("statement compiled", slog.String("sql", key), slog.Bool("cached", st.cached))
	return st, nil
}

func (c *StatementCache) releaseLocked(st *Statement) {
	if st == nil || st.closed {
		return
	}
	st.cursor = nil
	st.inUse = false
	if st.cached && c.enabled {
		return
	}
	c.finalizeLocked(st)
}

// evictLocked drops st from the cache and finalizes it.
func (c *StatementCache) evictLocked(st *Statement) {
	if cur, ok := c.entries[st.query]; ok && cur == st {
		delete(c.entries, st.query)
	}
	st.cached = false
	c.finalizeLocked(st)
}

func (c *StatementCache) finalizeLocked(st *Statement) {
	if err := st.finalize(); err != nil {
		c.log.Warn("finalize statement failed", slog.String("sql", st.query), slog.Any("err", err))
	}
}

// clearLocked empties the cache. Statements still driving a cursor are detached and
// finalized when that cursor releases them.
func (c *StatementCache) clearLocked() {
	for key, st := range c.entries {
		delete(c.entries, key)
		st.cached = false
		if st.inUse {
			continue
		}
		c.finalizeLocked(st)
	}
}

func (c *StatementCache) setEnabledLocked(on bool) {
	c.enabled = on
	if !on {
		c.clearLocked()
	}
}
