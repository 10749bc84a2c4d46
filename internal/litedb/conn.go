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
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"litedb/internal/crash"
	applog "litedb/internal/log"
)

// maxBusyBackoff caps the sleep between two busy retries.
const maxBusyBackoff = 50 * time.Millisecond

// Conn is one open connection to a single SQLite store.
//
// All operations, including those on the Conn's statements and cursors,
// are serialized by mu. Methods with a Locked suffix expect mu to be held.
type Conn struct {
	mu sync.Mutex

	id      string
	path    string
	flags   OpenFlags
	engine  *engine
	db      *sqlx.DB
	sqlConn *sqlx.Conn
	cache   *StatementCache
	cursors map[*Cursor]struct{}
	log     *slog.Logger

	open          bool
	inTransaction bool
	inUse         atomic.Bool
	busyTimeout   time.Duration
	lastErr       *Error
	changes       int64
	lastInsertID  int64
	codec         *bool

	logErrors      bool
	crashOnErrors  bool
	traceExecution bool
	abort          func(error)
}

// Open opens (creating if needed) the store at path for reading and writing.
// Use MemoryPath for an in-memory store and TempPath for a temporary one.
func Open(ctx context.Context, path string, opts ...Option) (*Conn, error) {
	return OpenWithFlags(ctx, path, DefaultOpenFlags, opts...)
}

// OpenWithFlags opens the store at path in the mode described by flags.
func OpenWithFlags(ctx context.Context, path string, flags OpenFlags, opts ...Option) (*Conn, error) {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	base := s.logger
	if base == nil {
		base = applog.WithComponent("litedb")
	}
	id := uuid.NewString()
	base = base.With(slog.String("conn", id), slog.String("path", path))
	l := applog.WithOperation(base, "open")

	eng, err := lookupEngine(s.engine)
	if err != nil {
		return nil, openError(l, &Error{Kind: ErrOpen, Code: CodeError, Msg: err.Error(), Err: err})
	}
	dsn, err := buildDSN(path, flags)
	if err != nil {
		return nil, openError(l, &Error{Kind: ErrOpen, Code: CodeMisuse, Msg: err.Error(), Err: err})
	}
	db, err := sqlx.Open(eng.driverName, dsn)
	if err != nil {
		return nil, openError(l, &Error{Kind: ErrOpen, Code: CodeError, Msg: err.Error(), Err: err})
	}
	// One engine connection per Conn.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	sc, err := db.Connx(ctx)
	if err != nil {
		_ = db.Close()
		return nil, openError(l, classifyOpen(eng, err))
	}

	c := &Conn{
		id:             id,
		path:           path,
		flags:          flags,
		engine:         eng,
		db:             db,
		sqlConn:        sc,
		cursors:        make(map[*Cursor]struct{}),
		log:            base,
		open:           true,
		busyTimeout:    s.busyRetryTimeout,
		logErrors:      s.logErrors,
		crashOnErrors:  s.crashOnErrors,
		traceExecution: s.traceExecution,
		abort:          crash.Abort,
	}
	c.cache = newStatementCache(c, s.cacheStatements, base)

	// Busy handling is done here, with context awareness, instead of inside the engine.
	pragmas := []string{"PRAGMA busy_timeout = 0"}
	if s.journalMode != "" {
		pragmas = append(pragmas, "PRAGMA journal_mode = "+s.journalMode)
	}
	if s.foreignKeys != nil {
		pragmas = append(pragmas, fmt.Sprintf("PRAGMA foreign_keys = %t", *s.foreignKeys))
	}
	for _, p := range pragmas {
		if _, err := sc.ExecContext(ctx, p); err != nil {
			_ = sc.Close()
			_ = db.Close()
			return nil, openError(l, classifyOpen(eng, err))
		}
	}

	l.Info("opened", slog.String("engine", eng.name), slog.Bool("cache", s.cacheStatements))
	return c, nil
}

func classifyOpen(eng *engine, err error) *Error {
	if code, msg, ok := eng.errorCode(err); ok {
		return &Error{Kind: ErrOpen, Code: code, Msg: msg, Err: err}
	}
	return &Error{Kind: ErrOpen, Code: CodeError, Msg: err.Error(), Err: err}
}

func openError(l *slog.Logger, e *Error) *Error {
	l.Error("open failed", slog.Int("code", e.Code), slog.Any("err", e))
	return e
}

// Close closes every open cursor, finalizes all statements and releases the
// engine handle. Calling Close more than once is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return nil
	}
	for cur := range c.cursors {
		cur.closeLocked()
	}
	c.cache.clearLocked()
	c.open = false
	c.inTransaction = false

	var errs []error
	if err := c.sqlConn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		errs = append(errs, err)
	}
	if err := c.db.Close(); err != nil {
		errs = append(errs, err)
	}
	l := applog.WithOperation(c.log, "close")
	if err := errors.Join(errs...); err != nil {
		l.Warn("close failed", slog.Any("err", err))
		return fmt.Errorf("litedb: close: %w", err)
	}
	l.Info("closed")
	return nil
}

// ExecuteUpdate runs a statement that returns no rows, such as INSERT or CREATE.
// args bind to the statement's placeholders in order.
func (c *Conn) ExecuteUpdate(ctx context.Context, query string, args ...any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execLocked(ctx, "exec", query, args, true)
}

func (c *Conn) execLocked(ctx context.Context, op, query string, args []any, track bool) error {
	if err := c.checkOpenLocked(); err != nil {
		return c.failLocked(op, err)
	}
	bound, berr := bindArgs(query, args)
	if berr != nil {
		return c.failLocked(op, berr)
	}
	c.traceLocked(op, query, len(args))

	st, err := c.cache.acquireLocked(ctx, query)
	if err != nil {
		return c.failLocked(op, err)
	}
	var res sql.Result
	err = c.retryBusyLocked(ctx, func() error {
		var err error
		res, err = st.stmt.ExecContext(ctx, bound...)
		return err
	})
	if err != nil {
		e := c.engineError(ErrStep, err)
		c.dropLocked(st, e)
		return c.failLocked(op, e)
	}
	c.cache.releaseLocked(st)

	if track {
		if n, err := res.RowsAffected(); err == nil {
			c.changes = n
		}
		if id, err := res.LastInsertId(); err == nil {
			c.lastInsertID = id
		}
	}
	c.succeedLocked()
	return nil
}

// ExecuteQuery runs a statement that returns rows. The returned Cursor holds
// the statement until it is exhausted or closed. ctx stays attached to the
// cursor: cancelling it ends iteration.
func (c *Conn) ExecuteQuery(ctx context.Context, query string, args ...any) (*Cursor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return nil, c.failLocked("query", err)
	}
	bound, berr := bindArgs(query, args)
	if berr != nil {
		return nil, c.failLocked("query", berr)
	}
	c.traceLocked("query", query, len(args))

	st, err := c.cache.acquireLocked(ctx, query)
	if err != nil {
		return nil, c.failLocked("query", err)
	}
	var rows *sqlx.Rows
	err = c.retryBusyLocked(ctx, func() error {
		var err error
		rows, err = st.stmt.QueryxContext(ctx, bound...)
		return err
	})
	if err != nil {
		e := c.engineError(ErrStep, err)
		c.dropLocked(st, e)
		return nil, c.failLocked("query", e)
	}

	cur := newCursor(c, st, rows)
	st.cursor = cur
	c.cursors[cur] = struct{}{}
	c.succeedLocked()
	return cur, nil
}

// ExecuteStatements runs a script of semicolon-separated statements that take
// no arguments, such as a schema file. The script bypasses the statement cache
// and is not retried when busy, since earlier statements may already have run.
func (c *Conn) ExecuteStatements(ctx context.Context, script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return c.failLocked("batch", err)
	}
	if strings.TrimSpace(script) == "" {
		c.succeedLocked()
		return nil
	}
	c.traceLocked("batch", script, 0)
	res, err := c.sqlConn.ExecContext(ctx, script)
	if err != nil {
		return c.failLocked("batch", c.engineError(ErrStep, err))
	}
	if n, err := res.RowsAffected(); err == nil {
		c.changes = n
	}
	c.succeedLocked()
	return nil
}

// dropLocked hands st back after a failed execution. Statements that failed
// to compile are evicted so the next call recompiles.
func (c *Conn) dropLocked(st *Statement, e *Error) {
	if errors.Is(e, ErrPrepare) {
		c.cache.evictLocked(st)
		return
	}
	c.cache.releaseLocked(st)
}

// GoodConnection reports whether the store answers a trivial schema query.
func (c *Conn) GoodConnection(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	rows, err := c.sqlConn.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table'")
	if err != nil {
		c.log.Debug("connection probe failed", slog.Any("err", err))
		return false
	}
	for rows.Next() {
	}
	err = rows.Err()
	_ = rows.Close()
	return err == nil
}

// EngineVersion returns the SQLite library version, e.g. "3.50.4".
func (c *Conn) EngineVersion(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return "", c.failLocked("version", err)
	}
	var v string
	if err := c.sqlConn.QueryRowxContext(ctx, "SELECT sqlite_version()").Scan(&v); err != nil {
		return "", c.failLocked("version", c.engineError(ErrStep, err))
	}
	return v, nil
}

// ID is the connection identifier used in log records.
func (c *Conn) ID() string { return c.id }

// Path is the path the Conn was opened with.
func (c *Conn) Path() string { return c.path }

// Flags are the flags the Conn was opened with.
func (c *Conn) Flags() OpenFlags { return c.flags }

// Engine is the name of the SQLite build behind the Conn.
func (c *Conn) Engine() string { return c.engine.name }

// IsOpen reports whether Close has not been called yet.
func (c *Conn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Changes is the number of rows modified by the most recent ExecuteUpdate.
func (c *Conn) Changes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changes
}

// LastInsertRowID is the rowid of the most recent successful INSERT.
func (c *Conn) LastInsertRowID() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastInsertID
}

// Cache exposes the Conn's statement cache.
func (c *Conn) Cache() *StatementCache { return c.cache }

// CacheStatements reports whether compiled statements are kept for reuse.
func (c *Conn) CacheStatements() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cache.enabled
}

// SetCacheStatements turns statement caching on or off. Turning it off clears the cache.
func (c *Conn) SetCacheStatements(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.setEnabledLocked(on)
}

// ClearCachedStatements finalizes every idle cached statement.
func (c *Conn) ClearCachedStatements() { c.cache.Clear() }

// BusyRetryTimeout is how long busy or locked results are retried.
func (c *Conn) BusyRetryTimeout() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busyTimeout
}

// SetBusyRetryTimeout changes the retry window. Operations already running keep the old value.
func (c *Conn) SetBusyRetryTimeout(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busyTimeout = d
}

// InUse is a cooperative checkout flag for callers sharing a Conn. The Conn never checks it.
func (c *Conn) InUse() bool { return c.inUse.Load() }

// SetInUse sets the checkout flag.
func (c *Conn) SetInUse(v bool) { c.inUse.Store(v) }

// LogErrors reports whether failures are logged at error level.
func (c *Conn) LogErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logErrors
}

// SetLogErrors turns error logging of failed operations on or off.
func (c *Conn) SetLogErrors(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logErrors = on
}

// CrashOnErrors reports whether a failed operation aborts the process.
func (c *Conn) CrashOnErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.crashOnErrors
}

// SetCrashOnErrors makes every failed operation abort the process.
func (c *Conn) SetCrashOnErrors(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.crashOnErrors = on
}

// TraceExecution reports whether every statement is logged before it runs.
func (c *Conn) TraceExecution() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.traceExecution
}

// SetTraceExecution turns statement tracing on or off.
func (c *Conn) SetTraceExecution(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.traceExecution = on
}

// LastError is the failure of the most recent operation, or nil if it succeeded.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return nil
	}
	return c.lastErr
}

// LastErrorCode is the result code of the most recent operation (CodeOK after success).
func (c *Conn) LastErrorCode() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return CodeOK
	}
	return c.lastErr.Code
}

// LastErrorMessage describes the most recent failure, or "not an error".
func (c *Conn) LastErrorMessage() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lastErr == nil {
		return "not an error"
	}
	if c.lastErr.Msg == "" {
		return c.lastErr.Kind.Error()
	}
	return c.lastErr.Msg
}

// HadError reports whether the most recent operation failed.
func (c *Conn) HadError() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr != nil
}

func (c *Conn) checkOpenLocked() error {
	if !c.open {
		return misuse("connection is closed")
	}
	return nil
}

func (c *Conn) succeedLocked() { c.lastErr = nil }

// failLocked records err as the outcome of the current operation and applies
// the error switches. It returns the recorded *Error.
func (c *Conn) failLocked(op string, err error) error {
	e := asError(err)
	c.lastErr = e
	if c.logErrors {
		applog.WithOperation(c.log, op).Error("operation failed",
			slog.Int("code", e.Code), slog.String("kind", e.Kind.Error()), slog.String("msg", e.Msg))
	}
	if c.crashOnErrors {
		c.abort(e)
	}
	return e
}

// report records a failure raised outside a locked operation.
func (c *Conn) report(op string, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failLocked(op, err)
}

func (c *Conn) traceLocked(op, query string, nargs int) {
	if !c.traceExecution {
		return
	}
	applog.WithOperation(c.log, op).Info("trace", slog.String("sql", query), slog.Int("args", nargs))
}

func asError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: ErrStep, Code: CodeError, Msg: err.Error(), Err: err}
}

// compileFailures are engine messages that mean the text never compiled.
// The pure-Go engine compiles lazily, so they surface on execution.
var compileFailures = []string{
	"syntax error",
	"incomplete input",
	"unrecognized token",
	"no such table",
	"no such column",
	"no such function",
	"has no column named",
	"ambiguous column name",
}

// engineError converts a driver error into an *Error of the given kind,
// keeping the engine result code when there is one.
func (c *Conn) engineError(kind error, err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	if code, msg, ok := c.engine.errorCode(err); ok {
		if kind == ErrStep && code&0xff == CodeError && isCompileFailure(msg) {
			kind = ErrPrepare
		}
		return &Error{Kind: kind, Code: code, Msg: msg, Err: err}
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: kind, Code: CodeInterrupt, Msg: err.Error(), Err: err}
	case errors.Is(err, sql.ErrConnDone):
		return &Error{Kind: ErrMisuse, Code: CodeMisuse, Msg: err.Error(), Err: err}
	}
	// Driver-side argument errors, e.g. "missing named argument".
	if strings.Contains(err.Error(), "argument") {
		return &Error{Kind: ErrBind, Code: CodeRange, Msg: err.Error(), Err: err}
	}
	return &Error{Kind: kind, Code: CodeError, Msg: err.Error(), Err: err}
}

func isCompileFailure(msg string) bool {
	for _, s := range compileFailures {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (c *Conn) isBusy(err error) bool {
	code, _, ok := c.engine.errorCode(err)
	if !ok {
		return false
	}
	p := code & 0xff
	return p == CodeBusy || p == CodeLocked
}

// retryBusyLocked runs fn until it stops failing with busy/locked, the busy
// retry timeout elapses or ctx is done. The timeout is read once, up front.
func (c *Conn) retryBusyLocked(ctx context.Context, fn func() error) error {
	timeout := c.busyTimeout
	delay := time.Millisecond
	var deadline time.Time
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil || !c.isBusy(err) {
			return err
		}
		if attempt == 1 {
			deadline = time.Now().Add(timeout)
		}
		remaining := time.Until(deadline)
		if timeout <= 0 || remaining <= 0 {
			c.log.Debug("busy retry gave up", slog.Int("attempts", attempt), slog.Duration("timeout", timeout))
			return err
		}
		t := time.NewTimer(min(delay, remaining))
		select {
		case <-ctx.Done():
			t.Stop()
			return err
		case <-t.C:
		}
		delay = min(delay*2, maxBusyBackoff)
	}
}
