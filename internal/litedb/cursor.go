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
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Cursor iterates the rows of one query. It borrows its Statement from the
// Conn's cache and hands it back when exhausted or closed.
//
// A Cursor must not be shared between goroutines.
type Cursor struct {
	conn     *Conn
	origin   *Statement
	stmt     *Statement // nil once released
	rows     *sqlx.Rows
	columns  []string
	resolver *columnResolver
	row      []any
	hasRow   bool
	done     bool
	closed   bool
	err      error
}

func newCursor(conn *Conn, st *Statement, rows *sqlx.Rows) *Cursor {
	cols, err := rows.Columns()
	if err != nil {
		conn.log.Debug("columns unavailable", slog.Any("err", err))
	}
	return &Cursor{conn: conn, origin: st, stmt: st, rows: rows, columns: cols}
}

// Next advances to the following row. It returns false at the end of the
// result or on error; the error is then available from Err and the Conn.
func (c *Cursor) Next() bool {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	c.row = nil
	c.hasRow = false
	if c.closed {
		c.err = c.conn.failLocked("next", misuse("cursor is closed"))
		return false
	}
	if c.done {
		return false
	}
	if !c.rows.Next() {
		c.done = true
		if err := c.rows.Err(); err != nil {
			c.err = c.conn.failLocked("next", c.conn.engineError(ErrStep, err))
		} else {
			c.conn.succeedLocked()
		}
		c.releaseLocked()
		return false
	}

	vals := make([]any, len(c.columns))
	ptrs := make([]any, len(vals))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	if err := c.rows.Scan(ptrs...); err != nil {
		c.done = true
		c.err = c.conn.failLocked("next", c.conn.engineError(ErrStep, err))
		c.releaseLocked()
		return false
	}
	c.row = vals
	c.hasRow = true
	c.conn.succeedLocked()
	return true
}

// HasAnotherRow reports the outcome of the last Next without advancing.
func (c *Cursor) HasAnotherRow() bool {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	return c.hasRow
}

// Close releases the statement and drops the row buffer. It is idempotent.
func (c *Cursor) Close() error {
	c.conn.mu.Lock()
	defer c.conn.mu.Unlock()
	c.closeLocked()
	return nil
}

func (c *Cursor) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	c.row = nil
	c.hasRow = false
	c.releaseLocked()
}

// releaseLocked closes the result set and gives the statement back to the cache.
func (c *Cursor) releaseLocked() {
	if c.stmt == nil {
		return
	}
	if err := c.rows.Close(); err != nil {
		c.conn.log.Debug("close rows", slog.Any("err", err))
	}
	st := c.stmt
	c.stmt = nil
	if st.cursor == c {
		st.cursor = nil
	}
	c.conn.cache.releaseLocked(st)
	delete(c.conn.cursors, c)
}

// Err is the most recent failure seen by the cursor.
func (c *Cursor) Err() error { return c.err }

// SQL is the text the cursor was produced from.
func (c *Cursor) SQL() string { return c.origin.query }

// Statement is the statement the cursor was produced from.
func (c *Cursor) Statement() *Statement { return c.origin }

// Columns returns the result column names in order.
func (c *Cursor) Columns() []string { return append([]string(nil), c.columns...) }

// ColumnCount is the number of result columns.
func (c *Cursor) ColumnCount() int { return len(c.columns) }

// ColumnIndex finds a column by name, ignoring case. It returns -1 when there is none.
func (c *Cursor) ColumnIndex(name string) int {
	if c.resolver == nil {
		c.resolver = newColumnResolver(c.columns)
	}
	return c.resolver.indexOf(name)
}

// HasColumn reports whether the result has a column called name, ignoring case.
func (c *Cursor) HasColumn(name string) bool { return c.ColumnIndex(name) >= 0 }

// ColumnName returns the name of column i, or "" when i is out of range.
func (c *Cursor) ColumnName(i int) string {
	if c.resolver == nil {
		c.resolver = newColumnResolver(c.columns)
	}
	return c.resolver.nameAt(i)
}

// checkRow reports a misuse unless the cursor is positioned on a row.
func (c *Cursor) checkRow(op string) bool {
	var e *Error
	switch {
	case c.closed:
		e = misuse("cursor is closed")
	case c.done:
		e = misuse("cursor is exhausted")
	case !c.hasRow:
		e = misuse("no current row; call Next first")
	}
	if e != nil {
		c.err = c.conn.report(op, e)
		return false
	}
	return true
}

// value returns the raw value of column i in the current row. Reading a
// closed or exhausted cursor is a misuse; a missing column is just absent.
func (c *Cursor) value(i int) (any, bool) {
	if !c.checkRow("column") {
		return nil, false
	}
	if i < 0 || i >= len(c.row) {
		return nil, false
	}
	return c.row[i], true
}

func (c *Cursor) named(name string) (any, bool) {
	i := c.ColumnIndex(name)
	if i < 0 && !c.closed && !c.done {
		c.conn.log.Warn("no such column in result", slog.String("column", name), slog.String("sql", c.origin.query))
	}
	return c.value(i)
}

// IsNullAt reports whether column i holds NULL. Absent columns count as NULL.
func (c *Cursor) IsNullAt(i int) bool {
	v, _ := c.value(i)
	return v == nil
}

// IsNull is IsNullAt for the named column.
func (c *Cursor) IsNull(name string) bool {
	v, _ := c.named(name)
	return v == nil
}

// IntAt reads column i as a 32-bit integer, truncating like sqlite3_column_int.
func (c *Cursor) IntAt(i int) int32 {
	v, _ := c.value(i)
	return int32(asInt64(v))
}

// Int is IntAt for the named column.
func (c *Cursor) Int(name string) int32 {
	v, _ := c.named(name)
	return int32(asInt64(v))
}

// LongAt reads column i as a platform-sized int.
func (c *Cursor) LongAt(i int) int {
	v, _ := c.value(i)
	return int(asInt64(v))
}

// Long is LongAt for the named column.
func (c *Cursor) Long(name string) int {
	v, _ := c.named(name)
	return int(asInt64(v))
}

// Int64At reads column i as a 64-bit integer.
func (c *Cursor) Int64At(i int) int64 {
	v, _ := c.value(i)
	return asInt64(v)
}

// Int64 is Int64At for the named column.
func (c *Cursor) Int64(name string) int64 {
	v, _ := c.named(name)
	return asInt64(v)
}

// BoolAt is true when column i reads as a non-zero integer.
func (c *Cursor) BoolAt(i int) bool {
	v, _ := c.value(i)
	return asInt64(v) != 0
}

// Bool is BoolAt for the named column.
func (c *Cursor) Bool(name string) bool {
	v, _ := c.named(name)
	return asInt64(v) != 0
}

// Float64At reads column i as a double.
func (c *Cursor) Float64At(i int) float64 {
	v, _ := c.value(i)
	return asFloat64(v)
}

// Float64 is Float64At for the named column.
func (c *Cursor) Float64(name string) float64 {
	v, _ := c.named(name)
	return asFloat64(v)
}

// StringAt reads column i as text. Numbers are rendered the way SQLite renders them.
func (c *Cursor) StringAt(i int) string {
	v, _ := c.value(i)
	return asString(v)
}

// String is StringAt for the named column.
func (c *Cursor) String(name string) string {
	v, _ := c.named(name)
	return asString(v)
}

// TimeAt reads column i as a date. Numbers are Unix seconds; text is parsed
// in the common SQLite and RFC 3339 layouts. NULL reads as the zero Time.
func (c *Cursor) TimeAt(i int) time.Time {
	v, _ := c.value(i)
	return asTime(v)
}

// Time is TimeAt for the named column.
func (c *Cursor) Time(name string) time.Time {
	v, _ := c.named(name)
	return asTime(v)
}

// BytesAt returns a copy of column i.
func (c *Cursor) BytesAt(i int) []byte {
	v, _ := c.value(i)
	return asBytes(v, true)
}

// Bytes is BytesAt for the named column.
func (c *Cursor) Bytes(name string) []byte {
	v, _ := c.named(name)
	return asBytes(v, true)
}

// BytesNoCopyAt returns column i without copying. The slice is only valid
// until the next call to Next or Close and must not be modified.
func (c *Cursor) BytesNoCopyAt(i int) []byte {
	v, _ := c.value(i)
	return asBytes(v, false)
}

// BytesNoCopy is BytesNoCopyAt for the named column.
func (c *Cursor) BytesNoCopy(name string) []byte {
	v, _ := c.named(name)
	return asBytes(v, false)
}

// RowMap returns the current row keyed by column name. Blob values are copied.
func (c *Cursor) RowMap() map[string]any {
	if !c.checkRow("row") {
		return nil
	}
	m := make(map[string]any, len(c.columns))
	for i, name := range c.columns {
		v := c.row[i]
		if b, ok := v.([]byte); ok {
			v = bytes.Clone(b)
		}
		m[name] = v
	}
	return m
}

// ScanStruct fills dest, a pointer to a struct, from the current row using
// db struct tags. Every result column needs a matching field.
func (c *Cursor) ScanStruct(dest any) error {
	if !c.checkRow("scan") {
		return c.err
	}
	if err := c.rows.StructScan(dest); err != nil {
		e := &Error{Kind: ErrStep, Code: CodeMisuse, Msg: err.Error(), Err: err}
		c.err = c.conn.report("scan", e)
		return e
	}
	return nil
}
