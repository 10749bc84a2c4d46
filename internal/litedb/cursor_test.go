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
	"errors"
	"testing"
	"time"
)

func TestTypedRoundTrip(t *testing.T) {
	c := openMem(t)
	mustExec(t, c, "CREATE TABLE v(i INTEGER, big INTEGER, r REAL, s TEXT, b BLOB, d REAL, dt DATETIME, flag INTEGER, n INTEGER)")
	at := time.Unix(1700000000, 123456789)
	blob := []byte{0, 1, 2, 0xff}
	mustExec(t, c, "INSERT INTO v VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)",
		int32(-7), int64(1)<<40, 2.5, "héllo", blob, at, at, true, nil)

	cur := mustQuery(t, c, "SELECT * FROM v")
	if !cur.Next() {
		t.Fatalf("no row: %v", cur.Err())
	}
	if cur.Int("i") != -7 || cur.Long("i") != -7 {
		t.Fatalf("int = %d", cur.Int("i"))
	}
	if cur.Int64("big") != 1<<40 {
		t.Fatalf("int64 = %d", cur.Int64("big"))
	}
	if cur.Float64("r") != 2.5 {
		t.Fatalf("float = %v", cur.Float64("r"))
	}
	if cur.String("s") != "héllo" {
		t.Fatalf("string = %q", cur.String("s"))
	}
	if !bytes.Equal(cur.Bytes("b"), blob) {
		t.Fatalf("blob = %v", cur.Bytes("b"))
	}
	if got := cur.Time("d"); !got.Equal(at) {
		t.Fatalf("time = %v, want %v", got, at)
	}
	if got := cur.Time("dt"); !got.Equal(at) {
		t.Fatalf("datetime column = %v, want %v", got, at)
	}
	if !cur.Bool("flag") {
		t.Fatalf("bool lost")
	}
	if !cur.IsNull("n") || cur.IsNull("i") {
		t.Fatalf("null detection wrong")
	}
	if cur.Int("n") != 0 || cur.String("n") != "" || cur.Bytes("n") != nil || !cur.Time("n").IsZero() || cur.Bool("n") {
		t.Fatalf("NULL should read as zero values")
	}
	if cur.StringAt(2) != "2.5" || cur.IntAt(0) != -7 || cur.Float64At(0) != -7 {
		t.Fatalf("by-index getters disagree")
	}
	if cur.Err() != nil || c.HadError() {
		t.Fatalf("unexpected error: %v", cur.Err())
	}
}

func TestColumnLookupIgnoresCase(t *testing.T) {
	c := openMem(t)
	cur := mustQuery(t, c, "SELECT 1 AS Id, 'x' AS FullName")
	if !cur.Next() {
		t.Fatalf("expected a row")
	}
	if cur.ColumnIndex("id") != 0 || cur.ColumnIndex("FULLNAME") != 1 || cur.ColumnIndex("nope") != -1 {
		t.Fatalf("case-insensitive lookup failed")
	}
	if cur.Int("ID") != 1 || cur.String("fullname") != "x" {
		t.Fatalf("getter by name failed")
	}
	if cur.ColumnCount() != 2 || cur.ColumnName(1) != "FullName" || !cur.HasColumn("fullNAME") {
		t.Fatalf("column metadata wrong: %v", cur.Columns())
	}
	if cur.Int("nope") != 0 || !cur.IsNull("nope") {
		t.Fatalf("absent column should read as NULL")
	}
	if cur.Err() != nil {
		t.Fatalf("absent column is not a misuse: %v", cur.Err())
	}
}

func TestExhaustedCursorIsMisuse(t *testing.T) {
	c := openMem(t)
	cur := mustQuery(t, c, "SELECT 1 AS id")
	_ = cur.Int("id")
	if !errors.Is(cur.Err(), ErrMisuse) {
		t.Fatalf("reading before Next: %v", cur.Err())
	}
	for cur.Next() {
	}
	if got := cur.Int("id"); got != 0 {
		t.Fatalf("exhausted cursor returned %d", got)
	}
	if !errors.Is(cur.Err(), ErrMisuse) || c.LastErrorCode() != CodeMisuse {
		t.Fatalf("misuse not recorded: %v", cur.Err())
	}
	if cur.Next() {
		t.Fatalf("Next after exhaustion returned true")
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := cur.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	_ = cur.StringAt(0)
	if !errors.Is(cur.Err(), ErrMisuse) {
		t.Fatalf("closed cursor read: %v", cur.Err())
	}
}

func TestBytesNoCopyView(t *testing.T) {
	c := openMem(t)
	mustExec(t, c, "CREATE TABLE b(v BLOB)")
	mustExec(t, c, "INSERT INTO b VALUES (?)", []byte("abc"))
	cur := mustQuery(t, c, "SELECT v FROM b")
	if !cur.Next() {
		t.Fatalf("expected a row")
	}
	cp := cur.Bytes("v")
	cp[0] = 'X'
	if view := cur.BytesNoCopy("v"); string(view) != "abc" {
		t.Fatalf("copy shares memory with the row: %q", view)
	}
	view := cur.BytesNoCopyAt(0)
	if &view[0] != &cur.BytesNoCopyAt(0)[0] {
		t.Fatalf("no-copy view was copied")
	}
}

func TestTextDatesAndCoercion(t *testing.T) {
	c := openMem(t)
	cur := mustQuery(t, c, "SELECT '2024-03-01 12:30:00' AS d, '12abc' AS n, 42 AS i, 2.0 AS r")
	if !cur.Next() {
		t.Fatalf("expected a row")
	}
	want := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	if !cur.Time("d").Equal(want) {
		t.Fatalf("text date = %v", cur.Time("d"))
	}
	if cur.Int("n") != 12 || cur.String("i") != "42" || cur.String("r") != "2.0" {
		t.Fatalf("coercion: %d %q %q", cur.Int("n"), cur.String("i"), cur.String("r"))
	}
}

func TestDateColumnTextReadsBackUnchanged(t *testing.T) {
	c := openMem(t)
	mustExec(t, c, "CREATE TABLE d(created DATETIME, stamped TIMESTAMP)")
	mustExec(t, c, "INSERT INTO d VALUES (?, ?)", "2024-01-02 03:04:05", "2024-01-02 03:04:05.25+02:00")
	cur := mustQuery(t, c, "SELECT created, stamped FROM d")
	if !cur.Next() {
		t.Fatalf("expected a row: %v", cur.Err())
	}
	if got := cur.String("created"); got != "2024-01-02 03:04:05" {
		t.Fatalf("created = %q", got)
	}
	if got := cur.String("stamped"); got != "2024-01-02 03:04:05.25+02:00" {
		t.Fatalf("stamped = %q", got)
	}
	if got := cur.Time("created"); !got.Equal(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)) {
		t.Fatalf("created as time = %v", got)
	}
	if got := cur.Time("stamped"); !got.Equal(time.Date(2024, 1, 2, 1, 4, 5, int(250*time.Millisecond), time.UTC)) {
		t.Fatalf("stamped as time = %v", got)
	}
}

func TestRowMapAndScanStruct(t *testing.T) {
	c := openMem(t)
	seed(t, c)
	cur := mustQuery(t, c, "SELECT id, name FROM t ORDER BY id")
	if cur.RowMap() != nil {
		t.Fatalf("row map before Next")
	}
	if !cur.Next() {
		t.Fatalf("expected a row")
	}
	m := cur.RowMap()
	if m["id"] != int64(1) || m["name"] != "a" {
		t.Fatalf("row map = %v", m)
	}
	var row struct {
		ID   int64  `db:"id"`
		Name string `db:"name"`
	}
	if err := cur.ScanStruct(&row); err != nil {
		t.Fatalf("scan struct: %v", err)
	}
	if row.ID != 1 || row.Name != "a" {
		t.Fatalf("struct = %+v", row)
	}
	drain(cur)
	if err := cur.ScanStruct(&row); !errors.Is(err, ErrMisuse) {
		t.Fatalf("scan after exhaustion: %v", err)
	}
	if cur.SQL() != "SELECT id, name FROM t ORDER BY id" {
		t.Fatalf("sql = %q", cur.SQL())
	}
}
