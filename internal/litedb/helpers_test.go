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
	"testing"

	applog "litedb/internal/log"
)

func openMem(t *testing.T, opts ...Option) *Conn {
	t.Helper()
	opts = append([]Option{WithLogger(applog.Discard())}, opts...)
	c, err := Open(context.Background(), MemoryPath, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func mustExec(t *testing.T, c *Conn, query string, args ...any) {
	t.Helper()
	if err := c.ExecuteUpdate(context.Background(), query, args...); err != nil {
		t.Fatalf("exec %q: %v", query, err)
	}
}

func mustQuery(t *testing.T, c *Conn, query string, args ...any) *Cursor {
	t.Helper()
	cur, err := c.ExecuteQuery(context.Background(), query, args...)
	if err != nil {
		t.Fatalf("query %q: %v", query, err)
	}
	t.Cleanup(func() { _ = cur.Close() })
	return cur
}

func countRows(t *testing.T, c *Conn, table string) int64 {
	t.Helper()
	cur := mustQuery(t, c, "SELECT count(*) AS n FROM "+table)
	if !cur.Next() {
		t.Fatalf("count(*) returned no row: %v", cur.Err())
	}
	n := cur.Int64("n")
	_ = cur.Close()
	return n
}
