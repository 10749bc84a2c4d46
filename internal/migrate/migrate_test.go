/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package migrate

import (
	"context"
	"errors"
	"slices"
	"testing"
	"testing/fstest"

	"litedb/internal/litedb"
	applog "litedb/internal/log"
)

func openMem(t *testing.T) *litedb.Conn {
	t.Helper()
	c, err := litedb.Open(context.Background(), litedb.MemoryPath, litedb.WithLogger(applog.Discard()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

var scripts = fstest.MapFS{
	"001_create.sql":   {Data: []byte("CREATE TABLE notes(id INTEGER PRIMARY KEY, body TEXT);")},
	"002_index.sql":    {Data: []byte("ALTER TABLE notes ADD COLUMN tag TEXT;\nCREATE INDEX idx_notes_tag ON notes(tag);")},
	"README.md":        {Data: []byte("not a migration")},
	"draft_later.sql":  {Data: []byte("SELECT 1;")},
	"sub/003_skip.sql": {Data: []byte("SELECT 1;")},
}

func TestLoadSortsAndFilters(t *testing.T) {
	steps, err := Load(scripts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var versions []int
	for _, s := range steps {
		versions = append(versions, s.Version)
	}
	if !slices.Equal(versions, []int{1, 2}) || steps[1].Name != "index" {
		t.Fatalf("steps = %+v", steps)
	}
}

func TestLoadRejectsDuplicateVersions(t *testing.T) {
	fsys := fstest.MapFS{
		"001_a.sql": {Data: []byte("SELECT 1;")},
		"1_b.sql":   {Data: []byte("SELECT 1;")},
	}
	if _, err := Load(fsys); err == nil {
		t.Fatalf("duplicate versions accepted")
	}
}

func TestApplyIsIncrementalAndIdempotent(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	steps, err := Load(scripts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	res, err := Apply(ctx, c, steps[:1])
	if err != nil {
		t.Fatalf("apply v1: %v", err)
	}
	if res.From != 0 || res.To != 1 {
		t.Fatalf("first run = %+v", res)
	}
	res, err = Apply(ctx, c, steps)
	if err != nil {
		t.Fatalf("apply v2: %v", err)
	}
	if res.From != 1 || res.To != 2 || !slices.Equal(res.Applied, []int{2}) {
		t.Fatalf("second run = %+v", res)
	}
	res, err = Apply(ctx, c, steps)
	if err != nil || len(res.Applied) != 0 {
		t.Fatalf("re-run applied %v, %v", res.Applied, err)
	}
	if err := c.ExecuteUpdate(ctx, "INSERT INTO notes(body, tag) VALUES (?, ?)", "hi", "x"); err != nil {
		t.Fatalf("migrated schema unusable: %v", err)
	}
	if v, _ := Current(ctx, c); v != 2 {
		t.Fatalf("current = %d", v)
	}
}

func TestFailedMigrationRollsBack(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	steps := []Migration{
		{Version: 1, Name: "ok", Script: "CREATE TABLE a(x);"},
		{Version: 2, Name: "broken", Script: "CREATE TABLE b(y); INSERT INTO missing VALUES (1);"},
	}
	res, err := Apply(ctx, c, steps)
	if err == nil {
		t.Fatalf("broken migration succeeded")
	}
	if !errors.Is(err, litedb.ErrPrepare) && !errors.Is(err, litedb.ErrStep) {
		t.Fatalf("error lost its kind: %v", err)
	}
	if res.To != 1 {
		t.Fatalf("result = %+v", res)
	}
	if v, _ := Current(ctx, c); v != 1 {
		t.Fatalf("version after failure = %d, want 1", v)
	}
	if c.InTransaction() {
		t.Fatalf("transaction left open")
	}
	cur, err := c.ExecuteQuery(ctx, "SELECT count(*) AS n FROM sqlite_master WHERE name = 'b'")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	defer func() { _ = cur.Close() }()
	if !cur.Next() || cur.Int("n") != 0 {
		t.Fatalf("partial migration was kept")
	}
}

func TestNewerStoreIsNotDowngraded(t *testing.T) {
	ctx := context.Background()
	c := openMem(t)
	steps := []Migration{{Version: 1, Script: "CREATE TABLE a(x);"}, {Version: 2, Script: "CREATE TABLE b(x);"}}
	if _, err := Apply(ctx, c, steps); err != nil {
		t.Fatalf("apply: %v", err)
	}
	res, err := Apply(ctx, c, steps[:1])
	if err != nil || res.From != 2 || res.To != 2 || len(res.Applied) != 0 {
		t.Fatalf("older migration set touched a newer store: %+v %v", res, err)
	}
}

func TestCurrentOnFreshStore(t *testing.T) {
	c := openMem(t)
	if v, err := Current(context.Background(), c); err != nil || v != 0 {
		t.Fatalf("fresh store version = %d, %v", v, err)
	}
}
