/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package migrate applies numbered schema scripts to a litedb store and
// records the resulting schema version in the store itself.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"litedb/internal/litedb"
	applog "litedb/internal/log"
	"litedb/internal/version"
)

// VersionTable holds the single row describing the store's schema version.
const VersionTable = "litedb_schema"

// Migration is one schema step. Script may hold several statements.
type Migration struct {
	Version int
	Name    string
	Script  string
}

// Result summarizes an Apply run.
type Result struct {
	From    int
	To      int
	Applied []int
}

// Load reads migrations from the top level of fsys. Files are named
// NNN_description.sql; other files are ignored. Versions must be unique and positive.
func Load(fsys fs.FS) ([]Migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	seen := map[int]string{}
	var out []Migration
	for _, name := range names {
		v, desc, ok := parseName(name)
		if !ok {
			continue
		}
		if prev, dup := seen[v]; dup {
			return nil, fmt.Errorf("migration version %d used by %s and %s", v, prev, name)
		}
		seen[v] = name
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		out = append(out, Migration{Version: v, Name: desc, Script: string(data)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

func parseName(name string) (int, string, bool) {
	base := strings.TrimSuffix(path.Base(name), ".sql")
	num, desc, _ := strings.Cut(base, "_")
	v, err := strconv.Atoi(num)
	if err != nil || v <= 0 {
		return 0, "", false
	}
	return v, desc, true
}

// Current returns the schema version recorded in the store, 0 for a store
// that has never been migrated.
func Current(ctx context.Context, c *litedb.Conn) (int, error) {
	cur, err := c.ExecuteQuery(ctx, "SELECT count(*) AS n FROM sqlite_master WHERE type = 'table' AND name = ?", VersionTable)
	if err != nil {
		return 0, err
	}
	exists := cur.Next() && cur.Int64("n") > 0
	probeErr := cur.Err()
	_ = cur.Close()
	if probeErr != nil {
		return 0, probeErr
	}
	if !exists {
		return 0, nil
	}
	cur, err = c.ExecuteQuery(ctx, "SELECT schema FROM "+VersionTable+" WHERE id = 1")
	if err != nil {
		return 0, err
	}
	defer func() { _ = cur.Close() }()
	if !cur.Next() {
		return 0, cur.Err()
	}
	return cur.Long("schema"), nil
}

// Apply runs every migration newer than the store's version, each in its own
// exclusive transaction. A store already past the newest migration is left
// alone; migrations never downgrade.
func Apply(ctx context.Context, c *litedb.Conn, steps []Migration) (Result, error) {
	l := applog.WithOperation(applog.WithComponent("migrate"), "apply").With(slog.String("path", c.Path()))
	if err := ensureVersionTable(ctx, c); err != nil {
		l.Error("ensure version table failed", slog.Any("err", err))
		return Result{}, err
	}
	cur, err := Current(ctx, c)
	if err != nil {
		return Result{}, fmt.Errorf("read schema version: %w", err)
	}
	res := Result{From: cur, To: cur}
	if n := len(steps); n > 0 && cur > steps[n-1].Version {
		l.Warn("store schema is newer than the known migrations", slog.Int("schema", cur), slog.Int("latest", steps[n-1].Version))
		return res, nil
	}
	for _, m := range steps {
		if m.Version <= cur {
			continue
		}
		if err := applyOne(ctx, c, m); err != nil {
			l.Error("migration failed", slog.Int("version", m.Version), slog.String("name", m.Name), slog.Any("err", err))
			return res, fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
		cur = m.Version
		res.To = cur
		res.Applied = append(res.Applied, m.Version)
		l.Info("migration applied", slog.Int("version", m.Version), slog.String("name", m.Name))
	}
	return res, nil
}

func ensureVersionTable(ctx context.Context, c *litedb.Conn) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + VersionTable + ` (
		id          INTEGER PRIMARY KEY CHECK(id=1),
		schema      INTEGER NOT NULL,
		app         TEXT,
		created_at  TEXT NOT NULL,
		updated_at  TEXT NOT NULL
	)`
	if err := c.ExecuteUpdate(ctx, ddl); err != nil {
		return fmt.Errorf("create version table: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	seed := "INSERT OR IGNORE INTO " + VersionTable + " (id, schema, app, created_at, updated_at) VALUES (1, 0, ?, ?, ?)"
	if err := c.ExecuteUpdate(ctx, seed, version.String(), now, now); err != nil {
		return fmt.Errorf("seed version row: %w", err)
	}
	return nil
}

func applyOne(ctx context.Context, c *litedb.Conn, m Migration) (err error) {
	if err := c.Begin(ctx); err != nil {
		return err
	}
	defer func() {
		if err == nil {
			return
		}
		if rbErr := c.Rollback(ctx); rbErr != nil {
			err = errors.Join(err, rbErr)
		}
	}()
	if err := c.ExecuteStatements(ctx, m.Script); err != nil {
		return err
	}
	now := time.Now().UTC().Format(time.RFC3339)
	bump := "UPDATE " + VersionTable + " SET schema = ?, app = ?, updated_at = ? WHERE id = 1"
	if err := c.ExecuteUpdate(ctx, bump, m.Version, version.String(), now); err != nil {
		return err
	}
	return c.Commit(ctx)
}
