/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"gopkg.in/yaml.v3"

	"litedb/internal/config"
	"litedb/internal/crash"
	"litedb/internal/litedb"
	applog "litedb/internal/log"
	"litedb/internal/migrate"
	"litedb/internal/version"
)

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "litedb - embedded SQLite access layer")
	_, _ = fmt.Fprintf(w, "Version: %s\n", version.String())
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  litedb version|-v|--version           Show version")
	_, _ = fmt.Fprintln(w, "  litedb exec <db> <sql> [args...]       Run a statement that returns no rows")
	_, _ = fmt.Fprintln(w, "  litedb query <db> <sql> [args...]      Run a query and print tab-separated rows")
	_, _ = fmt.Fprintln(w, "  litedb check <db>                      Probe the store and print the engine version")
	_, _ = fmt.Fprintln(w, "  litedb migrate <db> <dir>              Apply NNN_name.sql scripts from dir")
	_, _ = fmt.Fprintln(w, "  litedb key set <name> <value>          Store an encryption key in the OS keyring")
	_, _ = fmt.Fprintln(w, "  litedb key rm <name>                   Remove an encryption key from the OS keyring")
	_, _ = fmt.Fprintln(w, "  litedb config                          Print the effective configuration")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "<db> may be a file path, :memory:, or - for database.path from the config.")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := func() int {
		defer stop()
		defer crash.Recover("")
		return run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	}()
	_ = applog.Close()
	os.Exit(code)
}

// run executes one CLI command and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, cfgErr := config.Load()
	applog.Init(cfg.Logging.LogOptions())
	l := applog.WithComponent("cli")
	if cfgErr != nil {
		l.Warn("config ignored", slog.Any("err", cfgErr))
	}
	l.Debug("start", slog.Int("args", len(args)))

	if len(args) == 0 {
		usage(stdout)
		return 0
	}
	fail := func(err error) int {
		l.Error(args[0]+" failed", slog.Any("err", err))
		_, _ = fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	need := func(n int, what string) bool {
		if len(args) >= n {
			return true
		}
		_, _ = fmt.Fprintf(stderr, "%s requires %s\n", args[0], what)
		usage(stderr)
		return false
	}

	switch args[0] {
	case "version", "--version", "-v":
		_, _ = fmt.Fprintln(stdout, "litedb", version.String())
		_, _ = fmt.Fprintln(stdout, "engines:", strings.Join(litedb.Engines(), ", "))
		return 0
	case "exec":
		if !need(3, "<db> and <sql>") {
			return 2
		}
		c, err := openConn(ctx, cfg, args[1])
		if err != nil {
			return fail(err)
		}
		defer func() { _ = c.Close() }()
		if err := c.ExecuteUpdate(ctx, args[2], toArgs(args[3:])...); err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "changes: %d, last insert rowid: %d\n", c.Changes(), c.LastInsertRowID())
		return 0
	case "query":
		if !need(3, "<db> and <sql>") {
			return 2
		}
		c, err := openConn(ctx, cfg, args[1])
		if err != nil {
			return fail(err)
		}
		defer func() { _ = c.Close() }()
		if err := printQuery(ctx, c, stdout, args[2], toArgs(args[3:])); err != nil {
			return fail(err)
		}
		return 0
	case "check":
		if !need(2, "<db>") {
			return 2
		}
		c, err := openConn(ctx, cfg, args[1])
		if err != nil {
			return fail(err)
		}
		defer func() { _ = c.Close() }()
		if !c.GoodConnection(ctx) {
			return fail(errors.New("store did not answer a schema query"))
		}
		v, err := c.EngineVersion(ctx)
		if err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "ok: %s (engine %s, sqlite %s)\n", c.Path(), c.Engine(), v)
		return 0
	case "migrate":
		if !need(3, "<db> and <dir>") {
			return 2
		}
		steps, err := migrate.Load(os.DirFS(args[2]))
		if err != nil {
			return fail(err)
		}
		c, err := openConn(ctx, cfg, args[1])
		if err != nil {
			return fail(err)
		}
		defer func() { _ = c.Close() }()
		res, err := migrate.Apply(ctx, c, steps)
		if err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "schema %d -> %d (%d applied)\n", res.From, res.To, len(res.Applied))
		return 0
	case "key":
		return runKey(args[1:], stdout, stderr, fail)
	case "config":
		return printConfig(cfg, stdout, fail)
	}
	usage(stderr)
	return 2
}

func runKey(args []string, stdout, stderr io.Writer, fail func(error) int) int {
	switch {
	case len(args) == 3 && args[0] == "set":
		if err := config.SetEncryptionKey(args[1], args[2]); err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "stored key %q\n", args[1])
		return 0
	case len(args) == 2 && args[0] == "rm":
		if err := config.DeleteEncryptionKey(args[1]); err != nil {
			return fail(err)
		}
		_, _ = fmt.Fprintf(stdout, "removed key %q\n", args[1])
		return 0
	}
	_, _ = fmt.Fprintln(stderr, "key requires set <name> <value> or rm <name>")
	return 2
}

// openConn opens db with the configured options and applies the configured encryption key.
func openConn(ctx context.Context, cfg config.AppConfig, db string) (*litedb.Conn, error) {
	if db == "-" {
		db = cfg.Database.Path
		if db == "" {
			return nil, errors.New("database.path is not configured")
		}
	}
	c, err := litedb.OpenWithFlags(ctx, db, cfg.Database.OpenFlags(), cfg.Database.OpenOptions()...)
	if err != nil {
		return nil, err
	}
	if name := cfg.Database.KeyName; name != "" {
		key, err := config.EncryptionKey(name)
		if err == nil {
			err = c.SetKey(ctx, key)
		}
		if err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	return c, nil
}

func toArgs(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func printQuery(ctx context.Context, c *litedb.Conn, w io.Writer, query string, args []any) error {
	cur, err := c.ExecuteQuery(ctx, query, args...)
	if err != nil {
		return err
	}
	defer func() { _ = cur.Close() }()

	_, _ = fmt.Fprintln(w, strings.Join(cur.Columns(), "\t"))
	cells := make([]string, cur.ColumnCount())
	for cur.Next() {
		for i := range cells {
			if cur.IsNullAt(i) {
				cells[i] = "NULL"
			} else {
				cells[i] = cur.StringAt(i)
			}
		}
		_, _ = fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return cur.Err()
}

func printConfig(cfg config.AppConfig, w io.Writer, fail func(error) int) int {
	path, err := config.ConfigPath()
	if err != nil {
		return fail(err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fail(err)
	}
	_, _ = fmt.Fprintf(w, "# %s\n%s", path, data)
	for _, key := range []string{
		"database.path", "database.engine", "database.busy_retry_timeout_ms", "database.cache_statements",
		"database.crash_on_errors", "database.trace_execution", "database.key_name",
		"logging.level", "logging.format", "logging.source", "logging.file",
	} {
		if env, ok := config.EnvOverrideFor(key); ok {
			_, _ = fmt.Fprintf(w, "# %s overridden by %s\n", key, env)
		}
	}
	return 0
}
