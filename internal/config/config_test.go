/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zalando/go-keyring"

	"litedb/internal/litedb"
)

// useConfigFile points LITEDB_CONFIG at a file in a temp dir holding body.
func useConfigFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if body != "" {
		if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}
	}
	t.Setenv(EnvConfigPath, path)
	return path
}

func TestLoadWithoutFileUsesDefaults(t *testing.T) {
	useConfigFile(t, "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("cfg = %#v, want defaults", cfg)
	}
}

func TestLoadMergesFileOverDefaults(t *testing.T) {
	useConfigFile(t, "database:\n  path: /srv/app.db\n  journal_mode: WAL\nlogging:\n  level: DEBUG\n")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/srv/app.db" || cfg.Database.JournalMode != "wal" {
		t.Fatalf("database section not merged: %#v", cfg.Database)
	}
	if !cfg.Database.CacheStatements || cfg.Database.BusyRetryTimeoutMs != Defaults().Database.BusyRetryTimeoutMs {
		t.Fatalf("absent keys lost their defaults: %#v", cfg.Database)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("logging = %#v", cfg.Logging)
	}
}

func TestLoadRejectsSchemaViolations(t *testing.T) {
	useConfigFile(t, "database:\n  busy_retry_timeout_ms: -5\n  colour: blue\n")
	cfg, err := Load()
	if err == nil {
		t.Fatalf("invalid config accepted")
	}
	if !strings.Contains(err.Error(), "colour") {
		t.Fatalf("error does not name the bad key: %v", err)
	}
	if cfg.Database.BusyRetryTimeoutMs != Defaults().Database.BusyRetryTimeoutMs {
		t.Fatalf("invalid file leaked into config: %#v", cfg.Database)
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]byte("")); err != nil {
		t.Fatalf("empty document: %v", err)
	}
	if err := Validate([]byte("logging:\n  format: xml\n")); err == nil {
		t.Fatalf("unknown log format accepted")
	}
	if err := Validate([]byte("database: [\n")); err == nil {
		t.Fatalf("malformed YAML accepted")
	}
	if err := Validate([]byte("config_version: 1\ndatabase:\n  engine: modernc\n  read_only: true\n")); err != nil {
		t.Fatalf("valid document rejected: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	useConfigFile(t, "database:\n  path: /from/file.db\n")
	t.Setenv(EnvDBPath, "/from/env.db")
	t.Setenv(EnvBusyTimeoutMs, "250")
	t.Setenv(EnvCacheStatements, "off")
	t.Setenv(EnvTrace, "yes")
	t.Setenv(EnvLogFormat, "JSON")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Database.Path != "/from/env.db" {
		t.Fatalf("path = %q", cfg.Database.Path)
	}
	if cfg.Database.BusyRetryTimeout() != 250*time.Millisecond {
		t.Fatalf("busy timeout = %v", cfg.Database.BusyRetryTimeout())
	}
	if cfg.Database.CacheStatements || !cfg.Database.TraceExecution || cfg.Logging.Format != "json" {
		t.Fatalf("boolean/format overrides not applied: %#v", cfg)
	}
	if env, ok := EnvOverrideFor("database.path"); !ok || env != EnvDBPath {
		t.Fatalf("EnvOverrideFor(database.path) = %q, %v", env, ok)
	}
	if _, ok := EnvOverrideFor("database.read_only"); ok {
		t.Fatalf("read_only has no override")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := useConfigFile(t, "")
	cfg := Defaults()
	cfg.Database.Path = "/data/x.db"
	cfg.Database.ReadOnly = true
	if err := Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != cfg {
		t.Fatalf("got %#v, want %#v", got, cfg)
	}
	if got.Database.OpenFlags() != litedb.OpenReadOnly {
		t.Fatalf("read_only not mapped to open flags")
	}
}

func TestOpenOptionsOpenAConnection(t *testing.T) {
	d := Defaults().Database
	d.JournalMode = "memory"
	d.ForeignKeys = true
	if d.OpenFlags() != litedb.DefaultOpenFlags {
		t.Fatalf("flags = %b", d.OpenFlags())
	}
	c, err := litedb.Open(context.Background(), litedb.MemoryPath, d.OpenOptions()...)
	if err != nil {
		t.Fatalf("open with config options: %v", err)
	}
	defer func() { _ = c.Close() }()
	if !c.CacheStatements() || c.BusyRetryTimeout() != d.BusyRetryTimeout() || !c.LogErrors() {
		t.Fatalf("options not applied")
	}
}

func TestEncryptionKeys(t *testing.T) {
	keyring.MockInit()
	if err := SetEncryptionKey("main", "s3cret"); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := EncryptionKey("main")
	if err != nil || v != "s3cret" {
		t.Fatalf("get = %q, %v", v, err)
	}
	if err := DeleteEncryptionKey("main"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := EncryptionKey("main"); !errors.Is(err, ErrKeyNotFound) {
		t.Fatalf("deleted key still readable: %v", err)
	}
	if err := SetEncryptionKey(" ", "x"); err == nil {
		t.Fatalf("blank name accepted")
	}
	if err := SetEncryptionKey("main", ""); err == nil {
		t.Fatalf("empty key accepted")
	}
}

type memStore map[string]string

func (m memStore) Get(service, user string) (string, error) {
	v, ok := m[service+"/"+user]
	if !ok {
		return "", ErrKeyNotFound
	}
	return v, nil
}
func (m memStore) Set(service, user, secret string) error { m[service+"/"+user] = secret; return nil }
func (m memStore) Delete(service, user string) error      { delete(m, service+"/"+user); return nil }

func TestSetKeyStore(t *testing.T) {
	store := memStore{}
	old := SetKeyStore(store)
	t.Cleanup(func() { SetKeyStore(old) })
	if err := SetEncryptionKey("k", "v"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if store["litedb/k"] != "v" {
		t.Fatalf("stub store not used: %v", store)
	}
}
