/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package config loads the litedb YAML configuration with environment overrides
// and keeps encryption keys in the OS keyring.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	gojsonschema "github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"litedb/internal/litedb"
	applog "litedb/internal/log"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
type AppConfig struct {
	ConfigVersion int            `yaml:"config_version"`
	Database      DatabaseConfig `yaml:"database"`
	Logging       LoggingConfig  `yaml:"logging"`
}

type DatabaseConfig struct {
	Path               string `yaml:"path"`
	Engine             string `yaml:"engine"`
	ReadOnly           bool   `yaml:"read_only"`
	BusyRetryTimeoutMs int    `yaml:"busy_retry_timeout_ms"`
	CacheStatements    bool   `yaml:"cache_statements"`
	JournalMode        string `yaml:"journal_mode"`
	ForeignKeys        bool   `yaml:"foreign_keys"`
	LogErrors          bool   `yaml:"log_errors"`
	CrashOnErrors      bool   `yaml:"crash_on_errors"`
	TraceExecution     bool   `yaml:"trace_execution"`
	// KeyName names the keyring entry holding the encryption key. The key itself is never written to disk.
	KeyName string `yaml:"key_name"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		Database: DatabaseConfig{
			Engine:             litedb.DefaultEngine,
			BusyRetryTimeoutMs: int(litedb.DefaultBusyRetryTimeout / time.Millisecond),
			CacheStatements:    true,
			LogErrors:          true,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Env var names used as overrides.
const (
	EnvConfigPath      = "LITEDB_CONFIG"
	EnvDBPath          = "LITEDB_DB_PATH"
	EnvEngine          = "LITEDB_ENGINE"
	EnvBusyTimeoutMs   = "LITEDB_BUSY_TIMEOUT_MS"
	EnvCacheStatements = "LITEDB_CACHE_STATEMENTS"
	EnvCrashOnErrors   = "LITEDB_CRASH_ON_ERRORS"
	EnvTrace           = "LITEDB_TRACE"
	EnvKeyName         = "LITEDB_KEY_NAME"
	EnvLogLevel        = applog.EnvLevel
	EnvLogFormat       = applog.EnvFormat
	EnvLogSource       = applog.EnvSource
	EnvLogFile         = applog.EnvFile
)

//go:embed config.schema.json
var schemaJSON []byte

// ConfigPath returns the per-user config file path. LITEDB_CONFIG overrides it.
func ConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p, nil
	}
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "litedb")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "litedb")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "litedb")
		} else if home := os.Getenv("HOME"); home != "" {
			base = filepath.Join(home, ".config", "litedb")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file (if present) over the defaults and applies
// environment overrides. A file that fails schema validation is reported and
// ignored: the returned config then holds defaults plus overrides.
func Load() (AppConfig, error) {
	cfg := Defaults()
	path, err := ConfigPath()
	if err != nil {
		applyEnvOverrides(&cfg)
		return cfg, err
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		applyEnvOverrides(&cfg)
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := decode(data, &cfg); err != nil {
			cfg = Defaults()
			applyEnvOverrides(&cfg)
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// decode validates data and unmarshals it over cfg, so absent keys keep their defaults.
func decode(data []byte, cfg *AppConfig) error {
	if err := Validate(data); err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	cfg.Logging.Level = strings.ToLower(strings.TrimSpace(cfg.Logging.Level))
	cfg.Logging.Format = strings.ToLower(strings.TrimSpace(cfg.Logging.Format))
	cfg.Database.JournalMode = strings.ToLower(strings.TrimSpace(cfg.Database.JournalMode))
	return nil
}

// Validate checks YAML config text against the embedded JSON schema.
func Validate(data []byte) error {
	var doc map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse: %w", err)
	}
	if doc == nil {
		return nil
	}
	res, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schemaJSON), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validate: %w", err)
	}
	if res.Valid() {
		return nil
	}
	msgs := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
}

// Save writes the user config YAML.
func Save(cfg AppConfig) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func envBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvDBPath)); v != "" {
		cfg.Database.Path = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvEngine)); v != "" {
		cfg.Database.Engine = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvBusyTimeoutMs)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Database.BusyRetryTimeoutMs = n
		}
	}
	if v := strings.TrimSpace(os.Getenv(EnvCacheStatements)); v != "" {
		cfg.Database.CacheStatements = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvCrashOnErrors)); v != "" {
		cfg.Database.CrashOnErrors = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTrace)); v != "" {
		cfg.Database.TraceExecution = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvKeyName)); v != "" {
		cfg.Database.KeyName = v
	}
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = envBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var overrideEnv = map[string]string{
	"database.path":                  EnvDBPath,
	"database.engine":                EnvEngine,
	"database.busy_retry_timeout_ms": EnvBusyTimeoutMs,
	"database.cache_statements":      EnvCacheStatements,
	"database.crash_on_errors":       EnvCrashOnErrors,
	"database.trace_execution":       EnvTrace,
	"database.key_name":              EnvKeyName,
	"logging.level":                  EnvLogLevel,
	"logging.format":                 EnvLogFormat,
	"logging.source":                 EnvLogSource,
	"logging.file":                   EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	env, ok := overrideEnv[key]
	if !ok || os.Getenv(env) == "" {
		return "", false
	}
	return env, true
}

// BusyRetryTimeout returns the configured retry window.
func (d DatabaseConfig) BusyRetryTimeout() time.Duration {
	if d.BusyRetryTimeoutMs < 0 {
		return litedb.DefaultBusyRetryTimeout
	}
	return time.Duration(d.BusyRetryTimeoutMs) * time.Millisecond
}

// OpenFlags returns the flags a connection for this config is opened with.
func (d DatabaseConfig) OpenFlags() litedb.OpenFlags {
	if d.ReadOnly {
		return litedb.OpenReadOnly
	}
	return litedb.DefaultOpenFlags
}

// OpenOptions translates the database section into connection options.
func (d DatabaseConfig) OpenOptions() []litedb.Option {
	opts := []litedb.Option{
		litedb.WithEngine(d.Engine),
		litedb.WithBusyRetryTimeout(d.BusyRetryTimeout()),
		litedb.WithStatementCache(d.CacheStatements),
		litedb.WithLogErrors(d.LogErrors),
		litedb.WithCrashOnErrors(d.CrashOnErrors),
		litedb.WithTraceExecution(d.TraceExecution),
	}
	if d.JournalMode != "" {
		opts = append(opts, litedb.WithJournalMode(d.JournalMode))
	}
	if d.ForeignKeys {
		opts = append(opts, litedb.WithForeignKeys(true))
	}
	return opts
}

// LogOptions converts the logging section for applog.Init.
func (l LoggingConfig) LogOptions() applog.Options {
	return applog.Options{Level: l.Level, Format: l.Format, AddSource: l.Source, File: l.File}
}
