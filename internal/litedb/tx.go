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
	"fmt"
	"strings"
)

// Begin starts an exclusive transaction.
func (c *Conn) Begin(ctx context.Context) error {
	return c.begin(ctx, "BEGIN EXCLUSIVE TRANSACTION")
}

// BeginDeferred starts a transaction that takes locks only when first needed.
func (c *Conn) BeginDeferred(ctx context.Context) error {
	return c.begin(ctx, "BEGIN DEFERRED TRANSACTION")
}

func (c *Conn) begin(ctx context.Context, stmt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return c.failLocked("begin", err)
	}
	if c.inTransaction {
		return c.failLocked("begin", misuse("a transaction is already active"))
	}
	if err := c.execLocked(ctx, "begin", stmt, nil, false); err != nil {
		return err
	}
	c.inTransaction = true
	return nil
}

// Commit makes the current transaction's changes permanent.
func (c *Conn) Commit(ctx context.Context) error {
	return c.end(ctx, "commit", "COMMIT TRANSACTION")
}

// Rollback discards the current transaction's changes.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.end(ctx, "rollback", "ROLLBACK TRANSACTION")
}

func (c *Conn) end(ctx context.Context, op, stmt string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.execLocked(ctx, op, stmt, nil, false); err != nil {
		// The engine may already have rolled back on its own.
		if e := asError(err); strings.Contains(e.Msg, "no transaction is active") {
			c.inTransaction = false
		}
		return err
	}
	c.inTransaction = false
	return nil
}

// InTransaction reports whether Begin or BeginDeferred succeeded without a
// matching Commit or Rollback.
func (c *Conn) InTransaction() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTransaction
}

// SetKey supplies the encryption key for the store. It fails with
// ErrEncryptionUnsupported unless the engine was built with a codec.
func (c *Conn) SetKey(ctx context.Context, key string) error {
	return c.keyPragma(ctx, "key", key)
}

// Rekey changes the encryption key of an already keyed store.
func (c *Conn) Rekey(ctx context.Context, key string) error {
	return c.keyPragma(ctx, "rekey", key)
}

func (c *Conn) keyPragma(ctx context.Context, pragma, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkOpenLocked(); err != nil {
		return c.failLocked(pragma, err)
	}
	ok, err := c.codecSupportedLocked(ctx)
	if err != nil {
		return c.failLocked(pragma, c.engineError(ErrStep, err))
	}
	if !ok {
		return c.failLocked(pragma, &Error{
			Kind: ErrEncryptionUnsupported,
			Code: CodeError,
			Msg:  fmt.Sprintf("engine %q was built without a codec", c.engine.name),
		})
	}
	if key == "" {
		return c.failLocked(pragma, misuse("empty encryption key"))
	}
	return c.execLocked(ctx, pragma, fmt.Sprintf("PRAGMA %s = %s", pragma, quoteLiteral(key)), nil, false)
}

// codecSupportedLocked probes the engine build once and remembers the answer.
func (c *Conn) codecSupportedLocked(ctx context.Context) (bool, error) {
	if c.codec != nil {
		return *c.codec, nil
	}
	opts, err := c.pragmaStringsLocked(ctx, "PRAGMA compile_options")
	if err != nil {
		return false, err
	}
	ok := false
	for _, o := range opts {
		if strings.HasPrefix(strings.ToUpper(o), "HAS_CODEC") {
			ok = true
			break
		}
	}
	if !ok {
		// SQLCipher answers this pragma; stock builds return no rows.
		if v, err := c.pragmaStringsLocked(ctx, "PRAGMA cipher_version"); err == nil && len(v) > 0 {
			ok = true
		}
	}
	c.codec = &ok
	return ok, nil
}

func (c *Conn) pragmaStringsLocked(ctx context.Context, pragma string) ([]string, error) {
	rows, err := c.sqlConn.QueryxContext(ctx, pragma)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// quoteLiteral renders s as an SQL string literal.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
