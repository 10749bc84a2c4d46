/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zalando/go-keyring"
)

// keyringService is the OS keyring service all litedb secrets live under.
const keyringService = "litedb"

// ErrKeyNotFound is returned when the keyring has no entry for a key name.
var ErrKeyNotFound = keyring.ErrNotFound

// KeyStore abstracts the OS keyring so tests can stub it.
type KeyStore interface {
	Get(service, user string) (string, error)
	Set(service, user, secret string) error
	Delete(service, user string) error
}

// osKeyring implements KeyStore using github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, user string) (string, error) { return keyring.Get(service, user) }
func (osKeyring) Set(service, user, secret string) error   { return keyring.Set(service, user, secret) }
func (osKeyring) Delete(service, user string) error        { return keyring.Delete(service, user) }

var keyStore KeyStore = osKeyring{}

// SetKeyStore replaces the keyring backend and returns the previous one.
func SetKeyStore(ks KeyStore) KeyStore {
	old := keyStore
	keyStore = ks
	return old
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("empty key name")
	}
	return nil
}

// EncryptionKey reads the encryption key stored under name.
func EncryptionKey(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	v, err := keyStore.Get(keyringService, name)
	if err != nil {
		return "", fmt.Errorf("encryption key %q: %w", name, err)
	}
	return v, nil
}

// SetEncryptionKey stores an encryption key under name.
func SetEncryptionKey(name, value string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if value == "" {
		return errors.New("empty encryption key")
	}
	return keyStore.Set(keyringService, name, value)
}

// DeleteEncryptionKey removes the key stored under name.
func DeleteEncryptionKey(name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := keyStore.Delete(keyringService, name); err != nil {
		return fmt.Errorf("encryption key %q: %w", name, err)
	}
	return nil
}
