/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Path sentinels accepted by Open.
const (
	MemoryPath = ":memory:" // private in-memory store
	TempPath   = ""         // private temporary on-disk store, deleted on close
)

// DefaultEngine is the pure-Go SQLite build.
const DefaultEngine = "modernc"

// OpenFlags select how OpenWithFlags opens the store.
type OpenFlags int

const (
	OpenReadOnly OpenFlags = 1 << iota
	OpenReadWrite
	OpenCreate
	OpenMemory
	OpenSharedCache
	OpenPrivateCache
)

// DefaultOpenFlags is what Open uses.
const DefaultOpenFlags = OpenReadWrite | OpenCreate

// engine describes one SQLite build reachable through database/sql.
type engine struct {
	name       string
	driverName string
	// errorCode extracts the engine result code and message from a driver error.
	errorCode func(err error) (code int, msg string, ok bool)
}

var (
	enginesMu sync.RWMutex
	engines   = map[string]*engine{}
)

func registerEngine(e *engine) {
	enginesMu.Lock()
	defer enginesMu.Unlock()
	engines[e.name] = e
}

func lookupEngine(name string) (*engine, error) {
	if strings.TrimSpace(name) == "" {
		name = DefaultEngine
	}
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	e, ok := engines[name]
	if !ok {
		return nil, fmt.Errorf("unknown engine %q (available: %s)", name, strings.Join(engineNamesLocked(), ", "))
	}
	return e, nil
}

// Engines lists the engine names compiled into this binary.
func Engines() []string {
	enginesMu.RLock()
	defer enginesMu.RUnlock()
	return engineNamesLocked()
}

func engineNamesLocked() []string {
	names := make([]string, 0, len(engines))
	for n := range engines {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// buildDSN turns a path and open flags into a SQLite URI filename.
func buildDSN(path string, flags OpenFlags) (string, error) {
	ro := flags&OpenReadOnly != 0
	rw := flags&OpenReadWrite != 0
	switch {
	case ro && (rw || flags&OpenCreate != 0):
		return "", fmt.Errorf("read-only cannot be combined with read-write or create")
	case !ro && !rw:
		return "", fmt.Errorf("flags must include read-only or read-write")
	case flags&OpenSharedCache != 0 && flags&OpenPrivateCache != 0:
		return "", fmt.Errorf("shared and private cache are exclusive")
	}

	var params []string
	switch {
	case flags&OpenMemory != 0 || path == MemoryPath:
		if path == TempPath {
			path = MemoryPath
		}
		params = append(params, "mode=memory")
	case path == TempPath:
		if ro {
			return "", fmt.Errorf("a temporary store cannot be read-only")
		}
		return TempPath, nil
	case ro:
		params = append(params, "mode=ro")
	case flags&OpenCreate != 0:
		params = append(params, "mode=rwc")
	default:
		params = append(params, "mode=rw")
	}
	if flags&OpenSharedCache != 0 {
		params = append(params, "cache=shared")
	}
	if flags&OpenPrivateCache != 0 {
		params = append(params, "cache=private")
	}
	return "file:" + escapePath(path) + "?" + strings.Join(params, "&"), nil
}

func escapePath(p string) string {
	if p == MemoryPath {
		return p
	}
	return strings.NewReplacer("%", "%25", "?", "%3f", "#", "%23").Replace(filepath.ToSlash(p))
}
