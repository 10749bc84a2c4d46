/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package litedb

import "strings"

// columnResolver maps lower-cased column names to result positions.
// When a name repeats, the leftmost column wins.
type columnResolver struct {
	names []string
	index map[string]int
}

func newColumnResolver(names []string) *columnResolver {
	r := &columnResolver{names: names, index: make(map[string]int, len(names))}
	for i, n := range names {
		k := strings.ToLower(n)
		if _, dup := r.index[k]; !dup {
			r.index[k] = i
		}
	}
	return r
}

func (r *columnResolver) indexOf(name string) int {
	if i, ok := r.index[strings.ToLower(name)]; ok {
		return i
	}
	return -1
}

func (r *columnResolver) nameAt(i int) string {
	if i < 0 || i >= len(r.names) {
		return ""
	}
	return r.names[i]
}
