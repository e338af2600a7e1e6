// Copyright 2024 SpooledFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package common

import (
	"path"
	"strings"
)

// RootPath is the path of the mount root.
const RootPath = "/"

// NormalizePath cleans a path and makes it absolute within the mount.
func NormalizePath(p string) string {
	return path.Clean("/" + p)
}

// ChildPath joins a directory path and a child name.
func ChildPath(parent, name string) string {
	return NormalizePath(parent + "/" + name)
}

// ValidName reports whether name can be used as a single directory entry.
func ValidName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\x00")
}
