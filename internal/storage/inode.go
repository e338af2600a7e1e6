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
package storage

import (
	"os"
	"time"
)

// File mode constants (POSIX)
const (
	ModeDir  = 0040000 // Directory
	ModeFile = 0100000 // Regular file
	ModeMask = 0170000 // Type mask
)

// Default permissions
const (
	DefaultDirMode  = ModeDir | 0755  // rwxr-xr-x
	DefaultFileMode = ModeFile | 0644 // rw-r--r--
)

// RootIno is the reserved inode of the mount root.
const RootIno = 1

// DeviceID is reported as st_dev for every entity of a mount.
const DeviceID = 1997

// DirSize is the size reported for directories.
const DirSize = 4096

// Attr is the metadata every entity carries. Size and the timestamps are
// kept in step with the content by whoever mutates it.
type Attr struct {
	Ino   uint64
	Mode  uint32
	Nlink uint32
	Uid   uint32
	Gid   uint32
	Size  int64
	Atime time.Time
	Mtime time.Time
	Ctime time.Time
}

// NewAttr returns attributes owned by the current process with all three
// timestamps set to now.
func NewAttr(ino uint64, mode uint32, size int64) Attr {
	now := time.Now()
	return Attr{
		Ino:   ino,
		Mode:  mode,
		Nlink: 1,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
		Size:  size,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
}

// IsDir returns true if the attributes describe a directory
func (a *Attr) IsDir() bool {
	return a.Mode&ModeMask == ModeDir
}

// IsFile returns true if the attributes describe a regular file
func (a *Attr) IsFile() bool {
	return a.Mode&ModeMask == ModeFile
}

// Permissions returns the permission bits
func (a *Attr) Permissions() uint32 {
	return a.Mode & 0777
}

// Touch records a content modification at now.
func (a *Attr) Touch(now time.Time) {
	a.Mtime = now
	a.Ctime = now
}

// Blocks returns the number of 512-byte blocks covering Size.
func (a *Attr) Blocks() uint64 {
	if a.Size <= 0 {
		return 0
	}
	return uint64(a.Size+511) / 512
}
