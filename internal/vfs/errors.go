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

package vfs

import (
	"errors"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"spooledfs/internal/common"
)

// Status codes returned to the kernel.
var (
	ENOENT    = fuse.Status(syscall.ENOENT)    // No such file or directory
	EEXIST    = fuse.Status(syscall.EEXIST)    // File exists
	ENOTDIR   = fuse.Status(syscall.ENOTDIR)   // Not a directory
	EISDIR    = fuse.Status(syscall.EISDIR)    // Is a directory
	EBADF     = fuse.Status(syscall.EBADF)     // Bad file descriptor
	EINVAL    = fuse.Status(syscall.EINVAL)    // Invalid argument
	ENOTSUP   = fuse.Status(syscall.ENOTSUP)   // Operation not supported
	EIO       = fuse.Status(syscall.EIO)       // I/O error
	ENOTEMPTY = fuse.Status(syscall.ENOTEMPTY) // Directory not empty
)

// toStatus maps an error from the namespace or storage layer to the
// status sent to the kernel. Kind mismatches are checked before the
// InvalidState they are wrapped in.
func toStatus(op string, err error) fuse.Status {
	switch {
	case err == nil:
		return fuse.OK
	case errors.Is(err, common.ErrNotFound):
		return ENOENT
	case errors.Is(err, common.ErrNotDir):
		return ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		return EISDIR
	case errors.Is(err, common.ErrInvalidState):
		return EBADF
	case errors.Is(err, common.ErrExists):
		return EEXIST
	case errors.Is(err, common.ErrInvalidPath):
		return EINVAL
	case errors.Is(err, common.ErrNotEmpty):
		return ENOTEMPTY
	case errors.Is(err, common.ErrNotSupported):
		return ENOTSUP
	default:
		log.Errorf("[VFS] %s failed: %v", op, err)
		return EIO
	}
}
