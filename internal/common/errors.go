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

// Package common holds the error taxonomy and path helpers shared by the
// storage, namespace and protocol layers.
package common

import "errors"

var (
	// ErrNotFound: an inode or child name does not resolve.
	ErrNotFound = errors.New("not found")
	// ErrInvalidState: I/O on a closed file, double open, or an I/O
	// request against a non-regular entity.
	ErrInvalidState = errors.New("invalid state")
	// ErrShortWrite: a storage strategy wrote fewer bytes than requested.
	ErrShortWrite = errors.New("short write")
	// ErrIO: the underlying storage operation failed.
	ErrIO = errors.New("I/O error")

	ErrExists       = errors.New("already exists")
	ErrNotDir       = errors.New("not a directory")
	ErrIsDir        = errors.New("is a directory")
	ErrNotEmpty     = errors.New("directory not empty")
	ErrNotSupported = errors.New("operation not supported")
	ErrInvalidPath  = errors.New("invalid path")
	ErrReleased     = errors.New("buffer already released")
)
