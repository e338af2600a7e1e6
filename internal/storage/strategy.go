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
// Package storage implements the content representations of regular files:
// a growable in-memory buffer, a private temporary file, and the spooling
// context that moves a file from the first to the second once it grows
// past a per-mount threshold.
package storage

import (
	"fmt"
	"math"

	"spooledfs/internal/common"
)

// Kind identifies a storage representation.
type Kind int

const (
	KindMemory Kind = iota
	KindDisk
)

func (k Kind) String() string {
	switch k {
	case KindMemory:
		return "memory"
	case KindDisk:
		return "disk"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// WholeContent is the read length meaning "everything from offset 0".
const WholeContent int64 = -1

// Strategy is the byte-range contract shared by MemoryStorage and
// DiskStorage. The set of implementations is closed so the spooling
// context can switch exhaustively on the active one.
//
// Strategies are not safe for concurrent use; the owning file entity
// serializes every call.
type Strategy interface {
	Kind() Kind
	Open() error
	Close() error
	IsOpen() bool
	Size() int64
	// ReadAt returns at most length bytes starting at off. The range must
	// already be normalized (no WholeContent sentinel).
	ReadAt(off, length int64) (BufferView, error)
	// WriteAt writes p at off, zero-filling any gap past the current end.
	WriteAt(p []byte, off int64) (int, error)
	// Destroy releases everything the strategy holds. The strategy is
	// unusable afterwards.
	Destroy() error
	String() string

	strategy()
}

var (
	_ Strategy = (*MemoryStorage)(nil)
	_ Strategy = (*DiskStorage)(nil)
)

// NormalizeRange resolves the WholeContent sentinel and clamps a read of
// length bytes at off to a file of the given size.
func NormalizeRange(off, length, size int64) (int64, int64, error) {
	if length == WholeContent {
		return 0, size, nil
	}
	if off < 0 || length < 0 {
		return 0, 0, fmt.Errorf("%w: read range off=%d len=%d", common.ErrInvalidState, off, length)
	}
	if off >= size {
		return off, 0, nil
	}
	if length > size-off {
		length = size - off
	}
	return off, length, nil
}

// growth returns how many bytes a write of n bytes at off adds to content
// of the given size: zero inside, the overhang when straddling the end, and
// gap plus payload when starting at or past it.
func growth(size, off, n int64) int64 {
	switch {
	case off+n <= size:
		return 0
	case off < size:
		return off + n - size
	default:
		return off - size + n
	}
}

// checkWriteRange rejects writes that start before 0 or end past the
// largest representable offset.
func checkWriteRange(off int64, n int) error {
	if off < 0 {
		return fmt.Errorf("%w: negative write offset %d", common.ErrInvalidState, off)
	}
	if off > math.MaxInt64-int64(n) {
		return fmt.Errorf("%w: write of %d bytes at %d overflows", common.ErrInvalidState, n, off)
	}
	return nil
}
