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
	"fmt"
	"slices"

	"spooledfs/internal/common"
)

// MemoryStorage keeps the whole content in one contiguous slice.
type MemoryStorage struct {
	path string // entity path, for String()
	blob []byte
	open bool
}

// NewMemoryStorage returns a closed in-memory strategy holding a copy of
// initial.
func NewMemoryStorage(path string, initial []byte) *MemoryStorage {
	return &MemoryStorage{
		path: path,
		blob: slices.Clone(initial),
	}
}

func (m *MemoryStorage) Kind() Kind   { return KindMemory }
func (m *MemoryStorage) IsOpen() bool { return m.open }
func (m *MemoryStorage) Size() int64  { return int64(len(m.blob)) }
func (m *MemoryStorage) strategy()    {}

func (m *MemoryStorage) Open() error {
	if m.open {
		return fmt.Errorf("%w: %s already open", common.ErrInvalidState, m.path)
	}
	m.open = true
	return nil
}

func (m *MemoryStorage) Close() error {
	if !m.open {
		return fmt.Errorf("%w: %s not open", common.ErrInvalidState, m.path)
	}
	m.open = false
	return nil
}

// WriteAt handles the three placements of a write relative to the current
// length L: fully inside, straddling L, or at/after L with a zero gap.
func (m *MemoryStorage) WriteAt(p []byte, off int64) (int, error) {
	if !m.open {
		return 0, fmt.Errorf("%w: write to closed %s", common.ErrInvalidState, m.path)
	}
	if err := checkWriteRange(off, len(p)); err != nil {
		return 0, err
	}

	size := int64(len(m.blob))
	end := off + int64(len(p))

	switch {
	case end <= size:
		copy(m.blob[off:end], p)
	case off < size:
		n := copy(m.blob[off:], p)
		m.blob = append(m.blob, p[n:]...)
	default:
		gap := int(off - size)
		m.blob = slices.Grow(m.blob, gap+len(p))
		m.blob = m.blob[:int(off)]
		clear(m.blob[size:])
		m.blob = append(m.blob, p...)
	}
	return len(p), nil
}

// ReadAt returns a borrowed view over the backing slice. The view is valid
// until the next WriteAt, Close or Destroy.
func (m *MemoryStorage) ReadAt(off, length int64) (BufferView, error) {
	if !m.open {
		return nil, fmt.Errorf("%w: read from closed %s", common.ErrInvalidState, m.path)
	}
	off, length, err := NormalizeRange(off, length, int64(len(m.blob)))
	if err != nil {
		return nil, err
	}
	if length == 0 {
		return borrow(nil), nil
	}
	return borrow(m.blob[off : off+length]), nil
}

func (m *MemoryStorage) Destroy() error {
	m.blob = nil
	m.open = false
	return nil
}

func (m *MemoryStorage) String() string {
	return fmt.Sprintf("MemoryStorage(path=%q,size=%d,open=%v)", m.path, len(m.blob), m.open)
}
