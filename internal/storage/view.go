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
	"sync"
	"sync/atomic"

	"spooledfs/internal/common"
)

// Ownership tells the consumer of a BufferView what it must do with it.
type Ownership int

const (
	// Borrowed views alias a strategy's internal buffer. They are valid
	// only while the producing entity is locked and unmodified.
	Borrowed Ownership = iota
	// Owned views hold a private copy that must be released exactly once.
	Owned
)

func (o Ownership) String() string {
	switch o {
	case Borrowed:
		return "borrowed"
	case Owned:
		return "owned"
	default:
		return "unknown"
	}
}

// BufferView is the result of a storage read. The implementations are
// borrowedView and ownedView; no other type satisfies the interface.
type BufferView interface {
	// Bytes returns the viewed bytes. It returns nil once an owned view
	// has been released.
	Bytes() []byte
	Len() int
	Ownership() Ownership
	// Release hands an owned buffer back for reuse. It is a no-op for
	// borrowed views and fails with common.ErrReleased on a second call.
	Release() error

	bufferView()
}

type borrowedView struct {
	data []byte
}

func borrow(data []byte) BufferView {
	// Cap the slice so an append by the consumer cannot write into the
	// strategy's buffer.
	return &borrowedView{data: data[:len(data):len(data)]}
}

func (v *borrowedView) Bytes() []byte        { return v.data }
func (v *borrowedView) Len() int             { return len(v.data) }
func (v *borrowedView) Ownership() Ownership { return Borrowed }
func (v *borrowedView) Release() error       { return nil }
func (v *borrowedView) bufferView()          {}

// ownedBufferSize is the capacity of pooled buffers; larger reads get a
// dedicated allocation that is dropped on release.
const ownedBufferSize = 128 * 1024

var ownedPool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, ownedBufferSize)
		return &b
	},
}

type ownedView struct {
	buf      *[]byte
	released atomic.Bool
}

// newOwnedView returns an owned view of n bytes with unspecified content.
// The caller fills Bytes() before handing the view out.
func newOwnedView(n int) *ownedView {
	if n > ownedBufferSize {
		b := make([]byte, n)
		return &ownedView{buf: &b}
	}
	bp := ownedPool.Get().(*[]byte)
	*bp = (*bp)[:n]
	return &ownedView{buf: bp}
}

func (v *ownedView) Bytes() []byte {
	if v.released.Load() {
		return nil
	}
	return *v.buf
}

func (v *ownedView) Len() int {
	if v.released.Load() {
		return 0
	}
	return len(*v.buf)
}

func (v *ownedView) Ownership() Ownership { return Owned }

func (v *ownedView) Release() error {
	if v.released.Swap(true) {
		return common.ErrReleased
	}
	if cap(*v.buf) == ownedBufferSize {
		*v.buf = (*v.buf)[:0]
		ownedPool.Put(v.buf)
	}
	return nil
}

func (v *ownedView) bufferView() {}
