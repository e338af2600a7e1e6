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
	"sync"

	"spooledfs/internal/common"
	"spooledfs/internal/namespace"
)

// HandleID is a kernel file handle (the Fh of open, read, write and
// release requests).
type HandleID = uint64

// openHandle is one kernel open of a file or directory.
type openHandle struct {
	ino   uint64
	file  *namespace.File // nil for directories
	isDir bool
	flags uint32

	// Directory listing taken at opendir and refreshed when a readdir
	// starts over from offset 0.
	entries []namespace.DirEntry
}

// inodeOpens counts the open handles of one file. mu serializes the
// storage Open and Close of that file without holding the table lock, so a
// long write on one file never stalls opens and releases of the others.
type inodeOpens struct {
	mu    sync.Mutex
	count int // open handles; guarded by mu

	// users counts open handles plus callers between acquire and settle;
	// guarded by HandleManager.mu. The entry is dropped when it reaches 0.
	users int
}

// HandleManager tracks kernel handles. Several kernel opens of one file
// share a single storage session: the first handle opens the file and the
// last release closes it.
type HandleManager struct {
	mu         sync.Mutex
	handles    map[HandleID]*openHandle
	opens      map[uint64]*inodeOpens
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		opens:      make(map[uint64]*inodeOpens),
		nextHandle: 1,
	}
}

// acquire returns the open counter of ino, pinned for the caller.
func (hm *HandleManager) acquire(ino uint64) *inodeOpens {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	o, ok := hm.opens[ino]
	if !ok {
		o = &inodeOpens{}
		hm.opens[ino] = o
	}
	o.users++
	return o
}

// settle drops n pins on the counter of ino.
func (hm *HandleManager) settle(ino uint64, o *inodeOpens, n int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	o.users -= n
	if o.users <= 0 && hm.opens[ino] == o {
		delete(hm.opens, ino)
	}
}

// AllocateFile creates a handle for f, opening it if this is its first
// handle.
func (hm *HandleManager) AllocateFile(f *namespace.File, flags uint32) (HandleID, error) {
	o := hm.acquire(f.Ino())

	o.mu.Lock()
	if o.count == 0 {
		if err := f.Open(); err != nil {
			o.mu.Unlock()
			hm.settle(f.Ino(), o, 1)
			return 0, err
		}
	}
	o.count++
	o.mu.Unlock()

	// the pin taken by acquire now belongs to the handle
	hm.mu.Lock()
	defer hm.mu.Unlock()
	handle := hm.nextHandle
	hm.nextHandle++
	hm.handles[handle] = &openHandle{
		ino:   f.Ino(),
		file:  f,
		flags: flags,
	}
	return handle, nil
}

// AllocateDir creates a directory handle holding a listing snapshot.
func (hm *HandleManager) AllocateDir(ino uint64, entries []namespace.DirEntry) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++
	hm.handles[handle] = &openHandle{
		ino:     ino,
		isDir:   true,
		entries: entries,
	}
	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Entries returns the listing of a directory handle.
func (hm *HandleManager) Entries(h HandleID) ([]namespace.DirEntry, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	if !ok || !info.isDir {
		return nil, false
	}
	return info.entries, true
}

// SetEntries replaces the listing of a directory handle.
func (hm *HandleManager) SetEntries(h HandleID, entries []namespace.DirEntry) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok && info.isDir {
		info.entries = entries
	}
}

// OpenCount returns the number of open file handles on ino.
func (hm *HandleManager) OpenCount(ino uint64) int {
	hm.mu.Lock()
	o, ok := hm.opens[ino]
	hm.mu.Unlock()
	if !ok {
		return 0
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.count
}

// Release frees a handle. For the last handle of a file it closes the file
// and reports closed=true so the caller can reap it.
func (hm *HandleManager) Release(h HandleID) (ino uint64, closed bool, err error) {
	hm.mu.Lock()
	info, ok := hm.handles[h]
	if !ok {
		hm.mu.Unlock()
		return 0, false, common.ErrInvalidState
	}
	delete(hm.handles, h)
	if info.isDir {
		hm.mu.Unlock()
		return info.ino, false, nil
	}
	o, ok := hm.opens[info.ino]
	if !ok {
		// counters were dropped by Clear
		hm.mu.Unlock()
		return info.ino, false, nil
	}
	o.users++
	hm.mu.Unlock()

	o.mu.Lock()
	o.count--
	if o.count == 0 {
		closed = true
		err = info.file.Close()
	}
	o.mu.Unlock()

	// this call's pin and the released handle's
	hm.settle(info.ino, o, 2)
	return info.ino, closed, err
}

// Clear releases every handle, closing open files. It returns the number
// of handles cleared.
func (hm *HandleManager) Clear() int {
	hm.mu.Lock()
	count := len(hm.handles)
	files := make(map[uint64]*namespace.File)
	for _, info := range hm.handles {
		if info.file != nil {
			files[info.ino] = info.file
		}
	}
	hm.handles = make(map[HandleID]*openHandle)
	hm.opens = make(map[uint64]*inodeOpens)
	// nextHandle keeps counting so stale kernel handles never alias new ones
	hm.mu.Unlock()

	for _, f := range files {
		f.Close()
	}
	return count
}
