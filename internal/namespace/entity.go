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

package namespace

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"spooledfs/internal/common"
	"spooledfs/internal/storage"
)

// Entity is a registered file system object: a *Directory or a *File.
type Entity interface {
	Ino() uint64
	Path() string
	// Attr returns a consistent snapshot of the entity's attributes.
	Attr() storage.Attr
	IsDir() bool
	String() string

	entity()
}

var (
	_ Entity = (*Directory)(nil)
	_ Entity = (*File)(nil)
)

// DirEntry is one child of a directory listing.
type DirEntry struct {
	Name string
	Ino  uint64
	Mode uint32
}

// Directory maps child names to inodes. Its lock serializes structural
// changes to the child map; resolves take it shared.
type Directory struct {
	ino    uint64
	parent uint64
	path   string

	mu       sync.RWMutex
	attr     storage.Attr
	children map[string]uint64
}

func newDirectory(ino, parent uint64, path string, mode uint32) *Directory {
	attr := storage.NewAttr(ino, storage.ModeDir|mode&0777, storage.DirSize)
	return &Directory{
		ino:      ino,
		parent:   parent,
		path:     path,
		attr:     attr,
		children: make(map[string]uint64),
	}
}

func (d *Directory) Ino() uint64  { return d.ino }
func (d *Directory) Path() string { return d.path }
func (d *Directory) IsDir() bool  { return true }

// Parent returns the inode of the containing directory; the root is its
// own parent.
func (d *Directory) Parent() uint64 { return d.parent }
func (d *Directory) entity()      {}

func (d *Directory) Attr() storage.Attr {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.attr
}

// Child returns the inode registered under name.
func (d *Directory) Child(name string) (uint64, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	ino, ok := d.children[name]
	return ino, ok
}

// Len returns the number of children.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.children)
}

// names returns the child names in sorted order.
func (d *Directory) names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.children))
	for name := range d.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Directory) String() string {
	return fmt.Sprintf("Directory(ino=%d,path=%q,children=%d)", d.ino, d.path, d.Len())
}

// File is a regular file backed by a spooled storage context. Its lock is
// held for the whole of every open, close, read and write, which also
// covers a migration triggered by a write.
type File struct {
	ino  uint64
	path string

	mu        sync.Mutex
	attr      storage.Attr
	store     *storage.SpooledStorage
	destroyed bool
}

func newFile(cfg storage.SpoolConfig, ino uint64, path string, mode uint32, initial []byte) (*File, error) {
	store, err := storage.NewSpooledStorage(cfg, path, ino, initial)
	if err != nil {
		return nil, err
	}
	return &File{
		ino:   ino,
		path:  path,
		attr:  storage.NewAttr(ino, storage.ModeFile|mode&0777, store.Size()),
		store: store,
	}, nil
}

func (f *File) Ino() uint64  { return f.ino }
func (f *File) Path() string { return f.path }
func (f *File) IsDir() bool  { return false }
func (f *File) entity()      {}

func (f *File) Attr() storage.Attr {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attr
}

// Kind reports whether the content currently lives in memory or on disk.
func (f *File) Kind() storage.Kind {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.store.Kind()
}

func (f *File) IsOpen() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return !f.destroyed && f.store.IsOpen()
}

func (f *File) checkLive() error {
	if f.destroyed {
		return fmt.Errorf("%w: %s was destroyed", common.ErrNotFound, f.path)
	}
	return nil
}

// Open starts an I/O session. A second Open without Close fails with
// common.ErrInvalidState.
func (f *File) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLive(); err != nil {
		return err
	}
	return f.store.Open()
}

func (f *File) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLive(); err != nil {
		return err
	}
	return f.store.Close()
}

// View reads length bytes at off (storage.WholeContent for everything) and
// hands the view to fn while the file is locked. The view is released
// when fn returns, so fn must copy out anything it keeps.
func (f *File) View(off, length int64, fn func(storage.BufferView) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLive(); err != nil {
		return err
	}

	view, err := f.store.ReadAt(off, length)
	if err != nil {
		return err
	}
	defer view.Release()

	f.attr.Atime = time.Now()
	return fn(view)
}

// ReadAt copies up to len(p) bytes at off into p and returns the count.
func (f *File) ReadAt(p []byte, off int64) (int, error) {
	var n int
	err := f.View(off, int64(len(p)), func(v storage.BufferView) error {
		n = copy(p, v.Bytes())
		return nil
	})
	return n, err
}

// WriteAt writes p at off. Size, mtime and ctime change together with the
// content; size is taken from the storage even when the write fails after
// landing, so it never disagrees with what a read returns.
func (f *File) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.checkLive(); err != nil {
		return 0, err
	}

	n, err := f.store.WriteAt(p, off)
	if n > 0 || f.attr.Size != f.store.Size() {
		f.attr.Size = f.store.Size()
		f.attr.Touch(time.Now())
	}
	return n, err
}

// Destroy releases the storage, deleting any backing file. Operations
// after Destroy fail with common.ErrNotFound.
func (f *File) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.destroyed {
		return nil
	}
	f.destroyed = true
	return f.store.Destroy()
}

func (f *File) String() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fmt.Sprintf("File(ino=%d,path=%q,%s)", f.ino, f.path, f.store)
}
