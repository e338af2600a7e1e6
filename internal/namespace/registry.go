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

// Package namespace holds the inode table of a mount and the directory
// tree built on it. A Registry is created once per mount and passed to
// every request handler.
package namespace

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"spooledfs/internal/common"
	"spooledfs/internal/storage"
)

// node is the registry's bookkeeping for one inode. lookups counts the
// kernel references handed out; an unlinked file is destroyed once that
// count is zero and the file is no longer open.
type node struct {
	entity   Entity
	lookups  uint64
	unlinked bool
}

// Registry is the inode table. Resolves share the table lock; structural
// changes hold the parent directory's lock for the whole change and the
// table lock only for the insert or delete itself.
type Registry struct {
	cfg storage.SpoolConfig

	mu    sync.RWMutex
	nodes map[uint64]*node

	nextIno atomic.Uint64
}

// NewRegistry returns a registry holding only the root directory.
func NewRegistry(cfg storage.SpoolConfig) *Registry {
	r := &Registry{
		cfg:   cfg,
		nodes: make(map[uint64]*node),
	}
	r.nextIno.Store(storage.RootIno)
	r.nodes[storage.RootIno] = &node{entity: newDirectory(storage.RootIno, storage.RootIno, common.RootPath, storage.DefaultDirMode)}
	return r
}

// Config returns the spooling configuration new files are created with.
func (r *Registry) Config() storage.SpoolConfig { return r.cfg }

// Root returns the root directory.
func (r *Registry) Root() *Directory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nodes[storage.RootIno].entity.(*Directory)
}

// Len returns the number of registered entities, root included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// ResolveByInode returns the entity registered under ino.
func (r *Registry) ResolveByInode(ino uint64) (Entity, error) {
	r.mu.RLock()
	n, ok := r.nodes[ino]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: inode %d", common.ErrNotFound, ino)
	}
	return n.entity, nil
}

// ResolveFile is ResolveByInode restricted to regular files.
func (r *Registry) ResolveFile(ino uint64) (*File, error) {
	e, err := r.ResolveByInode(ino)
	if err != nil {
		return nil, err
	}
	f, ok := e.(*File)
	if !ok {
		return nil, fmt.Errorf("%w: %w: inode %d", common.ErrInvalidState, common.ErrIsDir, ino)
	}
	return f, nil
}

// ResolveDir is ResolveByInode restricted to directories.
func (r *Registry) ResolveDir(ino uint64) (*Directory, error) {
	e, err := r.ResolveByInode(ino)
	if err != nil {
		return nil, err
	}
	d, ok := e.(*Directory)
	if !ok {
		return nil, fmt.Errorf("%w: %w: inode %d", common.ErrInvalidState, common.ErrNotDir, ino)
	}
	return d, nil
}

// ResolveChild looks name up in the directory parent.
func (r *Registry) ResolveChild(parent uint64, name string) (Entity, error) {
	dir, err := r.ResolveDir(parent)
	if err != nil {
		return nil, err
	}
	ino, ok := dir.Child(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q in %s", common.ErrNotFound, name, dir.Path())
	}
	return r.ResolveByInode(ino)
}

// CreateEntity registers a new entity called name under parent. The type
// bits of mode select a directory or a regular file; mode without type
// bits is a regular file. Regular files get a spooled storage seeded with
// initial.
func (r *Registry) CreateEntity(parent uint64, name string, mode uint32, initial []byte) (Entity, error) {
	if !common.ValidName(name) {
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidPath, name)
	}
	typ := mode & storage.ModeMask
	if typ != 0 && typ != storage.ModeDir && typ != storage.ModeFile {
		return nil, fmt.Errorf("%w: file type %o", common.ErrNotSupported, typ)
	}

	dir, err := r.ResolveDir(parent)
	if err != nil {
		return nil, err
	}

	dir.mu.Lock()
	defer dir.mu.Unlock()

	if _, exists := dir.children[name]; exists {
		return nil, fmt.Errorf("%w: %q in %s", common.ErrExists, name, dir.path)
	}

	ino := r.nextIno.Add(1)
	path := common.ChildPath(dir.path, name)

	var e Entity
	if typ == storage.ModeDir {
		e = newDirectory(ino, dir.ino, path, mode)
	} else {
		f, err := newFile(r.cfg, ino, path, mode, initial)
		if err != nil {
			return nil, err
		}
		e = f
	}

	r.mu.Lock()
	r.nodes[ino] = &node{entity: e}
	r.mu.Unlock()

	dir.children[name] = ino
	dir.attr.Touch(e.Attr().Ctime)

	log.Debugf("[namespace] created %s", e)
	return e, nil
}

// CreateFile creates a regular file and returns it.
func (r *Registry) CreateFile(parent uint64, name string, mode uint32, initial []byte) (*File, error) {
	e, err := r.CreateEntity(parent, name, storage.ModeFile|mode&0777, initial)
	if err != nil {
		return nil, err
	}
	return e.(*File), nil
}

// Mkdir creates a directory and returns it.
func (r *Registry) Mkdir(parent uint64, name string, mode uint32) (*Directory, error) {
	e, err := r.CreateEntity(parent, name, storage.ModeDir|mode&0777, nil)
	if err != nil {
		return nil, err
	}
	return e.(*Directory), nil
}

// Unlink removes the name of a regular file from parent. The file stays
// resolvable by inode until it is forgotten and closed.
func (r *Registry) Unlink(parent uint64, name string) error {
	dir, err := r.ResolveDir(parent)
	if err != nil {
		return err
	}

	dir.mu.Lock()
	ino, found := dir.children[name]
	if !found {
		dir.mu.Unlock()
		return fmt.Errorf("%w: %q in %s", common.ErrNotFound, name, dir.path)
	}
	e, err := r.ResolveByInode(ino)
	if err != nil {
		dir.mu.Unlock()
		return err
	}
	if e.IsDir() {
		dir.mu.Unlock()
		return fmt.Errorf("%w: %w: %s", common.ErrInvalidState, common.ErrIsDir, e.Path())
	}
	delete(dir.children, name)
	dir.attr.Touch(time.Now())
	dir.mu.Unlock()

	r.mu.Lock()
	if n, ok := r.nodes[ino]; ok {
		n.unlinked = true
	}
	r.mu.Unlock()

	log.Debugf("[namespace] unlinked %q from %s (ino %d)", name, dir.path, ino)
	return r.Reap(ino)
}

// Ref records one kernel reference to ino, handed out by a lookup, create
// or mkdir reply.
func (r *Registry) Ref(ino uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if n, ok := r.nodes[ino]; ok {
		n.lookups++
	}
}

// Forget drops nlookup kernel references to ino.
func (r *Registry) Forget(ino, nlookup uint64) error {
	r.mu.Lock()
	n, ok := r.nodes[ino]
	if ok {
		if nlookup > n.lookups {
			nlookup = n.lookups
		}
		n.lookups -= nlookup
	}
	r.mu.Unlock()
	if !ok {
		return nil
	}
	return r.Reap(ino)
}

// Reap destroys ino if it is an unlinked file with no kernel references
// and no open session. It is called after unlink, forget and the last
// close.
func (r *Registry) Reap(ino uint64) error {
	r.mu.Lock()
	n, ok := r.nodes[ino]
	if !ok || !n.unlinked || n.lookups > 0 {
		r.mu.Unlock()
		return nil
	}
	f, isFile := n.entity.(*File)
	if !isFile || f.IsOpen() {
		r.mu.Unlock()
		return nil
	}
	delete(r.nodes, ino)
	r.mu.Unlock()

	log.Debugf("[namespace] destroying %s", f)
	return f.Destroy()
}

// List returns the children of the directory ino, sorted by name.
func (r *Registry) List(ino uint64) ([]DirEntry, error) {
	dir, err := r.ResolveDir(ino)
	if err != nil {
		return nil, err
	}
	names := dir.names()
	entries := make([]DirEntry, 0, len(names))
	for _, name := range names {
		e, err := r.ResolveChild(ino, name)
		if errors.Is(err, common.ErrNotFound) {
			// Removed since names() was taken.
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, DirEntry{Name: name, Ino: e.Ino(), Mode: e.Attr().Mode})
	}
	return entries, nil
}

// DestroyAll destroys the storage of every registered file and empties
// the registry down to the root. It is called once the mount is gone.
func (r *Registry) DestroyAll() error {
	r.mu.Lock()
	nodes := r.nodes
	root := nodes[storage.RootIno]
	r.nodes = map[uint64]*node{storage.RootIno: root}
	r.mu.Unlock()

	rootDir := root.entity.(*Directory)
	rootDir.mu.Lock()
	rootDir.children = make(map[string]uint64)
	rootDir.mu.Unlock()

	var errs []error
	for _, n := range nodes {
		if f, ok := n.entity.(*File); ok {
			if err := f.Destroy(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
