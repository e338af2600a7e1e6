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
	"fmt"
	"runtime/debug"
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"

	"spooledfs/internal/common"
	"spooledfs/internal/namespace"
	"spooledfs/internal/storage"
)

// recoverPanic turns a panic in a request handler into EIO so a single
// bad request never takes down the serve loop.
func recoverPanic(operation string, code *fuse.Status) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if code != nil {
			*code = EIO
		}
	}
}

// fillAttr copies entity attributes into a kernel attribute record.
func fillAttr(a storage.Attr, out *fuse.Attr) {
	out.Ino = a.Ino
	out.Mode = a.Mode
	out.Nlink = a.Nlink
	out.Owner = fuse.Owner{Uid: a.Uid, Gid: a.Gid}
	out.Size = uint64(a.Size)
	out.Blocks = a.Blocks()
	out.Blksize = blockSize
	out.Rdev = storage.DeviceID
	setTime(a.Atime, &out.Atime, &out.Atimensec)
	setTime(a.Mtime, &out.Mtime, &out.Mtimensec)
	setTime(a.Ctime, &out.Ctime, &out.Ctimensec)
}

func setTime(t time.Time, sec *uint64, nsec *uint32) {
	*sec = uint64(t.Unix())
	*nsec = uint32(t.Nanosecond())
}

// fillEntry describes e in a lookup style reply.
func (fs *SpooledFS) fillEntry(e namespace.Entity, out *fuse.EntryOut) {
	out.NodeId = e.Ino()
	out.Generation = 1
	out.SetEntryTimeout(fs.opts.EntryTimeout)
	out.SetAttrTimeout(fs.opts.AttrTimeout)
	fillAttr(e.Attr(), &out.Attr)
}

// reply fills out for e and records the kernel reference it hands out.
func (fs *SpooledFS) reply(e namespace.Entity, out *fuse.EntryOut) {
	fs.fillEntry(e, out)
	fs.reg.Ref(e.Ino())
}

// dirListing returns the children of ino preceded by "." and "..".
func (fs *SpooledFS) dirListing(ino uint64) ([]namespace.DirEntry, error) {
	dir, err := fs.reg.ResolveDir(ino)
	if err != nil {
		return nil, err
	}
	children, err := fs.reg.List(ino)
	if err != nil {
		return nil, err
	}
	entries := make([]namespace.DirEntry, 0, len(children)+2)
	entries = append(entries,
		namespace.DirEntry{Name: ".", Ino: ino, Mode: storage.ModeDir},
		namespace.DirEntry{Name: "..", Ino: dir.Parent(), Mode: storage.ModeDir},
	)
	return append(entries, children...), nil
}

// fileForHandle resolves ino and checks that fh is an open handle on it.
// A file without a handle is closed, so I/O on it is InvalidState.
func (fs *SpooledFS) fileForHandle(ino uint64, fh HandleID) (*namespace.File, error) {
	f, err := fs.reg.ResolveFile(ino)
	if err != nil {
		return nil, err
	}
	info, ok := fs.handles.Get(fh)
	if !ok || info.isDir || info.ino != ino {
		return nil, fmt.Errorf("%w: no open handle %d on inode %d", common.ErrInvalidState, fh, ino)
	}
	return f, nil
}

// dirEntries returns the listing of a directory handle from input.Offset
// on. A read from offset 0 takes a fresh listing.
func (fs *SpooledFS) dirEntries(input *fuse.ReadIn) ([]namespace.DirEntry, error) {
	if input.Offset == 0 {
		entries, err := fs.dirListing(input.NodeId)
		if err != nil {
			return nil, err
		}
		fs.handles.SetEntries(input.Fh, entries)
	}
	entries, ok := fs.handles.Entries(input.Fh)
	if !ok {
		return nil, fmt.Errorf("%w: no open directory handle %d", common.ErrInvalidState, input.Fh)
	}
	if input.Offset >= uint64(len(entries)) {
		return nil, nil
	}
	return entries[input.Offset:], nil
}
