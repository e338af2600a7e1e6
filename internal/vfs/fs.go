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

// Package vfs translates kernel FUSE requests into namespace and storage
// operations.
package vfs

import (
	"time"

	"github.com/hanwen/go-fuse/v2/fuse"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"spooledfs/internal/namespace"
	"spooledfs/internal/storage"
)

// blockSize is the I/O size advertised in attributes and statfs.
const blockSize = 4096

// Options are the kernel cache timeouts used in entry and attribute
// replies.
type Options struct {
	EntryTimeout time.Duration
	AttrTimeout  time.Duration
}

// DefaultOptions returns one second timeouts for entries and attributes.
func DefaultOptions() Options {
	return Options{EntryTimeout: time.Second, AttrTimeout: time.Second}
}

// SpooledFS implements fuse.RawFileSystem over a namespace registry.
// Every request the kernel can send has an explicit method; requests
// outside the supported set answer ENOTSUP. The embedded default file
// system only answers protocol additions newer than this table.
type SpooledFS struct {
	fuse.RawFileSystem

	reg     *namespace.Registry
	handles *HandleManager
	opts    Options
}

var _ fuse.RawFileSystem = (*SpooledFS)(nil)

// NewSpooledFS creates the request handler for one mount.
func NewSpooledFS(reg *namespace.Registry, opts Options) *SpooledFS {
	return &SpooledFS{
		RawFileSystem: fuse.NewDefaultRawFileSystem(),
		reg:           reg,
		handles:       NewHandleManager(),
		opts:          opts,
	}
}

// Registry returns the namespace served by this file system.
func (fs *SpooledFS) Registry() *namespace.Registry { return fs.reg }

// Handles returns the kernel handle table.
func (fs *SpooledFS) Handles() *HandleManager { return fs.handles }

func (fs *SpooledFS) String() string { return "spooledfs" }

func (fs *SpooledFS) SetDebug(debug bool) {}

func (fs *SpooledFS) Init(server *fuse.Server) {
	log.Infof("[VFS] init: threshold=%d spool=%s", fs.reg.Config().Threshold, fs.reg.Config().Dir)
}

// --- Namespace Operations ---

// Lookup resolves name in the directory header.NodeId.
func (fs *SpooledFS) Lookup(cancel <-chan struct{}, header *fuse.InHeader, name string, out *fuse.EntryOut) (code fuse.Status) {
	defer recoverPanic("Lookup", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Lookup parent=%d %q → %v (%v)", header.NodeId, name, code, time.Since(start)) }()
	}
	log.Debugf("[VFS] Lookup: parent=%d name=%q", header.NodeId, name)

	e, err := fs.reg.ResolveChild(header.NodeId, name)
	if err != nil {
		return toStatus("Lookup", err)
	}
	fs.reply(e, out)
	return fuse.OK
}

// Forget drops kernel references; an unlinked file whose references
// reach zero and that has no open handle is destroyed.
func (fs *SpooledFS) Forget(nodeid, nlookup uint64) {
	defer recoverPanic("Forget", nil)
	log.Debugf("[VFS] Forget: ino=%d n=%d", nodeid, nlookup)
	if err := fs.reg.Forget(nodeid, nlookup); err != nil {
		log.Errorf("[VFS] Forget ino=%d: %v", nodeid, err)
	}
}

func (fs *SpooledFS) GetAttr(cancel <-chan struct{}, input *fuse.GetAttrIn, out *fuse.AttrOut) (code fuse.Status) {
	defer recoverPanic("GetAttr", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] GetAttr ino=%d → %v (%v)", input.NodeId, code, time.Since(start)) }()
	}

	e, err := fs.reg.ResolveByInode(input.NodeId)
	if err != nil {
		return toStatus("GetAttr", err)
	}
	out.SetTimeout(fs.opts.AttrTimeout)
	fillAttr(e.Attr(), &out.Attr)
	return fuse.OK
}

// SetAttr is not supported: attributes change only through writes.
func (fs *SpooledFS) SetAttr(cancel <-chan struct{}, input *fuse.SetAttrIn, out *fuse.AttrOut) fuse.Status {
	log.Debugf("[VFS] SetAttr: ino=%d valid=%#x not supported", input.NodeId, input.Valid)
	return ENOTSUP
}

// Mknod creates a regular file without opening it.
func (fs *SpooledFS) Mknod(cancel <-chan struct{}, input *fuse.MknodIn, name string, out *fuse.EntryOut) (code fuse.Status) {
	defer recoverPanic("Mknod", &code)
	log.Debugf("[VFS] Mknod: parent=%d name=%q mode=%o", input.NodeId, name, input.Mode)

	if input.Mode&storage.ModeMask == storage.ModeDir {
		return EINVAL
	}
	e, err := fs.reg.CreateEntity(input.NodeId, name, input.Mode, nil)
	if err != nil {
		return toStatus("Mknod", err)
	}
	fs.reply(e, out)
	return fuse.OK
}

func (fs *SpooledFS) Mkdir(cancel <-chan struct{}, input *fuse.MkdirIn, name string, out *fuse.EntryOut) (code fuse.Status) {
	defer recoverPanic("Mkdir", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mkdir parent=%d %q → %v (%v)", input.NodeId, name, code, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mkdir: parent=%d name=%q mode=%o", input.NodeId, name, input.Mode)

	dir, err := fs.reg.Mkdir(input.NodeId, name, input.Mode)
	if err != nil {
		return toStatus("Mkdir", err)
	}
	fs.reply(dir, out)
	return fuse.OK
}

func (fs *SpooledFS) Unlink(cancel <-chan struct{}, header *fuse.InHeader, name string) (code fuse.Status) {
	defer recoverPanic("Unlink", &code)
	log.Debugf("[VFS] Unlink: parent=%d name=%q", header.NodeId, name)
	return toStatus("Unlink", fs.reg.Unlink(header.NodeId, name))
}

func (fs *SpooledFS) Rmdir(cancel <-chan struct{}, header *fuse.InHeader, name string) fuse.Status {
	log.Debugf("[VFS] Rmdir: parent=%d name=%q not supported", header.NodeId, name)
	return ENOTSUP
}

func (fs *SpooledFS) Rename(cancel <-chan struct{}, input *fuse.RenameIn, oldName string, newName string) fuse.Status {
	log.Debugf("[VFS] Rename: %q -> %q not supported", oldName, newName)
	return ENOTSUP
}

func (fs *SpooledFS) Link(cancel <-chan struct{}, input *fuse.LinkIn, filename string, out *fuse.EntryOut) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) Symlink(cancel <-chan struct{}, header *fuse.InHeader, pointedTo string, linkName string, out *fuse.EntryOut) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) Readlink(cancel <-chan struct{}, header *fuse.InHeader) ([]byte, fuse.Status) {
	return nil, ENOTSUP
}

func (fs *SpooledFS) Access(cancel <-chan struct{}, input *fuse.AccessIn) fuse.Status {
	return ENOTSUP
}

// --- Extended Attributes ---

func (fs *SpooledFS) GetXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string, dest []byte) (uint32, fuse.Status) {
	return 0, ENOTSUP
}

func (fs *SpooledFS) ListXAttr(cancel <-chan struct{}, header *fuse.InHeader, dest []byte) (uint32, fuse.Status) {
	return 0, ENOTSUP
}

func (fs *SpooledFS) SetXAttr(cancel <-chan struct{}, input *fuse.SetXAttrIn, attr string, data []byte) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) RemoveXAttr(cancel <-chan struct{}, header *fuse.InHeader, attr string) fuse.Status {
	return ENOTSUP
}

// --- File Operations ---

// Create makes a regular file under input.NodeId and opens it for the
// caller in one step.
func (fs *SpooledFS) Create(cancel <-chan struct{}, input *fuse.CreateIn, name string, out *fuse.CreateOut) (code fuse.Status) {
	defer recoverPanic("Create", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Create parent=%d %q → %v (%v)", input.NodeId, name, code, time.Since(start)) }()
	}
	log.Debugf("[VFS] Create: parent=%d name=%q mode=%o flags=%#x", input.NodeId, name, input.Mode, input.Flags)

	f, err := fs.reg.CreateFile(input.NodeId, name, input.Mode, nil)
	if err != nil {
		return toStatus("Create", err)
	}
	fh, err := fs.handles.AllocateFile(f, input.Flags)
	if err != nil {
		return toStatus("Create", err)
	}

	fs.reply(f, &out.EntryOut)
	out.OpenOut.Fh = fh
	return fuse.OK
}

func (fs *SpooledFS) Open(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (code fuse.Status) {
	defer recoverPanic("Open", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open ino=%d flags=%#x → %v (%v)", input.NodeId, input.Flags, code, time.Since(start)) }()
	}
	log.Debugf("[VFS] Open: ino=%d flags=%#x", input.NodeId, input.Flags)

	f, err := fs.reg.ResolveFile(input.NodeId)
	if err != nil {
		return toStatus("Open", err)
	}
	fh, err := fs.handles.AllocateFile(f, input.Flags)
	if err != nil {
		return toStatus("Open", err)
	}
	out.Fh = fh
	return fuse.OK
}

// Read copies the requested range into buf while the file is locked, so a
// borrowed in-memory view never outlives the lock.
func (fs *SpooledFS) Read(cancel <-chan struct{}, input *fuse.ReadIn, buf []byte) (result fuse.ReadResult, code fuse.Status) {
	defer recoverPanic("Read", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] Read ino=%d off=%d len=%d → %v (%v)", input.NodeId, input.Offset, input.Size, code, time.Since(start))
		}()
	}

	f, err := fs.fileForHandle(input.NodeId, input.Fh)
	if err != nil {
		return nil, toStatus("Read", err)
	}

	length := int64(input.Size)
	if int(length) > len(buf) {
		length = int64(len(buf))
	}
	var n int
	err = f.View(int64(input.Offset), length, func(v storage.BufferView) error {
		n = copy(buf, v.Bytes())
		return nil
	})
	if err != nil {
		return nil, toStatus("Read", err)
	}
	return fuse.ReadResultData(buf[:n]), fuse.OK
}

func (fs *SpooledFS) Write(cancel <-chan struct{}, input *fuse.WriteIn, data []byte) (written uint32, code fuse.Status) {
	defer recoverPanic("Write", &code)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] Write ino=%d off=%d len=%d → %d %v (%v)", input.NodeId, input.Offset, len(data), written, code, time.Since(start))
		}()
	}

	f, err := fs.fileForHandle(input.NodeId, input.Fh)
	if err != nil {
		return 0, toStatus("Write", err)
	}
	n, err := f.WriteAt(data, int64(input.Offset))
	if err != nil {
		return 0, toStatus("Write", err)
	}
	return uint32(n), fuse.OK
}

// Release drops a file handle; the last one closes the file and lets an
// unlinked file be destroyed.
func (fs *SpooledFS) Release(cancel <-chan struct{}, input *fuse.ReleaseIn) {
	defer recoverPanic("Release", nil)
	log.Debugf("[VFS] Release: ino=%d fh=%d", input.NodeId, input.Fh)

	ino, closed, err := fs.handles.Release(input.Fh)
	if err != nil {
		log.Warnf("[VFS] Release ino=%d fh=%d: %v", input.NodeId, input.Fh, err)
		return
	}
	if closed {
		if err := fs.reg.Reap(ino); err != nil {
			log.Errorf("[VFS] Release ino=%d: %v", ino, err)
		}
	}
}

func (fs *SpooledFS) Flush(cancel <-chan struct{}, input *fuse.FlushIn) fuse.Status {
	return fuse.OK
}

func (fs *SpooledFS) Fsync(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

func (fs *SpooledFS) Fallocate(cancel <-chan struct{}, input *fuse.FallocateIn) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) Lseek(cancel <-chan struct{}, input *fuse.LseekIn, out *fuse.LseekOut) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) CopyFileRange(cancel <-chan struct{}, input *fuse.CopyFileRangeIn) (uint32, fuse.Status) {
	return 0, ENOTSUP
}

// --- Locks ---

func (fs *SpooledFS) GetLk(cancel <-chan struct{}, input *fuse.LkIn, out *fuse.LkOut) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) SetLk(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return ENOTSUP
}

func (fs *SpooledFS) SetLkw(cancel <-chan struct{}, input *fuse.LkIn) fuse.Status {
	return ENOTSUP
}

// --- Directory Operations ---

func (fs *SpooledFS) OpenDir(cancel <-chan struct{}, input *fuse.OpenIn, out *fuse.OpenOut) (code fuse.Status) {
	defer recoverPanic("OpenDir", &code)
	log.Debugf("[VFS] OpenDir: ino=%d", input.NodeId)

	entries, err := fs.dirListing(input.NodeId)
	if err != nil {
		return toStatus("OpenDir", err)
	}
	out.Fh = fs.handles.AllocateDir(input.NodeId, entries)
	return fuse.OK
}

func (fs *SpooledFS) ReadDir(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) (code fuse.Status) {
	defer recoverPanic("ReadDir", &code)

	entries, err := fs.dirEntries(input)
	if err != nil {
		return toStatus("ReadDir", err)
	}
	for _, e := range entries {
		if !out.AddDirEntry(fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: e.Mode}) {
			break
		}
	}
	return fuse.OK
}

// ReadDirPlus lists entries together with their attributes. Every child
// handed out counts as a kernel reference; "." and ".." do not.
func (fs *SpooledFS) ReadDirPlus(cancel <-chan struct{}, input *fuse.ReadIn, out *fuse.DirEntryList) (code fuse.Status) {
	defer recoverPanic("ReadDirPlus", &code)

	entries, err := fs.dirEntries(input)
	if err != nil {
		return toStatus("ReadDirPlus", err)
	}
	for _, e := range entries {
		entryOut := out.AddDirLookupEntry(fuse.DirEntry{Name: e.Name, Ino: e.Ino, Mode: e.Mode})
		if entryOut == nil {
			break
		}
		if e.Name == "." || e.Name == ".." {
			continue
		}
		child, err := fs.reg.ResolveByInode(e.Ino)
		if err != nil {
			// Unlinked since the listing was taken; report the bare name.
			continue
		}
		fs.reply(child, entryOut)
	}
	return fuse.OK
}

func (fs *SpooledFS) ReleaseDir(input *fuse.ReleaseIn) {
	defer recoverPanic("ReleaseDir", nil)
	if _, _, err := fs.handles.Release(input.Fh); err != nil {
		log.Warnf("[VFS] ReleaseDir ino=%d fh=%d: %v", input.NodeId, input.Fh, err)
	}
}

func (fs *SpooledFS) FsyncDir(cancel <-chan struct{}, input *fuse.FsyncIn) fuse.Status {
	return fuse.OK
}

// StatFs reports the free space of the spool directory, where content
// over the threshold ends up.
func (fs *SpooledFS) StatFs(cancel <-chan struct{}, header *fuse.InHeader, out *fuse.StatfsOut) (code fuse.Status) {
	defer recoverPanic("StatFs", &code)

	out.Bsize = blockSize
	out.Frsize = blockSize
	out.NameLen = 255
	out.Files = uint64(fs.reg.Len())
	out.Ffree = 1 << 20

	var st unix.Statfs_t
	if err := unix.Statfs(fs.reg.Config().Dir, &st); err == nil {
		bsize := uint64(st.Bsize)
		out.Blocks = st.Blocks * bsize / blockSize
		out.Bfree = st.Bfree * bsize / blockSize
		out.Bavail = st.Bavail * bsize / blockSize
	}
	return fuse.OK
}
