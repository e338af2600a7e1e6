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
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	log "github.com/sirupsen/logrus"
	"github.com/zeebo/blake3"

	"spooledfs/internal/common"
)

// BackingFileName derives the spool file name of an entity from a hash of
// its path. The inode suffix keeps a recreated path from colliding with a
// still-referenced unlinked file of the same name.
func BackingFileName(path string, ino uint64) string {
	h := blake3.New()
	h.Write([]byte(path))
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:16]) + "." + strconv.FormatUint(ino, 10) + ".spool"
}

// spoolFile is the part of *os.File the disk strategy uses.
type spoolFile interface {
	io.ReadWriteSeeker
	io.Closer
	Truncate(size int64) error
}

// DiskStorage keeps the content in a private file under the spool
// directory. cursor tracks the descriptor offset after the last I/O so
// sequential access does not seek; -1 means unknown.
type DiskStorage struct {
	path     string
	diskPath string
	file     spoolFile
	size     int64
	cursor   int64
}

// NewDiskStorage creates the backing file in dir, fills it with initial and
// closes it again, so a new strategy is always in the closed state.
func NewDiskStorage(dir, path string, ino uint64, initial []byte) (*DiskStorage, error) {
	d := &DiskStorage{
		path:     path,
		diskPath: filepath.Join(dir, BackingFileName(path, ino)),
	}

	if err := os.Remove(d.diskPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, ioFailure("remove stale", d.diskPath, err)
	}
	f, err := os.OpenFile(d.diskPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, ioFailure("create", d.diskPath, err)
	}

	if len(initial) > 0 {
		n, err := f.Write(initial)
		if err == nil && n < len(initial) {
			err = io.ErrShortWrite
		}
		if err != nil {
			f.Close()
			os.Remove(d.diskPath)
			return nil, ioFailure("seed", d.diskPath, err)
		}
		d.size = int64(n)
	}

	if err := f.Close(); err != nil {
		os.Remove(d.diskPath)
		return nil, ioFailure("close", d.diskPath, err)
	}

	log.Debugf("[storage] created spool file %s for %q (%d bytes)", d.diskPath, path, d.size)
	return d, nil
}

func ioFailure(op, path string, err error) error {
	return fmt.Errorf("%s %s: %w: %v", op, path, common.ErrIO, err)
}

func (d *DiskStorage) Kind() Kind   { return KindDisk }
func (d *DiskStorage) IsOpen() bool { return d.file != nil }
func (d *DiskStorage) Size() int64  { return d.size }
func (d *DiskStorage) strategy()    {}

// DiskPath returns the location of the backing file.
func (d *DiskStorage) DiskPath() string { return d.diskPath }

func (d *DiskStorage) Open() error {
	if d.file != nil {
		return fmt.Errorf("%w: %s already open", common.ErrInvalidState, d.path)
	}
	f, err := os.OpenFile(d.diskPath, os.O_RDWR, 0)
	if err != nil {
		return ioFailure("open", d.diskPath, err)
	}
	d.file = f
	d.cursor = 0
	return nil
}

func (d *DiskStorage) Close() error {
	if d.file == nil {
		return fmt.Errorf("%w: %s not open", common.ErrInvalidState, d.path)
	}
	err := d.file.Close()
	d.file = nil
	d.cursor = 0
	if err != nil {
		return ioFailure("close", d.diskPath, err)
	}
	return nil
}

func (d *DiskStorage) seek(off int64) error {
	if d.cursor == off {
		return nil
	}
	if _, err := d.file.Seek(off, io.SeekStart); err != nil {
		d.cursor = -1
		return ioFailure("seek", d.diskPath, err)
	}
	d.cursor = off
	return nil
}

// WriteAt writes through the descriptor. Seeking past the end and writing
// leaves a hole that reads back as zeros, which is the gap semantics of
// MemoryStorage. A short write grows the size by what actually landed and
// fails with common.ErrShortWrite.
func (d *DiskStorage) WriteAt(p []byte, off int64) (int, error) {
	if d.file == nil {
		return 0, fmt.Errorf("%w: write to closed %s", common.ErrInvalidState, d.path)
	}
	if err := checkWriteRange(off, len(p)); err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, d.extend(off)
	}
	if err := d.seek(off); err != nil {
		return 0, err
	}

	n, err := d.file.Write(p)
	if n > 0 {
		d.size += growth(d.size, off, int64(n))
	}
	if err != nil {
		d.cursor = -1
		return n, ioFailure("write", d.diskPath, err)
	}
	d.cursor = off + int64(n)
	if n < len(p) {
		return n, fmt.Errorf("%w: %s wrote %d of %d bytes", common.ErrShortWrite, d.diskPath, n, len(p))
	}
	return n, nil
}

// extend grows the file to off with a hole, as an empty write past the end
// does for MemoryStorage.
func (d *DiskStorage) extend(off int64) error {
	if off <= d.size {
		return nil
	}
	if err := d.file.Truncate(off); err != nil {
		return ioFailure("extend", d.diskPath, err)
	}
	d.size = off
	return nil
}

// ReadAt copies the range into a fresh owned view; the caller releases it.
func (d *DiskStorage) ReadAt(off, length int64) (BufferView, error) {
	if d.file == nil {
		return nil, fmt.Errorf("%w: read from closed %s", common.ErrInvalidState, d.path)
	}
	off, length, err := NormalizeRange(off, length, d.size)
	if err != nil {
		return nil, err
	}

	view := newOwnedView(int(length))
	if length == 0 {
		return view, nil
	}
	if err := d.seek(off); err != nil {
		view.Release()
		return nil, err
	}
	n, err := io.ReadFull(d.file, view.Bytes())
	if err != nil {
		view.Release()
		d.cursor = -1
		return nil, ioFailure("read", d.diskPath, err)
	}
	d.cursor = off + int64(n)
	return view, nil
}

// Destroy closes the descriptor if needed and deletes the backing file.
func (d *DiskStorage) Destroy() error {
	var closeErr error
	if d.file != nil {
		closeErr = d.file.Close()
		d.file = nil
	}
	if err := os.Remove(d.diskPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return ioFailure("remove", d.diskPath, err)
	}
	log.Debugf("[storage] removed spool file %s", d.diskPath)
	if closeErr != nil {
		return ioFailure("close", d.diskPath, closeErr)
	}
	return nil
}

func (d *DiskStorage) String() string {
	return fmt.Sprintf("DiskStorage(path=%q,disk=%s,size=%d,open=%v)", d.path, d.diskPath, d.size, d.file != nil)
}
