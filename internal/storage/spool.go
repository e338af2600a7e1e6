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

	"github.com/dustin/go-humanize"
	log "github.com/sirupsen/logrus"

	"spooledfs/internal/common"
)

// DefaultThreshold is the spool threshold used when a mount does not set one.
const DefaultThreshold = 1024

// SpoolConfig is the per-mount spooling configuration. It is fixed when the
// mount starts.
type SpoolConfig struct {
	// Threshold is the largest content size kept in memory.
	Threshold int64
	// Dir receives the backing files of disk-backed content.
	Dir string
}

// SpooledStorage holds exactly one active strategy. It starts in memory
// unless the initial content is already over the threshold, and moves to
// disk once, the first time a write grows the content past the threshold.
// It never moves back.
//
// SpooledStorage is not safe for concurrent use. The owning file entity
// holds its lock across every call, which also covers a migration.
type SpooledStorage struct {
	cfg    SpoolConfig
	path   string
	ino    uint64
	active Strategy
}

// NewSpooledStorage builds the storage for an entity. The result is closed.
func NewSpooledStorage(cfg SpoolConfig, path string, ino uint64, initial []byte) (*SpooledStorage, error) {
	s := &SpooledStorage{cfg: cfg, path: path, ino: ino}
	if int64(len(initial)) > cfg.Threshold {
		disk, err := NewDiskStorage(cfg.Dir, path, ino, initial)
		if err != nil {
			return nil, err
		}
		s.active = disk
	} else {
		s.active = NewMemoryStorage(path, initial)
	}
	return s, nil
}

// Kind reports the active representation.
func (s *SpooledStorage) Kind() Kind   { return s.active.Kind() }
func (s *SpooledStorage) IsOpen() bool { return s.active.IsOpen() }
func (s *SpooledStorage) Size() int64  { return s.active.Size() }
func (s *SpooledStorage) Open() error  { return s.active.Open() }
func (s *SpooledStorage) Close() error { return s.active.Close() }

// ReadAt resolves the WholeContent sentinel and reads from the active
// strategy. Memory content comes back borrowed, disk content owned.
func (s *SpooledStorage) ReadAt(off, length int64) (BufferView, error) {
	off, length, err := NormalizeRange(off, length, s.active.Size())
	if err != nil {
		return nil, err
	}
	return s.active.ReadAt(off, length)
}

// WriteAt writes through the active strategy. A write whose end lies past
// the threshold while the content is in memory migrates to disk first, so
// a far-off sparse write becomes a hole in the backing file instead of a
// zero gap in memory. A failed migration leaves the memory strategy and
// its content untouched and writes nothing; the next such write tries
// again.
func (s *SpooledStorage) WriteAt(p []byte, off int64) (int, error) {
	if err := checkWriteRange(off, len(p)); err != nil {
		return 0, err
	}
	if s.active.Kind() == KindMemory && off+int64(len(p)) > s.cfg.Threshold {
		if !s.active.IsOpen() {
			return 0, fmt.Errorf("%w: write to closed %s", common.ErrInvalidState, s.path)
		}
		if err := s.migrate(); err != nil {
			return 0, err
		}
	}
	return s.active.WriteAt(p, off)
}

// migrate copies the full memory content into a new disk strategy, opens
// it and only then swaps it in and discards the memory strategy.
func (s *SpooledStorage) migrate() error {
	switch mem := s.active.(type) {
	case *DiskStorage:
		return nil
	case *MemoryStorage:
		view, err := mem.ReadAt(0, mem.Size())
		if err != nil {
			return err
		}
		disk, err := NewDiskStorage(s.cfg.Dir, s.path, s.ino, view.Bytes())
		view.Release()
		if err != nil {
			log.Errorf("[storage] migration of %q (ino %d) failed: %v", s.path, s.ino, err)
			return err
		}
		if mem.IsOpen() {
			if err := disk.Open(); err != nil {
				disk.Destroy()
				log.Errorf("[storage] migration of %q (ino %d) failed: %v", s.path, s.ino, err)
				return err
			}
		}

		s.active = disk
		mem.Destroy()
		log.Infof("[storage] migrated %q (ino %d) to disk at %s (%s, threshold %s)",
			s.path, s.ino, disk.DiskPath(),
			humanize.IBytes(uint64(disk.Size())), humanize.IBytes(uint64(s.cfg.Threshold)))
		return nil
	default:
		return fmt.Errorf("unknown storage strategy %T", s.active)
	}
}

// Destroy releases the active strategy, deleting the backing file of
// disk-backed content.
func (s *SpooledStorage) Destroy() error {
	return s.active.Destroy()
}

func (s *SpooledStorage) String() string {
	return "SpooledStorage[" + s.active.String() + "]"
}
