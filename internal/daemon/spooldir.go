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

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// spoolDirPrefix names the per-mount spool directories under the tmp dir.
const spoolDirPrefix = "spooledfs-"

// SpoolDir is the private directory holding the backing files of one
// mount. A sibling lock file is held for the life of the mount so a later
// mount can tell a live directory from one left behind by a crash.
type SpoolDir struct {
	Path string
	lock *flock.Flock
}

// CreateSpoolDir locks and then creates a new uuid-named spool directory
// under tmpDir. Taking the lock first means a concurrent sweep never sees
// the directory unlocked.
func CreateSpoolDir(tmpDir string) (*SpoolDir, error) {
	path := filepath.Join(tmpDir, spoolDirPrefix+uuid.New().String())

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil || !locked {
		if err == nil {
			err = fmt.Errorf("lock %s is held", lock.Path())
		}
		return nil, fmt.Errorf("failed to lock spool directory: %w", err)
	}

	if err := os.Mkdir(path, 0700); err != nil {
		lock.Unlock()
		os.Remove(lock.Path())
		return nil, fmt.Errorf("failed to create spool directory: %w", err)
	}

	log.Debugf("[daemon] spool directory %s", path)
	return &SpoolDir{Path: path, lock: lock}, nil
}

// Remove deletes the directory with whatever it still holds, then drops
// and deletes the lock file.
func (d *SpoolDir) Remove() error {
	err := os.RemoveAll(d.Path)
	if unlockErr := d.lock.Unlock(); unlockErr != nil && err == nil {
		err = unlockErr
	}
	if rmErr := os.Remove(d.lock.Path()); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) && err == nil {
		err = rmErr
	}
	return err
}

// isSpoolDirName reports whether name is a spool directory created by
// CreateSpoolDir.
func isSpoolDirName(name string) bool {
	id, ok := strings.CutPrefix(name, spoolDirPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

// SweepStaleSpoolDirs removes spool directories under tmpDir whose lock is
// not held by a running mount, and returns how many it removed.
func SweepStaleSpoolDirs(tmpDir string) (int, error) {
	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() || !isSpoolDirName(e.Name()) {
			continue
		}
		path := filepath.Join(tmpDir, e.Name())
		lock := flock.New(path + ".lock")
		locked, err := lock.TryLock()
		if err != nil || !locked {
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			log.Warnf("[daemon] failed to remove stale spool directory %s: %v", path, err)
		} else {
			log.Infof("[daemon] removed stale spool directory %s", path)
			removed++
		}
		lock.Unlock()
		os.Remove(lock.Path())
	}
	return removed, nil
}
