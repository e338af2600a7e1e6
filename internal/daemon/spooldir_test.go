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
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSpoolDir(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	d, err := CreateSpoolDir(tmp)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(d.Path), spoolDirPrefix))
	assert.True(t, isSpoolDirName(filepath.Base(d.Path)))

	info, err := os.Stat(d.Path)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())

	other, err := CreateSpoolDir(tmp)
	require.NoError(t, err)
	assert.NotEqual(t, d.Path, other.Path)

	require.NoError(t, d.Remove())
	require.NoError(t, other.Remove())
	entries, err := os.ReadDir(tmp)
	require.NoError(t, err)
	assert.Empty(t, entries, "directories and lock files are gone")
}

func TestSpoolDir_RemoveDeletesContent(t *testing.T) {
	t.Parallel()
	d, err := CreateSpoolDir(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(d.Path, "left.spool"), []byte("x"), 0600))

	require.NoError(t, d.Remove())
	_, err = os.Stat(d.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestIsSpoolDirName(t *testing.T) {
	t.Parallel()
	assert.True(t, isSpoolDirName("spooledfs-6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
	assert.False(t, isSpoolDirName("spooledfs-notauuid"))
	assert.False(t, isSpoolDirName("other-6ba7b810-9dad-11d1-80b4-00c04fd430c8"))
}

func TestSweepStaleSpoolDirs(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	live, err := CreateSpoolDir(tmp)
	require.NoError(t, err)
	defer live.Remove()

	stale := filepath.Join(tmp, spoolDirPrefix+"6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	require.NoError(t, os.Mkdir(stale, 0700))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "old.spool"), []byte("x"), 0600))

	unrelated := filepath.Join(tmp, "keep-me")
	require.NoError(t, os.Mkdir(unrelated, 0700))

	n, err := SweepStaleSpoolDirs(tmp)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "stale directory removed")
	_, err = os.Stat(live.Path)
	assert.NoError(t, err, "locked directory kept")
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestCreateSpoolDir_LockedFromTheStart(t *testing.T) {
	t.Parallel()
	d, err := CreateSpoolDir(t.TempDir())
	require.NoError(t, err)
	defer d.Remove()

	other := flock.New(d.Path + ".lock")
	locked, err := other.TryLock()
	require.NoError(t, err)
	assert.False(t, locked, "lock held while the directory exists")
}

func TestCreateSpoolDir_SurvivesConcurrentSweep(t *testing.T) {
	t.Parallel()
	tmp := t.TempDir()

	stop := make(chan struct{})
	swept := make(chan int)
	go func() {
		total := 0
		for {
			select {
			case <-stop:
				swept <- total
				return
			default:
				n, _ := SweepStaleSpoolDirs(tmp)
				total += n
			}
		}
	}()

	var dirs []*SpoolDir
	for i := 0; i < 50; i++ {
		d, err := CreateSpoolDir(tmp)
		require.NoError(t, err)
		dirs = append(dirs, d)
	}
	close(stop)
	assert.Zero(t, <-swept, "no live directory was swept")

	for _, d := range dirs {
		_, err := os.Stat(d.Path)
		assert.NoError(t, err)
		require.NoError(t, d.Remove())
	}
}

func TestSweepStaleSpoolDirs_MissingTmp(t *testing.T) {
	t.Parallel()
	_, err := SweepStaleSpoolDirs(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
