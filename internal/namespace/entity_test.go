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
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spooledfs/internal/common"
	"spooledfs/internal/storage"
)

func contentOf(t *testing.T, f *File) []byte {
	t.Helper()
	var out []byte
	err := f.View(0, storage.WholeContent, func(v storage.BufferView) error {
		out = bytes.Clone(v.Bytes())
		return nil
	})
	require.NoError(t, err)
	return out
}

func openFile(t *testing.T, threshold int64, initial string) (*Registry, *File) {
	t.Helper()
	r, _ := newTestRegistry(t, threshold)
	f, err := r.CreateFile(storage.RootIno, "hello", 0644, []byte(initial))
	require.NoError(t, err)
	require.NoError(t, f.Open())
	return r, f
}

func TestFile_SparseWriteThenMigration(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 10, "abc")
	assert.Equal(t, int64(3), f.Attr().Size)
	assert.Equal(t, storage.KindMemory, f.Kind())

	_, err := f.WriteAt([]byte("XYZ"), 5)
	require.NoError(t, err)
	assert.Equal(t, int64(8), f.Attr().Size)
	assert.Equal(t, []byte{0x61, 0x62, 0x63, 0x00, 0x00, 0x58, 0x59, 0x5A}, contentOf(t, f))
	assert.Equal(t, storage.KindMemory, f.Kind())

	ino := f.Ino()
	_, err = f.WriteAt([]byte("1234"), 8)
	require.NoError(t, err)
	assert.Equal(t, int64(12), f.Attr().Size)
	assert.Equal(t, storage.KindDisk, f.Kind())
	assert.Equal(t, []byte("abc\x00\x00XYZ1234"), contentOf(t, f))
	assert.Equal(t, ino, f.Attr().Ino, "inode stable across migration")
	assert.Equal(t, uint32(storage.ModeFile|0644), f.Attr().Mode)
}

func TestFile_FarOffsetWriteOnNewFile(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 1024, "")
	const off = int64(1) << 40

	n, err := f.WriteAt([]byte("x"), off)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, storage.KindDisk, f.Kind())
	assert.Equal(t, off+1, f.Attr().Size)

	gap := make([]byte, 8)
	n, err = f.ReadAt(gap, off/2)
	require.NoError(t, err)
	assert.Equal(t, 8, n)
	assert.Equal(t, make([]byte, 8), gap)

	last := make([]byte, 4)
	n, err = f.ReadAt(last, off)
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), last[:n])
}

func TestFile_WriteUpdatesTimestamps(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 10, "")
	before := f.Attr()

	time.Sleep(2 * time.Millisecond)
	_, err := f.WriteAt([]byte("x"), 0)
	require.NoError(t, err)

	after := f.Attr()
	assert.True(t, after.Mtime.After(before.Mtime))
	assert.Equal(t, after.Mtime, after.Ctime)
}

func TestFile_ClosedAccessFails(t *testing.T) {
	t.Parallel()
	r, _ := newTestRegistry(t, 10)
	f, err := r.CreateFile(storage.RootIno, "f", 0644, []byte("abc"))
	require.NoError(t, err)

	_, err = f.ReadAt(make([]byte, 3), 0)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, common.ErrInvalidState)

	require.NoError(t, f.Open())
	assert.ErrorIs(t, f.Open(), common.ErrInvalidState)
	require.NoError(t, f.Close())
	assert.ErrorIs(t, f.Close(), common.ErrInvalidState)
	assert.NoError(t, f.Open())
}

func TestFile_DestroyedAccessIsNotFound(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 10, "abc")

	require.NoError(t, f.Destroy())
	assert.NoError(t, f.Destroy(), "second destroy is a no-op")
	assert.False(t, f.IsOpen())

	_, err := f.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, common.ErrNotFound)
	assert.ErrorIs(t, f.Open(), common.ErrNotFound)
}

func TestFile_ViewReleasesOwnedViews(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 0, "disk content")
	require.Equal(t, storage.KindDisk, f.Kind())

	var kept storage.BufferView
	err := f.View(0, 4, func(v storage.BufferView) error {
		assert.Equal(t, storage.Owned, v.Ownership())
		assert.Equal(t, "disk", string(v.Bytes()))
		kept = v
		return nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, kept.Release(), common.ErrReleased, "already released by View")
}

// Two writers on disjoint ranges of one file, racing across the
// migration point, never lose a byte.
func TestFile_ConcurrentWritersAcrossMigration(t *testing.T) {
	t.Parallel()
	_, f := openFile(t, 64, "")

	const chunk = 16
	const rounds = 32
	var wg sync.WaitGroup
	for w, fill := range []byte{'a', 'b'} {
		w, fill := w, fill
		wg.Add(1)
		go func() {
			defer wg.Done()
			buf := bytes.Repeat([]byte{fill}, chunk)
			for i := 0; i < rounds; i++ {
				off := int64((2*i + w) * chunk)
				_, err := f.WriteAt(buf, off)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got := contentOf(t, f)
	require.Len(t, got, 2*rounds*chunk)
	assert.Equal(t, int64(len(got)), f.Attr().Size)
	assert.Equal(t, storage.KindDisk, f.Kind())
	for i := 0; i < 2*rounds; i++ {
		want := byte('a' + i%2)
		assert.Equal(t, bytes.Repeat([]byte{want}, chunk), got[i*chunk:(i+1)*chunk], "chunk %d", i)
	}
}

func TestEntity_String(t *testing.T) {
	t.Parallel()
	r, f := openFile(t, 10, "abc")

	assert.Contains(t, f.String(), `File(ino=`)
	assert.Contains(t, f.String(), "MemoryStorage")
	assert.Contains(t, r.Root().String(), `Directory(ino=1,path="/"`)
}
