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
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spooledfs/internal/common"
)

func TestBackingFileName(t *testing.T) {
	t.Parallel()

	a := BackingFileName("/hello", 15)
	assert.Equal(t, a, BackingFileName("/hello", 15), "deterministic")
	assert.NotEqual(t, a, BackingFileName("/hello1", 15))
	assert.NotEqual(t, a, BackingFileName("/hello", 16))
	assert.Equal(t, ".spool", filepath.Ext(a))
}

func TestDiskStorage_ConstructionLeavesClosedSeededFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()

	d, err := NewDiskStorage(dir, "/hello", 15, []byte("123"))
	require.NoError(t, err)
	defer d.Destroy()

	assert.False(t, d.IsOpen())
	assert.Equal(t, int64(3), d.Size())

	data, err := os.ReadFile(d.DiskPath())
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data)
}

func TestDiskStorage_WriteCases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		initial  string
		data     string
		off      int64
		want     string
		wantSize int64
	}{
		{"inside replaces in place", "abcdef", "XY", 2, "abXYef", 6},
		{"straddles end", "abcdef", "XYZ", 4, "abcdXYZ", 7},
		{"appends at end", "abc", "XYZ", 3, "abcXYZ", 6},
		{"gap past end", "abc", "XYZ", 5, "abc\x00\x00XYZ", 8},
		{"gap on empty", "", "Z", 3, "\x00\x00\x00Z", 4},
		{"empty payload inside", "abc", "", 1, "abc", 3},
		{"empty payload past end", "abc", "", 5, "abc\x00\x00", 5},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			d, err := NewDiskStorage(t.TempDir(), "/f", 2, []byte(tt.initial))
			require.NoError(t, err)
			defer d.Destroy()
			require.NoError(t, d.Open())

			n, err := d.WriteAt([]byte(tt.data), tt.off)
			require.NoError(t, err)
			assert.Equal(t, len(tt.data), n)
			assert.Equal(t, tt.wantSize, d.Size())
			assert.Equal(t, []byte(tt.want), readAll(t, d))
		})
	}
}

// halfWriter lands only half of every write, like a device that runs out
// of space mid-request.
type halfWriter struct {
	*os.File
}

func (w halfWriter) Write(p []byte) (int, error) {
	return w.File.Write(p[:len(p)/2])
}

func TestDiskStorage_ShortWrite(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, []byte("xy"))
	require.NoError(t, err)
	defer d.Destroy()
	require.NoError(t, d.Open())
	d.file = halfWriter{File: d.file.(*os.File)}

	n, err := d.WriteAt([]byte("abcdef"), 2)
	assert.ErrorIs(t, err, common.ErrShortWrite)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(5), d.Size(), "size counts only what landed")

	info, err := os.Stat(d.DiskPath())
	require.NoError(t, err)
	assert.Equal(t, info.Size(), d.Size())
	assert.Equal(t, []byte("xyabc"), readAll(t, d))

	require.NoError(t, d.Close())
}

func TestDiskStorage_ReadIsOwned(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, []byte("hello world"))
	require.NoError(t, err)
	defer d.Destroy()
	require.NoError(t, d.Open())

	view, err := d.ReadAt(6, 5)
	require.NoError(t, err)
	assert.Equal(t, Owned, view.Ownership())
	assert.Equal(t, "world", string(view.Bytes()))

	require.NoError(t, view.Release())
	assert.Nil(t, view.Bytes(), "released view exposes nothing")
	assert.ErrorIs(t, view.Release(), common.ErrReleased, "owned views release exactly once")
}

func TestDiskStorage_SequentialAndRandomReads(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, []byte("0123456789"))
	require.NoError(t, err)
	defer d.Destroy()
	require.NoError(t, d.Open())

	for _, step := range []struct {
		off, n int64
		want   string
	}{
		{0, 3, "012"},
		{3, 3, "345"}, // continues at cursor
		{1, 2, "12"},  // seeks back
		{8, 10, "89"}, // clamped to size
	} {
		view, err := d.ReadAt(step.off, step.n)
		require.NoError(t, err)
		assert.Equal(t, step.want, string(view.Bytes()))
		require.NoError(t, view.Release())
	}
}

func TestDiskStorage_OpenCloseState(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, nil)
	require.NoError(t, err)
	defer d.Destroy()

	_, err = d.ReadAt(0, 1)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	_, err = d.WriteAt([]byte("x"), 0)
	assert.ErrorIs(t, err, common.ErrInvalidState)
	assert.ErrorIs(t, d.Close(), common.ErrInvalidState)

	require.NoError(t, d.Open())
	assert.ErrorIs(t, d.Open(), common.ErrInvalidState)
	require.NoError(t, d.Close())
	require.NoError(t, d.Open())
}

func TestDiskStorage_ContentSurvivesReopen(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, nil)
	require.NoError(t, err)
	defer d.Destroy()

	require.NoError(t, d.Open())
	_, err = d.WriteAt([]byte("abc"), 2)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	require.NoError(t, d.Open())
	assert.Equal(t, []byte("\x00\x00abc"), readAll(t, d))
}

func TestDiskStorage_DestroyDeletesFile(t *testing.T) {
	t.Parallel()
	d, err := NewDiskStorage(t.TempDir(), "/f", 2, []byte("x"))
	require.NoError(t, err)
	require.NoError(t, d.Open())

	require.NoError(t, d.Destroy())
	_, err = os.Stat(d.DiskPath())
	assert.True(t, os.IsNotExist(err))
}

func TestDiskStorage_MissingDirIsIOFailure(t *testing.T) {
	t.Parallel()
	_, err := NewDiskStorage(filepath.Join(t.TempDir(), "missing"), "/f", 2, nil)
	assert.ErrorIs(t, err, common.ErrIO)
}
