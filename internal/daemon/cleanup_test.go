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
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseMountOutput(t *testing.T) {
	t.Parallel()

	output := []byte("spooledfs on /mnt/a type fuse.spooledfs (rw,nosuid,nodev,relatime,user_id=1000,group_id=1000)\n" +
		"spooledfs on /home/me/with space type fuse.spooledfs (rw)\n" +
		"garbage line\n")

	assert.Equal(t, []string{"/mnt/a", "/home/me/with space"}, parseMountOutput(output))
	assert.Empty(t, parseMountOutput(nil))
}

func TestIsMounted_PlainDirectory(t *testing.T) {
	t.Parallel()
	assert.False(t, IsMounted(t.TempDir()))
}

func TestUnmount_NotMounted(t *testing.T) {
	t.Parallel()
	err := Unmount(context.Background(), t.TempDir())
	assert.ErrorContains(t, err, "not a spooledfs mount")
}
