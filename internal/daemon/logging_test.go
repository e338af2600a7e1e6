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
	"io"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Logging state is global, so these tests do not run in parallel.

func TestSetupLogging_Off(t *testing.T) {
	for _, level := range []string{"", "off", "None"} {
		c, err := SetupLogging(level, "")
		require.NoError(t, err)
		assert.NoError(t, c.Close())
		assert.Equal(t, io.Discard, log.StandardLogger().Out)
	}
}

func TestSetupLogging_File(t *testing.T) {
	defer SetupLogging("off", "")
	path := filepath.Join(t.TempDir(), "spooledfs.log")

	c, err := SetupLogging("Debug", path)
	require.NoError(t, err)
	assert.Equal(t, log.DebugLevel, log.GetLevel())

	log.Debugf("[test] hello %d", 42)
	require.NoError(t, c.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "[test] hello 42")
}

func TestSetupLogging_UnknownLevel(t *testing.T) {
	defer SetupLogging("off", "")
	_, err := SetupLogging("chatty", "")
	assert.Error(t, err)
}
