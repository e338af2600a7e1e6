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

package commands

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spooledfs/internal/daemon"
)

func TestApplySetting(t *testing.T) {
	t.Parallel()

	settings := daemon.DefaultSettings()
	require.NoError(t, applySetting(&settings, "spool_threshold", "16MiB"))
	require.NoError(t, applySetting(&settings, "single_threaded", "true"))
	require.NoError(t, applySetting(&settings, "entry_timeout", "5s"))
	require.NoError(t, applySetting(&settings, "log_level", "debug"))

	threshold, err := settings.Threshold()
	require.NoError(t, err)
	assert.Equal(t, int64(16<<20), threshold)
	assert.True(t, settings.SingleThreaded)
	assert.Equal(t, 5*time.Second, settings.EntryTimeout)
	assert.Equal(t, "debug", settings.LogLevel)
}

func TestApplySetting_Rejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "threshold", "1KiB"},
		{"bad size", "spool_threshold", "lots"},
		{"bad bool", "allow_other", "maybe"},
		{"bad duration", "attr_timeout", "soon"},
		{"bad log level", "log_level", "loud"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			settings := daemon.DefaultSettings()
			before := settings
			assert.Error(t, applySetting(&settings, tt.key, tt.value))
			assert.Equal(t, before, settings, "failed set must not change settings")
		})
	}
}

func TestApplyMountFlags_OnlyChanged(t *testing.T) {
	t.Parallel()

	var opts mountFlags
	cmd := &cobra.Command{Use: "mount"}
	cmd.Flags().StringVarP(&opts.threshold, "threshold", "t", "", "")
	cmd.Flags().StringVar(&opts.tmpDir, "tmp-dir", "", "")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "")
	cmd.Flags().StringVar(&opts.logFile, "log-file", "", "")
	cmd.Flags().BoolVar(&opts.singleThreaded, "single-threaded", false, "")
	cmd.Flags().BoolVar(&opts.allowOther, "allow-other", false, "")
	cmd.Flags().BoolVar(&opts.fuseDebug, "fuse-debug", false, "")
	require.NoError(t, cmd.ParseFlags([]string{"-t", "2MiB", "--single-threaded"}))

	settings := daemon.DefaultSettings()
	settings.TmpDir = "/var/tmp"
	applyMountFlags(cmd, opts, &settings)

	assert.Equal(t, "2MiB", settings.SpoolThreshold)
	assert.True(t, settings.SingleThreaded)
	assert.Equal(t, "/var/tmp", settings.TmpDir, "unset flag must keep the file value")
	assert.Equal(t, daemon.DefaultSettings().LogLevel, settings.LogLevel)
}

func TestFormatBuildDate(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "unknown", formatBuildDate("unknown"))
	assert.Equal(t, time.Unix(0, 0).Format("2006-01-02"), formatBuildDate("0"))
}
