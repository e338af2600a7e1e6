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
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"spooledfs/internal/artifacts"
)

// getConfigDir returns the config directory path.
// Uses SPOOLEDFS_CONFIG_DIR env var if set, otherwise defaults to ~/.spooledfs.
// This is computed dynamically to support test isolation.
func getConfigDir() string {
	if dir := os.Getenv("SPOOLEDFS_CONFIG_DIR"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".spooledfs")
}

// ConfigDir returns the configuration directory path
func ConfigDir() string {
	return getConfigDir()
}

// SettingsPath returns the settings file path
func SettingsPath() string {
	return filepath.Join(getConfigDir(), "settings.yaml")
}

// EnsureConfigDir creates the config directory if it doesn't exist
func EnsureConfigDir() error {
	return os.MkdirAll(getConfigDir(), 0700)
}

// InitConfigDir creates the config directory and writes the default
// settings file if there is none yet.
func InitConfigDir() error {
	if err := EnsureConfigDir(); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	path := SettingsPath()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, artifacts.GlobalSettings, 0600); err != nil {
			return fmt.Errorf("failed to create default settings: %w", err)
		}
	}
	return nil
}

// Settings is the content of settings.yaml. Command line flags override
// individual fields.
type Settings struct {
	SpoolThreshold string        `yaml:"spool_threshold"` // human size, e.g. "1KiB"
	TmpDir         string        `yaml:"tmp_dir"`         // parent of spool directories; "" = os.TempDir()
	LogLevel       string        `yaml:"log_level"`       // trace, debug, info, warn, off
	LogFile        string        `yaml:"log_file"`        // "" = stderr
	SingleThreaded bool          `yaml:"single_threaded"`
	AllowOther     bool          `yaml:"allow_other"`
	FuseDebug      bool          `yaml:"fuse_debug"`
	EntryTimeout   time.Duration `yaml:"entry_timeout"`
	AttrTimeout    time.Duration `yaml:"attr_timeout"`
}

// DefaultSettings parses the embedded default settings file.
func DefaultSettings() Settings {
	var s Settings
	if err := yaml.Unmarshal(artifacts.GlobalSettings, &s); err != nil {
		panic("failed to parse embedded settings: " + err.Error())
	}
	return s
}

// LoadSettings reads settings.yaml from the config directory. Fields the
// file leaves out keep their defaults; a missing file yields the defaults.
func LoadSettings() (*Settings, error) {
	settings := DefaultSettings()
	data, err := os.ReadFile(SettingsPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &settings, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("parse %s: %w", SettingsPath(), err)
	}
	return &settings, nil
}

// SaveSettings writes settings to settings.yaml.
func SaveSettings(settings *Settings) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	header := []byte("# SpooledFS settings\n# See: spooledfs settings --help\n\n")
	return os.WriteFile(SettingsPath(), append(header, data...), 0600)
}

// Threshold parses SpoolThreshold.
func (s *Settings) Threshold() (int64, error) {
	if strings.TrimSpace(s.SpoolThreshold) == "" {
		return 0, fmt.Errorf("spool_threshold is empty")
	}
	n, err := humanize.ParseBytes(s.SpoolThreshold)
	if err != nil {
		return 0, fmt.Errorf("invalid spool_threshold %q: %w", s.SpoolThreshold, err)
	}
	if n > 1<<62 {
		return 0, fmt.Errorf("spool_threshold %q is too large", s.SpoolThreshold)
	}
	return int64(n), nil
}

// MountConfig is the fixed configuration of one mount.
type MountConfig struct {
	Mountpoint     string
	Threshold      int64
	TmpDir         string
	SingleThreaded bool
	AllowOther     bool
	FuseDebug      bool
	EntryTimeout   time.Duration
	AttrTimeout    time.Duration
}

// MountConfig resolves the settings into the configuration of a mount at
// mountpoint.
func (s *Settings) MountConfig(mountpoint string) (MountConfig, error) {
	threshold, err := s.Threshold()
	if err != nil {
		return MountConfig{}, err
	}
	abs, err := filepath.Abs(mountpoint)
	if err != nil {
		return MountConfig{}, err
	}
	tmpDir := s.TmpDir
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	cfg := MountConfig{
		Mountpoint:     abs,
		Threshold:      threshold,
		TmpDir:         tmpDir,
		SingleThreaded: s.SingleThreaded,
		AllowOther:     s.AllowOther,
		FuseDebug:      s.FuseDebug,
		EntryTimeout:   s.EntryTimeout,
		AttrTimeout:    s.AttrTimeout,
	}
	return cfg, cfg.Validate()
}

// Validate checks that the mount point and the spool parent are usable
// directories.
func (c MountConfig) Validate() error {
	if c.Threshold < 0 {
		return fmt.Errorf("negative spool threshold %d", c.Threshold)
	}
	if c.EntryTimeout < 0 || c.AttrTimeout < 0 {
		return fmt.Errorf("negative cache timeout")
	}
	for _, dir := range []struct{ what, path string }{
		{"mount point", c.Mountpoint},
		{"tmp dir", c.TmpDir},
	} {
		info, err := os.Stat(dir.path)
		if err != nil {
			return fmt.Errorf("%s: %w", dir.what, err)
		}
		if !info.IsDir() {
			return fmt.Errorf("%s %s is not a directory", dir.what, dir.path)
		}
	}
	return nil
}

func (c MountConfig) String() string {
	return fmt.Sprintf("mount=%s threshold=%s tmp=%s", c.Mountpoint, humanize.IBytes(uint64(c.Threshold)), c.TmpDir)
}
