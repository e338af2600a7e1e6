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
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"spooledfs/internal/daemon"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show the effective settings",
	Long: `Prints the settings mount uses when no flags override them, and the
path of the settings file they are read from.`,
	Args: cobra.NoArgs,
	RunE: runSettings,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Long: `Changes one key in settings.yaml.

Examples:
  spooledfs settings set spool_threshold 16MiB
  spooledfs settings set log_level debug
  spooledfs settings set entry_timeout 5s`,
	Args: cobra.ExactArgs(2),
	RunE: runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettings(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	data, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}
	fmt.Printf("# %s\n%s", daemon.SettingsPath(), data)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if err := applySetting(settings, args[0], args[1]); err != nil {
		return err
	}
	if err := daemon.SaveSettings(settings); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	fmt.Printf("%s = %s\n", args[0], args[1])
	return nil
}

// applySetting decodes value into the field tagged key.
func applySetting(settings *daemon.Settings, key, value string) error {
	known, err := settingKeys(settings)
	if err != nil {
		return err
	}
	if !known[key] {
		return fmt.Errorf("unknown setting %q", key)
	}

	doc := &yaml.Node{
		Kind: yaml.MappingNode,
		Content: []*yaml.Node{
			{Kind: yaml.ScalarNode, Value: key},
			{Kind: yaml.ScalarNode, Value: value},
		},
	}
	updated := *settings
	if err := doc.Decode(&updated); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	if key == "spool_threshold" {
		if _, err := updated.Threshold(); err != nil {
			return err
		}
	}
	if key == "log_level" {
		switch strings.ToLower(value) {
		case "trace", "debug", "info", "warn", "off", "none", "":
		default:
			return fmt.Errorf("unknown log level %q", value)
		}
	}
	*settings = updated
	return nil
}

func settingKeys(settings *daemon.Settings) (map[string]bool, error) {
	data, err := yaml.Marshal(settings)
	if err != nil {
		return nil, err
	}
	var fields map[string]any
	if err := yaml.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	keys := make(map[string]bool, len(fields))
	for k := range fields {
		keys[k] = true
	}
	return keys, nil
}
