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

	"github.com/spf13/cobra"

	"spooledfs/internal/daemon"
)

var unmountCmd = &cobra.Command{
	Use:     "unmount [mount-point]",
	Aliases: []string{"umount"},
	Short:   "Unmount a spooled file system",
	Long: `Unmounts a spooledfs mount. The serving process notices, releases all
storage and exits.

Use --all to unmount every spooledfs mount.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runUnmount,
}

var unmountAll bool

func init() {
	unmountCmd.Flags().BoolVarP(&unmountAll, "all", "a", false, "Unmount all spooledfs mounts")
	rootCmd.AddCommand(unmountCmd)
}

func runUnmount(cmd *cobra.Command, args []string) error {
	if !unmountAll && len(args) == 0 {
		return fmt.Errorf("mount point required (or use --all)")
	}

	targets := args
	if unmountAll {
		mounts, err := daemon.FindMounts()
		if err != nil {
			return fmt.Errorf("failed to list mounts: %w", err)
		}
		if len(mounts) == 0 {
			fmt.Println("No active mounts")
			return nil
		}
		targets = mounts
	}

	var failed int
	for _, target := range targets {
		if err := daemon.Unmount(cmd.Context(), target); err != nil {
			fmt.Printf("%s: %v\n", target, err)
			failed++
			continue
		}
		fmt.Printf("Unmounted %s\n", target)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d unmounts failed", failed, len(targets))
	}
	return nil
}
