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
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"spooledfs/internal/daemon"
)

var mountCmd = &cobra.Command{
	Use:   "mount <mount-point>",
	Short: "Mount an empty spooled file system",
	Long: `Mounts a fresh SpooledFS at the specified mount point and serves it in
the foreground until interrupted or unmounted.

File content stays in memory until a file grows past the spool threshold,
after which it lives in a backing file under a private directory inside
--tmp-dir. Nothing survives the unmount.

Flags override the values in settings.yaml.

Examples:
  spooledfs mount ./scratch
  spooledfs mount /mnt/spool --threshold 64MiB --tmp-dir /var/tmp
  spooledfs mount ./scratch --single-threaded --log-level debug`,
	Args: cobra.ExactArgs(1),
	RunE: runMount,
}

var mountLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List active mounts",
	Long:  `Lists all currently active spooledfs mounts.`,
	Args:  cobra.NoArgs,
	RunE:  runMountLs,
}

var mountCheckCmd = &cobra.Command{
	Use:   "check <path>...",
	Short: "Check if paths are mounted",
	Long: `Check if one or more paths are currently mounted.

Returns exit code 0 if ALL paths are mounted, non-zero otherwise.
Use -q/--quiet to suppress output (useful in scripts).`,
	Args: cobra.MinimumNArgs(1),
	RunE: runMountCheck,
}

// mountFlags holds the overrides given on the command line.
type mountFlags struct {
	threshold      string
	tmpDir         string
	logLevel       string
	logFile        string
	singleThreaded bool
	allowOther     bool
	fuseDebug      bool
}

var (
	mountCheckQuiet bool
	mountOpts       mountFlags
)

func init() {
	rootCmd.AddCommand(mountCmd)
	mountCmd.AddCommand(mountLsCmd)
	mountCmd.AddCommand(mountCheckCmd)
	mountCheckCmd.Flags().BoolVarP(&mountCheckQuiet, "quiet", "q", false, "Suppress output, only set exit code")

	f := mountCmd.Flags()
	f.StringVarP(&mountOpts.threshold, "threshold", "t", "", "Spool threshold, e.g. 1KiB or 64MB")
	f.StringVar(&mountOpts.tmpDir, "tmp-dir", "", "Parent directory for the spool directory")
	f.StringVar(&mountOpts.logLevel, "log-level", "", "Log level: trace, debug, info, warn or off")
	f.StringVar(&mountOpts.logFile, "log-file", "", "Write logs to this file instead of stderr")
	f.BoolVar(&mountOpts.singleThreaded, "single-threaded", false, "Serve one request at a time")
	f.BoolVar(&mountOpts.allowOther, "allow-other", false, "Allow other users to access the mount")
	f.BoolVar(&mountOpts.fuseDebug, "fuse-debug", false, "Log every FUSE request and reply")
}

// applyMountFlags copies the flags the user actually set onto settings.
func applyMountFlags(cmd *cobra.Command, opts mountFlags, settings *daemon.Settings) {
	f := cmd.Flags()
	if f.Changed("threshold") {
		settings.SpoolThreshold = opts.threshold
	}
	if f.Changed("tmp-dir") {
		settings.TmpDir = opts.tmpDir
	}
	if f.Changed("log-level") {
		settings.LogLevel = opts.logLevel
	}
	if f.Changed("log-file") {
		settings.LogFile = opts.logFile
	}
	if f.Changed("single-threaded") {
		settings.SingleThreaded = opts.singleThreaded
	}
	if f.Changed("allow-other") {
		settings.AllowOther = opts.allowOther
	}
	if f.Changed("fuse-debug") {
		settings.FuseDebug = opts.fuseDebug
	}
}

func runMount(cmd *cobra.Command, args []string) error {
	settings, err := daemon.LoadSettings()
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	applyMountFlags(cmd, mountOpts, settings)

	cfg, err := settings.MountConfig(args[0])
	if err != nil {
		return err
	}
	if daemon.IsMounted(cfg.Mountpoint) {
		return fmt.Errorf("%s is already mounted", cfg.Mountpoint)
	}

	logCloser, err := daemon.SetupLogging(settings.LogLevel, settings.LogFile)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := daemon.NewServer(cfg)
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Printf("Mounted %s\n", cfg)
	fmt.Println("Press Ctrl+C or run 'spooledfs unmount' to stop")

	if err := server.Serve(ctx); err != nil {
		return err
	}
	fmt.Printf("Unmounted %s\n", cfg.Mountpoint)
	return nil
}

func runMountLs(cmd *cobra.Command, args []string) error {
	mounts, err := daemon.FindMounts()
	if err != nil {
		return fmt.Errorf("failed to list mounts: %w", err)
	}

	if len(mounts) == 0 {
		fmt.Println("No active mounts")
		return nil
	}

	fmt.Printf("Active mounts (%d):\n", len(mounts))
	for _, m := range mounts {
		fmt.Printf("  %s\n", m)
	}
	return nil
}

func runMountCheck(cmd *cobra.Command, args []string) error {
	mounts, err := daemon.FindMounts()
	if err != nil {
		return fmt.Errorf("failed to check mounts: %w", err)
	}
	mounted := make(map[string]bool, len(mounts))
	for _, m := range mounts {
		mounted[m] = true
	}

	allMounted := true
	for _, path := range args {
		absPath, err := filepath.Abs(path)
		if err != nil {
			if !mountCheckQuiet {
				fmt.Printf("%s: error resolving path\n", path)
			}
			allMounted = false
			continue
		}
		if mounted[absPath] {
			if !mountCheckQuiet {
				fmt.Printf("%s: mounted\n", absPath)
			}
			continue
		}
		allMounted = false
		if !mountCheckQuiet {
			fmt.Printf("%s: not mounted\n", absPath)
		}
	}

	if !allMounted {
		return fmt.Errorf("one or more paths not mounted")
	}
	return nil
}
