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
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"

	"spooledfs/internal/util"
)

// fsType is the mount type the kernel reports for our mounts.
const fsType = "fuse.spooledfs"

// FindMounts returns the mount points of all spooledfs mounts.
func FindMounts() ([]string, error) {
	cmd := exec.Command("mount", "-t", fsType)
	output, err := cmd.Output()
	if err != nil {
		// mount exits non-zero when nothing matches on some systems
		if len(output) == 0 {
			return nil, nil
		}
		return nil, err
	}
	return parseMountOutput(output), nil
}

// parseMountOutput extracts mount points from lines of the form
// "spooledfs on /path/to/mount type fuse.spooledfs (rw,...)".
func parseMountOutput(output []byte) []string {
	var mounts []string
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()
		_, rest, ok := strings.Cut(line, " on ")
		if !ok {
			continue
		}
		mountPoint, _, ok := strings.Cut(rest, " type ")
		if !ok {
			continue
		}
		mounts = append(mounts, mountPoint)
	}
	return mounts
}

// IsMounted reports whether mountPoint carries a spooledfs mount.
func IsMounted(mountPoint string) bool {
	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		return false
	}
	mounts, err := FindMounts()
	if err != nil {
		return false
	}
	for _, m := range mounts {
		if m == abs {
			return true
		}
	}
	return false
}

// unmountCommand returns the command that unmounts a FUSE mount as the
// calling user.
func unmountCommand(mountPoint string) *exec.Cmd {
	for _, bin := range []string{"fusermount3", "fusermount"} {
		if path, err := exec.LookPath(bin); err == nil {
			return exec.Command(path, "-u", mountPoint)
		}
	}
	return exec.Command("umount", mountPoint)
}

// Unmount unmounts a spooledfs mount served by another process and waits
// for the mount to disappear. A busy mount point is retried.
func Unmount(ctx context.Context, mountPoint string) error {
	abs, err := filepath.Abs(mountPoint)
	if err != nil {
		return err
	}
	if !IsMounted(abs) {
		return fmt.Errorf("%s is not a spooledfs mount", abs)
	}

	err = util.Retry(ctx, func() error {
		out, err := unmountCommand(abs).CombinedOutput()
		if err != nil {
			return fmt.Errorf("unmount %s: %v: %s", abs, err, strings.TrimSpace(string(out)))
		}
		return nil
	}, util.UnmountRetryOptions(ctx)...)
	if err != nil {
		return err
	}

	log.Infof("[daemon] unmounted %s", abs)
	return util.PollUntil(ctx, util.DefaultPollConfig(), func() bool { return !IsMounted(abs) })
}
