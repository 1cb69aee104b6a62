// Copyright 2018 The gVisor Authors.
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

package overlay

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RunInit is the body of the re-exec'd inner child from spec.md §4.3
// step 3. It must run single-threaded and exit promptly: its sole job is
// to hold the new mount namespace open long enough for the parent to
// bind /proc/<pid>/ns/mnt onto the persisted namespace file. The caller
// arranges for the process to already be in a fresh mount namespace via
// SysProcAttr.Cloneflags, so no explicit unshare(2) call is needed here.
func RunInit() error {
	base := os.Getenv("REAPER_OVERLAY_BASE")
	if base == "" {
		return fmt.Errorf("REAPER_OVERLAY_BASE not set")
	}
	upper := filepath.Join(base, upperDirName)
	work := filepath.Join(base, workDirName)
	merged := filepath.Join(base, mergedDirName)

	opts := fmt.Sprintf("lowerdir=/,upperdir=%s,workdir=%s", upper, work)
	if err := unix.Mount("overlay", merged, "overlay", 0, opts); err != nil {
		return fmt.Errorf("mount overlay: %w", err)
	}

	for _, d := range []struct{ src, dst, fstype string }{
		{"proc", "proc", "proc"},
		{"sysfs", "sys", "sysfs"},
		{"devtmpfs", "dev", "devtmpfs"},
	} {
		dst := filepath.Join(merged, d.dst)
		if err := os.MkdirAll(dst, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dst, err)
		}
		if err := unix.Mount(d.src, dst, d.fstype, 0, ""); err != nil {
			return fmt.Errorf("mount %s: %w", d.dst, err)
		}
	}

	oldRoot := filepath.Join(merged, ".old_root")
	if err := os.MkdirAll(oldRoot, 0o700); err != nil {
		return fmt.Errorf("mkdir old root: %w", err)
	}
	if err := unix.PivotRoot(merged, oldRoot); err != nil {
		return fmt.Errorf("pivot_root: %w", err)
	}
	if err := os.Chdir("/"); err != nil {
		return fmt.Errorf("chdir /: %w", err)
	}
	if err := unix.Unmount("/.old_root", unix.MNT_DETACH); err != nil {
		return fmt.Errorf("unmount old root: %w", err)
	}

	// Block until the parent has bind-mounted our /proc/<pid>/ns/mnt
	// onto the persisted namespace file; fd 3 is the read end of the
	// sync pipe passed via cmd.ExtraFiles.
	syncFile := os.NewFile(3, "sync")
	buf := make([]byte, 1)
	syncFile.Read(buf) // unblocks (with io.EOF) once the parent closes its end

	return nil
}
