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

// Package overlay implements the node-wide shared overlay mount
// namespace described in spec.md §4.3: lazy creation by the first
// workload, a bind-mounted namespace file that keeps it alive, and a
// setns-based join for everyone after.
package overlay

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/ossreaper/reaper/pkg/reaperr"
)

// EnvInit is set to "1" in the environment of the re-exec of this same
// binary that create starts; main itself jumps to RunInit because that
// re-exec's first argument is "overlay-init", not by reading this
// variable. The re-exec-self idiom (rather than unshare(2) called
// in-process) avoids the multi-threaded-runtime hazards of mutating
// Go's own mount namespace; cmd.SysProcAttr.Cloneflags does the
// equivalent of step 3's unshare(CLONE_NEWNS) at process-creation time.
const EnvInit = "REAPER_OVERLAY_INIT"

const (
	upperDirName  = "upper"
	workDirName   = "work"
	mergedDirName = "merged"
	nsDirName     = "ns"
	lockFileName  = "lock"
	nsFileName    = "mount.ns"
)

// Manager owns the enter-or-create primitive for one node.
type Manager struct {
	Base           string
	SensitiveFiles []string

	// SelfExe overrides the re-exec target; tests can point it at a
	// stub binary. Defaults to /proc/self/exe.
	SelfExe string
}

func New(base string, sensitiveFiles []string) *Manager {
	return &Manager{Base: base, SensitiveFiles: sensitiveFiles, SelfExe: "/proc/self/exe"}
}

func (m *Manager) upperDir() string { return filepath.Join(m.Base, upperDirName) }
func (m *Manager) workDir() string  { return filepath.Join(m.Base, workDirName) }

// MergedDir is the overlay's mountpoint, and once EnterOrCreate has
// joined the shared namespace, the daemon's own "/" in all but name: OCI
// bind mounts are applied relative to it (spec.md §4.3).
func (m *Manager) MergedDir() string { return filepath.Join(m.Base, mergedDirName) }
func (m *Manager) mergedDir() string { return m.MergedDir() }
func (m *Manager) nsDir() string     { return filepath.Join(m.Base, nsDirName) }
func (m *Manager) lockPath() string  { return filepath.Join(m.nsDir(), lockFileName) }
func (m *Manager) nsPath() string    { return filepath.Join(m.nsDir(), nsFileName) }

// EnterOrCreate implements spec.md §4.3 steps 1-4: join the live
// namespace if one exists, otherwise race (file-lock guarded) to create
// it, then join the winner's namespace.
func (m *Manager) EnterOrCreate(ctx context.Context) error {
	if err := os.MkdirAll(m.nsDir(), 0o755); err != nil {
		return reaperr.New("overlay.EnterOrCreate", reaperr.OverlayUnavailable, err)
	}

	if m.join() == nil {
		return nil
	}

	fl := flock.New(m.lockPath())
	locked, err := fl.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return reaperr.New("overlay.EnterOrCreate", reaperr.OverlayUnavailable, err)
	}
	defer fl.Unlock()

	// Re-check: another creator may have won the race while we waited
	// for the lock.
	if m.join() == nil {
		return nil
	}

	if err := m.create(ctx); err != nil {
		return reaperr.New("overlay.EnterOrCreate", reaperr.OverlayUnavailable, err)
	}

	if err := m.join(); err != nil {
		return reaperr.New("overlay.EnterOrCreate", reaperr.OverlayUnavailable, err)
	}
	return nil
}

// join calls setns(2) on the persisted namespace file, if it exists.
func (m *Manager) join() error {
	f, err := os.Open(m.nsPath())
	if err != nil {
		return err
	}
	defer f.Close()
	return unix.Setns(int(f.Fd()), unix.CLONE_NEWNS)
}

// create performs spec.md §4.3 step 3: mount the overlayfs inside a
// freshly unshared mount namespace (held by a re-exec'd inner child),
// then bind the child's /proc/<pid>/ns/mnt onto the persisted namespace
// file from the host namespace, which is the only place that bind-mount
// can be performed and still be visible after the child exits.
func (m *Manager) create(ctx context.Context) error {
	for _, dir := range []string{m.upperDir(), m.workDir(), m.mergedDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := shadowSensitiveFiles(m.upperDir(), m.SensitiveFiles); err != nil {
		return err
	}

	syncR, syncW, err := os.Pipe()
	if err != nil {
		return err
	}
	defer syncR.Close()

	cmd := exec.CommandContext(ctx, m.SelfExe, "overlay-init")
	cmd.Env = append(os.Environ(),
		EnvInit+"=1",
		"REAPER_OVERLAY_BASE="+m.Base,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNS,
	}
	cmd.ExtraFiles = []*os.File{syncR}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		syncW.Close()
		return fmt.Errorf("start overlay-init: %w", err)
	}
	pid := cmd.Process.Pid

	nsSrc := fmt.Sprintf("/proc/%d/ns/mnt", pid)
	if err := m.bindNamespaceFile(nsSrc); err != nil {
		syncW.Close()
		_ = cmd.Process.Kill()
		cmd.Wait()
		return err
	}

	// Release the inner child; its only remaining job is to exit, which
	// it now may safely do since the bind-mount holds the namespace open.
	syncW.Close()
	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("overlay-init: %w (stderr=%s)", err, stderr.String())
	}
	return nil
}

// bindNamespaceFile performs the bind-mount from the host (outer) mount
// namespace onto the persisted namespace file, the step spec.md's design
// notes call out as mandatory: "the bind must be performed from the host
// namespace".
func (m *Manager) bindNamespaceFile(nsSrc string) error {
	fh, err := os.OpenFile(m.nsPath(), os.O_CREATE|os.O_RDONLY, 0o644)
	if err != nil {
		return err
	}
	fh.Close()
	return unix.Mount(nsSrc, m.nsPath(), "", unix.MS_BIND, "")
}
