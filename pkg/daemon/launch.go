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

// Package daemon implements spec.md §4.2, the fork-ordered start path:
// the runtime CLI's "start" verb launches a monitoring daemon that
// outlives the CLI and is the workload's direct parent, so that the
// workload's real exit status is never lost to init's reaper.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

// SubcommandName is the hidden verb the re-exec'd daemon process runs
// under, analogous to the internal "init" command other OCI runtime
// implementations expose for the same reason (a single binary acting as
// both the user-facing CLI and its own re-exec target).
const SubcommandName = "daemon-run"

// ExecSubcommandName is the hidden verb the re-exec'd exec daemon runs
// under (spec.md §4.6: exec reuses the enter-or-create primitive and the
// user transition, but writes to an exec record instead of the
// container record).
const ExecSubcommandName = "daemon-exec"

// Launch implements spec.md §4.2 steps 1-2 from the CLI's point of view:
// it starts the monitoring daemon detached (the moral equivalent of
// "fork, child continues"; Go gets there via a re-exec'd, session-leader
// child rather than a bare fork so the runtime's own threads are never
// at risk), then polls the state record for `running`, bounded by
// cfg.StartupTimeout.
func Launch(ctx context.Context, cfg *config.Config, store *state.Store, id string) (pid int, err error) {
	self, err := os.Executable()
	if err != nil {
		return 0, reaperr.New("daemon.Launch", reaperr.Io, err)
	}

	cmd := exec.Command(self, SubcommandName, id)
	cmd.Env = append(os.Environ(),
		"REAPER_RUNTIME_ROOT="+cfg.RuntimeRoot,
		"REAPER_OVERLAY_BASE="+cfg.OverlayBase,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, reaperr.New("daemon.Launch", reaperr.Io, err)
	}
	// The CLI does not wait() on the daemon; it is not its reaper.
	// Release lets the daemon be re-parented to init once this process
	// exits, without this process leaking a zombie-watching goroutine.
	if err := cmd.Process.Release(); err != nil {
		return 0, reaperr.New("daemon.Launch", reaperr.Io, err)
	}

	deadline := time.Now().Add(cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		rec, loadErr := store.Load()
		if loadErr == nil && rec.Status == state.Running && rec.Pid != nil {
			return *rec.Pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, reaperr.New("daemon.Launch", reaperr.StartupTimeout, ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
	return 0, reaperr.New("daemon.Launch", reaperr.StartupTimeout, fmt.Errorf("daemon did not report running within %s", cfg.StartupTimeout))
}

// LaunchExec is Launch's counterpart for spec.md §4.6's exec path: the
// request (argv, terminal, user) has already been written to
// store.SaveExecRequest by the caller, so the re-exec'd process only
// needs the container and exec ids to find it.
func LaunchExec(ctx context.Context, cfg *config.Config, store *state.Store, containerID, execID string) (pid int, err error) {
	self, err := os.Executable()
	if err != nil {
		return 0, reaperr.New("daemon.LaunchExec", reaperr.Io, err)
	}

	cmd := exec.Command(self, ExecSubcommandName, containerID, execID)
	cmd.Env = append(os.Environ(),
		"REAPER_RUNTIME_ROOT="+cfg.RuntimeRoot,
		"REAPER_OVERLAY_BASE="+cfg.OverlayBase,
	)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return 0, reaperr.New("daemon.LaunchExec", reaperr.Io, err)
	}
	if err := cmd.Process.Release(); err != nil {
		return 0, reaperr.New("daemon.LaunchExec", reaperr.Io, err)
	}

	deadline := time.Now().Add(cfg.StartupTimeout)
	for time.Now().Before(deadline) {
		rec, loadErr := store.LoadExec(execID)
		if loadErr == nil && rec.Status == state.Running && rec.Pid != nil {
			return *rec.Pid, nil
		}
		select {
		case <-ctx.Done():
			return 0, reaperr.New("daemon.LaunchExec", reaperr.StartupTimeout, ctx.Err())
		case <-time.After(20 * time.Millisecond):
		}
	}
	return 0, reaperr.New("daemon.LaunchExec", reaperr.StartupTimeout, fmt.Errorf("exec did not report running within %s", cfg.StartupTimeout))
}
