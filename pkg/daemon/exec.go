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

package daemon

import (
	"context"
	"time"

	"golang.org/x/sys/unix"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/oci"
	"github.com/ossreaper/reaper/pkg/overlay"
	"github.com/ossreaper/reaper/pkg/ptyrelay"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

// RunExec is the body of the re-exec'd exec daemon, spec.md §4.6: it
// reuses the enter-or-create primitive (a setns this time, since the
// container's daemon already created the namespace) and the user
// transition and PTY relay from §4.2, but writes to the exec record
// instead of the container record.
func RunExec(ctx context.Context, cfg *config.Config, store *state.Store, containerID, execID, bundleDir string) error {
	// LaunchExec starts this process with SysProcAttr.Setsid, so it
	// already leads its own session and setsid(2) reports EPERM.
	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}

	req, err := store.LoadExecRequest(execID)
	if err != nil {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}

	mgr := overlay.New(cfg.OverlayBase, cfg.SensitiveFiles)
	if err := mgr.EnterOrCreate(ctx); err != nil {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}

	bundle, err := oci.Load(bundleDir)
	if err != nil {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}
	var user *specs.User
	if req.HasUser {
		user = &specs.User{UID: req.UID, GID: req.GID, AdditionalGids: req.AdditionalGids}
	}
	execBundle := bundle.WithExec(req.Argv, req.Terminal, user)

	w, err := buildWorkload(ctx, execBundle, req.Stdin, req.Stdout, req.Stderr)
	if err != nil {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}
	if err := w.start(); err != nil {
		return recordExecFailure(store, execID, containerID, bundleDir, err)
	}
	pid := w.cmd.Process.Pid

	if w.pty != nil {
		go ptyrelay.Relay(ctx, w.pty, req.Stdin, req.Stdout)
	}

	rec := &state.Record{
		ID:          execID,
		ExecID:      execID,
		ContainerID: containerID,
		Bundle:      bundleDir,
		Status:      state.Running,
		Pid:         &pid,
		Terminal:    req.Terminal,
	}
	if err := store.SaveExec(rec); err != nil {
		return reaperr.New("daemon.RunExec", reaperr.Io, err)
	}

	time.Sleep(cfg.Observation)

	waitErr := w.cmd.Wait()
	w.closeIO()

	exitCode := exitCodeOf(waitErr)
	exitedAt := time.Now()
	rec.Status = state.Stopped
	rec.ExitCode = &exitCode
	rec.ExitedAt = &exitedAt
	if err := store.SaveExec(rec); err != nil {
		return reaperr.New("daemon.RunExec", reaperr.Io, err)
	}
	return nil
}

func recordExecFailure(store *state.Store, execID, containerID, bundleDir string, cause error) error {
	now := time.Now()
	code := 1
	zero := 0
	rec := &state.Record{
		ID:          execID,
		ExecID:      execID,
		ContainerID: containerID,
		Bundle:      bundleDir,
		Status:      state.Stopped,
		Pid:         &zero,
		ExitCode:    &code,
		ExitedAt:    &now,
	}
	_ = store.SaveExec(rec)
	return cause
}
