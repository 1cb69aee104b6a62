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
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/oci"
	"github.com/ossreaper/reaper/pkg/overlay"
	"github.com/ossreaper/reaper/pkg/ptyrelay"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

// StdioPaths are the FIFO endpoints containerd supplied in the
// CreateTaskRequest (spec.md §3, "FIFO endpoints"). Stdin/Stdout/Stderr
// are ignored when the bundle's process.terminal is true; a PTY pair is
// allocated instead and only Stdin/Stdout carry the relay (spec.md §4.6
// only names a stdin and a stdout FIFO for the PTY path).
type StdioPaths struct {
	Stdin  string
	Stdout string
	Stderr string
}

// Run is the body of the re-exec'd monitoring daemon, spec.md §4.2 steps
// 3-10. It returns once the workload has been waited on and its exit
// recorded, or at the first failure; runDaemon in cmd/reaper-runtime then
// exits the process with the result.
func Run(ctx context.Context, cfg *config.Config, store *state.Store, bundleDir string, stdio StdioPaths) error {
	// Launch starts this process with SysProcAttr.Setsid, so it already
	// leads its own session and setsid(2) reports EPERM.
	if _, err := unix.Setsid(); err != nil && err != unix.EPERM {
		return recordFailure(store, fmt.Errorf("setsid: %w", err))
	}

	mgr := overlay.New(cfg.OverlayBase, cfg.SensitiveFiles)
	if err := mgr.EnterOrCreate(ctx); err != nil {
		return recordFailure(store, err)
	}

	bundle, err := oci.Load(bundleDir)
	if err != nil {
		return recordFailure(store, err)
	}
	// A record created with --terminal asks for a PTY even when the
	// bundle's process.terminal is false.
	if rec, err := store.Load(); err == nil && rec.Terminal && !bundle.Terminal() {
		bundle = bundle.WithExec(bundle.Argv(), true, nil)
	}

	if err := overlay.ApplyOCIMounts(ctx, mgr.MergedDir(), bundle.Mounts()); err != nil {
		return recordFailure(store, err)
	}

	w, err := buildWorkload(ctx, bundle, stdio.Stdin, stdio.Stdout, stdio.Stderr)
	if err != nil {
		return recordFailure(store, err)
	}

	if err := w.start(); err != nil {
		return recordFailure(store, err)
	}
	pid := w.cmd.Process.Pid

	if w.pty != nil {
		go ptyrelay.Relay(ctx, w.pty, stdio.Stdin, stdio.Stdout)
	}

	rec, loadErr := store.Load()
	if loadErr != nil {
		return recordFailure(store, loadErr)
	}
	rec.Status = state.Running
	rec.Pid = &pid
	if err := store.Save(rec); err != nil {
		return reaperr.New("daemon.Run", reaperr.Io, err)
	}

	// Mandatory observation window, spec.md §4.2 step 9: give the shim's
	// poller a chance to see `running` before a fast workload flips
	// straight to `stopped`.
	time.Sleep(cfg.Observation)

	waitErr := w.cmd.Wait()
	w.closeIO()

	exitCode := exitCodeOf(waitErr)
	exitedAt := time.Now()
	rec.Status = state.Stopped
	rec.ExitCode = &exitCode
	rec.ExitedAt = &exitedAt
	if err := store.Save(rec); err != nil {
		return reaperr.New("daemon.Run", reaperr.Io, err)
	}
	return nil
}

// recordFailure implements spec.md §7's propagation policy: any failure
// prior to workload spawn still writes a `stopped` record, with a
// synthetic exit code, so the shim observes failure rather than hanging
// forever waiting for a `running` sample that will never come.
func recordFailure(store *state.Store, cause error) error {
	rec, err := store.Load()
	if err != nil {
		return cause
	}
	now := time.Now()
	code := 1
	rec.Status = state.Stopped
	rec.ExitCode = &code
	rec.ExitedAt = &now
	if rec.Pid == nil {
		zero := 0
		rec.Pid = &zero
	}
	_ = store.Save(rec)
	return cause
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	type exitStatuser interface{ ExitCode() int }
	if es, ok := err.(exitStatuser); ok {
		return es.ExitCode()
	}
	return 1
}
