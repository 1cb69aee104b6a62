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

// Package reapershim implements the containerd shim-v2 Task service
// described in spec.md §4.4 by forwarding every RPC to the reaper-runtime
// CLI and polling the on-disk state record it and the monitoring daemon
// maintain. It is grounded on pkg/shim/v1/runsc/service.go's runscService,
// trimmed to the RPC subset spec.md calls out as "the subset that is
// hard" and with gVisor's direct go-runc/proc.Init calls replaced by
// CLI invocations, since reaper's workload execution lives in the daemon
// process, not in the shim.
package reapershim

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/containerd/containerd/api/events"
	task_ "github.com/containerd/containerd/api/types/task"
	"github.com/containerd/errdefs"
	"github.com/containerd/containerd/runtime"
	"github.com/containerd/containerd/runtime/linux/runctypes"
	shimlib "github.com/containerd/containerd/runtime/v2/shim"
	taskAPI "github.com/containerd/containerd/runtime/v2/task"
	"github.com/containerd/log"
	"github.com/containerd/typeurl"
	ptypes "github.com/gogo/protobuf/types"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/oci"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

var empty = &ptypes.Empty{}

// RuntimeBinary is the reaper-runtime executable the shim forwards RPCs
// to. It is resolved via $PATH each time runCLI runs it, the same way
// containerd's shim.Run expects the shim binary itself to be discoverable
// by name.
const RuntimeBinary = "reaper-runtime"

// task tracks one RPC-visible process: the container's init process, or
// one exec. It mirrors the fields proc.Init exposes in the teacher, cut
// down to what spec.md's State/Wait/Delete responses need.
type task struct {
	mu         sync.Mutex
	id         string
	execID     string
	bundle     string
	pid        uint32
	status     task_.Status
	exitStatus uint32
	exitedAt   time.Time
	stdin      string
	stdout     string
	stderr     string
	terminal   bool
	sandbox    bool
	stopped    chan struct{}
}

// newTask builds a task record. sandbox marks a Kubernetes sandbox
// ("pause") container (spec.md §4.4): it has no workload command, so
// Start/Kill never touch the reaper-runtime CLI for it and instead drive
// an in-memory phantom-process lifecycle.
func newTask(id, execID, bundle string, terminal, sandbox bool, stdin, stdout, stderr string) *task {
	return &task{
		id:       id,
		execID:   execID,
		bundle:   bundle,
		status:   task_.StatusCreated,
		terminal: terminal,
		sandbox:  sandbox,
		stdin:    stdin,
		stdout:   stdout,
		stderr:   stderr,
		stopped:  make(chan struct{}),
	}
}

func (t *task) isSandbox() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sandbox
}

func (t *task) markStopped(exitStatus uint32, exitedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == task_.StatusStopped {
		return
	}
	t.status = task_.StatusStopped
	t.exitStatus = exitStatus
	t.exitedAt = exitedAt
	close(t.stopped)
}

func (t *task) snapshot() (task_.Status, uint32, uint32, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status, t.pid, t.exitStatus, t.exitedAt
}

// service is the shim's task service. Background pollers, one goroutine
// per started task run through an errgroup.Group with no concurrency
// limit, watch each task's state file for the running->stopped
// transition, independent of RPC handling.
type service struct {
	mu     sync.Mutex
	id     string
	bundle string
	cfg    *config.Config
	store  *state.Store

	container *task
	execs     map[string]*task

	events    chan any
	publisher shimlib.Publisher
	shutdown  func()

	pollers errgroup.Group
}

var _ taskAPI.TaskService = (*service)(nil)

// New matches shim.Init's signature: containerd's shim.Run harness calls
// it once per task process.
func New(ctx context.Context, id string, publisher shimlib.Publisher, shutdown func()) (shimlib.Shim, error) {
	cfg, err := config.Load("")
	if err != nil {
		return nil, err
	}

	// containerd/log's package-level logger is a logrus entry under the
	// hood in this containerd release, so setting logrus's level here is
	// what actually governs log.G(ctx) verbosity, the same split the
	// teacher's own Create() sets up with logrus.ParseLevel/SetLevel.
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(lvl)
	}

	s := &service{
		id:        id,
		cfg:       cfg,
		execs:     make(map[string]*task),
		events:    make(chan any, 128),
		publisher: publisher,
		shutdown:  shutdown,
	}
	go s.forward(ctx)
	return s, nil
}

// Create forwards to `reaper-runtime create` (spec.md §4.4). The task
// pid is unknown until Start, matching the teacher's own comment that
// Create "returns task pid 0 (unknown yet)" for runtimes that only learn
// the pid once the workload is actually spawned.
func (s *service) Create(ctx context.Context, r *taskAPI.CreateTaskRequest) (*taskAPI.CreateTaskResponse, error) {
	s.mu.Lock()
	s.id = r.ID
	s.bundle = r.Bundle
	s.store = state.Open(s.cfg.RuntimeRoot, r.ID)
	s.mu.Unlock()

	// r.Options carries containerd-version-specific runtime options, the
	// same typeurl.Any envelope the teacher's own Create() decodes. Only
	// the one option shape that predates the shim-v2 CreateTaskRequest
	// fields (runtime_root override) is worth honoring here; anything
	// else is ignored the way the teacher's own switch falls through to
	// its default case for shapes it doesn't special-case.
	if r.Options != nil {
		v, err := typeurl.UnmarshalAny(r.Options)
		if err != nil {
			return nil, reaperr.ToGRPC(reaperr.New("shim.Create", reaperr.InvalidBundle, err))
		}
		if o, ok := v.(*runctypes.RuncOptions); ok && o.RuntimeRoot != "" {
			// The reaper-runtime processes runCLI starts inherit this
			// environment, so they use the same state root.
			os.Setenv("REAPER_RUNTIME_ROOT", o.RuntimeRoot)
			s.mu.Lock()
			s.cfg.RuntimeRoot = o.RuntimeRoot
			s.store = state.Open(s.cfg.RuntimeRoot, r.ID)
			s.mu.Unlock()
		}
	}

	bundle, err := oci.Load(r.Bundle)
	if err != nil {
		return nil, reaperr.ToGRPC(err)
	}
	sandbox := bundle.IsSandbox()

	// A sandbox has no workload command (spec.md §4.4), so there is
	// nothing for the daemon to fork and no state file for it to write;
	// skip the CLI entirely and track it as an in-memory phantom task.
	if !sandbox {
		args := []string{"create", "--bundle", r.Bundle}
		if r.Terminal {
			args = append(args, "--terminal")
		}
		if r.Stdin != "" {
			args = append(args, "--stdin", r.Stdin)
		}
		if r.Stdout != "" {
			args = append(args, "--stdout", r.Stdout)
		}
		if r.Stderr != "" {
			args = append(args, "--stderr", r.Stderr)
		}
		args = append(args, r.ID)
		if err := runCLI(ctx, args...); err != nil {
			return nil, reaperr.ToGRPC(err)
		}
	}

	t := newTask(r.ID, "", r.Bundle, r.Terminal, sandbox, r.Stdin, r.Stdout, r.Stderr)
	s.mu.Lock()
	s.container = t
	s.mu.Unlock()

	s.events <- &events.TaskCreate{
		ContainerID: r.ID,
		Bundle:      r.Bundle,
		Rootfs:      nil,
		IO: &events.TaskIO{
			Stdin:    r.Stdin,
			Stdout:   r.Stdout,
			Stderr:   r.Stderr,
			Terminal: r.Terminal,
		},
	}
	return &taskAPI.CreateTaskResponse{Pid: 0}, nil
}

// Start forwards to `reaper-runtime start`, which itself blocks (bounded
// by StartupTimeout) until the daemon has written `running` with a pid,
// so by the time the CLI exits the pid is already known. It then starts
// this task's background poller. A sandbox task (spec.md §4.4) instead
// spawns a phantom process in-memory: no CLI call, no state file, no
// poller — it stays Running until Kill marks it stopped.
func (s *service) Start(ctx context.Context, r *taskAPI.StartRequest) (*taskAPI.StartResponse, error) {
	t, store, err := s.getTaskAndStore(r.ExecID)
	if err != nil {
		return nil, err
	}

	if t.isSandbox() {
		pid := uint32(os.Getpid())
		t.mu.Lock()
		t.pid = pid
		t.status = task_.StatusRunning
		t.mu.Unlock()
		s.events <- &events.TaskStart{ContainerID: s.id, Pid: pid}
		return &taskAPI.StartResponse{Pid: pid}, nil
	}

	args := []string{"start", s.id}
	if r.ExecID != "" {
		args = []string{"exec", s.id, "--exec-id", r.ExecID}
	}
	if err := runCLI(ctx, args...); err != nil {
		return nil, reaperr.ToGRPC(err)
	}

	rec, err := store.Load()
	if err != nil {
		return nil, reaperr.ToGRPC(err)
	}
	pid := uint32(0)
	if rec.Pid != nil {
		pid = uint32(*rec.Pid)
	}
	t.mu.Lock()
	t.pid = pid
	t.status = task_.StatusRunning
	t.mu.Unlock()

	s.startPoller(t, store)

	s.events <- &events.TaskStart{ContainerID: s.id, Pid: pid}
	return &taskAPI.StartResponse{Pid: pid}, nil
}

// startPoller implements spec.md §4.4's background poller: sample the
// state file roughly every PollInterval, and once it reports `stopped`,
// publish TaskExit and unblock Wait. One poller per task, run through the
// service-wide errgroup, which sets no limit on how many run at once.
func (s *service) startPoller(t *task, store *state.Store) {
	s.pollers.Go(func() error {
		ticker := time.NewTicker(s.cfg.PollInterval)
		defer ticker.Stop()
		for range ticker.C {
			rec, err := store.Load()
			if err != nil {
				continue
			}
			if rec.Status != state.Stopped {
				continue
			}
			exitCode := uint32(1)
			if rec.ExitCode != nil {
				exitCode = uint32(*rec.ExitCode)
			}
			exitedAt := time.Now()
			if rec.ExitedAt != nil {
				exitedAt = *rec.ExitedAt
			}
			t.markStopped(exitCode, exitedAt)
			s.events <- &events.TaskExit{
				ContainerID: s.id,
				ID:          t.execID,
				Pid:         t.pid,
				ExitStatus:  exitCode,
				ExitedAt:    exitedAt,
			}
			return nil
		}
		return nil
	})
}

// Wait blocks until the task's state file reports `stopped`. Idempotent:
// a task already stopped returns immediately (spec.md §4.4).
func (s *service) Wait(ctx context.Context, r *taskAPI.WaitRequest) (*taskAPI.WaitResponse, error) {
	t, _, err := s.getTaskAndStore(r.ExecID)
	if err != nil {
		return nil, err
	}
	select {
	case <-t.stopped:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.cfg.WaitTimeout):
		return nil, reaperr.ToGRPC(reaperr.New("shim.Wait", reaperr.StartupTimeout, fmt.Errorf("wait timeout exceeded")))
	}
	_, _, exitStatus, exitedAt := t.snapshot()
	return &taskAPI.WaitResponse{ExitStatus: exitStatus, ExitedAt: exitedAt}, nil
}

// State returns the task's current in-memory status (spec.md §4.4's state
// table), as set by Start, the background poller and, for a sandbox,
// Kill; it does not read the state file itself.
func (s *service) State(ctx context.Context, r *taskAPI.StateRequest) (*taskAPI.StateResponse, error) {
	t, _, err := s.getTaskAndStore(r.ExecID)
	if err != nil {
		return nil, err
	}
	status, pid, exitStatus, exitedAt := t.snapshot()
	return &taskAPI.StateResponse{
		ID:         s.id,
		Bundle:     s.bundle,
		Pid:        pid,
		Status:     status,
		Stdin:      t.stdin,
		Stdout:     t.stdout,
		Stderr:     t.stderr,
		Terminal:   t.terminal,
		ExitStatus: exitStatus,
		ExitedAt:   exitedAt,
	}, nil
}

// Kill forwards to `reaper-runtime kill`. ESRCH (process already gone)
// is remapped to success, spec.md §7's explicit carve-out. A sandbox
// task (spec.md §4.4) has no CLI-backed process to signal at all: Kill
// is the only notification that ever fires its phantom process's stop,
// so it marks the in-memory record stopped directly instead.
func (s *service) Kill(ctx context.Context, r *taskAPI.KillRequest) (*ptypes.Empty, error) {
	t, _, err := s.getTaskAndStore(r.ExecID)
	if err != nil {
		return nil, err
	}

	if t.isSandbox() {
		exitedAt := time.Now()
		exitStatus := uint32(128 + r.Signal)
		t.markStopped(exitStatus, exitedAt)
		s.events <- &events.TaskExit{
			ContainerID: s.id,
			ID:          t.execID,
			Pid:         t.pid,
			ExitStatus:  exitStatus,
			ExitedAt:    exitedAt,
		}
		return empty, nil
	}

	args := []string{"kill", "--signal", fmt.Sprintf("%d", r.Signal), s.id}
	if err := runCLI(ctx, args...); err != nil {
		if reaperr.KindOf(err) == reaperr.NotFound {
			return empty, nil
		}
		return nil, reaperr.ToGRPC(err)
	}
	return empty, nil
}

// Delete forwards to `reaper-runtime delete --force` and tears down the
// shim process once it has responded (spec.md §4.4). A sandbox task has
// no CLI-backed state to delete, only the in-memory record; deleting an
// exec only drops that exec from the service.
func (s *service) Delete(ctx context.Context, r *taskAPI.DeleteRequest) (*taskAPI.DeleteResponse, error) {
	t, _, err := s.getTaskAndStore(r.ExecID)
	if err != nil {
		return nil, err
	}
	if r.ExecID == "" && !t.isSandbox() {
		args := []string{"delete", "--force", s.id}
		if err := runCLI(ctx, args...); err != nil {
			return nil, reaperr.ToGRPC(err)
		}
	}
	_, pid, exitStatus, exitedAt := t.snapshot()

	if r.ExecID != "" {
		s.mu.Lock()
		delete(s.execs, r.ExecID)
		s.mu.Unlock()
	} else {
		s.events <- &events.TaskDelete{ContainerID: s.id, Pid: pid, ExitStatus: exitStatus, ExitedAt: exitedAt}
		defer s.shutdown()
	}
	return &taskAPI.DeleteResponse{Pid: pid, ExitStatus: exitStatus, ExitedAt: exitedAt}, nil
}

// Exec registers a new exec process; the actual spawn happens on Start,
// same split the teacher's Create/Start pair uses for the container's
// own init process.
func (s *service) Exec(ctx context.Context, r *taskAPI.ExecProcessRequest) (*ptypes.Empty, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.container == nil {
		return nil, errdefs.ToGRPCf(errdefs.ErrFailedPrecondition, "container must be created")
	}
	if s.container.isSandbox() {
		return nil, errdefs.ToGRPCf(errdefs.ErrFailedPrecondition, "sandbox container has no process to exec into")
	}
	if _, ok := s.execs[r.ExecID]; ok {
		return nil, errdefs.ToGRPCf(errdefs.ErrAlreadyExists, "id %s", r.ExecID)
	}
	s.execs[r.ExecID] = newTask(s.id, r.ExecID, s.bundle, r.Terminal, false, r.Stdin, r.Stdout, r.Stderr)
	s.events <- &events.TaskExecAdded{ContainerID: s.id, ExecID: r.ExecID}
	return empty, nil
}

// ResizePty is a declared no-op (spec.md §4.4, §Non-goals: dynamic PTY
// resize).
func (s *service) ResizePty(ctx context.Context, r *taskAPI.ResizePtyRequest) (*ptypes.Empty, error) {
	if _, _, err := s.getTaskAndStore(r.ExecID); err != nil {
		return nil, err
	}
	return empty, nil
}

// Pids returns the container's own pid; reaper does not track child
// processes beyond the workload (no pid namespace, spec.md Non-goals).
func (s *service) Pids(ctx context.Context, r *taskAPI.PidsRequest) (*taskAPI.PidsResponse, error) {
	t, _, err := s.getTaskAndStore("")
	if err != nil {
		return nil, err
	}
	_, pid, _, _ := t.snapshot()
	return &taskAPI.PidsResponse{Processes: []*task_.ProcessInfo{{Pid: pid}}}, nil
}

// CloseIO is a no-op: reaper's FIFOs are owned by the daemon process,
// which closes them itself once the workload exits (pkg/daemon.Run).
func (s *service) CloseIO(ctx context.Context, r *taskAPI.CloseIORequest) (*ptypes.Empty, error) {
	if _, _, err := s.getTaskAndStore(r.ExecID); err != nil {
		return nil, err
	}
	return empty, nil
}

// Pause, Resume, Checkpoint and Update are declared non-goals (spec.md
// §1: "cgroup resource limits" and checkpoint/restore are out of scope);
// they return ErrNotImplemented the way the teacher's own Checkpoint
// does, rather than silently succeeding.
func (s *service) Pause(ctx context.Context, r *taskAPI.PauseRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented
}

func (s *service) Resume(ctx context.Context, r *taskAPI.ResumeRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented
}

func (s *service) Checkpoint(ctx context.Context, r *taskAPI.CheckpointTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented
}

func (s *service) Update(ctx context.Context, r *taskAPI.UpdateTaskRequest) (*ptypes.Empty, error) {
	return nil, errdefs.ErrNotImplemented
}

// Stats returns an empty response; resource accounting is out of scope
// (spec.md Non-goals: cgroup resource limits).
func (s *service) Stats(ctx context.Context, r *taskAPI.StatsRequest) (*taskAPI.StatsResponse, error) {
	return &taskAPI.StatsResponse{}, nil
}

func (s *service) Connect(ctx context.Context, r *taskAPI.ConnectRequest) (*taskAPI.ConnectResponse, error) {
	var pid uint32
	if s.container != nil {
		_, p, _, _ := s.container.snapshot()
		pid = p
	}
	return &taskAPI.ConnectResponse{ShimPid: uint32(os.Getpid()), TaskPid: pid}, nil
}

func (s *service) Shutdown(ctx context.Context, r *taskAPI.ShutdownRequest) (*ptypes.Empty, error) {
	return empty, nil
}

func (s *service) getTaskAndStore(execID string) (*task, *state.Store, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if execID == "" {
		if s.container == nil {
			return nil, nil, errdefs.ToGRPCf(errdefs.ErrFailedPrecondition, "container must be created")
		}
		return s.container, s.store, nil
	}
	t, ok := s.execs[execID]
	if !ok {
		return nil, nil, errdefs.ToGRPCf(errdefs.ErrNotFound, "process does not exist %s", execID)
	}
	execStore := s.store
	return t, execStore, nil
}

func (s *service) forward(ctx context.Context) {
	for e := range s.events {
		if err := s.publisher.Publish(ctx, getTopic(e), e); err != nil {
			log.G(ctx).WithError(err).Error("publishing shim event")
		}
	}
}

func getTopic(e any) string {
	switch e.(type) {
	case *events.TaskCreate:
		return runtime.TaskCreateEventTopic
	case *events.TaskStart:
		return runtime.TaskStartEventTopic
	case *events.TaskExit:
		return runtime.TaskExitEventTopic
	case *events.TaskDelete:
		return runtime.TaskDeleteEventTopic
	case *events.TaskExecAdded:
		return runtime.TaskExecAddedEventTopic
	default:
		return runtime.TaskUnknownTopic
	}
}

// runCLI execs the reaper-runtime binary, the "shim (RPC) -> runtime CLI
// (exec)" hop spec.md §1's data-flow line describes.
func runCLI(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, RuntimeBinary, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		if len(out) > 0 {
			return reaperr.New("shim.runCLI", kindFromExitCode(cmd), fmt.Errorf("%s: %s", err, out))
		}
		return reaperr.New("shim.runCLI", kindFromExitCode(cmd), err)
	}
	return nil
}

func kindFromExitCode(cmd *exec.Cmd) reaperr.Kind {
	if cmd.ProcessState == nil {
		return reaperr.Io
	}
	switch cmd.ProcessState.ExitCode() {
	case 3:
		return reaperr.NotFound
	case 4:
		return reaperr.InvalidBundle
	default:
		return reaperr.Io
	}
}
