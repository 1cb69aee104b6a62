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
	"os"
	"os/exec"
	"syscall"

	"github.com/containerd/console"
	"golang.org/x/sys/unix"

	"github.com/ossreaper/reaper/pkg/oci"
	"github.com/ossreaper/reaper/pkg/ptyrelay"
	"github.com/ossreaper/reaper/pkg/reaperr"
)

// workload bundles an *exec.Cmd ready for Start with whatever file
// descriptors need closing once the workload is running.
type workload struct {
	cmd    *exec.Cmd
	pty    *os.File // master end; nil when not a terminal
	ptySlv *os.File // slave end, owned by the child after Start
	stdio  *ptyrelay.StdioFiles
	umask  *uint32
}

// buildWorkload implements spec.md §4.2 steps 6-7: build the exec.Cmd for
// the workload, with the user/group transition attached as
// SysProcAttr.Credential so the Go runtime applies it — in the mandatory
// setgroups -> setgid -> setuid order — inside the forked child, before
// the execve that step 7 describes as "the child of a second fork that
// performs exec". The umask, which has no SysProcAttr field on Linux, is
// applied by the caller bracketing Start (see start()).
func buildWorkload(ctx context.Context, b *oci.Bundle, stdinPath, stdoutPath, stderrPath string) (*workload, error) {
	argv := b.Argv()
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Dir = b.Cwd()
	cmd.Env = b.Env()

	w := &workload{cmd: cmd}

	u := b.User()
	groups := make([]uint32, len(u.AdditionalGids))
	copy(groups, u.AdditionalGids)
	attr := &syscall.SysProcAttr{
		Credential: &syscall.Credential{
			Uid:    u.UID,
			Gid:    u.GID,
			Groups: groups,
		},
	}
	if u.Umask != nil {
		um := uint32(*u.Umask)
		w.umask = &um
	}

	if b.Terminal() {
		master, slave, err := ptyrelay.Open()
		if err != nil {
			return nil, reaperr.New("daemon.buildWorkload", reaperr.Io, err)
		}
		width, height := b.ConsoleSize()
		if err := ptyrelay.SetWinsize(master, console.WinSize{Width: width, Height: height}); err != nil {
			master.Close()
			slave.Close()
			return nil, reaperr.New("daemon.buildWorkload", reaperr.Io, err)
		}
		w.pty = master
		w.ptySlv = slave
		cmd.Stdin = slave
		cmd.Stdout = slave
		cmd.Stderr = slave
		attr.Setctty = true
		attr.Ctty = int(slave.Fd())
	} else {
		stdio, err := ptyrelay.OpenStdio(ctx, stdinPath, stdoutPath, stderrPath)
		if err != nil {
			return nil, reaperr.New("daemon.buildWorkload", reaperr.Io, err)
		}
		w.stdio = stdio
		cmd.Stdin = stdio.Stdin
		cmd.Stdout = stdio.Stdout
		cmd.Stderr = stdio.Stderr
	}

	cmd.SysProcAttr = attr
	return w, nil
}

// start runs cmd.Start() bracketed by the process-wide umask, spec.md
// §4.2's "call umask(umask) if specified". Go's os/exec inherits the
// umask at fork time the same way it inherits any other process
// attribute that isn't its own SysProcAttr field, so the only way to
// apply a per-child umask is to flip the process umask immediately
// around Start and restore it right after — there is no Linux Umask
// field on syscall.SysProcAttr.
func (w *workload) start() error {
	var old int
	if w.umask != nil {
		old = unix.Umask(int(*w.umask))
	}
	err := w.cmd.Start()
	if w.umask != nil {
		unix.Umask(old)
	}
	if w.ptySlv != nil {
		w.ptySlv.Close()
	}
	if err != nil {
		return reaperr.New("daemon.start", reaperr.PermissionDenied, err)
	}
	return nil
}

func (w *workload) closeIO() {
	if w.pty != nil {
		w.pty.Close()
	}
	if w.stdio != nil {
		w.stdio.Close()
	}
}
