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

// Package ptyrelay implements spec.md §4.6: pseudo-terminal allocation
// and the stdin-FIFO/master/stdout-FIFO relay, plus plain (non-terminal)
// FIFO wiring shared by container start and exec.
package ptyrelay

import (
	"context"
	"io"
	"os"

	"github.com/containerd/console"
	"github.com/containerd/fifo"
	"github.com/kr/pty"
	"golang.org/x/sys/unix"
)

// Open allocates a new pseudo-terminal pair, the dependency the teacher's
// go.mod carries (github.com/kr/pty) for exactly this purpose.
func Open() (master, slave *os.File, err error) {
	return pty.Open()
}

// SetWinsize sets the PTY's initial window size. Dynamic resize after
// this point is a declared non-goal (spec.md §1, §4.4's ResizePty
// no-op), but the initial geometry still has to be set once so that
// line-buffered TTY programs don't default to the kernel's 0x0. The
// console.WinSize type is the same value shape the teacher's ResizePty
// handler builds from a ResizePtyRequest.
func SetWinsize(master *os.File, ws console.WinSize) error {
	return unix.IoctlSetWinsize(int(master.Fd()), unix.TIOCSWINSZ, &unix.Winsize{
		Row: ws.Height,
		Col: ws.Width,
	})
}

// Relay wires the stdin FIFO to the PTY master and the PTY master back
// to the stdout FIFO, spec.md §4.6 step 3. It runs until either
// direction's underlying file closes (workload exit or FIFO close).
func Relay(ctx context.Context, master io.ReadWriter, stdinPath, stdoutPath string) error {
	stdin, err := fifo.OpenFifo(ctx, stdinPath, openFlagsReader, 0)
	if err != nil {
		return err
	}
	stdout, err := fifo.OpenFifo(ctx, stdoutPath, openFlagsWriter, 0)
	if err != nil {
		stdin.Close()
		return err
	}

	done := make(chan struct{}, 2)
	go func() {
		io.Copy(master, stdin)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(stdout, master)
		done <- struct{}{}
	}()

	<-done
	stdin.Close()
	stdout.Close()
	return nil
}
