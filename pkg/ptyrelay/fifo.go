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

package ptyrelay

import (
	"context"
	"io"
	"syscall"

	"github.com/containerd/fifo"
)

const (
	openFlagsReader = syscall.O_RDONLY | syscall.O_NONBLOCK
	openFlagsWriter = syscall.O_WRONLY | syscall.O_NONBLOCK
)

// StdioFiles is the non-terminal FIFO wiring for a container or exec
// whose process.terminal is false: the three FIFOs are opened directly
// and handed to exec.Cmd as Stdin/Stdout/Stderr (both satisfy
// io.Reader/io.Writer, which is all exec.Cmd requires).
type StdioFiles struct {
	Stdin  io.ReadWriteCloser
	Stdout io.ReadWriteCloser
	Stderr io.ReadWriteCloser
}

// Close closes whichever FIFOs were opened.
func (s *StdioFiles) Close() {
	for _, f := range []io.ReadWriteCloser{s.Stdin, s.Stdout, s.Stderr} {
		if f != nil {
			f.Close()
		}
	}
}

// OpenStdio opens the stdin/stdout/stderr FIFOs supplied by containerd
// in the CreateTask request (spec.md §3 "FIFO endpoints"), using
// containerd/fifo's context-aware open rather than bare os.OpenFile,
// which can block the calling goroutine forever if the peer end hasn't
// been opened yet.
func OpenStdio(ctx context.Context, stdinPath, stdoutPath, stderrPath string) (*StdioFiles, error) {
	var sf StdioFiles
	var err error

	if stdinPath != "" {
		if sf.Stdin, err = fifo.OpenFifo(ctx, stdinPath, openFlagsReader, 0); err != nil {
			return nil, err
		}
	}
	if stdoutPath != "" {
		if sf.Stdout, err = fifo.OpenFifo(ctx, stdoutPath, openFlagsWriter, 0); err != nil {
			sf.Close()
			return nil, err
		}
	}
	if stderrPath != "" {
		if sf.Stderr, err = fifo.OpenFifo(ctx, stderrPath, openFlagsWriter, 0); err != nil {
			sf.Close()
			return nil, err
		}
	}
	return &sf, nil
}
