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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/subcommands"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/daemon"
	"github.com/ossreaper/reaper/pkg/state"
)

// Exec implements subcommands.Command for "exec". It writes the request
// (argv, terminal, user) to the exec request file, then launches the
// exec daemon the same way Start launches the container daemon
// (spec.md §4.6).
type Exec struct {
	execID   string
	terminal bool
	user     string
	stdin    string
	stdout   string
	stderr   string
}

func (*Exec) Name() string     { return "exec" }
func (*Exec) Synopsis() string { return "run an additional process inside a container" }
func (*Exec) Usage() string {
	return "exec --exec-id ID [--terminal] [--user UID:GID] <container id> -- <argv...>\n"
}

func (e *Exec) SetFlags(f *flag.FlagSet) {
	f.StringVar(&e.execID, "exec-id", "", "exec id")
	f.BoolVar(&e.terminal, "terminal", false, "allocate a pseudo-terminal")
	f.StringVar(&e.user, "user", "", "UID:GID to run as, overriding the bundle")
	f.StringVar(&e.stdin, "stdin", "", "stdin FIFO path")
	f.StringVar(&e.stdout, "stdout", "", "stdout FIFO path")
	f.StringVar(&e.stderr, "stderr", "", "stderr FIFO path")
}

func (e *Exec) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 2 || e.execID == "" {
		f.Usage()
		return subcommands.ExitStatus(2)
	}
	id := f.Arg(0)
	argv := f.Args()[1:]
	// Flag parsing stops at the container id, so the "--" separator from
	// the usage line is still in front of the argv here.
	if len(argv) > 0 && argv[0] == "--" {
		argv = argv[1:]
	}
	if len(argv) == 0 {
		f.Usage()
		return subcommands.ExitStatus(2)
	}
	cfg := args[0].(*config.Config)
	store := state.Open(cfg.RuntimeRoot, id)

	rec, err := store.Load()
	if err != nil {
		fmt.Fprintf(f.Output(), "loading container record: %v\n", err)
		return exitFor(err)
	}

	req := &state.ExecRequest{
		Argv:     argv,
		Terminal: e.terminal,
		Stdin:    e.stdin,
		Stdout:   e.stdout,
		Stderr:   e.stderr,
	}
	if e.user != "" {
		uid, gid, ok := parseUIDGID(e.user)
		if !ok {
			fmt.Fprintf(f.Output(), "invalid --user %q, want UID:GID\n", e.user)
			return subcommands.ExitStatus(2)
		}
		req.HasUser = true
		req.UID = uid
		req.GID = gid
	}
	if err := store.SaveExecRequest(e.execID, req); err != nil {
		fmt.Fprintf(f.Output(), "saving exec request: %v\n", err)
		return exitFor(err)
	}

	pid, err := daemon.LaunchExec(ctx, cfg, store, rec.ID, e.execID)
	if err != nil {
		fmt.Fprintf(f.Output(), "launching exec: %v\n", err)
		return exitFor(err)
	}
	fmt.Fprintf(f.Output(), "started pid=%d\n", pid)
	return subcommands.ExitSuccess
}

func parseUIDGID(s string) (uid, gid uint32, ok bool) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, 0, false
	}
	u, err1 := strconv.ParseUint(parts[0], 10, 32)
	g, err2 := strconv.ParseUint(parts[1], 10, 32)
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return uint32(u), uint32(g), true
}
