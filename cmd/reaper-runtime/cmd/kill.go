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
	"syscall"

	"github.com/google/subcommands"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

// Kill implements subcommands.Command for "kill". A target process that
// is already gone (ESRCH) is success, not failure (spec.md §7).
type Kill struct {
	signal int
}

func (*Kill) Name() string     { return "kill" }
func (*Kill) Synopsis() string { return "send a signal to the container's workload" }
func (*Kill) Usage() string    { return "kill [--signal N] <container id> - signal the workload\n" }

func (k *Kill) SetFlags(f *flag.FlagSet) {
	f.IntVar(&k.signal, "signal", int(syscall.SIGTERM), "signal number to send")
}

func (k *Kill) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitStatus(2)
	}
	id := f.Arg(0)
	cfg := args[0].(*config.Config)
	store := state.Open(cfg.RuntimeRoot, id)

	rec, err := store.Load()
	if err != nil {
		fmt.Fprintf(f.Output(), "loading record: %v\n", err)
		return exitFor(err)
	}
	if rec.Pid == nil {
		return subcommands.ExitSuccess
	}

	if err := syscall.Kill(*rec.Pid, syscall.Signal(k.signal)); err != nil {
		if err == syscall.ESRCH {
			return subcommands.ExitSuccess
		}
		fmt.Fprintf(f.Output(), "kill: %v\n", err)
		return exitFor(reaperr.New("cmd.Kill", reaperr.PermissionDenied, err))
	}
	return subcommands.ExitSuccess
}
