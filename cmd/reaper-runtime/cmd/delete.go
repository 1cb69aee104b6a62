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
	"github.com/ossreaper/reaper/pkg/state"
)

// Delete implements subcommands.Command for "delete". Without --force a
// running container refuses deletion; with --force it is killed first.
type Delete struct {
	force bool
}

func (*Delete) Name() string     { return "delete" }
func (*Delete) Synopsis() string { return "delete a container's state" }
func (*Delete) Usage() string    { return "delete [--force] <container id> - remove container state\n" }

func (d *Delete) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.force, "force", false, "kill the workload first if still running")
}

func (d *Delete) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	if rec.Status == state.Running {
		if !d.force {
			fmt.Fprintf(f.Output(), "container %q is still running; use --force\n", id)
			return subcommands.ExitStatus(1)
		}
		if rec.Pid != nil {
			_ = syscall.Kill(*rec.Pid, syscall.SIGKILL)
		}
	}

	if err := store.Remove(); err != nil {
		fmt.Fprintf(f.Output(), "removing state: %v\n", err)
		return exitFor(err)
	}
	return subcommands.ExitSuccess
}
