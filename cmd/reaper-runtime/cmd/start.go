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

	"github.com/google/subcommands"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/daemon"
	"github.com/ossreaper/reaper/pkg/state"
)

// Start implements spec.md §4.2 steps 1-2 from the CLI side: launch the
// monitoring daemon and block (bounded) until the state record reports
// `running`.
type Start struct{}

func (*Start) Name() string             { return "start" }
func (*Start) Synopsis() string         { return "start a created container" }
func (*Start) Usage() string            { return "start <container id> - start a created container\n" }
func (*Start) SetFlags(f *flag.FlagSet) {}

func (s *Start) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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
	if rec.Status != state.Created {
		fmt.Fprintf(f.Output(), "container %q is not in created state\n", id)
		return subcommands.ExitStatus(1)
	}

	pid, err := daemon.Launch(ctx, cfg, store, id)
	if err != nil {
		fmt.Fprintf(f.Output(), "starting daemon: %v\n", err)
		return exitFor(err)
	}
	fmt.Fprintf(f.Output(), "started pid=%d\n", pid)
	return subcommands.ExitSuccess
}
