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

// Package cmd implements the reaper-runtime CLI verbs, one
// subcommands.Command per verb, the same layout the teacher's
// runsc/cmd package uses for its own verbs.
package cmd

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/oci"
	"github.com/ossreaper/reaper/pkg/reaperr"
	"github.com/ossreaper/reaper/pkg/state"
)

// Create implements subcommands.Command for "create".
type Create struct {
	bundle   string
	terminal bool
	stdin    string
	stdout   string
	stderr   string
}

func (*Create) Name() string     { return "create" }
func (*Create) Synopsis() string { return "create a container record from an OCI bundle" }
func (*Create) Usage() string {
	return "create [--bundle PATH] [--terminal] <container id> - create a container\n"
}

func (c *Create) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.bundle, "bundle", ".", "path to the OCI bundle")
	f.BoolVar(&c.terminal, "terminal", false, "allocate a pseudo-terminal for the workload")
	f.StringVar(&c.stdin, "stdin", "", "stdin FIFO path")
	f.StringVar(&c.stdout, "stdout", "", "stdout FIFO path")
	f.StringVar(&c.stderr, "stderr", "", "stderr FIFO path")
}

func (c *Create) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitStatus(2)
	}
	id := f.Arg(0)
	cfg := args[0].(*config.Config)

	bundle, err := oci.Load(c.bundle)
	if err != nil {
		fmt.Fprintf(f.Output(), "loading bundle: %v\n", err)
		return exitFor(err)
	}

	store := state.Open(cfg.RuntimeRoot, id)
	rec := &state.Record{
		ID:       id,
		Bundle:   bundle.Path,
		Status:   state.Created,
		Terminal: c.terminal || bundle.Terminal(),
		Stdin:    c.stdin,
		Stdout:   c.stdout,
		Stderr:   c.stderr,
	}
	if err := store.Create(rec); err != nil {
		fmt.Fprintf(f.Output(), "creating record: %v\n", err)
		return exitFor(err)
	}
	return subcommands.ExitSuccess
}

func exitFor(err error) subcommands.ExitStatus {
	return subcommands.ExitStatus(reaperr.ExitCode(err))
}
