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
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/state"
)

// State implements subcommands.Command for "state", writing json-encoded
// state directly to stdout, the same contract the teacher's State.Execute
// documents.
type State struct{}

func (*State) Name() string             { return "state" }
func (*State) Synopsis() string         { return "get the state of a container" }
func (*State) Usage() string            { return "state <container id> - get the state of a container\n" }
func (*State) SetFlags(f *flag.FlagSet) {}

func (*State) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
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

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(rec); err != nil {
		fmt.Fprintf(f.Output(), "encoding state: %v\n", err)
		return subcommands.ExitStatus(1)
	}
	return subcommands.ExitSuccess
}
