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

// Command reaper-runtime is the OCI-compatible runtime CLI from
// spec.md §6, plus the hidden daemon-run/daemon-exec/overlay-init verbs
// its own re-exec machinery dispatches to (spec.md §4.2, §4.3, §4.6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	runtimecmd "github.com/ossreaper/reaper/cmd/reaper-runtime/cmd"
	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/daemon"
	"github.com/ossreaper/reaper/pkg/overlay"
	"github.com/ossreaper/reaper/pkg/state"
)

func main() {
	ctx := context.Background()

	if len(os.Args) > 1 {
		switch os.Args[1] {
		case daemon.SubcommandName:
			os.Exit(runDaemon(ctx, os.Args[2:]))
		case daemon.ExecSubcommandName:
			os.Exit(runDaemonExec(ctx, os.Args[2:]))
		case "overlay-init":
			if err := overlay.RunInit(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			os.Exit(0)
		}
	}

	cfg, err := config.Load(configPathFlag())
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading config:", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")
	subcommands.Register(&runtimecmd.Create{}, "")
	subcommands.Register(&runtimecmd.Start{}, "")
	subcommands.Register(&runtimecmd.State{}, "")
	subcommands.Register(&runtimecmd.Kill{}, "")
	subcommands.Register(&runtimecmd.Delete{}, "")
	subcommands.Register(&runtimecmd.Exec{}, "")

	// Global OCI-compatibility flags (spec.md §6): accepted, otherwise
	// ignored, the same contract the teacher's runsc top-level flags
	// document for options a given runtime integration doesn't need.
	flag.String("root", "", "ignored; state root is REAPER_RUNTIME_ROOT")
	flag.String("log", "", "ignored")
	flag.String("log-format", "", "ignored")
	flag.String("config", "", "path to reaper.toml")
	flag.Parse()

	os.Exit(int(subcommands.Execute(ctx, cfg)))
}

func configPathFlag() string {
	for i, a := range os.Args {
		if a == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
	}
	return ""
}

func setupLogging(cfg *config.Config) {
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	if cfg.LogFormat == "text" {
		log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
		zerolog.DefaultContextLogger = &log
	}
}

func runDaemon(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: daemon-run <container id>")
		return 2
	}
	id := args[0]
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	store := state.Open(cfg.RuntimeRoot, id)
	rec, err := store.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	stdio := daemon.StdioPaths{Stdin: rec.Stdin, Stdout: rec.Stdout, Stderr: rec.Stderr}
	if err := daemon.Run(ctx, cfg, store, rec.Bundle, stdio); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func runDaemonExec(ctx context.Context, args []string) int {
	if len(args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: daemon-exec <container id> <exec id>")
		return 2
	}
	containerID, execID := args[0], args[1]
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	store := state.Open(cfg.RuntimeRoot, containerID)
	rec, err := store.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if err := daemon.RunExec(ctx, cfg, store, containerID, execID, rec.Bundle); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}
