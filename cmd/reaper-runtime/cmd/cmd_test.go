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
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossreaper/reaper/pkg/config"
	"github.com/ossreaper/reaper/pkg/state"
)

func newFlagSet(t *testing.T, c subcommands.Command, args ...string) *flag.FlagSet {
	t.Helper()
	f := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	f.SetOutput(io.Discard)
	c.SetFlags(f)
	require.NoError(t, f.Parse(args))
	return f
}

func writeConfigBundle(t *testing.T, contents string) (cfg *config.Config, bundleDir string) {
	t.Helper()
	bundleDir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bundleDir, "config.json"), []byte(contents), 0o644))
	cfg = &config.Config{RuntimeRoot: t.TempDir()}
	return cfg, bundleDir
}

func TestCreateWritesRecord(t *testing.T) {
	cfg, bundleDir := writeConfigBundle(t, `{"process":{"args":["true"]}}`)
	c := &Create{}
	f := newFlagSet(t, c, "--bundle", bundleDir, "c1")

	got := c.Execute(context.Background(), f, cfg)
	assert.Equal(t, subcommands.ExitSuccess, got)

	rec, err := state.Open(cfg.RuntimeRoot, "c1").Load()
	require.NoError(t, err)
	assert.Equal(t, state.Created, rec.Status)
	assert.Equal(t, bundleDir, rec.Bundle)
}

func TestCreateRejectsMissingBundle(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	c := &Create{}
	f := newFlagSet(t, c, "--bundle", filepath.Join(t.TempDir(), "nope"), "c1")

	got := c.Execute(context.Background(), f, cfg)
	assert.NotEqual(t, subcommands.ExitSuccess, got)
}

func TestCreateWrongArgCountExitsUsage(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	c := &Create{}
	f := newFlagSet(t, c)

	assert.Equal(t, subcommands.ExitStatus(2), c.Execute(context.Background(), f, cfg))
}

func TestStateReturnsSuccessForExistingRecord(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	store := state.Open(cfg.RuntimeRoot, "c1")
	require.NoError(t, store.Create(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Created}))

	s := &State{}
	f := newFlagSet(t, s, "c1")
	assert.Equal(t, subcommands.ExitSuccess, s.Execute(context.Background(), f, cfg))
}

func TestStateMissingRecordFails(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	s := &State{}
	f := newFlagSet(t, s, "missing")
	assert.NotEqual(t, subcommands.ExitSuccess, s.Execute(context.Background(), f, cfg))
}

func TestDeleteRefusesRunningWithoutForce(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	store := state.Open(cfg.RuntimeRoot, "c1")
	require.NoError(t, store.Create(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Created}))
	pid := 1
	require.NoError(t, store.Save(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Running, Pid: &pid}))

	d := &Delete{}
	f := newFlagSet(t, d, "c1")
	assert.Equal(t, subcommands.ExitStatus(1), d.Execute(context.Background(), f, cfg))
}

func TestDeleteRemovesStoppedRecord(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	store := state.Open(cfg.RuntimeRoot, "c1")
	require.NoError(t, store.Create(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Created}))
	pid, code, now := 1, 0, time.Now()
	require.NoError(t, store.Save(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Stopped, Pid: &pid, ExitCode: &code, ExitedAt: &now}))

	d := &Delete{}
	f := newFlagSet(t, d, "c1")
	assert.Equal(t, subcommands.ExitSuccess, d.Execute(context.Background(), f, cfg))

	_, err := store.Load()
	assert.Error(t, err)
}

func TestKillWithNoPidIsSuccess(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	store := state.Open(cfg.RuntimeRoot, "c1")
	require.NoError(t, store.Create(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Created}))

	k := &Kill{}
	f := newFlagSet(t, k, "c1")
	assert.Equal(t, subcommands.ExitSuccess, k.Execute(context.Background(), f, cfg))
}

func TestKillMissingRecordFails(t *testing.T) {
	cfg := &config.Config{RuntimeRoot: t.TempDir()}
	k := &Kill{}
	f := newFlagSet(t, k, "missing")
	assert.NotEqual(t, subcommands.ExitSuccess, k.Execute(context.Background(), f, cfg))
}
