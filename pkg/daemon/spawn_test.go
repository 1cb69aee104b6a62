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

package daemon

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ossreaper/reaper/pkg/oci"
)

func writeBundle(t *testing.T, contents string) *oci.Bundle {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(contents), 0o644))
	b, err := oci.Load(dir)
	require.NoError(t, err)
	return b
}

func TestBuildWorkloadAppliesCredential(t *testing.T) {
	b := writeBundle(t, `{"process":{"args":["true"],"user":{"uid":1000,"gid":1000,"additionalGids":[10,20]}}}`)

	w, err := buildWorkload(context.Background(), b, "", "", "")
	require.NoError(t, err)
	defer w.closeIO()

	require.NotNil(t, w.cmd.SysProcAttr.Credential)
	assert.EqualValues(t, 1000, w.cmd.SysProcAttr.Credential.Uid)
	assert.EqualValues(t, 1000, w.cmd.SysProcAttr.Credential.Gid)
	assert.Equal(t, []uint32{10, 20}, w.cmd.SysProcAttr.Credential.Groups)
}

func TestBuildWorkloadCapturesUmask(t *testing.T) {
	b := writeBundle(t, `{"process":{"args":["true"],"user":{"uid":0,"gid":0,"umask":27}}}`)

	w, err := buildWorkload(context.Background(), b, "", "", "")
	require.NoError(t, err)
	defer w.closeIO()

	require.NotNil(t, w.umask)
	assert.EqualValues(t, 27, *w.umask)
}

func TestBuildWorkloadUnspecifiedUserDefaultsToZero(t *testing.T) {
	b := writeBundle(t, `{"process":{"args":["true"]}}`)

	w, err := buildWorkload(context.Background(), b, "", "", "")
	require.NoError(t, err)
	defer w.closeIO()

	require.NotNil(t, w.cmd.SysProcAttr.Credential)
	assert.EqualValues(t, 0, w.cmd.SysProcAttr.Credential.Uid)
	assert.EqualValues(t, 0, w.cmd.SysProcAttr.Credential.Gid)
}

func TestBuildWorkloadSetsInitialWinsize(t *testing.T) {
	b := writeBundle(t, `{"process":{"args":["true"],"terminal":true,"consoleSize":{"width":120,"height":40}}}`)

	w, err := buildWorkload(context.Background(), b, "", "", "")
	require.NoError(t, err)
	defer w.closeIO()

	require.NotNil(t, w.pty)
	ws, err := unix.IoctlGetWinsize(int(w.pty.Fd()), unix.TIOCGWINSZ)
	require.NoError(t, err)
	assert.EqualValues(t, 120, ws.Col)
	assert.EqualValues(t, 40, ws.Row)
}

func TestBuildWorkloadDefaultsWinsizeWhenUnspecified(t *testing.T) {
	b := writeBundle(t, `{"process":{"args":["true"],"terminal":true}}`)

	w, err := buildWorkload(context.Background(), b, "", "", "")
	require.NoError(t, err)
	defer w.closeIO()

	ws, err := unix.IoctlGetWinsize(int(w.pty.Fd()), unix.TIOCGWINSZ)
	require.NoError(t, err)
	assert.EqualValues(t, 80, ws.Col)
	assert.EqualValues(t, 24, ws.Row)
}

func TestExitCodeOfNilIsZero(t *testing.T) {
	assert.Equal(t, 0, exitCodeOf(nil))
}

func TestExitCodeOfNonExitErrorDefaultsToOne(t *testing.T) {
	assert.Equal(t, 1, exitCodeOf(assertErr{}))
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }
