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

package oci

import (
	"os"
	"path/filepath"
	"testing"

	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossreaper/reaper/pkg/reaperr"
)

func writeConfig(t *testing.T, dir, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(contents), 0o644))
}

func TestLoadValidBundle(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":["echo","hi"],"cwd":"/work","terminal":true}}`)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"echo", "hi"}, b.Argv())
	assert.Equal(t, "/work", b.Cwd())
	assert.True(t, b.Terminal())
}

func TestLoadDefaultsCwdToRoot(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":["true"]}}`)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/", b.Cwd())
}

func TestLoadRejectsEmptyArgv(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":[]}}`)

	_, err := Load(dir)
	require.Error(t, err)
	assert.Equal(t, reaperr.InvalidBundle, reaperr.KindOf(err))
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, reaperr.InvalidBundle, reaperr.KindOf(err))
}

func TestLoadAllowsSandboxWithoutArgv(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"annotations":{"io.kubernetes.cri.container-type":"sandbox"}}`)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, b.IsSandbox())
	assert.Empty(t, b.Argv())
}

func TestLoadSandboxWithArgvIsStillSandbox(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":["/pause"]},"annotations":{"io.kubernetes.cri.container-type":"sandbox"}}`)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, b.IsSandbox())
	assert.Equal(t, []string{"/pause"}, b.Argv())
}

func TestIsSandboxFalseWithoutAnnotation(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":["true"]}}`)

	b, err := Load(dir)
	require.NoError(t, err)
	assert.False(t, b.IsSandbox())
}

func TestWithExecOverridesArgvAndUser(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `{"process":{"args":["sleep","100"],"user":{"uid":0,"gid":0}}}`)
	b, err := Load(dir)
	require.NoError(t, err)

	exec := b.WithExec([]string{"id"}, true, &specs.User{UID: 1000, GID: 1000})
	assert.Equal(t, []string{"id"}, exec.Argv())
	assert.True(t, exec.Terminal())
	assert.EqualValues(t, 1000, exec.User().UID)
	// Original bundle is untouched.
	assert.Equal(t, []string{"sleep", "100"}, b.Argv())
	assert.EqualValues(t, 0, b.User().UID)
}
