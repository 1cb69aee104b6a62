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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultHasSensibleValues(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultRuntimeRoot, cfg.RuntimeRoot)
	assert.Equal(t, DefaultObservation, cfg.Observation)
	assert.NotEmpty(t, cfg.SensitiveFiles)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reaper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
runtime_root = "/custom/root"
observation_window = "750ms"
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/custom/root", cfg.RuntimeRoot)
	assert.Equal(t, 750*time.Millisecond, cfg.Observation)
	assert.Equal(t, DefaultOverlayBase, cfg.OverlayBase, "unset fields keep their defaults")
}

func TestEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reaper.toml")
	require.NoError(t, os.WriteFile(path, []byte(`runtime_root = "/from/file"`), 0o644))

	t.Setenv("REAPER_RUNTIME_ROOT", "/from/env")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.RuntimeRoot)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultRuntimeRoot, cfg.RuntimeRoot)
}
