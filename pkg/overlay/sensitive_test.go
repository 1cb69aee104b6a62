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

package overlay

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShadowSensitiveFilesOnlyShadowsExisting(t *testing.T) {
	upper := t.TempDir()
	real := filepath.Join(t.TempDir(), "shadow")
	require.NoError(t, os.WriteFile(real, []byte("secret"), 0o600))
	missing := filepath.Join(t.TempDir(), "does-not-exist")

	require.NoError(t, shadowSensitiveFiles(upper, []string{real, missing}))

	info, err := os.Stat(filepath.Join(upper, real))
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = os.Stat(filepath.Join(upper, missing))
	assert.True(t, os.IsNotExist(err), "absent host files are never shadowed")
}
