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

package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCreated(t *testing.T) {
	rec := &Record{Status: Created}
	require.NoError(t, rec.Validate())

	pid := 1
	rec.Pid = &pid
	assert.Error(t, rec.Validate())
}

func TestValidateRunningRequiresPid(t *testing.T) {
	rec := &Record{Status: Running}
	assert.Error(t, rec.Validate())

	pid := 42
	rec.Pid = &pid
	assert.NoError(t, rec.Validate())

	code := 0
	rec.ExitCode = &code
	assert.Error(t, rec.Validate(), "running record must not carry an exit code")
}

func TestValidateStoppedRequiresExitInfo(t *testing.T) {
	pid := 42
	rec := &Record{Status: Stopped, Pid: &pid}
	assert.Error(t, rec.Validate())

	code := 0
	now := time.Now()
	rec.ExitCode = &code
	rec.ExitedAt = &now
	assert.NoError(t, rec.Validate())
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(Created, Running))
	assert.True(t, CanTransition(Running, Stopped))
	assert.True(t, CanTransition(Created, Stopped))
	assert.False(t, CanTransition(Running, Created))
	assert.False(t, CanTransition(Stopped, Running))
	assert.False(t, CanTransition(Created, Created))
}
