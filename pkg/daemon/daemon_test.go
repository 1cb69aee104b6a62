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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossreaper/reaper/pkg/state"
)

func TestRecordFailureWritesStoppedRecord(t *testing.T) {
	store := state.Open(t.TempDir(), "c1")
	require.NoError(t, store.Create(&state.Record{ID: "c1", Bundle: "/bundle", Status: state.Created}))

	cause := errors.New("overlay unavailable")
	got := recordFailure(store, cause)
	assert.Equal(t, cause, got, "the original cause is always returned")

	rec, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, state.Stopped, rec.Status)
	require.NotNil(t, rec.ExitCode)
	assert.Equal(t, 1, *rec.ExitCode)
	assert.NotNil(t, rec.ExitedAt)
}

func TestRecordFailureOnMissingRecordStillReturnsCause(t *testing.T) {
	store := state.Open(t.TempDir(), "missing")
	cause := errors.New("boom")
	assert.Equal(t, cause, recordFailure(store, cause))
}
