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

package reaperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	cases := []struct {
		kind Kind
		want int
	}{
		{NotFound, 3},
		{InvalidBundle, 4},
		{Io, 1},
		{Busy, 1},
	}
	for _, c := range cases {
		err := New("op", c.kind, nil)
		assert.Equal(t, c.want, ExitCode(err), c.kind.String())
	}
	assert.Equal(t, 0, ExitCode(nil))
}

func TestKindOfUnwrapsWrappedErrors(t *testing.T) {
	base := New("op", NotFound, fmt.Errorf("boom"))
	wrapped := fmt.Errorf("context: %w", base)
	assert.Equal(t, NotFound, KindOf(wrapped))
}

func TestKindOfDefaultsToIo(t *testing.T) {
	assert.Equal(t, Io, KindOf(errors.New("plain")))
}

func TestErrorStringIncludesOpAndKind(t *testing.T) {
	err := New("state.Load", Corrupt, fmt.Errorf("bad json"))
	assert.Contains(t, err.Error(), "state.Load")
	assert.Contains(t, err.Error(), "Corrupt")
	assert.Contains(t, err.Error(), "bad json")
}
