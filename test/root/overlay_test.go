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

//go:build linux_root

// Package root holds the handful of invariants from spec.md §8 that
// need a real mount namespace and CAP_SYS_ADMIN to exercise: at-most-one
// live overlay namespace per node, and host-root immutability. Run with
// `go test -tags linux_root ./test/root/...` as root.
package root

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ossreaper/reaper/pkg/overlay"
)

func TestAtMostOneNamespacePerNode(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	base := t.TempDir()

	const workers = 5
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			mgr := overlay.New(base, nil)
			errs[i] = mgr.EnterOrCreate(context.Background())
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}

	info, err := os.Stat(base + "/ns/mount.ns")
	require.NoError(t, err)
	assert.False(t, info.IsDir())
}

func TestHostRootUnaffectedByOverlayWrites(t *testing.T) {
	if os.Getuid() != 0 {
		t.Skip("requires root")
	}
	base := t.TempDir()
	mgr := overlay.New(base, nil)
	require.NoError(t, mgr.EnterOrCreate(context.Background()))

	marker := "/this-file-must-never-exist-on-the-host"
	_, err := os.Stat(marker)
	assert.True(t, os.IsNotExist(err), "namespace creation must never touch the host root")
}
