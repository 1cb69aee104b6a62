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

package reapershim

import (
	"testing"
	"time"

	"github.com/containerd/containerd/api/events"
	"github.com/containerd/containerd/runtime"
	"github.com/stretchr/testify/assert"
)

func TestGetTopic(t *testing.T) {
	assert.Equal(t, runtime.TaskCreateEventTopic, getTopic(&events.TaskCreate{}))
	assert.Equal(t, runtime.TaskStartEventTopic, getTopic(&events.TaskStart{}))
	assert.Equal(t, runtime.TaskExitEventTopic, getTopic(&events.TaskExit{}))
	assert.Equal(t, runtime.TaskDeleteEventTopic, getTopic(&events.TaskDelete{}))
	assert.Equal(t, runtime.TaskUnknownTopic, getTopic("not an event"))
}

func TestTaskMarkStoppedIsIdempotent(t *testing.T) {
	tk := newTask("c1", "", "/bundle", false, false, "", "", "")
	now := time.Now()

	tk.markStopped(7, now)
	tk.markStopped(99, now.Add(time.Hour))

	status, _, exitStatus, exitedAt := tk.snapshot()
	assert.Equal(t, uint32(7), exitStatus)
	assert.Equal(t, now, exitedAt)
	_ = status
}
