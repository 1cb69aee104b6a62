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

// Command containerd-shim-reaper-v2 is the shim-v2 binary containerd
// discovers by name in $PATH (spec.md §6, "the shim binary's on-disk
// name encodes the handler the containerd configuration references").
package main

import (
	shimlib "github.com/containerd/containerd/runtime/v2/shim"

	reapershim "github.com/ossreaper/reaper/pkg/shim/v2"
)

func main() {
	shimlib.Run("io.containerd.reaper.v2", reapershim.New)
}
