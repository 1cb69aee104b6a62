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
	"context"

	"github.com/containerd/containerd/mount"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ossreaper/reaper/pkg/reaperr"
)

// kubernetesShortCircuits are destinations already satisfied by the
// kubelet directly, not by the overlay; applying a bind mount over them
// would shadow kubelet-managed content (spec.md §4.3).
var kubernetesShortCircuits = map[string]bool{
	"/etc/hosts":            true,
	"/etc/hostname":         true,
	"/etc/resolv.conf":      true,
	"/dev/termination-log":  true,
}

// ApplyOCIMounts applies the subset of an OCI mounts[] array described in
// spec.md §4.3: bind (or rbind) mounts whose destination isn't a
// Kubernetes-internal short-circuit. Every other mount type is already
// satisfied by the shared namespace and is skipped. It reuses
// containerd/containerd/mount's Mount type and application logic, the
// same package the teacher's shim Create() uses to lay down r.Rootfs.
func ApplyOCIMounts(ctx context.Context, root string, mounts []specs.Mount) error {
	for _, m := range mounts {
		if !isBind(m.Type) {
			continue
		}
		if kubernetesShortCircuits[m.Destination] {
			continue
		}

		cm := mount.Mount{
			Type:    m.Type,
			Source:  m.Source,
			Options: m.Options,
		}
		target := root + m.Destination
		if err := cm.Mount(target); err != nil {
			return reaperr.New("overlay.ApplyOCIMounts", reaperr.MountFailed, err)
		}
		if isReadOnly(m.Options) {
			ro := mount.Mount{
				Type:    m.Type,
				Source:  m.Source,
				Options: append(append([]string{}, m.Options...), "remount", "ro"),
			}
			if err := ro.Mount(target); err != nil {
				return reaperr.New("overlay.ApplyOCIMounts", reaperr.MountFailed, err)
			}
		}
	}
	return nil
}

func isBind(typ string) bool {
	return typ == "bind" || typ == "rbind"
}

func isReadOnly(options []string) bool {
	for _, o := range options {
		if o == "ro" {
			return true
		}
	}
	return false
}
