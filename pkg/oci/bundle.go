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

// Package oci reads the recognized subset of a bundle's config.json
// (spec.md §6). Parsing the full OCI config grammar is explicitly out of
// scope (spec.md §1 lists "the OCI config parser's syntax" as an external
// collaborator); this package only pulls the fields the rest of reaper
// needs.
package oci

import (
	"encoding/json"
	"os"
	"path/filepath"

	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/ossreaper/reaper/pkg/reaperr"
)

// Bundle is a loaded config.json plus the bundle directory it came from.
type Bundle struct {
	Path string
	Spec *specs.Spec
}

// AnnotationContainerType and ContainerTypeSandbox mirror the CRI
// container-type annotation the teacher's own
// specutils.SpecContainerType/ContainerTypeSandbox check reads off the
// spec (pkg/shim/v1/runsc/service.go's newInit): Kubernetes stamps this
// annotation on the pod's pause container, the one container per pod
// with no workload command (spec.md §4.4).
const (
	AnnotationContainerType = "io.kubernetes.cri.container-type"
	ContainerTypeSandbox    = "sandbox"
)

// Load reads and minimally validates <dir>/config.json. A sandbox bundle
// is exempted from the non-empty-argv check: it has no workload command
// by design (spec.md §4.4).
func Load(dir string) (*Bundle, error) {
	path := filepath.Join(dir, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, reaperr.New("oci.Load", reaperr.InvalidBundle, err)
	}
	var spec specs.Spec
	if err := json.Unmarshal(data, &spec); err != nil {
		return nil, reaperr.New("oci.Load", reaperr.InvalidBundle, err)
	}
	b := &Bundle{Path: dir, Spec: &spec}
	if b.IsSandbox() {
		if spec.Process == nil {
			spec.Process = &specs.Process{}
		}
		return b, nil
	}
	if spec.Process == nil || len(spec.Process.Args) == 0 {
		return nil, reaperr.New("oci.Load", reaperr.InvalidBundle, errEmptyArgv)
	}
	return b, nil
}

// IsSandbox reports whether this bundle is a Kubernetes sandbox ("pause")
// container (spec.md §4.4).
func (b *Bundle) IsSandbox() bool {
	return b.Spec.Annotations[AnnotationContainerType] == ContainerTypeSandbox
}

var errEmptyArgv = emptyArgvErr{}

type emptyArgvErr struct{}

func (emptyArgvErr) Error() string { return "process.args must be a non-empty array" }

// Env returns process.env as-is (already KEY=VALUE strings per the OCI
// spec).
func (b *Bundle) Env() []string {
	if b.Spec.Process == nil {
		return nil
	}
	return b.Spec.Process.Env
}

// Argv is the command to execute.
func (b *Bundle) Argv() []string { return b.Spec.Process.Args }

// Cwd is the working directory, defaulting to "/".
func (b *Bundle) Cwd() string {
	if b.Spec.Process.Cwd == "" {
		return "/"
	}
	return b.Spec.Process.Cwd
}

// Terminal reports process.terminal.
func (b *Bundle) Terminal() bool { return b.Spec.Process.Terminal }

// ConsoleSize is the initial PTY geometry from process.consoleSize,
// defaulting to 80x24 (the conventional tty default used when a client
// never sends one) when unset. Dynamic resize after allocation is a
// declared non-goal (spec.md §4.4's ResizePty no-op), but the initial
// size still has to come from somewhere at PTY-open time.
func (b *Bundle) ConsoleSize() (width, height uint16) {
	if cs := b.Spec.Process.ConsoleSize; cs != nil {
		return uint16(cs.Width), uint16(cs.Height)
	}
	return 80, 24
}

// User is the uid/gid/additionalGids/umask transition spec.md §4.2
// describes. A bundle that never sets process.user gets the OCI zero
// value (uid 0, gid 0), which is a no-op transition since the daemon
// applying it already runs as root.
func (b *Bundle) User() *specs.User {
	return &b.Spec.Process.User
}

// Mounts is the raw OCI mounts array; filtering per spec.md §4.3 happens
// in the overlay package, which knows the Kubernetes-internal
// short-circuit destinations.
func (b *Bundle) Mounts() []specs.Mount { return b.Spec.Mounts }

// WithExec returns a shallow-cloned Bundle whose process fields are
// overridden for an exec invocation (spec.md §4.6: exec reuses the same
// user transition and PTY relay as the initial process, but against its
// own argv). The underlying spec's mounts and root are left untouched.
func (b *Bundle) WithExec(argv []string, terminal bool, user *specs.User) *Bundle {
	p := *b.Spec.Process
	p.Args = argv
	p.Terminal = terminal
	if user != nil {
		p.User = *user
	}
	spec := *b.Spec
	spec.Process = &p
	return &Bundle{Path: b.Path, Spec: &spec}
}
