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

// Package state implements the on-disk container/exec records described
// in spec.md §3 and §4.5: one state.json per container, one exec/<id>.json
// per exec, written with temp+rename atomicity and read back with a
// bounded retry on ENOENT.
package state

import "time"

// Status is the lifecycle status of a container or exec record. It only
// ever moves forward: Created -> Running -> Stopped.
type Status string

const (
	Created Status = "created"
	Running Status = "running"
	Stopped Status = "stopped"
)

// Record is the container record from spec.md §3. Exec records share the
// exact same shape (spec.md: "Same invariants and transitions as
// container record") plus an owning container id and optional user, so
// Record is reused for both with ExecID/ContainerID left unset for the
// container's own record.
type Record struct {
	ID         string     `json:"id"`
	ContainerID string    `json:"container_id,omitempty"`
	ExecID     string     `json:"exec_id,omitempty"`
	Bundle     string     `json:"bundle"`
	Status     Status     `json:"status"`
	Pid        *int       `json:"pid"`
	ExitCode   *int       `json:"exit_code"`
	ExitedAt   *time.Time `json:"exited_at"`
	Terminal   bool       `json:"terminal"`
	User       string     `json:"user,omitempty"`
	Stdin      string     `json:"stdin,omitempty"`
	Stdout     string     `json:"stdout,omitempty"`
	Stderr     string     `json:"stderr,omitempty"`
}

// Validate checks the per-record invariants from spec.md §3: pid set iff
// running/stopped, exit_code set iff stopped. It looks at this record
// only; the forward-only rule against the record on disk is enforced by
// Store.Save and Store.SaveExec through CanTransition.
func (r *Record) Validate() error {
	switch r.Status {
	case Created:
		if r.Pid != nil || r.ExitCode != nil {
			return errInvariant("created record must not have pid or exit_code")
		}
	case Running:
		if r.Pid == nil {
			return errInvariant("running record must have a pid")
		}
		if r.ExitCode != nil {
			return errInvariant("running record must not have exit_code")
		}
	case Stopped:
		if r.Pid == nil {
			return errInvariant("stopped record must retain its pid")
		}
		if r.ExitCode == nil || r.ExitedAt == nil {
			return errInvariant("stopped record must have exit_code and exited_at")
		}
	default:
		return errInvariant("unknown status " + string(r.Status))
	}
	return nil
}

// ExecRequest is the argv/terminal/user transition for one exec
// invocation, handed off from the CLI's "exec" verb to the re-exec'd
// daemon-exec process (spec.md §4.6).
type ExecRequest struct {
	Argv           []string `json:"argv"`
	Terminal       bool     `json:"terminal"`
	HasUser        bool     `json:"has_user"`
	UID            uint32   `json:"uid"`
	GID            uint32   `json:"gid"`
	AdditionalGids []uint32 `json:"additional_gids,omitempty"`
	Stdin          string   `json:"stdin,omitempty"`
	Stdout         string   `json:"stdout,omitempty"`
	Stderr         string   `json:"stderr,omitempty"`
}

type invariantError string

func (e invariantError) Error() string { return string(e) }

func errInvariant(msg string) error { return invariantError(msg) }

// CanTransition reports whether moving from `from` to `to` is a forward
// transition per spec.md §3 ("status transitions only forward").
func CanTransition(from, to Status) bool {
	order := map[Status]int{Created: 0, Running: 1, Stopped: 2}
	f, ok1 := order[from]
	t, ok2 := order[to]
	return ok1 && ok2 && t > f
}
