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

// Package reaperr defines the error taxonomy shared by the runtime CLI,
// the monitoring daemon and the shim. Errors carry a Kind so callers on
// either side of a process boundary can switch on it without parsing
// strings.
package reaperr

import (
	"errors"
	"fmt"

	"github.com/containerd/errdefs"
)

// Kind classifies a failure the way spec.md's error taxonomy describes it.
type Kind int

const (
	// Io covers any failure not otherwise classified.
	Io Kind = iota
	InvalidBundle
	AlreadyExists
	NotFound
	Busy
	PermissionDenied
	StartupTimeout
	OverlayUnavailable
	MountFailed
	Corrupt
)

func (k Kind) String() string {
	switch k {
	case InvalidBundle:
		return "InvalidBundle"
	case AlreadyExists:
		return "AlreadyExists"
	case NotFound:
		return "NotFound"
	case Busy:
		return "Busy"
	case PermissionDenied:
		return "PermissionDenied"
	case StartupTimeout:
		return "StartupTimeout"
	case OverlayUnavailable:
		return "OverlayUnavailable"
	case MountFailed:
		return "MountFailed"
	case Corrupt:
		return "Corrupt"
	default:
		return "Io"
	}
}

// Error is a reaper error: a Kind plus an underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a *Error for the given op/kind, wrapping err if non-nil.
func New(op string, kind Kind, err error) *Error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// KindOf extracts the Kind from err, defaulting to Io if err does not
// carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Io
}

// ExitCode maps a Kind to the CLI exit codes from spec.md §6.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case NotFound:
		return 3
	case InvalidBundle:
		return 4
	case AlreadyExists, Busy, PermissionDenied, StartupTimeout, OverlayUnavailable, MountFailed, Corrupt, Io:
		return 1
	default:
		return 1
	}
}

// ToGRPC maps a Kind onto the errdefs sentinel the shim layer's
// errdefs.ToGRPC uses to pick a ttrpc/gRPC status code, the same
// indirection the teacher's service layer relies on
// (errdefs.ToGRPCf(errdefs.ErrFailedPrecondition, ...)).
func ToGRPC(err error) error {
	if err == nil {
		return nil
	}
	switch KindOf(err) {
	case NotFound:
		return errdefs.ToGRPC(fmt.Errorf("%w", errdefs.ErrNotFound))
	case AlreadyExists:
		return errdefs.ToGRPC(fmt.Errorf("%w", errdefs.ErrAlreadyExists))
	case Busy:
		return errdefs.ToGRPC(fmt.Errorf("%w", errdefs.ErrFailedPrecondition))
	case PermissionDenied:
		return errdefs.ToGRPC(fmt.Errorf("%w", errdefs.ErrPermissionDenied))
	case InvalidBundle:
		return errdefs.ToGRPC(fmt.Errorf("%w", errdefs.ErrInvalidArgument))
	default:
		return errdefs.ToGRPC(err)
	}
}
