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
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ossreaper/reaper/pkg/reaperr"
)

const (
	stateFile   = "state.json"
	pidFile     = "pid"
	execDirName = "exec"

	readRetries = 5
	readBackoff = 20 * time.Millisecond
)

// Store is a single <state_root>/<id>/ directory (spec.md §4.5).
type Store struct {
	root string
}

// Open returns the Store rooted at <stateRoot>/<id>. It touches nothing on
// disk; Create is what makes the directory.
func Open(stateRoot, id string) *Store {
	return &Store{root: filepath.Join(stateRoot, id)}
}

// Dir is the container's state directory.
func (s *Store) Dir() string { return s.root }

// Create writes the initial `created` record. Fails with AlreadyExists if
// a record is already present, matching spec.md's create() contract.
func (s *Store) Create(rec *Record) error {
	if _, err := os.Stat(s.root); err == nil {
		return reaperr.New("state.Create", reaperr.AlreadyExists, fmt.Errorf("record %q exists", rec.ID))
	}
	if err := os.MkdirAll(filepath.Join(s.root, execDirName), 0o755); err != nil {
		return reaperr.New("state.Create", reaperr.Io, err)
	}
	if err := rec.Validate(); err != nil {
		return reaperr.New("state.Create", reaperr.Io, err)
	}
	return s.write(filepath.Join(s.root, stateFile), rec)
}

// Load reads the container record, retrying through ENOENT since the
// daemon may be mid-rename (spec.md §4.5).
func (s *Store) Load() (*Record, error) {
	return loadWithRetry(filepath.Join(s.root, stateFile))
}

// Save atomically overwrites the container record. Callers are
// responsible for honoring the single-writer-per-transition rule from
// spec.md §3 (CLI writes created/running, daemon writes stopped); Save
// itself rejects any write that would move status backward relative to
// the record already on disk (spec.md §3/§8's monotonicity invariant).
func (s *Store) Save(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return reaperr.New("state.Save", reaperr.Io, err)
	}
	if existing, err := s.Load(); err == nil && existing.Status != rec.Status && !CanTransition(existing.Status, rec.Status) {
		return reaperr.New("state.Save", reaperr.Io, fmt.Errorf("illegal status transition %s -> %s", existing.Status, rec.Status))
	}
	if err := s.write(filepath.Join(s.root, stateFile), rec); err != nil {
		return err
	}
	if rec.Pid != nil {
		_ = os.WriteFile(filepath.Join(s.root, pidFile), []byte(fmt.Sprintf("%d", *rec.Pid)), 0o644)
	}
	return nil
}

// Remove deletes the whole state directory (delete() verb).
func (s *Store) Remove() error {
	if err := os.RemoveAll(s.root); err != nil {
		return reaperr.New("state.Remove", reaperr.Io, err)
	}
	return nil
}

// ExecPath returns the path to an exec record file.
func (s *Store) ExecPath(execID string) string {
	return filepath.Join(s.root, execDirName, execID+".json")
}

// ExecRequestPath returns the path to an exec's request file: the argv,
// terminal flag and user transition the CLI's "exec" verb hands off to
// the re-exec'd daemon-exec process, since the exec record itself only
// has room for the same fields a container record has (spec.md §4.6:
// "same invariants and transitions as container record").
func (s *Store) ExecRequestPath(execID string) string {
	return filepath.Join(s.root, execDirName, execID+".request.json")
}

// SaveExecRequest atomically writes an exec request.
func (s *Store) SaveExecRequest(execID string, req *ExecRequest) error {
	if err := os.MkdirAll(filepath.Join(s.root, execDirName), 0o755); err != nil {
		return reaperr.New("state.SaveExecRequest", reaperr.Io, err)
	}
	return writeJSON(s.ExecRequestPath(execID), req)
}

// LoadExecRequest reads an exec request.
func (s *Store) LoadExecRequest(execID string) (*ExecRequest, error) {
	var req ExecRequest
	if err := loadJSONWithRetry(s.ExecRequestPath(execID), &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// SaveExec atomically writes an exec record (spec.md §4.5), enforcing the
// same forward-only status invariant as Save against whatever exec record
// (if any) is already on disk for this exec id.
func (s *Store) SaveExec(rec *Record) error {
	if err := rec.Validate(); err != nil {
		return reaperr.New("state.SaveExec", reaperr.Io, err)
	}
	if existing, err := s.LoadExec(rec.ExecID); err == nil && existing.Status != rec.Status && !CanTransition(existing.Status, rec.Status) {
		return reaperr.New("state.SaveExec", reaperr.Io, fmt.Errorf("illegal status transition %s -> %s", existing.Status, rec.Status))
	}
	if err := os.MkdirAll(filepath.Join(s.root, execDirName), 0o755); err != nil {
		return reaperr.New("state.SaveExec", reaperr.Io, err)
	}
	return s.write(s.ExecPath(rec.ExecID), rec)
}

// LoadExec reads an exec record.
func (s *Store) LoadExec(execID string) (*Record, error) {
	return loadWithRetry(s.ExecPath(execID))
}

// write performs the temp-file-then-rename atomic update required by
// spec.md §3/§4.5. The temp file is suffixed with a uuid rather than a
// pid so two concurrent writers, even within one process, never collide
// on the same temp name, following the identifier
// convention cuemby/warren uses (google/uuid) throughout its pkg/types.
func (s *Store) write(path string, rec *Record) error {
	return writeJSON(path, rec)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return reaperr.New("state.write", reaperr.Io, err)
	}
	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.NewString())
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return reaperr.New("state.write", reaperr.Io, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return reaperr.New("state.write", reaperr.Io, err)
	}
	return nil
}

func loadWithRetry(path string) (*Record, error) {
	var rec Record
	if err := loadJSONWithRetry(path, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func loadJSONWithRetry(path string, v any) error {
	var lastErr error
	for i := 0; i < readRetries; i++ {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				lastErr = err
				time.Sleep(readBackoff)
				continue
			}
			return reaperr.New("state.Load", reaperr.Io, err)
		}
		if err := json.Unmarshal(data, v); err != nil {
			return reaperr.New("state.Load", reaperr.Corrupt, err)
		}
		return nil
	}
	return reaperr.New("state.Load", reaperr.NotFound, lastErr)
}
