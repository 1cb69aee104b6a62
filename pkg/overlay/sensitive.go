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
	"os"
	"path/filepath"
)

// shadowSensitiveFiles creates empty placeholder entries in upperDir for
// each host path in files, so that once the overlay is mounted a read of
// that path is satisfied by the (empty) upper entry and never falls
// through to the real host file underneath (spec.md §4.3). Missing
// parent directories on the host are not created; a sensitive path whose
// parent doesn't exist on this host has nothing to shadow.
func shadowSensitiveFiles(upperDir string, files []string) error {
	for _, f := range files {
		if _, err := os.Lstat(f); err != nil {
			// Nothing on the host to shadow; skip silently, this list
			// is meant to be portable across node flavors.
			continue
		}
		shadow := filepath.Join(upperDir, f)
		if err := os.MkdirAll(filepath.Dir(shadow), 0o755); err != nil {
			return err
		}
		fh, err := os.OpenFile(shadow, os.O_CREATE|os.O_WRONLY, 0o000)
		if err != nil {
			return err
		}
		fh.Close()
	}
	return nil
}
