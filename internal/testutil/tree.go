// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may not
// use this file except in compliance with the License. You may obtain a copy of
// the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS, WITHOUT
// WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied. See the
// License for the specific language governing permissions and limitations under
// the License.

package testutil

import (
	"path"
	"sort"

	"github.com/google/go-ima/fsys"
)

// TB is the subset of testing.TB used by the helpers, also satisfied by
// GinkgoT().
type TB interface {
	Helper()
	Fatalf(format string, args ...any)
}

// Tree builds an in-memory filesystem holding files, keyed by absolute
// path. Parent directories are created as needed.
func Tree(t TB, files map[string]string) *fsys.Afero {
	t.Helper()
	f := fsys.NewMem()
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		WriteFile(t, f, p, files[p])
	}
	return f
}

// WriteFile replaces the content of p, creating it and its parents.
func WriteFile(t TB, f fsys.FS, p, content string) {
	t.Helper()
	if dir := path.Dir(p); dir != "/" {
		if _, err := f.Create(dir, fsys.TypeDir, 0755); err != nil {
			t.Fatalf("creating %s: %v", dir, err)
		}
	}
	h, err := f.Create(p, fsys.TypeRegular, 0644)
	if err != nil {
		t.Fatalf("creating %s: %v", p, err)
	}
	if err := f.Truncate(h, 0); err != nil {
		t.Fatalf("truncating %s: %v", p, err)
	}
	if _, err := f.WriteAt(h, []byte(content), 0); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
}
