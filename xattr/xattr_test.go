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

package xattr

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-ima/fsys"
)

type backingFactory struct {
	name string
	new  func(t *testing.T, f fsys.FS) Backing
}

var backings = []backingFactory{
	{"file", func(t *testing.T, f fsys.FS) Backing {
		return NewFileBacking(f, "", nil)
	}},
	{"sqlite", func(t *testing.T, f fsys.FS) Backing {
		b, err := OpenSQLite(filepath.Join(t.TempDir(), "xattr.db"))
		if err != nil {
			t.Fatalf("OpenSQLite() failed: %v", err)
		}
		t.Cleanup(func() { b.Close() })
		return b
	}},
}

func newStore(t *testing.T, bf backingFactory) (*Store, *fsys.Afero) {
	t.Helper()
	f := fsys.NewMem()
	for _, p := range []string{"/etc/a", "/etc/b"} {
		if _, err := f.Create(p, fsys.TypeRegular, 0644); err != nil {
			t.Fatal(err)
		}
	}
	return New(f, bf.new(t, f), nil), f
}

func TestLastWriteWins(t *testing.T) {
	for _, bf := range backings {
		t.Run(bf.name, func(t *testing.T) {
			s, _ := newStore(t, bf)
			for _, v := range []string{"SHA1:00", "SHA1:01", "SHA1:02"} {
				if err := s.Set("/etc/a", "security.ima", v); err != nil {
					t.Fatalf("Set(%q) failed: %v", v, err)
				}
			}
			if err := s.Set("/etc/b", "security.ima", "other"); err != nil {
				t.Fatal(err)
			}
			got, err := s.Get("/etc/a", "security.ima")
			if err != nil || got != "SHA1:02" {
				t.Errorf("Get() = %q, %v, want %q", got, err, "SHA1:02")
			}
		})
	}
}

func TestListDeduplicates(t *testing.T) {
	for _, bf := range backings {
		t.Run(bf.name, func(t *testing.T) {
			s, f := newStore(t, bf)
			for _, kv := range [][2]string{
				{"user.a", "1"}, {"security.ima", "x"}, {"user.a", "2"},
			} {
				if err := s.Set("/etc/a", kv[0], kv[1]); err != nil {
					t.Fatal(err)
				}
			}
			h, _ := f.Lookup("/etc/a")
			want := []Entry{
				{Attribute: "user.a", Value: "2", Inode: h.Ino},
				{Attribute: "security.ima", Value: "x", Inode: h.Ino},
			}
			got, err := s.List("/etc/a")
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("List() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestNotFound(t *testing.T) {
	for _, bf := range backings {
		t.Run(bf.name, func(t *testing.T) {
			s, _ := newStore(t, bf)
			if _, err := s.List("/etc/a"); !errors.Is(err, ErrNotFound) {
				t.Errorf("List() with no records = %v, want ErrNotFound", err)
			}
			if err := s.Set("/etc/a", "user.x", "1"); err != nil {
				t.Fatal(err)
			}
			if _, err := s.Get("/etc/a", "user.y"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get(missing attr) = %v, want ErrNotFound", err)
			}
			if _, err := s.Get("/etc/b", "user.x"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Get() on another inode = %v, want ErrNotFound", err)
			}
			if err := s.Set("/missing", "user.x", "1"); !errors.Is(err, ErrNotFound) || !errors.Is(err, fsys.ErrNotFound) {
				t.Errorf("Set() on a missing file = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSetValidation(t *testing.T) {
	tests := []struct {
		attr, value string
		want        error
	}{
		{"user.ok", "v", nil},
		{"security.ima", "SHA256:ab", nil},
		{"trusted.x", "v", ErrPermission},
		{"system.posix_acl", "v", ErrPermission},
		{"user", "v", ErrPermission},
		{"user.", "v", ErrPermission},
		{"user.a.b", "v", ErrPermission},
		{"user.ok", "a|b", ErrInvalidValue},
		{"user.ok", "a\nb", ErrInvalidValue},
	}
	s, _ := newStore(t, backings[0])
	for _, tt := range tests {
		err := s.Set("/etc/a", tt.attr, tt.value)
		if tt.want == nil && err != nil {
			t.Errorf("Set(%q, %q) = %v, want success", tt.attr, tt.value, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("Set(%q, %q) = %v, want %v", tt.attr, tt.value, err, tt.want)
		}
	}
}

func TestFileBackingSkipsMalformedRecords(t *testing.T) {
	f := fsys.NewMem()
	file, _ := f.Create("/etc/a", fsys.TypeRegular, 0644)
	log, _ := f.Create(DefaultPath, fsys.TypeRegular, 0600)
	garbage := "no separators\nuser.a|1|notanumber\n" + Entry{Attribute: "user.a", Value: "ok", Inode: file.Ino}.Record() + "x|y|z|w\n"
	if _, err := f.WriteAt(log, []byte(garbage), 0); err != nil {
		t.Fatal(err)
	}
	s := New(f, NewFileBacking(f, DefaultPath, nil), nil)
	got, err := s.Get("/etc/a", "user.a")
	if err != nil || got != "ok" {
		t.Errorf("Get() = %q, %v, want %q", got, err, "ok")
	}
}

func TestParseRecord(t *testing.T) {
	e := Entry{Attribute: "security.ima", Value: "SHA384:00", Inode: 42}
	if got := e.Record(); got != "security.ima|SHA384:00|42\n" {
		t.Errorf("Record() = %q", got)
	}
	got, err := ParseRecord("security.ima|SHA384:00|42")
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(e, got); diff != "" {
		t.Errorf("ParseRecord() mismatch (-want +got):\n%s", diff)
	}
}
