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

package fsys

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"sync"

	"github.com/spf13/afero"
)

// Afero implements FS on top of an afero.Fs. Inode numbers come from the
// underlying filesystem when it reports them (OsFs on unix); otherwise a
// stable number is assigned per path on first lookup.
type Afero struct {
	fs afero.Fs

	mu      sync.Mutex
	nextIno uint64
	inodes  map[string]uint64
}

// NewAfero returns an FS backed by fs.
func NewAfero(fs afero.Fs) *Afero {
	return &Afero{fs: fs, nextIno: 1, inodes: map[string]uint64{}}
}

// NewOS returns an FS rooted at dir on the host filesystem.
func NewOS(dir string) *Afero {
	return NewAfero(afero.NewBasePathFs(afero.NewOsFs(), dir))
}

// NewMem returns an empty in-memory FS.
func NewMem() *Afero {
	return NewAfero(afero.NewMemMapFs())
}

// Afero returns the underlying afero.Fs.
func (a *Afero) Afero() afero.Fs {
	return a.fs
}

func clean(p string) string {
	return path.Clean("/" + p)
}

func mapErr(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) || errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("%s %s: %w", op, p, ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, p, err)
}

func (a *Afero) handle(p string, fi fs.FileInfo) Handle {
	h := Handle{Path: p, Type: TypeOther}
	switch {
	case fi.Mode().IsRegular():
		h.Type = TypeRegular
	case fi.IsDir():
		h.Type = TypeDir
	}
	if ino, ok := sysIno(fi); ok {
		h.Ino = ino
		return h
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	ino, ok := a.inodes[p]
	if !ok {
		ino = a.nextIno
		a.nextIno++
		a.inodes[p] = ino
	}
	h.Ino = ino
	return h
}

// Create creates a regular file or directory at p if it does not exist yet
// and returns its handle. Existing files are not truncated.
func (a *Afero) Create(p string, typ FileType, mode fs.FileMode) (Handle, error) {
	p = clean(p)
	switch typ {
	case TypeDir:
		if err := a.fs.MkdirAll(p, mode|fs.ModeDir); err != nil {
			return Handle{}, mapErr("create", p, err)
		}
	case TypeRegular:
		f, err := a.fs.OpenFile(p, os.O_RDWR|os.O_CREATE, mode)
		if err != nil {
			return Handle{}, mapErr("create", p, err)
		}
		if err := f.Close(); err != nil {
			return Handle{}, mapErr("create", p, err)
		}
	default:
		return Handle{}, fmt.Errorf("create %s: unsupported file type %v", p, typ)
	}
	return a.Lookup(p)
}

// Lookup resolves p.
func (a *Afero) Lookup(p string) (Handle, error) {
	p = clean(p)
	fi, err := a.fs.Stat(p)
	if err != nil {
		return Handle{}, mapErr("lookup", p, err)
	}
	return a.handle(p, fi), nil
}

// ReadAt reads from the file referred to by h.
func (a *Afero) ReadAt(h Handle, p []byte, off int64) (int, error) {
	f, err := a.fs.Open(h.Path)
	if err != nil {
		return 0, mapErr("read", h.Path, err)
	}
	defer f.Close()
	return f.ReadAt(p, off)
}

// WriteAt writes to the file referred to by h.
func (a *Afero) WriteAt(h Handle, p []byte, off int64) (int, error) {
	f, err := a.fs.OpenFile(h.Path, os.O_RDWR, 0)
	if err != nil {
		return 0, mapErr("write", h.Path, err)
	}
	n, err := f.WriteAt(p, off)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return n, err
}

// Truncate changes the size of the file referred to by h.
func (a *Afero) Truncate(h Handle, size int64) error {
	f, err := a.fs.OpenFile(h.Path, os.O_RDWR, 0)
	if err != nil {
		return mapErr("truncate", h.Path, err)
	}
	err = f.Truncate(size)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Size returns the current size of the file referred to by h.
func (a *Afero) Size(h Handle) (int64, error) {
	fi, err := a.fs.Stat(h.Path)
	if err != nil {
		return 0, mapErr("stat", h.Path, err)
	}
	return fi.Size(), nil
}

// Readdir lists the names in the directory referred to by h, sorted.
func (a *Afero) Readdir(h Handle) ([]string, error) {
	if h.Type != TypeDir {
		return nil, fmt.Errorf("readdir %s: not a directory", h.Path)
	}
	f, err := a.fs.Open(h.Path)
	if err != nil {
		return nil, mapErr("readdir", h.Path, err)
	}
	defer f.Close()
	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, mapErr("readdir", h.Path, err)
	}
	sort.Strings(names)
	return names, nil
}
