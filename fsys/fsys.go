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

// Package fsys defines the narrow filesystem interface consumed by the
// measurement subsystem, and an implementation on top of afero.
package fsys

import (
	"errors"
	"io/fs"
)

// ErrNotFound is returned when a path does not resolve to a file.
var ErrNotFound = errors.New("fsys: not found")

// FileType is the type of the object a Handle refers to.
type FileType int

// File types.
const (
	TypeOther FileType = iota
	TypeRegular
	TypeDir
)

// String returns a human-friendly name of the file type.
func (t FileType) String() string {
	switch t {
	case TypeRegular:
		return "regular"
	case TypeDir:
		return "directory"
	}
	return "other"
}

// Handle is a resolved path.
type Handle struct {
	Path string
	Type FileType
	// Ino is the inode number, stable for the lifetime of the FS.
	Ino uint64
}

// FS is the filesystem collaborator. Paths are absolute and slash separated.
// The subsystem never resolves paths itself.
type FS interface {
	Create(path string, typ FileType, mode fs.FileMode) (Handle, error)
	Lookup(path string) (Handle, error)
	ReadAt(h Handle, p []byte, off int64) (int, error)
	WriteAt(h Handle, p []byte, off int64) (int, error)
	Truncate(h Handle, size int64) error
	Size(h Handle) (int64, error)
	Readdir(h Handle) ([]string, error)
}

// ReaderAt adapts a Handle to io.ReaderAt.
func ReaderAt(f FS, h Handle) *HandleReader {
	return &HandleReader{fs: f, h: h}
}

// HandleReader reads a Handle through its FS.
type HandleReader struct {
	fs FS
	h  Handle
}

// ReadAt implements io.ReaderAt.
func (r *HandleReader) ReadAt(p []byte, off int64) (int, error) {
	return r.fs.ReadAt(r.h, p, off)
}
