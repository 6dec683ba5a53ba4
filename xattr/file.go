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
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-ima/fsys"
)

// DefaultPath is the record log file of a FileBacking.
const DefaultPath = "/xattr"

// FileBacking keeps records in a single append-only file. A missing file
// holds no records; malformed lines are skipped.
type FileBacking struct {
	fs     fsys.FS
	path   string
	logger *slog.Logger
}

// NewFileBacking stores records at path on fs.
func NewFileBacking(fs fsys.FS, path string, logger *slog.Logger) *FileBacking {
	if path == "" {
		path = DefaultPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileBacking{fs: fs, path: path, logger: logger}
}

// Append implements Backing.
func (b *FileBacking) Append(e Entry) error {
	h, err := b.fs.Lookup(b.path)
	if errors.Is(err, fsys.ErrNotFound) {
		h, err = b.fs.Create(b.path, fsys.TypeRegular, 0600)
	}
	if err != nil {
		return fmt.Errorf("opening %s: %w", b.path, err)
	}
	size, err := b.fs.Size(h)
	if err != nil {
		return err
	}
	if _, err := b.fs.WriteAt(h, []byte(e.Record()), size); err != nil {
		return fmt.Errorf("appending to %s: %w", b.path, err)
	}
	return nil
}

// Records implements Backing.
func (b *FileBacking) Records(inode uint64) ([]Entry, error) {
	h, err := b.fs.Lookup(b.path)
	if errors.Is(err, fsys.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	size, err := b.fs.Size(h)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	n, err := b.fs.ReadAt(h, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("reading %s: %w", b.path, err)
	}
	var out []Entry
	s := bufio.NewScanner(bytes.NewReader(buf[:n]))
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	for s.Scan() {
		if s.Text() == "" {
			continue
		}
		e, err := ParseRecord(s.Text())
		if err != nil {
			b.logger.Debug("skipping malformed xattr record", "error", err)
			continue
		}
		if e.Inode == inode {
			out = append(out, e)
		}
	}
	if err := s.Err(); err != nil {
		b.logger.Warn("xattr log truncated while scanning", "path", b.path, "error", err)
	}
	return out, nil
}
