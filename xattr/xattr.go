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

// Package xattr is an append-only extended-attribute store. Every write
// appends a "<attr>|<value>|<ino>\n" record; the current value of an
// attribute is the most recent record for its inode.
package xattr

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/google/go-ima/fsys"
)

// Errors returned by the store.
var (
	ErrNotFound = errors.New("xattr: not found")
	// ErrPermission is returned for attributes outside the user and
	// security namespaces.
	ErrPermission = errors.New("xattr: attribute namespace not permitted")
	// ErrInvalidValue is returned for names or values that would break the
	// record format.
	ErrInvalidValue = errors.New("xattr: invalid attribute name or value")
)

// Entry is one attribute of a file.
type Entry struct {
	Attribute string
	Value     string
	Inode     uint64
}

// Record renders the entry as a store record, including the newline.
func (e Entry) Record() string {
	return fmt.Sprintf("%s|%s|%d\n", e.Attribute, e.Value, e.Inode)
}

// ParseRecord parses a record without its trailing newline.
func ParseRecord(line string) (Entry, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 3 {
		return Entry{}, fmt.Errorf("record %q: got %d fields, want 3", line, len(parts))
	}
	ino, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return Entry{}, fmt.Errorf("record %q: invalid inode: %v", line, err)
	}
	return Entry{Attribute: parts[0], Value: parts[1], Inode: ino}, nil
}

// Backing holds the record log.
type Backing interface {
	Append(e Entry) error
	// Records returns the records of inode in append order.
	Records(inode uint64) ([]Entry, error)
}

// CheckNamespace accepts "user.<name>" and "security.<name>".
func CheckNamespace(attr string) error {
	ns, name, ok := strings.Cut(attr, ".")
	if !ok || name == "" || strings.Contains(name, ".") || (ns != "user" && ns != "security") {
		return fmt.Errorf("%w: %q", ErrPermission, attr)
	}
	return nil
}

func checkValue(s string) error {
	if strings.ContainsAny(s, "|\n") {
		return fmt.Errorf("%w: %q", ErrInvalidValue, s)
	}
	return nil
}

// Store maps (file, attribute) to values on top of a Backing.
type Store struct {
	fs      fsys.FS
	backing Backing
	logger  *slog.Logger

	mu sync.RWMutex
}

// New returns a store resolving paths through fs.
func New(fs fsys.FS, b Backing, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{fs: fs, backing: b, logger: logger}
}

func (s *Store) inode(path string) (uint64, error) {
	h, err := s.fs.Lookup(path)
	if errors.Is(err, fsys.ErrNotFound) {
		return 0, fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	if err != nil {
		return 0, err
	}
	return h.Ino, nil
}

// Set appends a value for attr on path.
func (s *Store) Set(path, attr, value string) error {
	if err := CheckNamespace(attr); err != nil {
		return err
	}
	if err := checkValue(attr); err != nil {
		return err
	}
	if err := checkValue(value); err != nil {
		return err
	}
	ino, err := s.inode(path)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.backing.Append(Entry{Attribute: attr, Value: value, Inode: ino}); err != nil {
		return fmt.Errorf("setting %s on %s: %w", attr, path, err)
	}
	s.logger.Debug("xattr set", "path", path, "attr", attr, "inode", ino)
	return nil
}

// List returns the current value of every attribute of path, most recently
// written first.
func (s *Store) List(path string) ([]Entry, error) {
	ino, err := s.inode(path)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	records, err := s.backing.Records(ino)
	s.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("listing attributes of %s: %w", path, err)
	}
	seen := map[string]bool{}
	var out []Entry
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if seen[r.Attribute] {
			continue
		}
		seen[r.Attribute] = true
		out = append(out, r)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no attributes on %s", ErrNotFound, path)
	}
	return out, nil
}

// Get returns the current value of attr on path.
func (s *Store) Get(path, attr string) (string, error) {
	entries, err := s.List(path)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		if e.Attribute == attr {
			return e.Value, nil
		}
	}
	return "", fmt.Errorf("%w: %s on %s", ErrNotFound, attr, path)
}
