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

package ml

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/go-ima/fsys"
	"github.com/google/go-ima/imahash"
)

// Default persisted log paths.
const (
	DefaultASCIIPath  = "/ascii_runtime_measurements"
	DefaultBinaryPath = "/binary_runtime_measurements"
)

// Sink persists a snapshot of the log.
type Sink interface {
	Sync(entries []Entry) error
}

// FormatASCII renders entries in the ascii log format.
func FormatASCII(entries []Entry) []byte {
	var b bytes.Buffer
	for _, e := range entries {
		b.WriteString(e.ASCII())
	}
	return b.Bytes()
}

// ParseASCII reads an ascii log back. Ids are assigned in line order from 1.
func ParseASCII(r io.Reader) ([]Entry, error) {
	var entries []Entry
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, 4096), 1<<20)
	for line := 1; s.Scan(); line++ {
		if s.Text() == "" {
			continue
		}
		e, err := parseASCIILine(uint64(len(entries)+1), s.Text())
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func parseASCIILine(id uint64, line string) (Entry, error) {
	// The path is last and may contain spaces.
	fields := strings.SplitN(line, " ", 5)
	if len(fields) != 5 {
		return Entry{}, fmt.Errorf("got %d fields, want 5", len(fields))
	}
	idx, err := strconv.Atoi(fields[0])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid register index: %v", err)
	}
	th, err := hex.DecodeString(fields[1])
	if err != nil {
		return Entry{}, fmt.Errorf("invalid template hash: %v", err)
	}
	t, err := ParseTemplate(fields[2])
	if err != nil {
		return Entry{}, err
	}
	content, err := imahash.Parse(fields[3])
	if err != nil {
		return Entry{}, err
	}
	field, err := EncodeTemplateField(t, content.Algorithm)
	if err != nil {
		return Entry{}, err
	}
	return ParseEntry(id, idx, th, field, content, unescapePath(fields[4]))
}

// ASCIIFile rewrites the ascii log file on every Sync.
type ASCIIFile struct {
	FS   fsys.FS
	Path string
}

// Sync implements Sink.
func (a *ASCIIFile) Sync(entries []Entry) error {
	return rewrite(a.FS, a.Path, FormatASCII(entries))
}

// BinaryFile rewrites the binary log file on every Sync.
type BinaryFile struct {
	FS   fsys.FS
	Path string
}

// Sync implements Sink.
func (b *BinaryFile) Sync(entries []Entry) error {
	return rewrite(b.FS, b.Path, MarshalBinary(entries))
}

// rewrite replaces the content of path with data from offset zero.
func rewrite(f fsys.FS, path string, data []byte) error {
	h, err := f.Lookup(path)
	if errors.Is(err, fsys.ErrNotFound) {
		h, err = f.Create(path, fsys.TypeRegular, 0644)
	}
	if err != nil {
		return fmt.Errorf("opening measurement log: %w", err)
	}
	if _, err := f.WriteAt(h, data, 0); err != nil {
		return fmt.Errorf("writing measurement log %s: %w", path, err)
	}
	if err := f.Truncate(h, int64(len(data))); err != nil {
		return fmt.Errorf("truncating measurement log %s: %w", path, err)
	}
	return nil
}

// MultiSink syncs every sink, joining their errors.
type MultiSink []Sink

// Sync implements Sink.
func (m MultiSink) Sync(entries []Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Sync(entries); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
