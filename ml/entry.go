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
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/go-ima/imahash"
)

// Template is the entry format kind held in bits 4-7 of the template field.
type Template uint32

// Entry templates.
const (
	TemplateImaNg Template = 0x10
	TemplateIma   Template = 0x20
)

// String returns the template name used in the ascii log.
func (t Template) String() string {
	switch t {
	case TemplateImaNg:
		return "ima-ng"
	case TemplateIma:
		return "ima"
	}
	return "unknown"
}

// ParseTemplate parses a template name.
func ParseTemplate(s string) (Template, error) {
	switch s {
	case "ima-ng":
		return TemplateImaNg, nil
	case "ima":
		return TemplateIma, nil
	}
	return 0, fmt.Errorf("unknown template %q", s)
}

var algCodes = map[imahash.Algorithm]uint32{
	imahash.SHA384: 0x1,
	imahash.SHA256: 0x2,
	imahash.SHA1:   0x3,
	imahash.SHA512: 0x4,
	imahash.MD5:    0x5,
}

// EncodeTemplateField packs a template kind and content hash algorithm.
func EncodeTemplateField(t Template, a imahash.Algorithm) (uint32, error) {
	if t != TemplateImaNg && t != TemplateIma {
		return 0, fmt.Errorf("invalid template kind %#x", uint32(t))
	}
	code, ok := algCodes[a]
	if !ok {
		return 0, fmt.Errorf("%w: %v", imahash.ErrUnknownAlgorithm, a)
	}
	return uint32(t) | code, nil
}

// DecodeTemplateField unpacks a template field.
func DecodeTemplateField(field uint32) (Template, imahash.Algorithm, error) {
	t := Template(field & 0xf0)
	if t != TemplateImaNg && t != TemplateIma {
		return 0, 0, fmt.Errorf("template field %#x: unknown template kind", field)
	}
	code := field & 0x0f
	for a, c := range algCodes {
		if c == code {
			return t, a, nil
		}
	}
	return 0, 0, fmt.Errorf("template field %#x: %w", field, imahash.ErrUnknownAlgorithm)
}

// ChainingInput is the value a measurement extends the register with:
// H(content || le64(len(content)) || path || le64(len(path))), using the
// content hash's algorithm. It is nil for an invalid algorithm.
func ChainingInput(content imahash.Digest, path string) []byte {
	h := content.Algorithm.New()
	if h == nil {
		return nil
	}
	var n [8]byte
	h.Write(content.Bytes)
	binary.LittleEndian.PutUint64(n[:], uint64(len(content.Bytes)))
	h.Write(n[:])
	h.Write([]byte(path))
	binary.LittleEndian.PutUint64(n[:], uint64(len(path)))
	h.Write(n[:])
	return h.Sum(nil)
}

// Entry is one immutable measurement.
type Entry struct {
	id           uint64
	index        int
	templateHash []byte
	content      imahash.Digest
	path         string
	field        uint32
}

// ParseEntry rebuilds an entry read back from a persisted log.
func ParseEntry(id uint64, index int, templateHash []byte, field uint32, content imahash.Digest, path string) (Entry, error) {
	_, alg, err := DecodeTemplateField(field)
	if err != nil {
		return Entry{}, err
	}
	if alg != content.Algorithm {
		return Entry{}, fmt.Errorf("entry %d: template field algorithm %v does not match content hash %v", id, alg, content.Algorithm)
	}
	if len(content.Bytes) != alg.Size() {
		return Entry{}, fmt.Errorf("entry %d: content hash is %d bytes, want %d", id, len(content.Bytes), alg.Size())
	}
	return Entry{
		id:           id,
		index:        index,
		templateHash: append([]byte(nil), templateHash...),
		content:      imahash.Digest{Algorithm: content.Algorithm, Bytes: append([]byte(nil), content.Bytes...)},
		path:         path,
		field:        field,
	}, nil
}

// ID is the entry's position in the log, starting at 1.
func (e Entry) ID() uint64 { return e.id }

// RegisterIndex is the register the entry was chained into.
func (e Entry) RegisterIndex() int { return e.index }

// TemplateHash is the register value after this entry was chained in.
func (e Entry) TemplateHash() []byte { return append([]byte(nil), e.templateHash...) }

// ContentHash is the digest of the measured file.
func (e Entry) ContentHash() imahash.Digest {
	return imahash.Digest{Algorithm: e.content.Algorithm, Bytes: append([]byte(nil), e.content.Bytes...)}
}

// PathHint is the path the file was measured at.
func (e Entry) PathHint() string { return e.path }

// TemplateField is the packed template kind and algorithm.
func (e Entry) TemplateField() uint32 { return e.field }

// Template returns the template kind of the entry.
func (e Entry) Template() Template { return Template(e.field & 0xf0) }

// ChainingInput recomputes the value this entry extended the register with.
func (e Entry) ChainingInput() []byte { return ChainingInput(e.content, e.path) }

// ASCII renders the entry as a line of the ascii measurement log,
// "<pcr> <template_hex> <template> <ALG>:<hex> <path>\n". Backslashes and
// line breaks in the path are escaped so every entry stays on one line.
func (e Entry) ASCII() string {
	return fmt.Sprintf("%d %s %s %s %s\n", e.index, hex.EncodeToString(e.templateHash), e.Template(), e.content, escapePath(e.path))
}

var (
	pathEscaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "\r", `\r`)
	pathUnescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\r`, "\r")
)

func escapePath(p string) string { return pathEscaper.Replace(p) }

func unescapePath(p string) string { return pathUnescaper.Replace(p) }

// String returns the ascii line without the trailing newline.
func (e Entry) String() string {
	s := e.ASCII()
	return s[:len(s)-1]
}
