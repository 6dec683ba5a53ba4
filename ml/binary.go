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
	"errors"
	"fmt"

	"github.com/google/go-ima/imahash"
	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers of a binary log record.
const (
	fieldID            protowire.Number = 1
	fieldRegisterIndex protowire.Number = 2
	fieldTemplateHash  protowire.Number = 3
	fieldTemplateField protowire.Number = 4
	fieldContentHash   protowire.Number = 5
	fieldPath          protowire.Number = 6
)

// MarshalBinary encodes entries as a sequence of length-delimited protobuf
// messages.
func MarshalBinary(entries []Entry) []byte {
	var out []byte
	for _, e := range entries {
		out = protowire.AppendBytes(out, marshalEntry(e))
	}
	return out
}

func marshalEntry(e Entry) []byte {
	var b []byte
	b = protowire.AppendTag(b, fieldID, protowire.VarintType)
	b = protowire.AppendVarint(b, e.id)
	b = protowire.AppendTag(b, fieldRegisterIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.index))
	b = protowire.AppendTag(b, fieldTemplateHash, protowire.BytesType)
	b = protowire.AppendBytes(b, e.templateHash)
	b = protowire.AppendTag(b, fieldTemplateField, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.field))
	b = protowire.AppendTag(b, fieldContentHash, protowire.BytesType)
	b = protowire.AppendBytes(b, e.content.Bytes)
	b = protowire.AppendTag(b, fieldPath, protowire.BytesType)
	b = protowire.AppendString(b, e.path)
	return b
}

// UnmarshalBinary decodes the output of MarshalBinary.
func UnmarshalBinary(data []byte) ([]Entry, error) {
	var entries []Entry
	for len(data) > 0 {
		msg, n := protowire.ConsumeBytes(data)
		if n < 0 {
			return nil, fmt.Errorf("record %d: %w", len(entries)+1, protowire.ParseError(n))
		}
		data = data[n:]
		e, err := unmarshalEntry(msg)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(entries)+1, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

func unmarshalEntry(b []byte) (Entry, error) {
	var (
		id, index, field uint64
		templateHash     []byte
		content          []byte
		path             string
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Entry{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch {
		case num == fieldID && typ == protowire.VarintType:
			id, n = protowire.ConsumeVarint(b)
		case num == fieldRegisterIndex && typ == protowire.VarintType:
			index, n = protowire.ConsumeVarint(b)
		case num == fieldTemplateField && typ == protowire.VarintType:
			field, n = protowire.ConsumeVarint(b)
		case num == fieldTemplateHash && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			templateHash = append([]byte(nil), v...)
		case num == fieldContentHash && typ == protowire.BytesType:
			var v []byte
			v, n = protowire.ConsumeBytes(b)
			content = append([]byte(nil), v...)
		case num == fieldPath && typ == protowire.BytesType:
			path, n = protowire.ConsumeString(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return Entry{}, protowire.ParseError(n)
		}
		b = b[n:]
	}
	if id == 0 {
		return Entry{}, errors.New("missing entry id")
	}
	_, alg, err := DecodeTemplateField(uint32(field))
	if err != nil {
		return Entry{}, err
	}
	return ParseEntry(id, int(index), templateHash, uint32(field), imahash.Digest{Algorithm: alg, Bytes: content}, path)
}
