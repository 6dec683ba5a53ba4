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

package imahash

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"strings"
)

// DefaultChunkSize is the read size used when hashing file content.
const DefaultChunkSize = 1024

// Digest is a content hash: the digest of a file's bytes together with the
// algorithm that produced it.
type Digest struct {
	Algorithm Algorithm
	Bytes     []byte
}

// FromHasher finalizes a hasher returned by Algorithm.New into a Digest.
func FromHasher(a Algorithm, h hash.Hash) Digest {
	return Digest{Algorithm: a, Bytes: h.Sum(nil)}
}

// Sum hashes b in one shot. An invalid algorithm yields a Digest without
// bytes, which Valid-checking consumers reject.
func Sum(a Algorithm, b []byte) Digest {
	h := a.New()
	if h == nil {
		return Digest{Algorithm: a}
	}
	h.Write(b)
	return FromHasher(a, h)
}

// SumReaderAt streams r from offset zero in chunk-sized reads until a short
// read and returns the resulting digest.
func SumReaderAt(r io.ReaderAt, a Algorithm, chunk int) (Digest, error) {
	if !a.Valid() {
		return Digest{}, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, a)
	}
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	h := a.New()
	buf := make([]byte, chunk)
	var off int64
	for {
		n, err := r.ReadAt(buf, off)
		h.Write(buf[:n])
		off += int64(n)
		if err != nil && !errors.Is(err, io.EOF) {
			return Digest{}, fmt.Errorf("reading at offset %d: %w", off, err)
		}
		if n < chunk || err != nil {
			break
		}
	}
	return FromHasher(a, h), nil
}

// Equal reports whether d and o have the same algorithm and digest bytes.
func (d Digest) Equal(o Digest) bool {
	return d.Algorithm == o.Algorithm && bytes.Equal(d.Bytes, o.Bytes)
}

// Hex returns the lower-case hex encoding of the digest bytes.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Bytes)
}

// String returns the canonical "<ALGORITHM>:<hex digest>" form.
func (d Digest) String() string {
	return d.Algorithm.String() + ":" + d.Hex()
}

// Parse parses the canonical "<ALGORITHM>:<hex digest>" form. The digest
// length must match the algorithm.
func Parse(s string) (Digest, error) {
	name, digest, ok := strings.Cut(s, ":")
	if !ok {
		return Digest{}, fmt.Errorf("invalid content hash %q: missing ':' separator", s)
	}
	alg, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}
	b, err := hex.DecodeString(digest)
	if err != nil {
		return Digest{}, fmt.Errorf("invalid content hash %q: %v", s, err)
	}
	if len(b) != alg.Size() {
		return Digest{}, fmt.Errorf("invalid content hash %q: got %d digest bytes, want %d for %v", s, len(b), alg.Size(), alg)
	}
	return Digest{Algorithm: alg, Bytes: b}, nil
}
