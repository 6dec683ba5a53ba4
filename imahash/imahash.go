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

// Package imahash contains the digest algorithms used for file measurements
// and the canonical "<ALGORITHM>:<hex digest>" encoding of content hashes.
package imahash

import (
	"crypto"
	"errors"
	"fmt"
	"hash"

	// Ensure hashes are available.
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	_ "crypto/sha512"

	"github.com/google/go-tpm/legacy/tpm2"
)

// ErrUnknownAlgorithm is returned when an algorithm name or code is not one
// of the supported measurement algorithms.
var ErrUnknownAlgorithm = errors.New("imahash: unknown algorithm")

// Algorithm identifies a measurement digest algorithm.
type Algorithm uint8

// Supported measurement algorithms. The zero value is invalid.
const (
	SHA1 Algorithm = iota + 1
	SHA256
	SHA384
	SHA512
	MD5
)

// Default is the algorithm used when no reference hash dictates otherwise.
const Default = SHA384

// Algorithms lists every supported algorithm.
func Algorithms() []Algorithm {
	return []Algorithm{SHA1, SHA256, SHA384, SHA512, MD5}
}

// String returns the canonical upper-case name of the algorithm.
func (a Algorithm) String() string {
	switch a {
	case SHA1:
		return "SHA1"
	case SHA256:
		return "SHA256"
	case SHA384:
		return "SHA384"
	case SHA512:
		return "SHA512"
	case MD5:
		return "MD5"
	}
	return fmt.Sprintf("Algorithm<%d>", int(a))
}

// ParseAlgorithm parses the canonical algorithm name.
func ParseAlgorithm(s string) (Algorithm, error) {
	for _, a := range Algorithms() {
		if a.String() == s {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, s)
}

// Valid reports whether a is one of the supported algorithms.
func (a Algorithm) Valid() bool {
	return a >= SHA1 && a <= MD5
}

// CryptoHash turns the algorithm into a crypto.Hash.
func (a Algorithm) CryptoHash() crypto.Hash {
	switch a {
	case SHA1:
		return crypto.SHA1
	case SHA256:
		return crypto.SHA256
	case SHA384:
		return crypto.SHA384
	case SHA512:
		return crypto.SHA512
	case MD5:
		return crypto.MD5
	}
	return 0
}

// FromCryptoHash returns the Algorithm for a crypto.Hash.
func FromCryptoHash(h crypto.Hash) (Algorithm, error) {
	for _, a := range Algorithms() {
		if a.CryptoHash() == h {
			return a, nil
		}
	}
	return 0, fmt.Errorf("%w: %v", ErrUnknownAlgorithm, h)
}

// GoTPMAlg returns the go-tpm definition of this algorithm, based on the
// TCG Algorithm Registry. MD5 has no TPM bank and maps to tpm2.AlgNull.
func (a Algorithm) GoTPMAlg() tpm2.Algorithm {
	switch a {
	case SHA1:
		return tpm2.AlgSHA1
	case SHA256:
		return tpm2.AlgSHA256
	case SHA384:
		return tpm2.AlgSHA384
	case SHA512:
		return tpm2.AlgSHA512
	}
	return tpm2.AlgNull
}

// Size returns the digest length in bytes, or 0 for an invalid algorithm.
func (a Algorithm) Size() int {
	if !a.Valid() {
		return 0
	}
	return a.CryptoHash().Size()
}

// New returns a streaming digest context for the algorithm, or nil for an
// invalid algorithm.
func (a Algorithm) New() hash.Hash {
	if !a.Valid() {
		return nil
	}
	return a.CryptoHash().New()
}
