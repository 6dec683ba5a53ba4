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

package register

import (
	"crypto"
	"fmt"
	"log/slog"

	"github.com/google/go-ima/imahash"
)

// Backend names accepted by Open.
const (
	BackendNone      = "none"
	BackendSimulated = "simulated"
	BackendTPM       = "tpm"
	BackendTDX       = "tdx"
)

// Default device paths.
const (
	DefaultTPMPath = "/dev/tpmrm0"
	DefaultTDXPath = "/dev/tdx_guest"
)

// Config selects and configures the register backend.
type Config struct {
	Backend string
	// Algorithm is the simulated hash or the TPM PCR bank. The TDX backend
	// always uses SHA384.
	Algorithm imahash.Algorithm
	TPMPath   string
	TDXPath   string
	Logger    *slog.Logger
}

// Open returns the register selected by c. BackendNone (or an empty
// backend) yields a nil Register and no error.
func Open(c Config) (Register, error) {
	switch c.Backend {
	case "", BackendNone:
		return nil, nil
	case BackendSimulated:
		h := crypto.SHA1
		if c.Algorithm.Valid() {
			h = c.Algorithm.CryptoHash()
		}
		return NewSimulated(h), nil
	case BackendTPM:
		path := c.TPMPath
		if path == "" {
			path = DefaultTPMPath
		}
		alg := c.Algorithm
		if !alg.Valid() {
			alg = imahash.SHA256
		}
		t, err := OpenTPM(path, alg)
		if err != nil {
			return nil, err
		}
		return t, nil
	case BackendTDX:
		path := c.TDXPath
		if path == "" {
			path = DefaultTDXPath
		}
		dev, err := OpenTDXGuest(path)
		if err != nil {
			return nil, err
		}
		hw := NewHardware(dev)
		hw.Logger = c.Logger
		return hw, nil
	}
	return nil, fmt.Errorf("unknown register backend %q", c.Backend)
}

// DefaultIndex returns the register index measurements are chained into for
// backend: PCR 10 for software and TPM registers, RTMR[2] for TDX.
func DefaultIndex(backend string) int {
	if backend == BackendTDX {
		return FirstExtendableRTMR
	}
	return 10
}
