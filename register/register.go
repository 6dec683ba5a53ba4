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

// Package register contains the platform measurement registers that the
// measurement log is chained into, and the snapshot types used to display
// and check their values.
package register

import (
	"crypto"
	"errors"
	"fmt"
)

// Errors returned by register backends.
var (
	// ErrHardwareBusy is a retryable device error.
	ErrHardwareBusy = errors.New("register: device busy")
	// ErrHardwareInvalid reports an operand the device rejected.
	ErrHardwareInvalid = errors.New("register: invalid operand")
	// ErrHardwareOther is any other device failure.
	ErrHardwareOther = errors.New("register: device failure")
	// ErrResetUnsupported is returned by backends whose registers cannot be
	// reset from software.
	ErrResetUnsupported = errors.New("register: reset not supported")
	// ErrInvalidIndex is returned for a register index outside the backend's range.
	ErrInvalidIndex = errors.New("register: invalid index")
)

// DeviceError is a failed exchange with a register device.
type DeviceError struct {
	Op string
	// Kind is one of ErrHardwareBusy, ErrHardwareInvalid or ErrHardwareOther.
	Kind error
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the category and the underlying cause.
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Kind identifies a register backend.
type Kind int

// Register backends.
const (
	KindSimulated Kind = iota + 1
	KindTPM
	KindTDX
)

// String returns the configuration name of the backend.
func (k Kind) String() string {
	switch k {
	case KindSimulated:
		return "simulated"
	case KindTPM:
		return "tpm"
	case KindTDX:
		return "tdx"
	}
	return fmt.Sprintf("Kind<%d>", int(k))
}

// Register is a bank of fixed-width monotonic registers. Values returned by
// Read are always Width() bytes long.
type Register interface {
	Kind() Kind
	// Hash is the algorithm Extend chains with.
	Hash() crypto.Hash
	Width() int
	Read(idx int) ([]byte, error)
	// Extend sets register idx to Replay(Hash(), Read(idx), data).
	Extend(idx int, data []byte) error
	Reset(idx int) error
	Close() error
}

// Fit truncates or zero-pads data to width bytes.
func Fit(data []byte, width int) []byte {
	out := make([]byte, width)
	copy(out, data)
	return out
}

// Replay computes the register value that results from extending old with
// data: h(old || Fit(data, h.Size())).
func Replay(h crypto.Hash, old, data []byte) ([]byte, error) {
	if !h.Available() {
		return nil, fmt.Errorf("replay: hash %v is not available", h)
	}
	if len(old) != h.Size() {
		return nil, fmt.Errorf("replay: register value is %d bytes, want %d for %v", len(old), h.Size(), h)
	}
	hh := h.New()
	hh.Write(old)
	hh.Write(Fit(data, h.Size()))
	return hh.Sum(nil), nil
}

// Snapshot reads register idx into an MR value.
func Snapshot(r Register, idx int) (MR, error) {
	v, err := r.Read(idx)
	if err != nil {
		return nil, err
	}
	if r.Kind() == KindTDX {
		return RTMR{Index: idx, Digest: v}, nil
	}
	return PCR{Index: idx, Digest: v, DigestAlg: r.Hash()}, nil
}
