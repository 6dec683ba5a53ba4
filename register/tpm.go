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
	"io"
	"sync"

	"github.com/google/go-ima/imahash"
	"github.com/google/go-tpm/legacy/tpm2"
	"github.com/google/go-tpm/tpmutil"
)

// NumPCRs is the number of PCRs in a TPM 2.0 bank.
const NumPCRs = 24

// TPM is a register bank backed by the PCRs of one TPM 2.0 bank.
type TPM struct {
	alg imahash.Algorithm

	mu sync.Mutex
	rw io.ReadWriter
}

// NewTPM uses the PCR bank of alg on the TPM reachable through rw. If rw is
// an io.Closer, Close closes it.
func NewTPM(rw io.ReadWriter, alg imahash.Algorithm) (*TPM, error) {
	if alg.GoTPMAlg() == tpm2.AlgNull {
		return nil, fmt.Errorf("no TPM PCR bank for %v", alg)
	}
	return &TPM{alg: alg, rw: rw}, nil
}

// OpenTPM opens the TPM at path (usually /dev/tpmrm0) and uses its alg bank.
func OpenTPM(path string, alg imahash.Algorithm) (*TPM, error) {
	rwc, err := openTPM(path)
	if err != nil {
		return nil, fmt.Errorf("opening TPM: %w", err)
	}
	t, err := NewTPM(rwc, alg)
	if err != nil {
		rwc.Close()
		return nil, err
	}
	return t, nil
}

// Kind implements Register.
func (t *TPM) Kind() Kind { return KindTPM }

// Hash implements Register.
func (t *TPM) Hash() crypto.Hash { return t.alg.CryptoHash() }

// Width implements Register.
func (t *TPM) Width() int { return t.alg.Size() }

func checkPCR(op string, idx int) error {
	if idx < 0 || idx >= NumPCRs {
		return fmt.Errorf("%s PCR %d: %w", op, idx, ErrInvalidIndex)
	}
	return nil
}

// Read implements Register.
func (t *TPM) Read(idx int) ([]byte, error) {
	if err := checkPCR("read", idx); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	v, err := tpm2.ReadPCR(t.rw, idx, t.alg.GoTPMAlg())
	if err != nil {
		return nil, &DeviceError{Op: fmt.Sprintf("read PCR %d", idx), Kind: ErrHardwareOther, Err: err}
	}
	return v, nil
}

// Extend implements Register.
func (t *TPM) Extend(idx int, data []byte) error {
	if err := checkPCR("extend", idx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := tpm2.PCRExtend(t.rw, tpmutil.Handle(idx), t.alg.GoTPMAlg(), Fit(data, t.Width()), ""); err != nil {
		return &DeviceError{Op: fmt.Sprintf("extend PCR %d", idx), Kind: ErrHardwareOther, Err: err}
	}
	return nil
}

// Reset implements Register. Only the debug and application PCRs (16, 23)
// are resettable from locality 0.
func (t *TPM) Reset(idx int) error {
	if err := checkPCR("reset", idx); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := tpm2.PCRReset(t.rw, tpmutil.Handle(idx)); err != nil {
		return &DeviceError{Op: fmt.Sprintf("reset PCR %d", idx), Kind: ErrHardwareInvalid, Err: err}
	}
	return nil
}

// Close closes the underlying command channel if it is closable.
func (t *TPM) Close() error {
	if c, ok := t.rw.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
