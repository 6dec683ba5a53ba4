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

// Package testutil contains fakes and fixtures shared by tests.
package testutil

import (
	"crypto/sha512"
	"sync"

	"github.com/google/go-ima/register"
)

// FakeTDX is an in-memory register.Device that behaves like the TDX guest
// driver: RTMR[i] = SHA384(RTMR[i] || data) on extend.
type FakeTDX struct {
	mu    sync.Mutex
	rtmrs [register.NumRTMRs][register.RTMRSize]byte

	// Busy is the number of upcoming calls that fail with ErrHardwareBusy.
	Busy int
	// Fail, if set, is returned from every call.
	Fail error
	// Calls counts device exchanges, including failed ones.
	Calls int
}

// SetRTMR overwrites RTMR[idx], e.g. to model firmware measurements.
func (f *FakeTDX) SetRTMR(idx int, v [register.RTMRSize]byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rtmrs[idx] = v
}

func (f *FakeTDX) fault(op string) error {
	f.Calls++
	if f.Fail != nil {
		return f.Fail
	}
	if f.Busy > 0 {
		f.Busy--
		return &register.DeviceError{Op: op, Kind: register.ErrHardwareBusy}
	}
	return nil
}

// Report implements register.Device.
func (f *FakeTDX) Report([register.ReportDataSize]byte) ([register.ReportSize]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var report [register.ReportSize]byte
	if err := f.fault("get report"); err != nil {
		return report, err
	}
	for i, v := range f.rtmrs {
		copy(report[register.RTMROffset+i*register.RTMRSize:], v[:])
	}
	return report, nil
}

// ExtendRTMR implements register.Device.
func (f *FakeTDX) ExtendRTMR(data [register.RTMRSize]byte, index uint8) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fault("extend rtmr"); err != nil {
		return err
	}
	if int(index) >= register.NumRTMRs {
		return &register.DeviceError{Op: "extend rtmr", Kind: register.ErrHardwareInvalid}
	}
	h := sha512.New384()
	h.Write(f.rtmrs[index][:])
	h.Write(data[:])
	copy(f.rtmrs[index][:], h.Sum(nil))
	return nil
}

// Close implements register.Device.
func (f *FakeTDX) Close() error { return nil }

// FailingRegister wraps a register and fails every Extend and, when
// FailRead is set, every Read.
type FailingRegister struct {
	register.Register
	Err      error
	FailRead bool
}

// Extend implements register.Register.
func (f *FailingRegister) Extend(int, []byte) error { return f.Err }

// Read implements register.Register.
func (f *FailingRegister) Read(idx int) ([]byte, error) {
	if f.FailRead {
		return nil, f.Err
	}
	return f.Register.Read(idx)
}
