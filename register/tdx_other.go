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

//go:build !linux

package register

import "errors"

// TDXGuest is only available on linux.
type TDXGuest struct{}

// OpenTDXGuest always fails on this platform.
func OpenTDXGuest(string) (*TDXGuest, error) {
	return nil, errors.New("TDX guest device is only supported on linux")
}

// Report implements Device.
func (*TDXGuest) Report([ReportDataSize]byte) ([ReportSize]byte, error) {
	return [ReportSize]byte{}, &DeviceError{Op: "get report", Kind: ErrHardwareOther}
}

// ExtendRTMR implements Device.
func (*TDXGuest) ExtendRTMR([RTMRSize]byte, uint8) error {
	return &DeviceError{Op: "extend rtmr", Kind: ErrHardwareOther}
}

// Close implements Device.
func (*TDXGuest) Close() error { return nil }
