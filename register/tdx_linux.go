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

//go:build linux

package register

import (
	"errors"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// ioctl requests of the TDX guest driver.
const (
	// _IOWR('T', 1, struct tdx_report_req)
	tdxCmdGetReport0 = 0xC4405401
	// _IOW('T', 3, struct tdx_extend_rtmr_req)
	tdxCmdExtendRTMR = 0x40315403
)

type tdxReportReq struct {
	reportData [ReportDataSize]byte
	tdReport   [ReportSize]byte
}

type tdxExtendReq struct {
	data  [RTMRSize]byte
	index uint8
}

// TDXGuest is a Device backed by the TDX guest driver.
type TDXGuest struct {
	f *os.File
}

// OpenTDXGuest opens the TDX guest device, usually /dev/tdx_guest.
func OpenTDXGuest(path string) (*TDXGuest, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening TDX guest device: %w", err)
	}
	return &TDXGuest{f: f}, nil
}

// Report implements Device.
func (g *TDXGuest) Report(reportData [ReportDataSize]byte) ([ReportSize]byte, error) {
	req := tdxReportReq{reportData: reportData}
	if err := g.ioctl(tdxCmdGetReport0, unsafe.Pointer(&req)); err != nil {
		return [ReportSize]byte{}, deviceError("get report", err)
	}
	return req.tdReport, nil
}

// ExtendRTMR implements Device.
func (g *TDXGuest) ExtendRTMR(data [RTMRSize]byte, index uint8) error {
	req := tdxExtendReq{data: data, index: index}
	if err := g.ioctl(tdxCmdExtendRTMR, unsafe.Pointer(&req)); err != nil {
		return deviceError("extend rtmr", err)
	}
	return nil
}

// Close implements Device.
func (g *TDXGuest) Close() error {
	return g.f.Close()
}

func (g *TDXGuest) ioctl(req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, g.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func deviceError(op string, err error) *DeviceError {
	var errno unix.Errno
	if !errors.As(err, &errno) {
		return &DeviceError{Op: op, Kind: ErrHardwareOther, Err: err}
	}
	switch errno {
	case unix.EBUSY, unix.EAGAIN:
		return &DeviceError{Op: op, Kind: ErrHardwareBusy, Err: err}
	case unix.EINVAL:
		return &DeviceError{Op: op, Kind: ErrHardwareInvalid, Err: err}
	}
	return &DeviceError{Op: op, Kind: ErrHardwareOther, Err: err}
}
