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
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// TDREPORT layout.
const (
	ReportDataSize = 64
	ReportSize     = 1024
	RTMRSize       = 48
	// RTMROffset is the offset of RTMR[0] in a TDREPORT. RTMR[i] follows at
	// RTMROffset + i*RTMRSize.
	RTMROffset = 720
	// NumRTMRs is the number of runtime measurement registers.
	NumRTMRs = 4
	// FirstExtendableRTMR is the lowest RTMR index the guest may extend.
	// RTMR[0] and RTMR[1] belong to firmware and the boot loader.
	FirstExtendableRTMR = 2
)

// Device is the request/response channel to a hardware register.
type Device interface {
	Report(reportData [ReportDataSize]byte) ([ReportSize]byte, error)
	ExtendRTMR(data [RTMRSize]byte, index uint8) error
	Close() error
}

// Hardware forwards register reads and extends to a TDX guest Device. Values
// are authoritative; Replay is only used for local verification.
type Hardware struct {
	dev Device
	// Retries bounds how many times a busy device is retried.
	Retries int
	// Backoff is the wait between busy retries.
	Backoff time.Duration
	Logger  *slog.Logger
}

// NewHardware wraps dev.
func NewHardware(dev Device) *Hardware {
	return &Hardware{dev: dev, Retries: 5, Backoff: 10 * time.Millisecond}
}

func (h *Hardware) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

// Kind implements Register.
func (h *Hardware) Kind() Kind { return KindTDX }

// Hash implements Register.
func (h *Hardware) Hash() crypto.Hash { return crypto.SHA384 }

// Width implements Register.
func (h *Hardware) Width() int { return RTMRSize }

// Read returns RTMR[idx] from a fresh TDREPORT.
func (h *Hardware) Read(idx int) ([]byte, error) {
	if idx < 0 || idx >= NumRTMRs {
		return nil, &DeviceError{Op: fmt.Sprintf("read RTMR[%d]", idx), Kind: ErrHardwareInvalid}
	}
	var report [ReportSize]byte
	err := h.retry("report", func() error {
		var err error
		report, err = h.dev.Report([ReportDataSize]byte{})
		return err
	})
	if err != nil {
		return nil, err
	}
	off := RTMROffset + idx*RTMRSize
	return append([]byte(nil), report[off:off+RTMRSize]...), nil
}

// Extend extends RTMR[idx] with data, padded or truncated to 48 bytes.
func (h *Hardware) Extend(idx int, data []byte) error {
	if idx < FirstExtendableRTMR || idx >= NumRTMRs {
		return &DeviceError{Op: fmt.Sprintf("extend RTMR[%d]", idx), Kind: ErrHardwareInvalid}
	}
	var buf [RTMRSize]byte
	copy(buf[:], data)
	return h.retry("extend", func() error {
		return h.dev.ExtendRTMR(buf, uint8(idx))
	})
}

// Reset is not supported: RTMRs only reset with the TD.
func (h *Hardware) Reset(idx int) error {
	return fmt.Errorf("reset RTMR[%d]: %w", idx, ErrResetUnsupported)
}

// Close closes the device.
func (h *Hardware) Close() error {
	return h.dev.Close()
}

func (h *Hardware) retry(op string, f func() error) error {
	var err error
	for attempt := 0; attempt <= h.Retries; attempt++ {
		err = f()
		if err == nil || !errors.Is(err, ErrHardwareBusy) {
			break
		}
		h.logger().Debug("register device busy", "op", op, "attempt", attempt+1)
		if attempt < h.Retries && h.Backoff > 0 {
			time.Sleep(h.Backoff)
		}
	}
	if err == nil {
		return nil
	}
	var de *DeviceError
	if errors.As(err, &de) {
		return err
	}
	return &DeviceError{Op: op, Kind: ErrHardwareOther, Err: err}
}
