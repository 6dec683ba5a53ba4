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
)

/*
RTMR0 => firmware
RTMR1 => boot loader, kernel
RTMR2 => runtime file measurements
RTMR3 => N/A (for userspace)
*/

// RTMR is the value of a TDX runtime measurement register at a point in
// time. Its digest is always SHA-384.
type RTMR struct {
	// The RTMR index, e.g. 2 for RTMR[2].
	Index  int
	Digest []byte
}

// Idx gives the RTMR index.
func (r RTMR) Idx() int {
	return r.Index
}

// Dgst gives the RTMR digest.
func (r RTMR) Dgst() []byte {
	return r.Digest
}

// DgstAlg gives the RTMR digest algorithm as a crypto.Hash.
func (r RTMR) DgstAlg() crypto.Hash {
	return crypto.SHA384
}

// String formats the register as "RTMR[<idx>] SHA-384:<hex>".
func (r RTMR) String() string {
	return fmt.Sprintf("RTMR[%d] %v:%x", r.Index, crypto.SHA384, r.Digest)
}
