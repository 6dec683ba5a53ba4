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

// PCR is the value of a PCR or simulated register at a point in time.
type PCR struct {
	Index     int
	Digest    []byte
	DigestAlg crypto.Hash
}

// Idx gives the PCR index.
func (p PCR) Idx() int {
	return p.Index
}

// Dgst gives the PCR digest.
func (p PCR) Dgst() []byte {
	return p.Digest
}

// DgstAlg gives the PCR digest algorithm as a crypto.Hash.
func (p PCR) DgstAlg() crypto.Hash {
	return p.DigestAlg
}

// String formats the register as "PCR[<idx>] <ALG>:<hex>".
func (p PCR) String() string {
	return fmt.Sprintf("PCR[%d] %v:%x", p.Index, p.DigestAlg, p.Digest)
}
