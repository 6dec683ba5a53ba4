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

package ml

import (
	"bytes"
	"crypto"
	"fmt"

	"github.com/google/go-ima/register"
)

// ReplayError describes the entries that failed to verify against a
// register.
type ReplayError struct {
	// InvalidEntries lists the ids of entries whose stored template hash
	// differs from the replayed register value.
	InvalidEntries []uint64
	// FinalMismatch is set when the replayed value differs from the
	// register's current value.
	FinalMismatch bool
}

// Error returns a human-friendly description of replay failures.
func (e *ReplayError) Error() string {
	if len(e.InvalidEntries) == 0 {
		return "measurement log failed to verify: replayed value does not match the register"
	}
	return fmt.Sprintf("measurement log failed to verify: the following entries failed to replay: %v", e.InvalidEntries)
}

// Affected reports whether entry id failed to replay.
func (e *ReplayError) Affected(id uint64) bool {
	for _, i := range e.InvalidEntries {
		if i == id {
			return true
		}
	}
	return false
}

// VerifyEntries replays entries from base using h and checks every
// intermediate value against the entry's template hash and the result
// against final. The chain is folded over recomputed chaining inputs, so a
// tampered path or content hash is detected even if template hashes are
// consistent.
func VerifyEntries(h crypto.Hash, base, final []byte, entries []Entry) error {
	if len(final) != h.Size() {
		return fmt.Errorf("register value is %d bytes, want %d for %v", len(final), h.Size(), h)
	}
	acc := base
	var invalid []uint64
	for _, e := range entries {
		next, err := register.Replay(h, acc, e.ChainingInput())
		if err != nil {
			return fmt.Errorf("replaying entry %d: %w", e.ID(), err)
		}
		if !bytes.Equal(next, e.templateHash) {
			invalid = append(invalid, e.ID())
		}
		acc = next
	}
	mismatch := !bytes.Equal(acc, final)
	if mismatch || len(invalid) != 0 {
		return &ReplayError{InvalidEntries: invalid, FinalMismatch: mismatch}
	}
	return nil
}
