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
	"sync"
)

// Simulated keeps register values in ordinary memory. It offers no tamper
// protection and is meant for development and tests.
type Simulated struct {
	h crypto.Hash

	mu     sync.Mutex
	values map[int][]byte
}

// NewSimulated returns a simulated bank chaining with h. Unset registers
// read as zero.
func NewSimulated(h crypto.Hash) *Simulated {
	return &Simulated{h: h, values: map[int][]byte{}}
}

// Kind implements Register.
func (s *Simulated) Kind() Kind { return KindSimulated }

// Hash implements Register.
func (s *Simulated) Hash() crypto.Hash { return s.h }

// Width implements Register.
func (s *Simulated) Width() int { return s.h.Size() }

// Read implements Register.
func (s *Simulated) Read(idx int) ([]byte, error) {
	if idx < 0 {
		return nil, fmt.Errorf("read register %d: %w", idx, ErrInvalidIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(idx), nil
}

func (s *Simulated) read(idx int) []byte {
	v, ok := s.values[idx]
	if !ok {
		return make([]byte, s.Width())
	}
	return append([]byte(nil), v...)
}

// Extend implements Register.
func (s *Simulated) Extend(idx int, data []byte) error {
	if idx < 0 {
		return fmt.Errorf("extend register %d: %w", idx, ErrInvalidIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	v, err := Replay(s.h, s.read(idx), data)
	if err != nil {
		return err
	}
	s.values[idx] = v
	return nil
}

// Reset implements Register.
func (s *Simulated) Reset(idx int) error {
	if idx < 0 {
		return fmt.Errorf("reset register %d: %w", idx, ErrInvalidIndex)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, idx)
	return nil
}

// Close implements Register.
func (s *Simulated) Close() error { return nil }
