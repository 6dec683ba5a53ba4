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

// Package ml implements the measurement log: an append-only list of file
// measurements, each chained into a platform register, together with its
// verification and its persisted forms.
package ml

import (
	"crypto"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/register"
)

// BootAggregatePath is the path hint of the entry recording the register
// value found at initialisation.
const BootAggregatePath = "boot_aggregate"

// PolicyFields are the log header values.
type PolicyFields struct {
	Version  uint8
	Appraise uint8
	Policy   uint8
	Template uint8
}

// DefaultPolicy returns version 1, fix-mode appraisal, measure-all policy and
// template 1.
func DefaultPolicy() PolicyFields {
	return PolicyFields{Version: 1, Appraise: 1, Policy: 1, Template: 1}
}

// Options configure a List.
type Options struct {
	// Register is the bank entries are chained into. Nil means no register:
	// template hashes are replayed in software and Verify always succeeds.
	Register register.Register
	// Index is the register index, see register.DefaultIndex.
	Index int
	// Algorithm hashes the boot aggregate.
	Algorithm imahash.Algorithm
	Template  Template
	Policy    PolicyFields
	// BootAggregate appends an entry recording the initial register value.
	BootAggregate bool
	// ResetOnInit zeroes the register before capturing the base value.
	ResetOnInit bool
	Logger      *slog.Logger
}

// List is the measurement log. All access goes through the Guard returned
// by Lock.
type List struct {
	mu sync.Mutex

	reg      register.Register
	index    int
	hash     crypto.Hash
	template Template
	policy   PolicyFields
	logger   *slog.Logger

	base     []byte
	entries  []Entry
	degraded bool
}

// New creates a log and captures the register's base value.
func New(opts Options) (*List, error) {
	l := &List{
		reg:      opts.Register,
		index:    opts.Index,
		hash:     crypto.SHA1,
		template: opts.Template,
		policy:   opts.Policy,
		logger:   opts.Logger,
	}
	if l.logger == nil {
		l.logger = slog.Default()
	}
	if l.template == 0 {
		l.template = TemplateImaNg
	}
	if l.policy == (PolicyFields{}) {
		l.policy = DefaultPolicy()
	}
	alg := opts.Algorithm
	if !alg.Valid() {
		alg = imahash.Default
	}
	if l.reg == nil {
		l.base = make([]byte, l.hash.Size())
		return l, nil
	}
	l.hash = l.reg.Hash()
	if opts.ResetOnInit {
		if err := l.reg.Reset(l.index); err != nil && !errors.Is(err, register.ErrResetUnsupported) {
			return nil, fmt.Errorf("resetting register %d: %w", l.index, err)
		}
	}
	base, err := l.reg.Read(l.index)
	if err != nil {
		l.logger.Warn("register unreadable, measurement log is not verifiable", "index", l.index, "error", err)
		base = make([]byte, l.reg.Width())
		l.degraded = true
	}
	l.base = base
	if opts.BootAggregate {
		// A register fault leaves the aggregate recorded and the log degraded.
		if id, err := l.add(imahash.Sum(alg, base), BootAggregatePath); id == 0 {
			return nil, fmt.Errorf("recording boot aggregate: %w", err)
		}
	}
	return l, nil
}

// Lock acquires the log. The returned Guard must be unlocked.
func (l *List) Lock() *Guard {
	l.mu.Lock()
	return &Guard{l: l}
}

// Guard is exclusive access to a List.
type Guard struct {
	l *List
}

// Unlock releases the log.
func (g *Guard) Unlock() {
	g.l.mu.Unlock()
}

// AddEntry chains a measurement of path into the register and appends it to
// the log, returning its id. If the register fails the entry is recorded
// anyway with a software-replayed template hash, the log becomes
// unverifiable and the fault is returned alongside the id.
func (g *Guard) AddEntry(content imahash.Digest, path string) (uint64, error) {
	return g.l.add(content, path)
}

func (l *List) add(content imahash.Digest, path string) (uint64, error) {
	if !content.Algorithm.Valid() || len(content.Bytes) != content.Algorithm.Size() {
		return 0, fmt.Errorf("invalid content hash %v for %s", content, path)
	}
	field, err := EncodeTemplateField(l.template, content.Algorithm)
	if err != nil {
		return 0, err
	}
	input := ChainingInput(content, path)

	var templateHash []byte
	var regErr error
	if l.reg != nil {
		if regErr = l.reg.Extend(l.index, input); regErr == nil {
			templateHash, regErr = l.reg.Read(l.index)
		}
	}
	if templateHash == nil {
		templateHash, err = register.Replay(l.hash, l.last(), input)
		if err != nil {
			return 0, err
		}
	}
	if regErr != nil {
		if !l.degraded {
			l.logger.Warn("register extend failed, measurement log is not verifiable", "index", l.index, "path", path, "error", regErr)
		}
		l.degraded = true
	}

	e := Entry{
		id:           uint64(len(l.entries) + 1),
		index:        l.index,
		templateHash: templateHash,
		content:      imahash.Digest{Algorithm: content.Algorithm, Bytes: append([]byte(nil), content.Bytes...)},
		path:         path,
		field:        field,
	}
	l.entries = append(l.entries, e)
	l.logger.Debug("measurement added", "id", e.id, "path", path, "content", content.String())
	if regErr != nil {
		return e.id, fmt.Errorf("extending register %d for %s: %w", l.index, path, regErr)
	}
	return e.id, nil
}

func (l *List) last() []byte {
	if len(l.entries) == 0 {
		return l.base
	}
	return l.entries[len(l.entries)-1].templateHash
}

// Verify replays the log from the base value and compares the result with
// the register. It returns true without a register, and false with
// ErrUnverifiable when a register fault left the log unattestable.
func (g *Guard) Verify() (bool, error) {
	l := g.l
	if l.reg == nil {
		return true, nil
	}
	if l.degraded {
		return false, ErrUnverifiable
	}
	final, err := l.reg.Read(l.index)
	if err != nil {
		return false, fmt.Errorf("%w: reading register %d: %v", ErrUnverifiable, l.index, err)
	}
	err = VerifyEntries(l.hash, l.base, final, l.entries)
	var rErr *ReplayError
	switch {
	case err == nil:
		return true, nil
	case errors.As(err, &rErr):
		l.logger.Warn("measurement log failed to verify", "index", l.index, "invalid_entries", rErr.InvalidEntries, "final_mismatch", rErr.FinalMismatch)
		return false, nil
	}
	return false, err
}

// GetAll returns a snapshot of all entries in id order.
func (g *Guard) GetAll() []Entry {
	return append([]Entry(nil), g.l.entries...)
}

// GetEntry returns the entry with the given id.
func (g *Guard) GetEntry(id uint64) (Entry, bool) {
	if id == 0 || id > uint64(len(g.l.entries)) {
		return Entry{}, false
	}
	return g.l.entries[id-1], true
}

// Len returns the number of entries.
func (g *Guard) Len() int {
	return len(g.l.entries)
}

// Policy returns the log header.
func (g *Guard) Policy() PolicyFields {
	return g.l.policy
}

// Base returns the register value the log replays from.
func (g *Guard) Base() []byte {
	return append([]byte(nil), g.l.base...)
}

// Hash returns the algorithm the log replays with.
func (g *Guard) Hash() crypto.Hash {
	return g.l.hash
}

// Degraded reports whether a register fault left the log unverifiable.
func (g *Guard) Degraded() bool {
	return g.l.degraded
}

// Reset zeroes the register, when supported, and clears the log. The base
// value is recaptured from the register.
func (g *Guard) Reset() error {
	l := g.l
	l.entries = nil
	l.degraded = false
	if l.reg == nil {
		l.base = make([]byte, l.hash.Size())
		return nil
	}
	if err := l.reg.Reset(l.index); err != nil && !errors.Is(err, register.ErrResetUnsupported) {
		l.degraded = true
		return fmt.Errorf("resetting register %d: %w", l.index, err)
	}
	base, err := l.reg.Read(l.index)
	if err != nil {
		l.degraded = true
		l.base = make([]byte, l.reg.Width())
		return fmt.Errorf("reading register %d: %w", l.index, err)
	}
	l.base = base
	return nil
}

// Sync writes the current entries through s while the log is held, so the
// persisted form never lags the log.
func (g *Guard) Sync(s Sink) error {
	return s.Sync(g.GetAll())
}
