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
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/internal/testutil"
	"github.com/google/go-ima/register"
)

func newSimulatedList(t *testing.T) (*List, *register.Simulated) {
	t.Helper()
	reg := register.NewSimulated(crypto.SHA1)
	l, err := New(Options{Register: reg, Index: 10})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return l, reg
}

func addFiles(t *testing.T, g *Guard, files map[string]string) {
	t.Helper()
	for _, path := range []string{"/etc/a", "/etc/b", "/usr/bin/c"} {
		content, ok := files[path]
		if !ok {
			continue
		}
		if _, err := g.AddEntry(imahash.Sum(imahash.SHA384, []byte(content)), path); err != nil {
			t.Fatalf("AddEntry(%s) failed: %v", path, err)
		}
	}
}

var threeFiles = map[string]string{"/etc/a": "a", "/etc/b": "b", "/usr/bin/c": "c"}

func TestAddEntryChainsRegister(t *testing.T) {
	l, reg := newSimulatedList(t)
	g := l.Lock()
	defer g.Unlock()
	addFiles(t, g, threeFiles)

	acc := make([]byte, 20)
	for i, e := range g.GetAll() {
		if e.ID() != uint64(i+1) {
			t.Errorf("entry %d has id %d", i, e.ID())
		}
		acc, _ = register.Replay(crypto.SHA1, acc, e.ChainingInput())
		if !bytes.Equal(acc, e.TemplateHash()) {
			t.Errorf("entry %d template hash = %x, want %x", e.ID(), e.TemplateHash(), acc)
		}
	}
	got, _ := reg.Read(10)
	if !bytes.Equal(got, acc) {
		t.Errorf("register = %x, want %x", got, acc)
	}
	ok, err := g.Verify()
	if !ok || err != nil {
		t.Errorf("Verify() = %v, %v, want true", ok, err)
	}

	e, ok := g.GetEntry(2)
	if !ok || e.PathHint() != "/etc/b" {
		t.Errorf("GetEntry(2) = %v, %v", e, ok)
	}
	if _, ok := g.GetEntry(0); ok {
		t.Errorf("GetEntry(0) found an entry")
	}
	if _, ok := g.GetEntry(4); ok {
		t.Errorf("GetEntry(4) found an entry")
	}
	if g.Len() != 3 {
		t.Errorf("Len() = %d, want 3", g.Len())
	}
	if diff := cmp.Diff(DefaultPolicy(), g.Policy()); diff != "" {
		t.Errorf("Policy() mismatch (-want +got):\n%s", diff)
	}
}

func TestVerifyIsIdempotent(t *testing.T) {
	l, _ := newSimulatedList(t)
	g := l.Lock()
	defer g.Unlock()
	addFiles(t, g, threeFiles)
	for i := 0; i < 3; i++ {
		if ok, err := g.Verify(); !ok || err != nil {
			t.Fatalf("Verify() call %d = %v, %v", i, ok, err)
		}
	}
	if g.Len() != 3 {
		t.Errorf("Verify changed the log: %d entries", g.Len())
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	tests := []struct {
		name   string
		tamper func(e *Entry)
	}{
		{"path", func(e *Entry) { e.path = "/etc/evil" }},
		{"content", func(e *Entry) { e.content.Bytes[0] ^= 0xff }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, _ := newSimulatedList(t)
			g := l.Lock()
			defer g.Unlock()
			addFiles(t, g, threeFiles)
			tt.tamper(&l.entries[1])
			ok, err := g.Verify()
			if ok || err != nil {
				t.Errorf("Verify() of a tampered log = %v, %v, want false, nil", ok, err)
			}
		})
	}
}

func TestVerifyDetectsRegisterTamper(t *testing.T) {
	l, reg := newSimulatedList(t)
	g := l.Lock()
	defer g.Unlock()
	addFiles(t, g, threeFiles)
	if err := reg.Extend(10, []byte("out of band")); err != nil {
		t.Fatal(err)
	}
	if ok, err := g.Verify(); ok || err != nil {
		t.Errorf("Verify() after an out-of-band extend = %v, %v, want false, nil", ok, err)
	}
}

func TestVerifyWithoutRegister(t *testing.T) {
	l, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	g := l.Lock()
	defer g.Unlock()
	addFiles(t, g, threeFiles)
	if ok, err := g.Verify(); !ok || err != nil {
		t.Errorf("Verify() without a register = %v, %v, want true", ok, err)
	}
	if len(g.GetAll()[0].TemplateHash()) != 20 {
		t.Errorf("software template hash is %d bytes, want 20", len(g.GetAll()[0].TemplateHash()))
	}
}

func TestDegradedRegister(t *testing.T) {
	fault := &register.DeviceError{Op: "extend", Kind: register.ErrHardwareOther}
	reg := &testutil.FailingRegister{Register: register.NewSimulated(crypto.SHA1), Err: fault}
	l, err := New(Options{Register: reg, Index: 10})
	if err != nil {
		t.Fatal(err)
	}
	g := l.Lock()
	defer g.Unlock()
	id, err := g.AddEntry(imahash.Sum(imahash.SHA256, []byte("x")), "/etc/x")
	if !errors.Is(err, register.ErrHardwareOther) {
		t.Errorf("AddEntry() = %v, want the register fault", err)
	}
	if id != 1 || g.Len() != 1 {
		t.Errorf("entry was not recorded: id %d, len %d", id, g.Len())
	}
	if !g.Degraded() {
		t.Errorf("Degraded() = false after a register fault")
	}
	ok, err := g.Verify()
	if ok || !errors.Is(err, ErrUnverifiable) {
		t.Errorf("Verify() = %v, %v, want false, ErrUnverifiable", ok, err)
	}
}

func TestUnreadableRegisterIsUnverifiable(t *testing.T) {
	l, reg := newSimulatedList(t)
	l.reg = &testutil.FailingRegister{Register: reg, Err: errors.New("gone"), FailRead: true}
	g := l.Lock()
	defer g.Unlock()
	if ok, err := g.Verify(); ok || !errors.Is(err, ErrUnverifiable) {
		t.Errorf("Verify() = %v, %v, want false, ErrUnverifiable", ok, err)
	}
}

func TestBootAggregateOnHardware(t *testing.T) {
	dev := &testutil.FakeTDX{}
	var fw [register.RTMRSize]byte
	copy(fw[:], bytes.Repeat([]byte{0x5a}, register.RTMRSize))
	dev.SetRTMR(2, fw)
	hw := register.NewHardware(dev)

	l, err := New(Options{Register: hw, Index: 2, BootAggregate: true, ResetOnInit: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	g := l.Lock()
	defer g.Unlock()
	if !bytes.Equal(g.Base(), fw[:]) {
		t.Errorf("Base() = %x, want firmware value", g.Base())
	}
	first, ok := g.GetEntry(1)
	if !ok || first.PathHint() != BootAggregatePath {
		t.Fatalf("first entry = %v, want boot aggregate", first)
	}
	if want := imahash.Sum(imahash.SHA384, fw[:]); !first.ContentHash().Equal(want) {
		t.Errorf("boot aggregate content = %v, want %v", first.ContentHash(), want)
	}
	addFiles(t, g, threeFiles)
	if ok, err := g.Verify(); !ok || err != nil {
		t.Errorf("Verify() = %v, %v, want true", ok, err)
	}
	if got := len(g.GetAll()[3].TemplateHash()); got != 48 {
		t.Errorf("template hash is %d bytes, want 48", got)
	}
}

func TestReset(t *testing.T) {
	l, reg := newSimulatedList(t)
	g := l.Lock()
	defer g.Unlock()
	addFiles(t, g, threeFiles)
	if err := g.Reset(); err != nil {
		t.Fatalf("Reset() failed: %v", err)
	}
	if g.Len() != 0 {
		t.Errorf("Len() after Reset = %d", g.Len())
	}
	if v, _ := reg.Read(10); !bytes.Equal(v, make([]byte, 20)) {
		t.Errorf("register after Reset = %x, want zero", v)
	}
	addFiles(t, g, map[string]string{"/etc/a": "a"})
	if e, _ := g.GetEntry(1); e.PathHint() != "/etc/a" {
		t.Errorf("ids did not restart at 1: %v", e)
	}
	if ok, err := g.Verify(); !ok || err != nil {
		t.Errorf("Verify() after Reset = %v, %v", ok, err)
	}
}

func TestAddEntryRejectsMalformedDigest(t *testing.T) {
	l, _ := newSimulatedList(t)
	g := l.Lock()
	defer g.Unlock()
	if _, err := g.AddEntry(imahash.Digest{Algorithm: imahash.SHA256, Bytes: []byte{1}}, "/x"); err == nil {
		t.Errorf("AddEntry() with a short digest succeeded")
	}
	if g.Len() != 0 {
		t.Errorf("malformed entry was recorded")
	}
}

func TestSingleton(t *testing.T) {
	Teardown()
	defer Teardown()
	if _, err := Acquire(); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("Acquire() before Init = %v, want ErrNotInitialized", err)
	}
	if _, err := Init(Options{}); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}
	if _, err := Init(Options{}); !errors.Is(err, ErrAlreadyInitialized) {
		t.Errorf("second Init() = %v, want ErrAlreadyInitialized", err)
	}
	g, err := Acquire()
	if err != nil {
		t.Fatalf("Acquire() failed: %v", err)
	}
	g.Unlock()
}
