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
	"errors"
	"testing"

	"github.com/google/go-ima/imahash"
)

func TestTemplateField(t *testing.T) {
	tests := []struct {
		tmpl  Template
		alg   imahash.Algorithm
		field uint32
	}{
		{TemplateImaNg, imahash.SHA384, 0x11},
		{TemplateImaNg, imahash.SHA256, 0x12},
		{TemplateImaNg, imahash.SHA1, 0x13},
		{TemplateIma, imahash.SHA512, 0x24},
		{TemplateIma, imahash.MD5, 0x25},
	}
	for _, tt := range tests {
		got, err := EncodeTemplateField(tt.tmpl, tt.alg)
		if err != nil || got != tt.field {
			t.Errorf("EncodeTemplateField(%v, %v) = %#x, %v, want %#x", tt.tmpl, tt.alg, got, err, tt.field)
		}
		tmpl, alg, err := DecodeTemplateField(tt.field)
		if err != nil || tmpl != tt.tmpl || alg != tt.alg {
			t.Errorf("DecodeTemplateField(%#x) = %v, %v, %v", tt.field, tmpl, alg, err)
		}
	}
	for _, bad := range []uint32{0x00, 0x31, 0x10, 0x1f} {
		if _, _, err := DecodeTemplateField(bad); err == nil {
			t.Errorf("DecodeTemplateField(%#x) succeeded", bad)
		}
	}
	if _, _, err := DecodeTemplateField(0x16); !errors.Is(err, imahash.ErrUnknownAlgorithm) {
		t.Errorf("DecodeTemplateField(0x16) = %v, want ErrUnknownAlgorithm", err)
	}
}

func TestChainingInputBindsPath(t *testing.T) {
	d := imahash.Sum(imahash.SHA256, []byte("content"))
	a := ChainingInput(d, "/etc/a")
	b := ChainingInput(d, "/etc/b")
	if string(a) == string(b) {
		t.Errorf("chaining input does not depend on the path")
	}
	if len(a) != imahash.SHA256.Size() {
		t.Errorf("chaining input is %d bytes, want %d", len(a), imahash.SHA256.Size())
	}
	// Length prefixes keep content/path boundaries unambiguous.
	c := ChainingInput(d, "/etc/a\x00")
	if string(a) == string(c) {
		t.Errorf("chaining input ignores the path length")
	}
}
