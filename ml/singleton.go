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

import "sync"

var (
	singletonMu sync.Mutex
	singleton   *List
)

// Init creates the process-wide log.
func Init(opts Options) (*List, error) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	if singleton != nil {
		return nil, ErrAlreadyInitialized
	}
	l, err := New(opts)
	if err != nil {
		return nil, err
	}
	singleton = l
	return l, nil
}

// Acquire locks the process-wide log.
func Acquire() (*Guard, error) {
	singletonMu.Lock()
	l := singleton
	singletonMu.Unlock()
	if l == nil {
		return nil, ErrNotInitialized
	}
	return l.Lock(), nil
}

// Teardown drops the process-wide log so Init can run again.
func Teardown() {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = nil
}
