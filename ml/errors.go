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

import "errors"

// Errors returned by the measurement log.
var (
	// ErrUnverifiable means the log cannot be attested against its register,
	// as opposed to Verify reporting a mismatch.
	ErrUnverifiable = errors.New("ml: log is not verifiable")
	// ErrAlreadyInitialized is returned by a second Init.
	ErrAlreadyInitialized = errors.New("ml: measurement log already initialized")
	// ErrNotInitialized is returned by Acquire before Init.
	ErrNotInitialized = errors.New("ml: measurement log not initialized")
	// ErrClosed is returned by a sink after Close.
	ErrClosed = errors.New("ml: sink closed")
)
