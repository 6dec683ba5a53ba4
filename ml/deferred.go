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
	"log/slog"
	"sync"
)

// Deferred moves persistence off the caller's path. Sync records the latest
// snapshot and returns; a worker goroutine writes it through the wrapped
// sink. Snapshots queued faster than they are written are coalesced, so
// only the newest is written.
type Deferred struct {
	next   Sink
	logger *slog.Logger

	mu      sync.Mutex
	pending []Entry
	queued  bool
	closed  bool
	lastErr error

	wake chan struct{}
	done chan struct{}
}

// NewDeferred starts a worker writing to next. Close must be called to
// flush and stop it.
func NewDeferred(next Sink, logger *slog.Logger) *Deferred {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Deferred{
		next:   next,
		logger: logger,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go d.run()
	return d
}

// Sync implements Sink.
func (d *Deferred) Sync(entries []Entry) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrClosed
	}
	d.pending = append([]Entry(nil), entries...)
	d.queued = true
	select {
	case d.wake <- struct{}{}:
	default:
	}
	return nil
}

func (d *Deferred) run() {
	defer close(d.done)
	for range d.wake {
		d.mu.Lock()
		entries, ok := d.pending, d.queued
		d.pending, d.queued = nil, false
		d.mu.Unlock()
		if !ok {
			continue
		}
		err := d.next.Sync(entries)
		if err != nil {
			d.logger.Error("deferred measurement log sync failed", "entries", len(entries), "error", err)
		}
		d.mu.Lock()
		d.lastErr = err
		d.mu.Unlock()
	}
}

// Close writes any queued snapshot, stops the worker and returns the result
// of the last write.
func (d *Deferred) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return nil
	}
	d.closed = true
	close(d.wake)
	d.mu.Unlock()
	<-d.done
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}
