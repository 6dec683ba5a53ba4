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

// Package ima wires the measurement subsystem together: it opens the
// configured register, initialises the process-wide measurement log and
// attribute store, and runs the boot-time measurement.
package ima

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/go-ima/appraisal"
	"github.com/google/go-ima/config"
	"github.com/google/go-ima/fsys"
	"github.com/google/go-ima/ml"
	"github.com/google/go-ima/register"
	"github.com/google/go-ima/xattr"
)

// System is an initialised measurement subsystem.
type System struct {
	Config    config.Config
	FS        fsys.FS
	Register  register.Register
	Log       *ml.List
	Store     *xattr.Store
	Sink      ml.Sink
	Appraiser *appraisal.Appraiser

	logger  *slog.Logger
	closers []io.Closer
}

// Open initialises the subsystem over fs without measuring anything. The
// process-wide log is initialised; Close tears it down.
func Open(cfg config.Config, fs fsys.FS, logger *slog.Logger) (_ *System, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &System{Config: cfg, FS: fs, logger: logger}
	defer func() {
		if err != nil {
			s.close()
		}
	}()

	s.Register, err = register.Open(cfg.RegisterOptions(logger))
	if err != nil {
		return nil, fmt.Errorf("opening register: %w", err)
	}
	if s.Register != nil {
		s.closers = append(s.closers, s.Register)
	}

	s.Log, err = ml.Init(ml.Options{
		Register:      s.Register,
		Index:         cfg.RegisterIndex(),
		Algorithm:     cfg.AppraisalOptions().Algorithm,
		BootAggregate: cfg.Register.BootAggregate,
		ResetOnInit:   cfg.Register.ResetOnInit,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("initialising measurement log: %w", err)
	}

	var backing xattr.Backing
	switch cfg.XAttr.Backing {
	case config.BackingSQLite:
		db, err := xattr.OpenSQLite(cfg.XAttr.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening attribute database: %w", err)
		}
		s.closers = append(s.closers, db)
		backing = db
	default:
		backing = xattr.NewFileBacking(fs, cfg.XAttr.Path, logger)
	}
	s.Store = xattr.New(fs, backing, logger)

	sinks := ml.MultiSink{&ml.ASCIIFile{FS: fs, Path: cfg.Log.ASCIIPath}}
	if cfg.Log.BinaryPath != "" {
		sinks = append(sinks, &ml.BinaryFile{FS: fs, Path: cfg.Log.BinaryPath})
	}
	s.Sink = sinks
	if cfg.Log.DeferredSync {
		d := ml.NewDeferred(sinks, logger)
		// Closed first so the last snapshot is written.
		s.closers = append([]io.Closer{d}, s.closers...)
		s.Sink = d
	}

	s.Appraiser = appraisal.New(cfg.AppraisalOptions(), appraisal.Options{
		FS:     fs,
		Store:  s.Store,
		Log:    s.Log,
		Sink:   s.Sink,
		Logger: logger,
	})
	return s, nil
}

// Report summarises a boot measurement.
type Report struct {
	Entries int
	// Verified is the result of verifying the log against the register.
	Verified bool
	// Unverifiable is set when the register could not attest the log.
	Unverifiable bool
	// WalkErr holds the errors of the tree walk; the walk continues past them.
	WalkErr error
}

// Boot measures every configured prefix, persists the log and verifies it.
func (s *System) Boot() (Report, error) {
	var r Report
	r.WalkErr = s.Appraiser.BootMeasure()

	g := s.Log.Lock()
	defer g.Unlock()
	r.Entries = g.Len()
	ok, err := g.Verify()
	switch {
	case errors.Is(err, ml.ErrUnverifiable):
		r.Unverifiable = true
		s.logger.Warn("measurement log is not verifiable", "error", err)
	case err != nil:
		return r, err
	default:
		r.Verified = ok
	}
	if err := g.Sync(s.Sink); err != nil {
		return r, fmt.Errorf("persisting measurement log: %w", err)
	}
	s.logger.Info("boot measurement complete", "entries", r.Entries, "verified", r.Verified, "unverifiable", r.Unverifiable)
	return r, nil
}

// Close releases the register and store and tears down the process-wide
// log.
func (s *System) Close() error {
	return s.close()
}

func (s *System) close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.Log != nil {
		ml.Teardown()
		s.Log = nil
	}
	return errors.Join(errs...)
}
