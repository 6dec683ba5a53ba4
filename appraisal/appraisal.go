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

// Package appraisal decides which files are measured, appraises files on
// access against their stored reference hashes, and remeasures files that
// have none.
package appraisal

import (
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/google/go-ima/fsys"
	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/ml"
	"github.com/google/go-ima/register"
	"github.com/google/go-ima/xattr"
)

// ErrIntegrityMismatch is matched by the error returned for a file whose
// content differs from its reference hash in enforcing mode.
var ErrIntegrityMismatch = errors.New("appraisal: integrity mismatch")

// MismatchError reports a failed appraisal.
type MismatchError struct {
	Path string
	Want imahash.Digest
	Got  imahash.Digest
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("integrity mismatch on %s: reference %v, measured %v", e.Path, e.Want, e.Got)
}

// Is makes MismatchError match ErrIntegrityMismatch.
func (e *MismatchError) Is(target error) bool {
	return target == ErrIntegrityMismatch
}

// Mode selects which files are eligible for measurement.
type Mode int

// Appraisal modes.
const (
	// ModeOff measures nothing.
	ModeOff Mode = iota
	// ModeFix measures files under the configured prefixes.
	ModeFix
)

// String returns the configuration name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeFix:
		return "fix"
	}
	return fmt.Sprintf("Mode<%d>", int(m))
}

// ParseMode parses a mode name.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "off":
		return ModeOff, nil
	case "fix":
		return ModeFix, nil
	}
	return 0, fmt.Errorf("unknown appraisal mode %q", s)
}

// Result is the outcome of an appraisal.
type Result int

// Appraisal results.
const (
	// Skip means the path is not eligible or not a regular file.
	Skip Result = iota
	// Pass means the content matches its reference hash.
	Pass
	// Fail means the content differs from its reference hash.
	Fail
	// Remeasured means a new measurement and reference hash were recorded.
	Remeasured
)

func (r Result) String() string {
	switch r {
	case Skip:
		return "skip"
	case Pass:
		return "pass"
	case Fail:
		return "fail"
	case Remeasured:
		return "remeasured"
	}
	return fmt.Sprintf("Result<%d>", int(r))
}

// Config is the appraisal policy.
type Config struct {
	Mode     Mode
	Prefixes []string
	// Algorithm hashes files that have no reference hash yet.
	Algorithm imahash.Algorithm
	ChunkSize int
	// Enforce returns a *MismatchError for failed appraisals instead of
	// only reporting them.
	Enforce bool
	// Heal records a new measurement and reference hash after a failed
	// appraisal.
	Heal bool
	// Attribute holds the reference hash.
	Attribute string
}

// DefaultConfig returns fix mode over /etc, /usr and /regression with
// SHA384 reference hashes in security.ima, auditing without healing.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeFix,
		Prefixes:  []string{"/etc", "/usr", "/regression"},
		Algorithm: imahash.SHA384,
		ChunkSize: imahash.DefaultChunkSize,
		Attribute: "security.ima",
	}
}

// Options are the collaborators of an Appraiser.
type Options struct {
	FS    fsys.FS
	Store *xattr.Store
	// Log is the measurement log. Nil uses the process-wide log.
	Log *ml.List
	// Sink persists the log after every measurement. Optional.
	Sink   ml.Sink
	Logger *slog.Logger
}

// Appraiser applies a Config.
type Appraiser struct {
	cfg    Config
	fs     fsys.FS
	store  *xattr.Store
	log    *ml.List
	sink   ml.Sink
	logger *slog.Logger
}

// New returns an Appraiser. Zero config fields take their defaults.
func New(cfg Config, opts Options) *Appraiser {
	def := DefaultConfig()
	if !cfg.Algorithm.Valid() {
		cfg.Algorithm = def.Algorithm
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.Attribute == "" {
		cfg.Attribute = def.Attribute
	}
	a := &Appraiser{cfg: cfg, fs: opts.FS, store: opts.Store, log: opts.Log, sink: opts.Sink, logger: opts.Logger}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Config returns the effective configuration.
func (a *Appraiser) Config() Config {
	return a.cfg
}

// canonical returns the cleaned form of an absolute path. Relative paths
// are rejected.
func canonical(p string) (string, bool) {
	if !path.IsAbs(p) {
		return "", false
	}
	return path.Clean(p), true
}

// CheckHint reports whether path is eligible: in fix mode its cleaned form
// must equal a prefix or lie below one.
func (a *Appraiser) CheckHint(p string) bool {
	if a.cfg.Mode != ModeFix {
		return false
	}
	p, ok := canonical(p)
	if !ok {
		return false
	}
	for _, prefix := range a.cfg.Prefixes {
		if prefix == "" {
			continue
		}
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		if len(p) == len(prefix) || p[len(prefix)] == '/' || strings.HasSuffix(prefix, "/") {
			return true
		}
	}
	return false
}

func (a *Appraiser) acquire() (*ml.Guard, error) {
	if a.log != nil {
		return a.log.Lock(), nil
	}
	return ml.Acquire()
}

// reference returns the stored reference hash of path, if any.
func (a *Appraiser) reference(p string) (imahash.Digest, bool, error) {
	v, err := a.store.Get(p, a.cfg.Attribute)
	if errors.Is(err, xattr.ErrNotFound) {
		return imahash.Digest{}, false, nil
	}
	if err != nil {
		return imahash.Digest{}, false, err
	}
	d, err := imahash.Parse(v)
	if err != nil {
		a.logger.Warn("ignoring malformed reference hash", "path", p, "value", v, "error", err)
		return imahash.Digest{}, false, nil
	}
	return d, true, nil
}

func (a *Appraiser) measure(h fsys.Handle, alg imahash.Algorithm) (imahash.Digest, error) {
	d, err := imahash.SumReaderAt(fsys.ReaderAt(a.fs, h), alg, a.cfg.ChunkSize)
	if err != nil {
		return imahash.Digest{}, fmt.Errorf("measuring %s: %w", h.Path, err)
	}
	return d, nil
}

// Appraise checks path against its reference hash, remeasuring it if it
// has none. The path is cleaned before the eligibility check.
func (a *Appraiser) Appraise(p string) (Result, error) {
	p, ok := canonical(p)
	if !ok || !a.CheckHint(p) {
		return Skip, nil
	}
	h, err := a.fs.Lookup(p)
	if err != nil {
		return Skip, err
	}
	if h.Type != fsys.TypeRegular {
		return Skip, nil
	}
	want, ok, err := a.reference(p)
	if err != nil {
		return Skip, err
	}
	if !ok {
		a.logger.Info("reference hash not found, remeasuring", "path", p)
		if err := a.remeasure(h, a.cfg.Algorithm); err != nil {
			return Skip, err
		}
		return Remeasured, nil
	}
	got, err := a.measure(h, want.Algorithm)
	if err != nil {
		return Skip, err
	}
	if got.Equal(want) {
		return Pass, nil
	}
	a.logger.Warn("integrity mismatch", "path", p, "expected", want.String(), "actual", got.String())
	var errs []error
	if a.cfg.Enforce {
		errs = append(errs, &MismatchError{Path: p, Want: want, Got: got})
	}
	if a.cfg.Heal {
		if err := a.record(p, got); err != nil {
			errs = append(errs, err)
		}
	}
	return Fail, errors.Join(errs...)
}

// AppraiseFD appraises the file open as fd at path. Standard descriptors
// are never appraised.
func (a *Appraiser) AppraiseFD(fd int, p string) (Result, error) {
	if fd >= 0 && fd <= 2 {
		return Skip, nil
	}
	return a.Appraise(p)
}

// Remeasure records a fresh measurement of path and its reference hash,
// using the algorithm of the existing reference when there is one.
func (a *Appraiser) Remeasure(p string) error {
	cp, ok := canonical(p)
	if !ok {
		return fmt.Errorf("remeasure %s: path is not absolute", p)
	}
	p = cp
	h, err := a.fs.Lookup(p)
	if err != nil {
		return err
	}
	if h.Type != fsys.TypeRegular {
		return fmt.Errorf("remeasure %s: not a regular file", p)
	}
	alg := a.cfg.Algorithm
	if ref, ok, err := a.reference(p); err != nil {
		return err
	} else if ok {
		alg = ref.Algorithm
	}
	return a.remeasure(h, alg)
}

func (a *Appraiser) remeasure(h fsys.Handle, alg imahash.Algorithm) error {
	d, err := a.measure(h, alg)
	if err != nil {
		return err
	}
	return a.record(h.Path, d)
}

// record appends d to the log and persists it as one critical section,
// then stores it as the reference hash. A register fault still stores the
// reference, since the entry was recorded.
func (a *Appraiser) record(p string, d imahash.Digest) error {
	g, err := a.acquire()
	if err != nil {
		return err
	}
	_, addErr := g.AddEntry(d, p)
	var syncErr error
	if a.sink != nil {
		syncErr = g.Sync(a.sink)
	}
	g.Unlock()
	if addErr != nil && !isRegisterFault(addErr) {
		return addErr
	}
	setErr := a.store.Set(p, a.cfg.Attribute, d.String())
	return errors.Join(addErr, syncErr, setErr)
}

func isRegisterFault(err error) bool {
	var de *register.DeviceError
	return errors.As(err, &de)
}

// MeasureTree remeasures every eligible regular file below root. A missing
// root is skipped. A register fault aborts the walk; other errors are
// collected and the walk continues.
func (a *Appraiser) MeasureTree(root string) error {
	h, err := a.fs.Lookup(root)
	if errors.Is(err, fsys.ErrNotFound) {
		a.logger.Debug("measurement root not found, skipping", "root", root)
		return nil
	}
	if err != nil {
		return err
	}
	var errs []error
	if err := a.walk(h, &errs); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// walk returns a non-nil error only for faults that abort the walk.
func (a *Appraiser) walk(h fsys.Handle, errs *[]error) error {
	if !a.CheckHint(h.Path) {
		return nil
	}
	switch h.Type {
	case fsys.TypeRegular:
		err := a.remeasure(h, a.cfg.Algorithm)
		if err != nil && isRegisterFault(err) {
			return fmt.Errorf("measuring %s: %w", h.Path, err)
		}
		if err != nil {
			*errs = append(*errs, err)
		}
		return nil
	case fsys.TypeDir:
		names, err := a.fs.Readdir(h)
		if err != nil {
			*errs = append(*errs, err)
			return nil
		}
		for _, name := range names {
			if name == "." || name == ".." {
				continue
			}
			child, err := a.fs.Lookup(path.Join(h.Path, name))
			if err != nil {
				*errs = append(*errs, err)
				continue
			}
			if err := a.walk(child, errs); err != nil {
				return err
			}
		}
	}
	return nil
}

// BootMeasure measures every configured prefix. Failures in one prefix do
// not stop the others.
func (a *Appraiser) BootMeasure() error {
	if a.cfg.Mode == ModeOff {
		return nil
	}
	var errs []error
	for _, p := range a.cfg.Prefixes {
		if err := a.MeasureTree(p); err != nil {
			a.logger.Error("boot measurement failed", "prefix", p, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
