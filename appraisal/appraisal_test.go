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

package appraisal_test

import (
	"bytes"
	"crypto"
	"errors"
	"io"
	"strings"

	"github.com/google/go-ima/appraisal"
	"github.com/google/go-ima/fsys"
	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/internal/testutil"
	"github.com/google/go-ima/ml"
	"github.com/google/go-ima/register"
	"github.com/google/go-ima/xattr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type fixture struct {
	fs        *fsys.Afero
	reg       register.Register
	log       *ml.List
	store     *xattr.Store
	appraiser *appraisal.Appraiser
}

func newFixture(files map[string]string, cfg appraisal.Config, reg register.Register) *fixture {
	f := &fixture{fs: testutil.Tree(GinkgoT(), files), reg: reg}
	var err error
	f.log, err = ml.New(ml.Options{Register: reg, Index: 10, BootAggregate: reg != nil})
	Expect(err).ToNot(HaveOccurred())
	f.store = xattr.New(f.fs, xattr.NewFileBacking(f.fs, xattr.DefaultPath, nil), nil)
	f.appraiser = appraisal.New(cfg, appraisal.Options{
		FS:    f.fs,
		Store: f.store,
		Log:   f.log,
		Sink:  &ml.ASCIIFile{FS: f.fs, Path: ml.DefaultASCIIPath},
	})
	return f
}

func (f *fixture) entries() []ml.Entry {
	g := f.log.Lock()
	defer g.Unlock()
	return g.GetAll()
}

func (f *fixture) verify() (bool, error) {
	g := f.log.Lock()
	defer g.Unlock()
	return g.Verify()
}

func (f *fixture) reference(p string) string {
	v, err := f.store.Get(p, "security.ima")
	Expect(err).ToNot(HaveOccurred())
	return v
}

func (f *fixture) asciiLog() string {
	h, err := f.fs.Lookup(ml.DefaultASCIIPath)
	Expect(err).ToNot(HaveOccurred())
	size, err := f.fs.Size(h)
	Expect(err).ToNot(HaveOccurred())
	buf := make([]byte, size)
	_, err = f.fs.ReadAt(h, buf, 0)
	if err != nil {
		Expect(errors.Is(err, io.EOF)).To(BeTrue())
	}
	return string(buf)
}

var _ = Describe("Appraisal tests", func() {
	Describe("CheckHint", func() {
		a := appraisal.New(appraisal.DefaultConfig(), appraisal.Options{})
		DescribeTable("matches prefixes at a path boundary",
			func(p string, want bool) {
				Expect(a.CheckHint(p)).To(Equal(want))
			},
			Entry("prefix itself", "/etc", true),
			Entry("file below prefix", "/etc/passwd", true),
			Entry("nested", "/usr/lib/x/y.so", true),
			Entry("regression tree", "/regression/hello", true),
			Entry("shared leading bytes", "/etcetera", false),
			Entry("prefix not at start", "/home/etc/x", false),
			Entry("relative", "etc/passwd", false),
			Entry("outside", "/home/user", false),
			Entry("empty", "", false),
			Entry("traversal out of prefix", "/etc/../home/user/secret", false),
			Entry("traversal into prefix", "/home/../etc/passwd", true),
			Entry("dot segments", "/usr/./lib//x", true),
			Entry("trailing slash", "/etc/", true),
		)
		It("matches nothing in off mode", func() {
			cfg := appraisal.DefaultConfig()
			cfg.Mode = appraisal.ModeOff
			Expect(appraisal.New(cfg, appraisal.Options{}).CheckHint("/etc/passwd")).To(BeFalse())
		})
	})

	Describe("Appraise", func() {
		var f *fixture

		BeforeEach(func() {
			f = newFixture(map[string]string{
				"/regression/hello": "hello",
				"/home/user/notes":  "notes",
			}, appraisal.DefaultConfig(), register.NewSimulated(crypto.SHA1))
		})

		It("remeasures on first access and passes afterwards", func() {
			res, err := f.appraiser.Appraise("/regression/hello")
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(appraisal.Remeasured))
			Expect(f.reference("/regression/hello")).To(Equal(imahash.Sum(imahash.SHA384, []byte("hello")).String()))
			Expect(f.entries()).To(HaveLen(2))

			res, err = f.appraiser.Appraise("/regression/hello")
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(appraisal.Pass))
			Expect(f.entries()).To(HaveLen(2))
		})

		It("is deterministic for unchanged files", func() {
			_, err := f.appraiser.Appraise("/regression/hello")
			Expect(err).ToNot(HaveOccurred())
			for i := 0; i < 3; i++ {
				res, err := f.appraiser.Appraise("/regression/hello")
				Expect(err).ToNot(HaveOccurred())
				Expect(res).To(Equal(appraisal.Pass))
			}
			Expect(f.entries()).To(HaveLen(2))
			Expect(f.verify()).To(BeTrue())
		})

		It("skips ineligible paths, directories and standard descriptors", func() {
			Expect(f.appraiser.Appraise("/home/user/notes")).To(Equal(appraisal.Skip))
			Expect(f.appraiser.Appraise("/regression")).To(Equal(appraisal.Skip))
			for fd := 0; fd <= 2; fd++ {
				Expect(f.appraiser.AppraiseFD(fd, "/regression/hello")).To(Equal(appraisal.Skip))
			}
			Expect(f.entries()).To(HaveLen(1))
			Expect(f.appraiser.AppraiseFD(3, "/regression/hello")).To(Equal(appraisal.Remeasured))
		})

		It("appraises the cleaned path", func() {
			Expect(f.appraiser.Appraise("/regression/../home/user/notes")).To(Equal(appraisal.Skip))
			Expect(f.entries()).To(HaveLen(1))

			Expect(f.appraiser.Appraise("/regression/./sub/../hello")).To(Equal(appraisal.Remeasured))
			entries := f.entries()
			Expect(entries).To(HaveLen(2))
			Expect(entries[1].PathHint()).To(Equal("/regression/hello"))
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Pass))
			Expect(f.appraiser.Remeasure("regression/hello")).ToNot(Succeed())
		})

		It("reports a missing file", func() {
			_, err := f.appraiser.Appraise("/regression/missing")
			Expect(errors.Is(err, fsys.ErrNotFound)).To(BeTrue())
		})

		It("verifies with the algorithm of the stored reference", func() {
			ref := imahash.Sum(imahash.SHA256, []byte("hello"))
			Expect(f.store.Set("/regression/hello", "security.ima", ref.String())).To(Succeed())
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Pass))

			Expect(f.appraiser.Remeasure("/regression/hello")).To(Succeed())
			entries := f.entries()
			Expect(entries[len(entries)-1].ContentHash()).To(Equal(ref))
		})

		It("remeasures files with a malformed reference", func() {
			Expect(f.store.Set("/regression/hello", "security.ima", "garbage")).To(Succeed())
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Remeasured))
		})

		It("persists the log after every measurement", func() {
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Remeasured))
			Expect(f.asciiLog()).To(Equal(string(ml.FormatASCII(f.entries()))))
			Expect(strings.Count(f.asciiLog(), "\n")).To(Equal(2))
		})
	})

	Describe("tamper detection", func() {
		tamper := func(cfg appraisal.Config) (*fixture, appraisal.Result, error) {
			f := newFixture(map[string]string{"/regression/hello": "hello"}, cfg, register.NewSimulated(crypto.SHA1))
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Remeasured))
			testutil.WriteFile(GinkgoT(), f.fs, "/regression/hello", "HELLO")
			res, err := f.appraiser.Appraise("/regression/hello")
			return f, res, err
		}

		It("reports a mismatch in audit mode", func() {
			f, res, err := tamper(appraisal.DefaultConfig())
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(appraisal.Fail))
			Expect(f.reference("/regression/hello")).To(Equal(imahash.Sum(imahash.SHA384, []byte("hello")).String()))
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Fail))
		})

		It("returns a MismatchError when enforcing", func() {
			cfg := appraisal.DefaultConfig()
			cfg.Enforce = true
			_, res, err := tamper(cfg)
			Expect(res).To(Equal(appraisal.Fail))
			Expect(errors.Is(err, appraisal.ErrIntegrityMismatch)).To(BeTrue())
			var mErr *appraisal.MismatchError
			Expect(errors.As(err, &mErr)).To(BeTrue())
			Expect(mErr.Got).To(Equal(imahash.Sum(imahash.SHA384, []byte("HELLO"))))
			Expect(mErr.Want).To(Equal(imahash.Sum(imahash.SHA384, []byte("hello"))))
		})

		It("heals the reference when configured", func() {
			cfg := appraisal.DefaultConfig()
			cfg.Heal = true
			f, res, err := tamper(cfg)
			Expect(err).ToNot(HaveOccurred())
			Expect(res).To(Equal(appraisal.Fail))
			Expect(f.entries()).To(HaveLen(3))
			Expect(f.appraiser.Appraise("/regression/hello")).To(Equal(appraisal.Pass))
			Expect(f.verify()).To(BeTrue())
		})
	})

	Describe("BootMeasure", func() {
		It("measures exactly the eligible files", func() {
			f := newFixture(map[string]string{
				"/regression/a":        "a",
				"/regression/sub/b":    "b",
				"/regression/sub/dd/c": "c",
				"/home/user/d":         "d",
			}, appraisal.DefaultConfig(), register.NewSimulated(crypto.SHA1))
			Expect(f.appraiser.BootMeasure()).To(Succeed())

			var paths []string
			for _, e := range f.entries() {
				paths = append(paths, e.PathHint())
			}
			Expect(paths).To(Equal([]string{ml.BootAggregatePath, "/regression/a", "/regression/sub/b", "/regression/sub/dd/c"}))
			Expect(f.verify()).To(BeTrue())
			Expect(f.reference("/regression/sub/dd/c")).To(Equal(imahash.Sum(imahash.SHA384, []byte("c")).String()))
		})

		It("aborts a prefix on a register fault and continues with the next", func() {
			fault := &register.DeviceError{Op: "extend", Kind: register.ErrHardwareOther}
			reg := &testutil.FailingRegister{Register: register.NewSimulated(crypto.SHA1), Err: fault}
			f := newFixture(map[string]string{
				"/etc/a": "a",
				"/etc/b": "b",
				"/usr/c": "c",
			}, appraisal.DefaultConfig(), reg)

			err := f.appraiser.BootMeasure()
			Expect(errors.Is(err, register.ErrHardwareOther)).To(BeTrue())
			var paths []string
			for _, e := range f.entries() {
				paths = append(paths, e.PathHint())
			}
			Expect(paths).To(Equal([]string{ml.BootAggregatePath, "/etc/a", "/usr/c"}))
			ok, err := f.verify()
			Expect(ok).To(BeFalse())
			Expect(errors.Is(err, ml.ErrUnverifiable)).To(BeTrue())
		})

		It("measures nothing in off mode", func() {
			cfg := appraisal.DefaultConfig()
			cfg.Mode = appraisal.ModeOff
			f := newFixture(map[string]string{"/etc/a": "a"}, cfg, nil)
			Expect(f.appraiser.BootMeasure()).To(Succeed())
			Expect(f.entries()).To(BeEmpty())
		})
	})

	Describe("process-wide log", func() {
		AfterEach(ml.Teardown)

		It("records into the initialized log", func() {
			fs := testutil.Tree(GinkgoT(), map[string]string{"/etc/a": "a"})
			store := xattr.New(fs, xattr.NewFileBacking(fs, "", nil), nil)
			a := appraisal.New(appraisal.DefaultConfig(), appraisal.Options{FS: fs, Store: store})

			_, err := a.Appraise("/etc/a")
			Expect(errors.Is(err, ml.ErrNotInitialized)).To(BeTrue())

			_, err = ml.Init(ml.Options{})
			Expect(err).ToNot(HaveOccurred())
			Expect(a.Appraise("/etc/a")).To(Equal(appraisal.Remeasured))
			g, err := ml.Acquire()
			Expect(err).ToNot(HaveOccurred())
			defer g.Unlock()
			Expect(g.Len()).To(Equal(1))
			Expect(bytes.Equal(g.Base(), make([]byte, 20))).To(BeTrue())
		})
	})
})
