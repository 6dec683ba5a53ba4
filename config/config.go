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

// Package config loads the measurement subsystem configuration from a YAML
// file, IMA_ environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/go-ima/appraisal"
	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/ml"
	"github.com/google/go-ima/register"
	"github.com/google/go-ima/xattr"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. IMA_REGISTER_BACKEND.
const EnvPrefix = "IMA"

// Attribute store backings.
const (
	BackingFile   = "file"
	BackingSQLite = "sqlite"
)

// Config is the full subsystem configuration.
type Config struct {
	// Root is the host directory the measured tree is read from.
	Root      string          `mapstructure:"root"`
	LogLevel  string          `mapstructure:"log-level"`
	Register  RegisterConfig  `mapstructure:"register"`
	Log       LogConfig       `mapstructure:"log"`
	Appraisal AppraisalConfig `mapstructure:"appraisal"`
	XAttr     XAttrConfig     `mapstructure:"xattr"`
}

// RegisterConfig selects the platform register.
type RegisterConfig struct {
	Backend string `mapstructure:"backend"`
	// Index is the register index; negative selects the backend default.
	Index         int    `mapstructure:"index"`
	Algorithm     string `mapstructure:"algorithm"`
	TPMPath       string `mapstructure:"tpm-path"`
	TDXPath       string `mapstructure:"tdx-path"`
	ResetOnInit   bool   `mapstructure:"reset-on-init"`
	BootAggregate bool   `mapstructure:"boot-aggregate"`
}

// LogConfig configures the persisted measurement log.
type LogConfig struct {
	ASCIIPath string `mapstructure:"ascii-path"`
	// BinaryPath is optional.
	BinaryPath   string `mapstructure:"binary-path"`
	DeferredSync bool   `mapstructure:"deferred-sync"`
}

// AppraisalConfig is the appraisal policy.
type AppraisalConfig struct {
	Mode      string   `mapstructure:"mode"`
	Prefixes  []string `mapstructure:"prefixes"`
	Algorithm string   `mapstructure:"algorithm"`
	ChunkSize int      `mapstructure:"chunk-size"`
	Enforce   bool     `mapstructure:"enforce"`
	Heal      bool     `mapstructure:"heal"`
	Attribute string   `mapstructure:"attribute"`
}

// XAttrConfig configures the attribute store.
type XAttrConfig struct {
	Backing string `mapstructure:"backing"`
	// Path is the record file of the file backing, inside Root.
	Path string `mapstructure:"path"`
	// DSN is the database of the sqlite backing, on the host.
	DSN string `mapstructure:"dsn"`
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	a := appraisal.DefaultConfig()
	v.SetDefault("root", "/")
	v.SetDefault("log-level", "info")
	v.SetDefault("register.backend", register.BackendSimulated)
	v.SetDefault("register.index", -1)
	v.SetDefault("register.algorithm", "")
	v.SetDefault("register.tpm-path", register.DefaultTPMPath)
	v.SetDefault("register.tdx-path", register.DefaultTDXPath)
	v.SetDefault("register.reset-on-init", false)
	v.SetDefault("register.boot-aggregate", true)
	v.SetDefault("log.ascii-path", ml.DefaultASCIIPath)
	v.SetDefault("log.binary-path", "")
	v.SetDefault("log.deferred-sync", false)
	v.SetDefault("appraisal.mode", a.Mode.String())
	v.SetDefault("appraisal.prefixes", a.Prefixes)
	v.SetDefault("appraisal.algorithm", a.Algorithm.String())
	v.SetDefault("appraisal.chunk-size", a.ChunkSize)
	v.SetDefault("appraisal.enforce", a.Enforce)
	v.SetDefault("appraisal.heal", a.Heal)
	v.SetDefault("appraisal.attribute", a.Attribute)
	v.SetDefault("xattr.backing", BackingFile)
	v.SetDefault("xattr.path", xattr.DefaultPath)
	v.SetDefault("xattr.dsn", "")
}

// Load reads file (if not empty) and the environment into a validated
// Config. Flags bound to v before Load take precedence.
func Load(v *viper.Viper, file string) (Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", file, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Default returns the configuration with no file, environment or flags.
func Default() Config {
	v := viper.New()
	SetDefaults(v)
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		panic(fmt.Sprintf("decoding default config: %v", err))
	}
	return c
}

// Validate checks every field, reporting all problems.
func (c Config) Validate() error {
	var errs []error
	switch c.Register.Backend {
	case register.BackendNone, register.BackendSimulated, register.BackendTPM, register.BackendTDX:
	default:
		errs = append(errs, fmt.Errorf("register.backend: unknown backend %q", c.Register.Backend))
	}
	if c.Register.Algorithm != "" {
		if _, err := imahash.ParseAlgorithm(c.Register.Algorithm); err != nil {
			errs = append(errs, fmt.Errorf("register.algorithm: %w", err))
		}
	}
	if c.Register.Backend == register.BackendTDX && c.Register.Index >= 0 && c.Register.Index < register.FirstExtendableRTMR {
		errs = append(errs, fmt.Errorf("register.index: RTMR[%d] is not extendable", c.Register.Index))
	}
	if c.Log.ASCIIPath == "" {
		errs = append(errs, errors.New("log.ascii-path: must be set"))
	}
	if _, err := appraisal.ParseMode(c.Appraisal.Mode); err != nil {
		errs = append(errs, fmt.Errorf("appraisal.mode: %w", err))
	}
	if _, err := imahash.ParseAlgorithm(c.Appraisal.Algorithm); err != nil {
		errs = append(errs, fmt.Errorf("appraisal.algorithm: %w", err))
	}
	if c.Appraisal.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("appraisal.chunk-size: must be positive, got %d", c.Appraisal.ChunkSize))
	}
	for _, p := range c.Appraisal.Prefixes {
		if !strings.HasPrefix(p, "/") {
			errs = append(errs, fmt.Errorf("appraisal.prefixes: %q is not absolute", p))
		}
	}
	if err := xattr.CheckNamespace(c.Appraisal.Attribute); err != nil {
		errs = append(errs, fmt.Errorf("appraisal.attribute: %w", err))
	}
	switch c.XAttr.Backing {
	case BackingFile:
	case BackingSQLite:
		if c.XAttr.DSN == "" {
			errs = append(errs, errors.New("xattr.dsn: required by the sqlite backing"))
		}
	default:
		errs = append(errs, fmt.Errorf("xattr.backing: unknown backing %q", c.XAttr.Backing))
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		errs = append(errs, fmt.Errorf("log-level: %w", err))
	}
	return errors.Join(errs...)
}

// Level returns the slog level of LogLevel, defaulting to info.
func (c Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// RegisterOptions converts the register section.
func (c Config) RegisterOptions(logger *slog.Logger) register.Config {
	alg, _ := imahash.ParseAlgorithm(c.Register.Algorithm)
	return register.Config{
		Backend:   c.Register.Backend,
		Algorithm: alg,
		TPMPath:   c.Register.TPMPath,
		TDXPath:   c.Register.TDXPath,
		Logger:    logger,
	}
}

// RegisterIndex returns the configured index or the backend default.
func (c Config) RegisterIndex() int {
	if c.Register.Index < 0 {
		return register.DefaultIndex(c.Register.Backend)
	}
	return c.Register.Index
}

// AppraisalOptions converts the appraisal section. The config must be valid.
func (c Config) AppraisalOptions() appraisal.Config {
	mode, _ := appraisal.ParseMode(c.Appraisal.Mode)
	alg, _ := imahash.ParseAlgorithm(c.Appraisal.Algorithm)
	return appraisal.Config{
		Mode:      mode,
		Prefixes:  append([]string(nil), c.Appraisal.Prefixes...),
		Algorithm: alg,
		ChunkSize: c.Appraisal.ChunkSize,
		Enforce:   c.Appraisal.Enforce,
		Heal:      c.Appraisal.Heal,
		Attribute: c.Appraisal.Attribute,
	}
}
