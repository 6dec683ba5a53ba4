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

package main

import (
	"fmt"
	"log/slog"

	"github.com/google/go-ima/config"
	"github.com/google/go-ima/fsys"
	"github.com/google/go-ima/ima"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app holds the state shared by subcommands.
type app struct {
	v      *viper.Viper
	cfg    config.Config
	logger *slog.Logger
}

// open initialises the subsystem over the configured root.
func (a *app) open() (*ima.System, error) {
	return ima.Open(a.cfg, fsys.NewOS(a.cfg.Root), a.logger)
}

// boot opens the subsystem and runs the boot measurement.
func (a *app) boot() (*ima.System, ima.Report, error) {
	sys, err := a.open()
	if err != nil {
		return nil, ima.Report{}, err
	}
	report, err := sys.Boot()
	if err != nil {
		sys.Close()
		return nil, report, err
	}
	if report.WalkErr != nil {
		a.logger.Warn("boot measurement incomplete", "error", report.WalkErr)
	}
	return sys, report, nil
}

// NewRootCmd builds the imactl command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	cmd := &cobra.Command{
		Use:           "imactl",
		Short:         "Integrity measurement and appraisal tool",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			file, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(a.v, file)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: cfg.Level()}))
			slog.SetDefault(a.logger)
			return nil
		},
	}
	flags := cmd.PersistentFlags()
	flags.StringP("config", "c", "", "Path to a YAML configuration file.")
	flags.String("log-level", "info", "Log level: debug, info, warn or error.")
	flags.StringP("root", "r", "/", "Directory holding the measured tree.")
	flags.String("register", "simulated", "Register backend: none, simulated, tpm or tdx.")
	flags.Int("register-index", -1, "Register index; negative selects the backend default.")
	flags.Bool("enforce", false, "Fail appraisals whose content does not match the reference hash.")
	for key, flag := range map[string]string{
		"log-level":         "log-level",
		"root":              "root",
		"register.backend":  "register",
		"register.index":    "register-index",
		"appraisal.enforce": "enforce",
	} {
		_ = a.v.BindPFlag(key, flags.Lookup(flag))
	}
	cmd.CompletionOptions = cobra.CompletionOptions{
		DisableDefaultCmd: true,
	}

	cmd.AddCommand(
		newBootCmd(a),
		newAppraiseCmd(a),
		newVerifyCmd(a),
		newLogCmd(a),
		newXattrCmd(a),
		newVersionCmd(),
	)
	return cmd
}

func newBootCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "boot",
		Short: "Measure every configured prefix and verify the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, report, err := a.boot()
			if err != nil {
				return err
			}
			defer sys.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\nverified: %t\nunverifiable: %t\n", report.Entries, report.Verified, report.Unverifiable)
			return nil
		},
	}
}

func newAppraiseCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "appraise PATH...",
		Short: "Appraise files against their reference hashes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// No boot walk: it would replace the references being checked.
			sys, err := a.open()
			if err != nil {
				return err
			}
			defer sys.Close()
			var failed int
			for _, p := range args {
				res, err := sys.Appraiser.Appraise(p)
				if err != nil {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %v\n", res, p, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", res, p)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d appraisals failed", failed, len(args))
			}
			return nil
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Boot and verify the measurement log against the register",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sys, report, err := a.boot()
			if err != nil {
				return err
			}
			defer sys.Close()
			switch {
			case report.Unverifiable:
				fmt.Fprintln(cmd.OutOrStdout(), "unverifiable")
				return fmt.Errorf("measurement log is not verifiable")
			case !report.Verified:
				fmt.Fprintln(cmd.OutOrStdout(), "failed")
				return fmt.Errorf("measurement log failed to verify")
			}
			fmt.Fprintln(cmd.OutOrStdout(), "verified")
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show version",
		// Skip configuration loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
	return cmd
}

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"
