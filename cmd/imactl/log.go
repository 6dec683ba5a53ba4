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
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/go-ima/imahash"
	"github.com/google/go-ima/ml"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

func newLogCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Inspect the measurement log",
	}
	cmd.AddCommand(newLogShowCmd(a), newLogExportCmd(a), newLogCheckCmd())
	return cmd
}

func snapshot(a *app) ([]ml.Entry, error) {
	sys, _, err := a.boot()
	if err != nil {
		return nil, err
	}
	defer sys.Close()
	g := sys.Log.Lock()
	defer g.Unlock()
	return g.GetAll(), nil
}

func newLogShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Boot and print the ascii measurement log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := snapshot(a)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(ml.FormatASCII(entries))
			return err
		},
	}
}

func newLogExportCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export FILE",
		Short: "Boot and write the measurement log to a host file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")
			entries, err := snapshot(a)
			if err != nil {
				return err
			}
			var data []byte
			switch format {
			case "ascii":
				data = ml.FormatASCII(entries)
			case "binary":
				data = ml.MarshalBinary(entries)
			default:
				return fmt.Errorf("unknown format %q", format)
			}
			return afero.WriteFile(afero.NewOsFs(), args[0], data, 0644)
		},
	}
	cmd.Flags().StringP("format", "f", "ascii", "Output format: ascii or binary.")
	return cmd
}

func newLogCheckCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check FILE",
		Short: "Replay a persisted measurement log against a register value",
		Args:  cobra.ExactArgs(1),
		// Offline: no configuration or subsystem needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			binary, _ := flags.GetBool("binary")
			algName, _ := flags.GetString("hash")
			baseHex, _ := flags.GetString("base")
			finalHex, _ := flags.GetString("final")

			alg, err := imahash.ParseAlgorithm(algName)
			if err != nil {
				return err
			}
			h := alg.CryptoHash()
			final, err := hex.DecodeString(finalHex)
			if err != nil {
				return fmt.Errorf("--final: %v", err)
			}
			base := make([]byte, h.Size())
			if baseHex != "" {
				if base, err = hex.DecodeString(baseHex); err != nil {
					return fmt.Errorf("--base: %v", err)
				}
			}

			data, err := afero.ReadFile(afero.NewOsFs(), args[0])
			if err != nil {
				return err
			}
			var entries []ml.Entry
			if binary {
				entries, err = ml.UnmarshalBinary(data)
			} else {
				entries, err = ml.ParseASCII(bytes.NewReader(data))
			}
			if err != nil {
				return fmt.Errorf("parsing %s: %w", args[0], err)
			}

			err = ml.VerifyEntries(h, base, final, entries)
			var rErr *ml.ReplayError
			if errors.As(err, &rErr) {
				for _, e := range entries {
					if rErr.Affected(e.ID()) {
						fmt.Fprintf(cmd.OutOrStdout(), "invalid: %s\n", e)
					}
				}
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "verified %d entries\n", len(entries))
			return nil
		},
	}
	cmd.Flags().Bool("binary", false, "The log is in the binary format.")
	cmd.Flags().String("hash", "SHA1", "Register hash algorithm.")
	cmd.Flags().String("base", "", "Hex register value before the first entry; zero by default.")
	cmd.Flags().String("final", "", "Hex register value to check against.")
	_ = cmd.MarkFlagRequired("final")
	return cmd
}
