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

	"github.com/google/go-ima/ima"
	"github.com/spf13/cobra"
)

func newXattrCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "xattr",
		Short: "Read and write stored extended attributes",
	}
	withStore := func(f func(cmd *cobra.Command, sys *ima.System, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			sys, err := a.open()
			if err != nil {
				return err
			}
			defer sys.Close()
			return f(cmd, sys, args)
		}
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "get PATH ATTR",
			Short: "Print the current value of an attribute",
			Args:  cobra.ExactArgs(2),
			RunE: withStore(func(cmd *cobra.Command, sys *ima.System, args []string) error {
				v, err := sys.Store.Get(args[0], args[1])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "set PATH ATTR VALUE",
			Short: "Append a new value for an attribute",
			Args:  cobra.ExactArgs(3),
			RunE: withStore(func(cmd *cobra.Command, sys *ima.System, args []string) error {
				return sys.Store.Set(args[0], args[1], args[2])
			}),
		},
		&cobra.Command{
			Use:   "list PATH",
			Short: "Print every attribute of a file",
			Args:  cobra.ExactArgs(1),
			RunE: withStore(func(cmd *cobra.Command, sys *ima.System, args []string) error {
				entries, err := sys.Store.List(args[0])
				if err != nil {
					return err
				}
				for _, e := range entries {
					fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", e.Attribute, e.Value)
				}
				return nil
			}),
		},
	)
	return cmd
}
