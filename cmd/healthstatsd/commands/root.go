/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package commands is the healthstatsd command line.
package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/srediag/plugin-healthstats/internal/logging"
)

// Version is set at build time.
var Version = "dev"

type globalOptions struct {
	logLevel  string
	logPretty bool
}

func (o *globalOptions) addFlags(flags *pflag.FlagSet) {
	flags.StringVar(&o.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error, off)")
	flags.BoolVar(&o.logPretty, "log-pretty", false, "human readable log output")
}

func (o *globalOptions) apply(cmd *cobra.Command) error {
	lvl, ok := logging.ParseLevel(o.logLevel)
	if !ok {
		return fmt.Errorf("unknown log level %q", o.logLevel)
	}
	logging.SetLogLevel(lvl)
	if o.logPretty {
		logging.SetDefault(logging.NewConsole("", cmd.ErrOrStderr()))
	}
	return nil
}

// Root returns the healthstatsd command tree. Commands run with ctx.
func Root(ctx context.Context) *cobra.Command {
	var opts globalOptions
	cmd := &cobra.Command{
		Use:               "healthstatsd",
		Short:             "Report per-session categorization health statistics",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SetContext(ctx)
			return opts.apply(cmd)
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	opts.addFlags(cmd.PersistentFlags())

	cmd.AddCommand(runCommand())
	cmd.AddCommand(validateCommand())
	cmd.AddCommand(decodeCommand())
	return cmd
}

func addConfigFlag(flags *pflag.FlagSet, path *string) {
	flags.StringVarP(path, "config", "c", "", "config file (YAML, JSON or TOML)")
}
