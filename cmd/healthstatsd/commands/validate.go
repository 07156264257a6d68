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

package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/srediag/plugin-healthstats/internal/daemon"
	"github.com/srediag/plugin-healthstats/plugin"
)

func validateCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a config file and print the sessions it defines",
		Args:  cobra.NoArgs,
		RunE:  func(cmd *cobra.Command, _ []string) error {
			cfg, err := daemon.NewLoader(configPath).Load()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sink: %s\n", cfg.Sink.Kind)
			fmt.Fprintf(out, "default interval: %s\n", cfg.DefaultInterval)
			for _, s := range cfg.Sessions {
				interval := s.Config[plugin.IntervalKey]
				if interval == "" {
					interval = "default"
				}
				topic := s.Config[plugin.TopicKey]
				if topic == "" {
					topic = "(local only)"
				}
				fmt.Fprintf(out, "session %d %q: interval %s, topic %s\n", s.SessionID, s.SessionName, interval, topic)
			}
			return nil
		},
	}
	addConfigFlag(cmd.Flags(), &configPath)
	return cmd
}
