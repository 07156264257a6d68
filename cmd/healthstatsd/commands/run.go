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
	"github.com/srediag/plugin-healthstats/internal/logging"
)

func runCommand() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the reporting daemon",
		Long:  `Run the reporting daemon. Sessions are read from the config file,
which is watched: adding, removing or reconfiguring a session takes
effect without a restart.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loader := daemon.NewLoader(configPath)
			cfg, err := loader.Load()
			if err != nil {
				return err
			}
			d, err := daemon.New(cfg)
			if err != nil {
				return fmt.Errorf("start daemon: %w", err)
			}

			log := logging.Default().Named("healthstatsd")
			loader.Watch(func(next *daemon.Config) {
				if err := d.Reload(next); err != nil {
					log.Warnf("reload: %v", err)
				}
			})
			defer loader.Stop()

			log.Infof("healthstatsd %s starting with %d sessions", Version, len(cfg.Sessions))
			return d.Run(cmd.Context())
		},
	}
	addConfigFlag(cmd.Flags(), &configPath)
	return cmd
}
