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
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/srediag/plugin-healthstats/pkg/report"
	"github.com/srediag/plugin-healthstats/pkg/transport"
)

func decodeCommand() *cobra.Command {
	var frame bool
	cmd := &cobra.Command{
		Use:   "decode [FILE]",
		Short: "Print a serialized health report",
		Long:  `Print a serialized health report read from FILE, or standard input
when FILE is omitted or "-". With --frame the input is a websocket
frame carrying the topic ahead of the report.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			raw, err := io.ReadAll(in)
			if err != nil {
				return err
			}

			var topic string
			payload := raw
			if frame {
				if topic, payload, err = transport.ParseFrame(raw); err != nil {
					return err
				}
			}
			env, err := report.Decode(payload)
			if err != nil {
				return err
			}
			env.Topic = topic
			return printEnvelope(cmd.OutOrStdout(), env)
		},
	}
	cmd.Flags().BoolVar(&frame, "frame", false, "input is a websocket frame")
	return cmd
}

func printEnvelope(out io.Writer, env *report.Envelope) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	row := func(k string, v any) { fmt.Fprintf(tw, "%s\t%v\n", k, v) }

	row("id", env.ID)
	row("provider", env.Provider)
	if env.Topic != "" {
		row("topic", env.Topic)
	}
	row("node", env.Point.NodeID)
	row("location", env.Point.LocationID)
	row("window", fmt.Sprintf("%s .. %s (%s)",
		env.Window.StartedAt.UTC().Format(time.RFC3339), env.Window.EndedAt.UTC().Format(time.RFC3339), env.Window.Duration()))

	st := env.Stats
	row("total_lookups", st.TotalLookups)
	row("cache_hits", st.CacheHits)
	row("remote_lookups", st.RemoteLookups)
	row("connectivity_failures", st.ConnectivityFailures)
	row("service_failures", st.ServiceFailures)
	row("uncategorized", st.Uncategorized)
	row("min_latency", st.MinLatency)
	row("max_latency", st.MaxLatency)
	row("avg_latency", st.AvgLatency)
	row("cached_entries", st.CachedEntries)
	row("cache_size", st.CacheSize)
	return tw.Flush()
}
