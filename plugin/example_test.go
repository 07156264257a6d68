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

package plugin_test

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/clock"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/report"
	"github.com/srediag/plugin-healthstats/pkg/stats"
	"github.com/srediag/plugin-healthstats/plugin"
)

func ExamplePlugin() {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	conf := plugin.DefaultConfig()
	conf.Clock = clk
	conf.Logger = logging.New("", io.Discard)

	p, err := plugin.New(conf, plugin.Dependencies{
		Config: api.ConfigFunc(func(_ api.HostSession, key string) (string, bool) {
			if key == plugin.TopicKey {
				return "health.edge", true
			}
			return "", false
		}),
		Stats: api.StatsFunc(func(api.HostSession) stats.EngineStats {
			return stats.EngineStats{CacheHits: 150, CloudLookups: 25}
		}),
		Hits: api.HitCountFunc(func(string) uint64 { return 5 }),
		Sink: api.SinkFunc(func(_ context.Context, _ api.HostSession, topic string, payload []byte) error {
			env, err := report.Decode(payload)
			if err != nil {
				return err
			}
			fmt.Printf("%s: total=%d cache_hits=%d remote=%d window=%s\n", topic,
				env.Stats.TotalLookups, env.Stats.CacheHits, env.Stats.RemoteLookups, env.Window.Duration())
			return nil
		}),
	})
	if err != nil {
		panic(err)
	}

	hs := &api.Session{SessionID: 1, SessionName: "edge"}
	if err := p.Init(hs); err != nil {
		panic(err)
	}
	p.Periodic(context.Background(), hs)
	clk.Advance(10 * time.Minute)
	p.Periodic(context.Background(), hs)
	p.Exit(hs)
	// Output:
	// health.edge: total=180 cache_hits=155 remote=25 window=10m0s
}
