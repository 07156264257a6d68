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

package daemon

import (
	"context"
	"math/rand"
	"net/netip"
	"time"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/pkg/dnscache"
	"github.com/srediag/plugin-healthstats/pkg/urlstats"
)

// engineFeedback is what the categorization engine reports to the plugin
// outside the counters.
type engineFeedback interface {
	RecordLatency(api.HostSession, time.Duration)
	RecordConnectivityFailure(api.HostSession)
	RecordConnectivityRecovery(api.HostSession)
	CloudAvailable(api.HostSession) bool
}

// addresses in the synthetic pool; small enough for the caches to hit
const syntheticHosts = 64

// Traffic plays a categorization engine. Each lookup is tried against the
// auxiliary cache, then the engine cache, then the cloud.
type Traffic struct {
	cfg       SyntheticConfig
	serviceID string
	store     *urlstats.Store
	cache     *dnscache.Cache
	feedback  engineFeedback
	rng       *rand.Rand

	engineCache map[uint64]map[netip.Addr]bool
}

// NewTraffic returns a generator updating store and cache.
func NewTraffic(cfg SyntheticConfig, serviceID string, store *urlstats.Store, cache *dnscache.Cache, fb engineFeedback) *Traffic {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Traffic{
		cfg:         cfg,
		serviceID:   serviceID,
		store:       store,
		cache:       cache,
		feedback:    fb,
		rng:         rand.New(rand.NewSource(seed)),
		engineCache: make(map[uint64]map[netip.Addr]bool),
	}
}

func (t *Traffic) addr() netip.Addr {
	n := t.rng.Intn(syntheticHosts)
	return netip.AddrFrom4([4]byte{10, 0, byte(n >> 8), byte(n)})
}

// Step runs one batch of lookups for every session. Not safe for
// concurrent use.
func (t *Traffic) Step(sessions []api.HostSession) {
	for _, hs := range sessions {
		c := t.store.For(hs.ID())
		seen := t.engineCache[hs.ID()]
		if seen == nil {
			seen = make(map[netip.Addr]bool)
			t.engineCache[hs.ID()] = seen
		}
		for i := 0; i < t.cfg.LookupsPerTick; i++ {
			t.lookup(hs, c, seen, t.addr())
		}
		c.SetCache(uint64(len(seen)), syntheticHosts)
	}
}

func (t *Traffic) lookup(hs api.HostSession, c *urlstats.Counters, seen map[netip.Addr]bool, ip netip.Addr) {
	if _, ok := t.cache.Lookup(ip); ok {
		return
	}
	if seen[ip] {
		c.RecordCacheHit()
		return
	}
	if !t.feedback.CloudAvailable(hs) {
		c.RecordUncategorized()
		return
	}
	if t.rng.Float64() < t.cfg.FailureRate {
		c.RecordFailure()
		t.feedback.RecordConnectivityFailure(hs)
		return
	}
	latency := time.Duration(5+t.rng.Intn(95)) * time.Millisecond
	c.RecordCloudLookup(latency)
	t.feedback.RecordLatency(hs, latency)
	t.feedback.RecordConnectivityRecovery(hs)
	seen[ip] = true

	action := dnscache.ActionAllow
	if t.rng.Intn(10) == 0 {
		action = dnscache.ActionBlock
	}
	t.cache.Add(ip, dnscache.Entry{ServiceID: t.serviceID, Action: action})
}

// Run steps every interval until ctx is done.
func (t *Traffic) Run(ctx context.Context, sessions func() []api.HostSession) {
	ticker := time.NewTicker(t.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			t.cache.Purge(now)
			t.Step(sessions())
		}
	}
}
