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

// Package urlstats keeps the categorization engine's running totals. The
// counters are cumulative from engine start and reset when it restarts.
package urlstats

import (
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/pkg/stats"
)

// Counters is one engine's running totals. All methods are safe for
// concurrent use.
type Counters struct {
	cacheLookups  atomic.Uint64
	cacheHits     atomic.Uint64
	cloudLookups  atomic.Uint64
	failures      atomic.Uint64
	uncategorized atomic.Uint64

	// latencies in nanoseconds; minLatency 0 means no sample yet
	minLatency atomic.Int64
	maxLatency atomic.Int64
	sumLatency atomic.Int64
	samples    atomic.Int64

	cacheEntries atomic.Uint64
	cacheSize    atomic.Uint64
}

// RecordCacheHit counts a lookup answered from the engine cache.
func (c *Counters) RecordCacheHit() {
	c.cacheLookups.Add(1)
	c.cacheHits.Add(1)
}

// RecordCloudLookup counts a cache miss resolved by the cloud service in
// latency.
func (c *Counters) RecordCloudLookup(latency time.Duration) {
	c.cacheLookups.Add(1)
	c.cloudLookups.Add(1)
	if latency <= 0 {
		return
	}
	n := int64(latency)
	c.sumLatency.Add(n)
	c.samples.Add(1)
	for {
		cur := c.minLatency.Load()
		if cur != 0 && cur <= n {
			break
		}
		if c.minLatency.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := c.maxLatency.Load()
		if cur >= n {
			break
		}
		if c.maxLatency.CompareAndSwap(cur, n) {
			break
		}
	}
}

// RecordFailure counts a categorization request the service failed.
func (c *Counters) RecordFailure() {
	c.failures.Add(1)
}

// RecordUncategorized counts a lookup that returned no category.
func (c *Counters) RecordUncategorized() {
	c.uncategorized.Add(1)
}

// SetCache updates the cache gauges.
func (c *Counters) SetCache(entries, size uint64) {
	c.cacheEntries.Store(entries)
	c.cacheSize.Store(size)
}

// Stats returns a reading of the totals. Latencies have millisecond
// precision.
func (c *Counters) Stats() stats.EngineStats {
	s := stats.EngineStats{
		CacheLookups:           c.cacheLookups.Load(),
		CacheHits:              c.cacheHits.Load(),
		CloudLookups:           c.cloudLookups.Load(),
		CategorizationFailures: c.failures.Load(),
		Uncategorized:          c.uncategorized.Load(),
		MinLatency:             ms(c.minLatency.Load()),
		MaxLatency:             ms(c.maxLatency.Load()),
		CacheEntries:           c.cacheEntries.Load(),
		CacheSize:              c.cacheSize.Load(),
	}
	if n := c.samples.Load(); n > 0 {
		s.AvgLatency = ms(c.sumLatency.Load() / n)
	}
	return s
}

func ms(ns int64) time.Duration {
	return time.Duration(ns).Truncate(time.Millisecond)
}

// Reset zeroes every counter, as an engine restart does.
func (c *Counters) Reset() {
	c.cacheLookups.Store(0)
	c.cacheHits.Store(0)
	c.cloudLookups.Store(0)
	c.failures.Store(0)
	c.uncategorized.Store(0)
	c.minLatency.Store(0)
	c.maxLatency.Store(0)
	c.sumLatency.Store(0)
	c.samples.Store(0)
}

// Store holds one Counters per session and implements api.StatsSource.
type Store struct {
	m cmap.ConcurrentMap[uint64, *Counters]
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{m: cmap.NewWithCustomShardingFunction[uint64, *Counters](shard)}
}

// shard spreads sequential session ids across the map shards.
func shard(id uint64) uint32 {
	return uint32((id * 0x9e3779b97f4a7c15) >> 32)
}

// For returns the counters of session id, creating them on first use.
func (s *Store) For(id uint64) *Counters {
	if c, ok := s.m.Get(id); ok {
		return c
	}
	return s.m.Upsert(id, nil, func(exist bool, cur, _ *Counters) *Counters {
		if exist {
			return cur
		}
		return &Counters{}
	})
}

// Delete drops the counters of session id.
func (s *Store) Delete(id uint64) {
	s.m.Remove(id)
}

// GetStats reads the totals of hs. Unknown sessions read as zero.
func (s *Store) GetStats(hs api.HostSession) stats.EngineStats {
	if c, ok := s.m.Get(hs.ID()); ok {
		return c.Stats()
	}
	return stats.EngineStats{}
}
