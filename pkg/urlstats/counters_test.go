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

package urlstats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/pkg/stats"
)

func TestCounters(t *testing.T) {
	var c Counters
	assert.Equal(t, stats.EngineStats{}, c.Stats())

	c.RecordCacheHit()
	c.RecordCacheHit()
	c.RecordCloudLookup(20 * time.Millisecond)
	c.RecordCloudLookup(4*time.Millisecond + 300*time.Microsecond)
	c.RecordCloudLookup(0)
	c.RecordFailure()
	c.RecordUncategorized()
	c.RecordUncategorized()
	c.SetCache(12, 100)

	s := c.Stats()
	assert.Equal(t, uint64(5), s.CacheLookups)
	assert.Equal(t, uint64(2), s.CacheHits)
	assert.Equal(t, uint64(3), s.CloudLookups)
	assert.Equal(t, uint64(1), s.CategorizationFailures)
	assert.Equal(t, uint64(2), s.Uncategorized)
	assert.Equal(t, 4*time.Millisecond, s.MinLatency)
	assert.Equal(t, 20*time.Millisecond, s.MaxLatency)
	assert.Equal(t, 12*time.Millisecond, s.AvgLatency)
	assert.Equal(t, uint64(12), s.CacheEntries)
	assert.Equal(t, uint64(100), s.CacheSize)

	c.Reset()
	s = c.Stats()
	assert.Equal(t, uint64(0), s.CacheHits)
	assert.Equal(t, time.Duration(0), s.MinLatency)
	// the cache outlives an engine restart
	assert.Equal(t, uint64(12), s.CacheEntries)
}

func TestCounters_ConcurrentLatency(t *testing.T) {
	var c Counters
	var wg sync.WaitGroup
	for w := 1; w <= 10; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.RecordCloudLookup(time.Duration(w) * time.Millisecond)
			}
		}(w)
	}
	wg.Wait()

	s := c.Stats()
	assert.Equal(t, uint64(1000), s.CloudLookups)
	assert.Equal(t, time.Millisecond, s.MinLatency)
	assert.Equal(t, 10*time.Millisecond, s.MaxLatency)
}

func TestStore(t *testing.T) {
	st := NewStore()
	a := &api.Session{SessionID: 1}
	b := &api.Session{SessionID: 2}

	assert.Equal(t, stats.EngineStats{}, st.GetStats(a))

	st.For(1).RecordCacheHit()
	st.For(1).RecordCacheHit()
	st.For(2).RecordFailure()
	assert.Same(t, st.For(1), st.For(1))

	assert.Equal(t, uint64(2), st.GetStats(a).CacheHits)
	assert.Equal(t, uint64(1), st.GetStats(b).CategorizationFailures)

	st.Delete(1)
	assert.Equal(t, stats.EngineStats{}, st.GetStats(a))
}

func TestStore_ShardsSequentialIDs(t *testing.T) {
	used := map[uint32]bool{}
	for id := uint64(1); id <= 64; id++ {
		used[shard(id)%32] = true
	}
	assert.Greater(t, len(used), 16)

	st := NewStore()
	var wg sync.WaitGroup
	for id := uint64(1); id <= 64; id++ {
		wg.Add(1)
		go func(id uint64) {
			defer wg.Done()
			st.For(id).RecordCacheHit()
		}(id)
	}
	wg.Wait()
	for id := uint64(1); id <= 64; id++ {
		assert.Equal(t, uint64(1), st.GetStats(&api.Session{SessionID: id}).CacheHits)
	}
}
