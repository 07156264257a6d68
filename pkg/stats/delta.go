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

package stats

// Field names reported in Result.Regressions.
const (
	FieldTotalLookups           = "total_lookups"
	FieldCacheHits              = "cache_hits"
	FieldCloudLookups           = "cloud_lookups"
	FieldCategorizationFailures = "categorization_failures"
	FieldUncategorized          = "uncategorized"
)

// Result is the outcome of one Compute pass.
type Result struct {
	Stats    HealthStats
	Baseline Baseline
	// Regressions names every counter that went backwards since the
	// baseline. Their deltas were clamped to the raw current value.
	Regressions []string
}

// Regressed reports whether any cumulative counter decreased.
func (r Result) Regressed() bool {
	return len(r.Regressions) > 0
}

// Compute turns a snapshot into window deltas measured against base and
// returns the baseline for the next window.
//
// Every transaction is first a cache lookup, so engine cache hits plus cloud
// lookups is the total traffic. Auxiliary cache hits are cumulative and are
// combined with the engine's cache hits; the combined value becomes the new
// cache-hit baseline. A counter lower than its baseline means the source
// restarted: its delta is the raw current value, never a negative number.
// Gauges are passed through.
func Compute(base Baseline, snap Snapshot, connectivityFailures uint64) Result {
	var res Result
	e := snap.Engine

	hits := e.CacheHits + snap.AuxHits
	total := hits + e.CloudLookups

	res.Stats.TotalLookups = res.delta(FieldTotalLookups, total, base.CacheHits+base.CloudLookups)
	res.Stats.CacheHits = res.delta(FieldCacheHits, hits, base.CacheHits)
	res.Stats.RemoteLookups = res.delta(FieldCloudLookups, e.CloudLookups, base.CloudLookups)
	res.Stats.ServiceFailures = res.delta(FieldCategorizationFailures, e.CategorizationFailures, base.CategorizationFailures)
	res.Stats.Uncategorized = res.delta(FieldUncategorized, e.Uncategorized, base.Uncategorized)
	res.Stats.ConnectivityFailures = connectivityFailures

	res.Stats.MinLatency = e.MinLatency
	res.Stats.MaxLatency = e.MaxLatency
	res.Stats.AvgLatency = e.AvgLatency
	res.Stats.CachedEntries = e.CacheEntries
	res.Stats.CacheSize = e.CacheSize

	res.Baseline = Baseline{
		CacheLookups:           e.CacheLookups,
		CacheHits:              hits,
		CloudLookups:           e.CloudLookups,
		CategorizationFailures: e.CategorizationFailures,
		Uncategorized:          e.Uncategorized,
	}
	return res
}

func (r *Result) delta(field string, cur, prev uint64) uint64 {
	if cur >= prev {
		return cur - prev
	}
	r.Regressions = append(r.Regressions, field)
	return cur
}
