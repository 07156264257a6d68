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

// Package stats holds the counter types read from the categorization engine
// and the auxiliary result cache, and turns cumulative readings into
// per-window health statistics.
package stats

import (
	"math"
	"time"
)

// EngineStats is one reading of the categorization engine's running totals.
// Latency and cache fields are gauges; everything else is cumulative.
type EngineStats struct {
	CacheLookups           uint64
	CacheHits              uint64
	CloudLookups           uint64
	CategorizationFailures uint64
	Uncategorized          uint64

	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration

	CacheEntries uint64
	CacheSize    uint64
}

// Snapshot pairs an engine reading with the auxiliary cache hit counter
// read at the same logical instant.
type Snapshot struct {
	Engine  EngineStats
	AuxHits uint64
	TakenAt time.Time
}

// Baseline holds the cumulative values the next window is measured against.
// CacheHits includes the auxiliary cache hits seen at the last report.
type Baseline struct {
	CacheLookups           uint64
	CacheHits              uint64
	CloudLookups           uint64
	CategorizationFailures uint64
	Uncategorized          uint64
}

// HealthStats is the per-window report body.
type HealthStats struct {
	TotalLookups         uint64
	CacheHits            uint64
	RemoteLookups        uint64
	ConnectivityFailures uint64
	ServiceFailures      uint64
	Uncategorized        uint64

	MinLatency time.Duration
	MaxLatency time.Duration
	AvgLatency time.Duration

	CachedEntries uint64
	CacheSize     uint64
}

// LatencyBounds tracks the lowest and highest lookup latency seen in a window.
type LatencyBounds struct {
	Min time.Duration
	Max time.Duration
}

// NewLatencyBounds returns bounds whose Min is lowered by any real sample.
func NewLatencyBounds() LatencyBounds {
	return LatencyBounds{Min: time.Duration(math.MaxInt64)}
}

// Observe folds one latency sample into the bounds.
func (b *LatencyBounds) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	if d < b.Min {
		b.Min = d
	}
	if d > b.Max {
		b.Max = d
	}
}

// Empty reports whether no sample has been observed.
func (b LatencyBounds) Empty() bool {
	return b.Min == time.Duration(math.MaxInt64)
}

// Apply fills the latency gauges of s from the bounds when the engine does
// not report any itself.
func (b LatencyBounds) Apply(s *EngineStats) {
	if b.Empty() || s.MinLatency != 0 || s.MaxLatency != 0 {
		return
	}
	s.MinLatency = b.Min
	s.MaxLatency = b.Max
	if s.AvgLatency == 0 {
		s.AvgLatency = (b.Min + b.Max) / 2
	}
}
