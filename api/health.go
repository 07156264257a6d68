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

package api

import "github.com/srediag/plugin-healthstats/pkg/stats"

// StatsSource exposes the categorization engine's running totals for a
// session. Reads are synchronous and must not perform network I/O.
type StatsSource interface {
	GetStats(s HostSession) stats.EngineStats
}

// HitCounter exposes the auxiliary result cache's cumulative hit counter for
// one service.
type HitCounter interface {
	HitCount(serviceID string) uint64
}

// StatsFunc adapts a function to StatsSource.
type StatsFunc func(s HostSession) stats.EngineStats

func (f StatsFunc) GetStats(s HostSession) stats.EngineStats { return f(s) }

// HitCountFunc adapts a function to HitCounter.
type HitCountFunc func(serviceID string) uint64

func (f HitCountFunc) HitCount(serviceID string) uint64 { return f(serviceID) }
