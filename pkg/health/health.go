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

// Package health provides the allocation guard consulted before a new
// session is created, and the liveness and readiness endpoints.
package health

import (
	"fmt"
	"sort"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/srediag/plugin-healthstats/internal/logging"
)

// MemoryGuard refuses new allocations when available system memory drops
// below MinAvailable bytes. It satisfies registry.Guard.
type MemoryGuard struct {
	MinAvailable uint64

	// read defaults to mem.VirtualMemory.
	read func() (*mem.VirtualMemoryStat, error)
}

// NewMemoryGuard returns a guard requiring minAvailable free bytes.
func NewMemoryGuard(minAvailable uint64) *MemoryGuard {
	return &MemoryGuard{MinAvailable: minAvailable, read: mem.VirtualMemory}
}

// Allow returns an error when memory is short. A failed reading allows
// the allocation.
func (g *MemoryGuard) Allow() error {
	if g == nil || g.MinAvailable == 0 {
		return nil
	}
	read := g.read
	if read == nil {
		read = mem.VirtualMemory
	}
	vm, err := read()
	if err != nil {
		logging.Default().Debugf("health: reading virtual memory: %v", err)
		return nil
	}
	if vm.Available < g.MinAvailable {
		return fmt.Errorf("available memory %d below %d bytes", vm.Available, g.MinAvailable)
	}
	return nil
}

// Check adapts the guard to a readiness check.
func (g *MemoryGuard) Check() healthcheck.Check {
	return g.Allow
}

// Checks names the checks served by a handler.
type Checks struct {
	Liveness  map[string]healthcheck.Check
	Readiness map[string]healthcheck.Check
	// Timeout bounds each check; zero leaves checks unbounded.
	Timeout time.Duration
}

// NewHandler returns an http.Handler serving /live and /ready. Check
// results are exported on reg under namespace when reg is not nil.
func NewHandler(reg prometheus.Registerer, namespace string, checks Checks) healthcheck.Handler {
	var h healthcheck.Handler
	if reg != nil {
		h = healthcheck.NewMetricsHandler(reg, namespace)
	} else {
		h = healthcheck.NewHandler()
	}
	for _, name := range sortedKeys(checks.Liveness) {
		h.AddLivenessCheck(name, bounded(checks.Liveness[name], checks.Timeout))
	}
	for _, name := range sortedKeys(checks.Readiness) {
		h.AddReadinessCheck(name, bounded(checks.Readiness[name], checks.Timeout))
	}
	return h
}

func bounded(c healthcheck.Check, d time.Duration) healthcheck.Check {
	if d <= 0 {
		return c
	}
	return healthcheck.Timeout(c, d)
}

func sortedKeys(m map[string]healthcheck.Check) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
