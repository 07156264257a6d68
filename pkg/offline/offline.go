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

// Package offline tracks the categorization engine's cloud connectivity.
// It counts connectivity failures between reports and decides when an
// offline engine should try the cloud again.
package offline

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy controls the re-check schedule while offline.
type Policy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the backoff randomization factor, 0 for a fixed schedule.
	Jitter float64
}

// DefaultPolicy re-checks after 30s, doubling up to 10 minutes.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: 30 * time.Second,
		MaxInterval:     10 * time.Minute,
		Multiplier:      2,
		Jitter:          0.1,
	}
}

// Tracker is safe for concurrent use.
type Tracker struct {
	mu sync.Mutex

	failures uint64
	total    uint64

	offline   bool
	since     time.Time
	nextCheck time.Time

	policy Policy
	bo     *backoff.ExponentialBackOff
}

// New returns an online tracker.
func New(p Policy) *Tracker {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.InitialInterval
	bo.MaxInterval = p.MaxInterval
	bo.Multiplier = p.Multiplier
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0
	bo.Reset()
	return &Tracker{policy: p, bo: bo}
}

// Failure records one failed cloud request at now and schedules the next
// re-check.
func (t *Tracker) Failure(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.failures++
	t.total++
	if !t.offline {
		t.offline = true
		t.since = now
		t.bo.Reset()
	}
	next := t.bo.NextBackOff()
	if next == backoff.Stop {
		next = t.policy.MaxInterval
	}
	t.nextCheck = now.Add(next)
}

// Recovered marks the cloud reachable again.
func (t *Tracker) Recovered() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.offline = false
	t.nextCheck = time.Time{}
	t.bo.Reset()
}

// Available reports whether a cloud request should be attempted at now:
// always when online, and once the re-check time is reached when offline.
func (t *Tracker) Available(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return !t.offline || !now.Before(t.nextCheck)
}

// Offline reports the current state and since when the engine is offline.
func (t *Tracker) Offline() (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.offline, t.since
}

// NextCheck returns the scheduled re-check time; zero when online.
func (t *Tracker) NextCheck() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nextCheck
}

// Drain returns the failures recorded since the previous Drain and resets
// the count.
func (t *Tracker) Drain() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.failures
	t.failures = 0
	return n
}

// Total returns every failure recorded over the tracker's lifetime.
func (t *Tracker) Total() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.total
}
