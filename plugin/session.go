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

package plugin

import (
	"sync"
	"time"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/pkg/offline"
	"github.com/srediag/plugin-healthstats/pkg/stats"
)

// session is the per-session state owned by the registry. Every field is
// guarded by mu, which is held across a whole report computation.
type session struct {
	mu sync.Mutex

	hs          api.HostSession
	removed     bool
	initialized bool

	interval    time.Duration
	topic       string
	windowStart time.Time

	baseline stats.Baseline
	latency  stats.LatencyBounds
	offline  *offline.Tracker

	reports    uint64
	lastReport time.Time
}

func newSession(hs api.HostSession, now time.Time, interval time.Duration, policy offline.Policy) *session {
	return &session{
		hs:          hs,
		interval:    interval,
		windowStart: now,
		latency:     stats.NewLatencyBounds(),
		offline:     offline.New(policy),
	}
}

// tick is the scheduler's verdict for one periodic call.
type tick int

const (
	tickIdle tick = iota
	tickDue
	// tickRebase means the clock went backwards past the window start.
	tickRebase
)

// evaluate is a read-only check of the window against now. mu must be held.
func (s *session) evaluate(now time.Time) tick {
	elapsed := now.Sub(s.windowStart)
	switch {
	case elapsed < 0:
		return tickRebase
	case elapsed >= s.interval:
		return tickDue
	}
	return tickIdle
}

// advance starts the next window at now. mu must be held.
func (s *session) advance(now time.Time, base stats.Baseline) {
	s.baseline = base
	s.windowStart = now
	s.latency = stats.NewLatencyBounds()
	s.reports++
	s.lastReport = now
}

// SessionInfo describes one registered session.
type SessionInfo struct {
	ID          uint64
	Name        string
	Interval    time.Duration
	Topic       string
	WindowStart time.Time
	Reports     uint64
	LastReport  time.Time
	Offline     bool
}

func (s *session) info(id uint64) SessionInfo {
	offline, _ := s.offline.Offline()
	return SessionInfo{
		ID:          id,
		Name:        s.hs.Name(),
		Interval:    s.interval,
		Topic:       s.topic,
		WindowStart: s.windowStart,
		Reports:     s.reports,
		LastReport:  s.lastReport,
		Offline:     offline,
	}
}
