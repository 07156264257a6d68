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

// Package report builds, encodes and emits per-window health reports.
package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/srediag/plugin-healthstats/pkg/stats"
)

// Point identifies where the statistics were observed.
type Point struct {
	NodeID     string
	LocationID string
}

// Window is the reporting interval a report covers.
type Window struct {
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration returns the window length.
func (w Window) Duration() time.Duration {
	return w.EndedAt.Sub(w.StartedAt)
}

// Envelope is one health report plus its routing metadata.
type Envelope struct {
	ID       uuid.UUID
	Provider string
	Topic    string
	Point    Point
	Window   Window
	Stats    stats.HealthStats
}

// NewEnvelope stamps a fresh report id.
func NewEnvelope(provider, topic string, p Point, w Window, hs stats.HealthStats) *Envelope {
	return &Envelope{
		ID:       uuid.New(),
		Provider: provider,
		Topic:    topic,
		Point:    p,
		Window:   w,
		Stats:    hs,
	}
}
