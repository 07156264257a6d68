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

// Package audit records discrete plugin events: sessions coming and going
// and categorization engine restarts detected from counter regressions.
package audit

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/srediag/plugin-healthstats/internal/logging"
)

// Event names emitted by the plugin.
const (
	EventSessionAdded   = "session_added"
	EventSessionRemoved = "session_removed"
	EventEngineRestart  = "engine_restart"
)

// AuditLogger records an audit event. It matches api.Audit.
type AuditLogger interface {
	LogEvent(event string, details map[string]interface{}) error
}

// Nop discards events.
type Nop struct{}

func (Nop) LogEvent(string, map[string]interface{}) error { return nil }

// ZerologAuditor writes events as info-level structured log lines.
type ZerologAuditor struct {
	l *logging.Logger
}

// NewZerologAuditor writes events through l, or the module logger when nil.
func NewZerologAuditor(l *logging.Logger) *ZerologAuditor {
	if l == nil {
		l = logging.Default()
	}
	return &ZerologAuditor{l: l.Named("audit")}
}

func (a *ZerologAuditor) LogEvent(event string, details map[string]interface{}) error {
	e := a.l.Event(logging.LevelInfo)
	if e == nil {
		return nil
	}
	e.Str("event", event).Dict("details", dict(details)).Msg("audit")
	return nil
}

func dict(details map[string]interface{}) *zerolog.Event {
	d := zerolog.Dict()
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d = d.Interface(k, details[k])
	}
	return d
}

// Record is one captured event.
type Record struct {
	Event   string
	Details map[string]interface{}
}

// Recorder keeps events in memory.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

func (r *Recorder) LogEvent(event string, details map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Event: event, Details: details})
	return nil
}

// Records returns a copy of the captured events.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Count returns how many events named event were captured.
func (r *Recorder) Count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, rec := range r.records {
		if rec.Event == event {
			n++
		}
	}
	return n
}
