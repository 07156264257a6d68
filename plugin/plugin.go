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

// Package plugin implements the session-scoped health statistics plugin.
//
// The host drives each session through Init, Update, Periodic and Exit. On
// every Periodic tick the plugin checks whether the session's reporting
// window has elapsed; when it has, it reads the categorization engine's
// cumulative counters and the auxiliary cache hit counter, turns them into
// window deltas against the session baseline, advances the window and hands
// the report to the transport.
package plugin

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/clock"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/audit"
	"github.com/srediag/plugin-healthstats/pkg/registry"
	"github.com/srediag/plugin-healthstats/pkg/report"
	"github.com/srediag/plugin-healthstats/pkg/stats"
)

// Dependencies are the host collaborators of the plugin. Only Stats is
// required.
type Dependencies struct {
	Config api.ConfigAccessor
	Stats  api.StatsSource
	Hits   api.HitCounter
	Sink   api.Sink
}

// Plugin is safe for concurrent use across sessions.
type Plugin struct {
	conf  *Config
	deps  Dependencies
	log   *logging.Logger
	clock clock.Clock
	audit audit.AuditLogger

	sessions *registry.Registry[uint64, *session]
	emitter  *report.Emitter
	metrics  *metrics

	// async is set when the sink only queues reports.
	async bool
}

var _ api.Plugin = (*Plugin)(nil)

// New builds a plugin. A nil conf uses DefaultConfig.
func New(conf *Config, deps Dependencies) (*Plugin, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	if deps.Stats == nil {
		return nil, ErrNoStatsSource
	}
	if deps.Config == nil {
		deps.Config = api.ConfigFunc(func(api.HostSession, string) (string, bool) { return "", false })
	}
	if deps.Hits == nil {
		deps.Hits = api.HitCountFunc(func(string) uint64 { return 0 })
	}

	p := &Plugin{conf: conf, deps: deps}
	p.clock = conf.Clock
	if p.clock == nil {
		p.clock = clock.Real{}
	}
	p.log = conf.Logger
	if p.log == nil {
		p.log = logging.Default()
	}
	p.log = p.log.Named("healthstats")
	p.audit = conf.Audit
	if p.audit == nil {
		p.audit = audit.Nop{}
	}
	reg := conf.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	var err error
	if p.metrics, err = newMetrics(reg); err != nil {
		return nil, fmt.Errorf("healthstats: metrics: %w", err)
	}
	opts := append([]report.EmitterOption{report.WithLogger(p.log)}, conf.EmitterOptions...)
	if p.emitter, err = report.NewEmitter(deps.Sink, opts...); err != nil {
		return nil, fmt.Errorf("healthstats: emitter: %w", err)
	}

	var ropts []registry.Option
	if conf.Guard != nil {
		ropts = append(ropts, registry.WithGuard(conf.Guard))
	}
	p.sessions = registry.New[uint64, *session](conf.Compare, ropts...)

	if as, ok := deps.Sink.(api.AsyncSink); ok {
		p.async = true
		as.OnError(p.ReportDropped)
	}
	return p, nil
}

// ReportDropped accounts for a report the sink accepted but failed to
// deliver later.
func (p *Plugin) ReportDropped(hs api.HostSession, topic string, err error) {
	p.metrics.transportFailures.Inc()
	p.metrics.reports.WithLabelValues(outcomeDropped).Inc()
	var id uint64
	if hs != nil {
		id = hs.ID()
	}
	p.log.Warnf("session %d: report on %q not delivered: %v", id, topic, err)
}

// acquire returns the locked session for hs, registering and configuring
// it on first use.
func (p *Plugin) acquire(hs api.HostSession) (*session, error) {
	id := hs.ID()
	for {
		s, created, err := p.sessions.LookupOrCreate(id, func() (*session, error) {
			return newSession(hs, p.clock.Now(), p.conf.DefaultInterval, p.conf.Offline), nil
		})
		if err != nil {
			p.metrics.allocationFailures.Inc()
			p.log.Errorf("session %d: %v", id, err)
			return nil, err
		}
		if created {
			p.metrics.sessions.Inc()
			p.log.Infof("session %d (%s) registered", id, hs.Name())
			p.auditEvent(audit.EventSessionAdded, hs, nil)
		}

		s.mu.Lock()
		if s.removed {
			// lost a race with Exit; register afresh
			s.mu.Unlock()
			continue
		}
		if !s.initialized {
			p.configure(s)
			s.initialized = true
		}
		return s, nil
	}
}

// configure reads the interval and topic of s. mu must be held.
func (p *Plugin) configure(s *session) {
	hs := s.hs
	interval := p.conf.DefaultInterval
	if v, ok := p.deps.Config.GetConfig(hs, p.conf.IntervalKey); ok {
		if d, ok := parseInterval(v); ok {
			interval = d
		} else {
			p.metrics.configFallbacks.Inc()
			p.log.Warnf("session %d: invalid %s %q, using %s", hs.ID(), p.conf.IntervalKey, v, p.conf.DefaultInterval)
		}
	}
	topic, _ := p.deps.Config.GetConfig(hs, p.conf.TopicKey)
	topic = strings.TrimSpace(topic)

	if interval != s.interval || topic != s.topic {
		p.log.Debugf("session %d: interval %s topic %q", hs.ID(), interval, topic)
	}
	s.interval = interval
	s.topic = topic
}

func parseInterval(v string) (time.Duration, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
	if err != nil || n == 0 || n > uint64(math.MaxInt64/int64(time.Second)) {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Init registers hs and reads its configuration. Calling Init again for a
// registered session does nothing.
func (p *Plugin) Init(hs api.HostSession) error {
	if hs == nil {
		return ErrNilSession
	}
	s, err := p.acquire(hs)
	if err != nil {
		return fmt.Errorf("healthstats: init session %d: %w", hs.ID(), err)
	}
	s.mu.Unlock()
	return nil
}

// Update re-reads the interval and topic of hs. A shorter interval applies
// from the next tick.
func (p *Plugin) Update(hs api.HostSession) {
	if hs == nil {
		return
	}
	s, err := p.acquire(hs)
	if err != nil {
		return
	}
	defer s.mu.Unlock()
	p.configure(s)
}

// Due reports whether a Periodic call at the current time would emit a
// report. It neither registers nor modifies the session.
func (p *Plugin) Due(hs api.HostSession) bool {
	if hs == nil {
		return false
	}
	s, ok := p.sessions.Get(hs.ID())
	if !ok {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.removed && s.evaluate(p.clock.Now()) == tickDue
}

// Periodic is the scheduler tick. When the window of hs has elapsed it
// computes and emits one report covering the whole elapsed time.
func (p *Plugin) Periodic(ctx context.Context, hs api.HostSession) {
	if hs == nil {
		return
	}
	s, err := p.acquire(hs)
	if err != nil {
		return
	}
	defer s.mu.Unlock()

	now := p.clock.Now()
	switch s.evaluate(now) {
	case tickIdle:
		return
	case tickRebase:
		p.log.Warnf("session %d: clock moved back %s, restarting window", hs.ID(), s.windowStart.Sub(now))
		s.windowStart = now
		return
	}

	snap := stats.Snapshot{
		Engine:  p.deps.Stats.GetStats(hs),
		AuxHits: p.deps.Hits.HitCount(p.conf.AuxServiceID),
		TakenAt: now,
	}
	s.latency.Apply(&snap.Engine)
	res := stats.Compute(s.baseline, snap, s.offline.Drain())

	window := report.Window{StartedAt: s.windowStart, EndedAt: now}
	s.advance(now, res.Baseline)

	if res.Regressed() {
		p.regressed(hs, res.Regressions)
	}
	if p.conf.ActivityLog {
		p.logActivity(hs, window, &res.Stats)
	}

	env := report.NewEnvelope(hs.Name(), s.topic,
		report.Point{NodeID: hs.NodeID(), LocationID: hs.LocationID()}, window, res.Stats)
	switch err := p.emitter.Emit(ctx, hs, env); {
	case err != nil:
		p.metrics.transportFailures.Inc()
		p.metrics.reports.WithLabelValues(outcomeDropped).Inc()
	case env.Topic == "" || p.deps.Sink == nil:
		p.metrics.reports.WithLabelValues(outcomeLocal).Inc()
	case p.async:
		p.metrics.reports.WithLabelValues(outcomeQueued).Inc()
	default:
		p.metrics.reports.WithLabelValues(outcomeSent).Inc()
	}
}

func (p *Plugin) regressed(hs api.HostSession, fields []string) {
	for _, f := range fields {
		p.metrics.regressions.WithLabelValues(f).Inc()
	}
	p.log.Warnf("session %d: engine counters went backwards (%s), reporting raw values",
		hs.ID(), strings.Join(fields, ", "))
	p.auditEvent(audit.EventEngineRestart, hs, map[string]interface{}{
		"fields": fields,
	})
}

// Exit removes hs. An in-flight Periodic for hs completes first. Exiting an
// unknown session does nothing.
func (p *Plugin) Exit(hs api.HostSession) {
	if hs == nil {
		return
	}
	id := hs.ID()
	s, ok := p.sessions.Get(id)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.removed {
		return
	}
	s.removed = true
	p.sessions.Remove(id)
	p.metrics.sessions.Dec()
	p.log.Infof("session %d (%s) removed after %d reports", id, hs.Name(), s.reports)
	p.auditEvent(audit.EventSessionRemoved, hs, map[string]interface{}{
		"reports": s.reports,
	})
}

// RecordLatency folds one cloud lookup latency into the window of hs. It
// is used when the engine reports no latency gauges of its own.
func (p *Plugin) RecordLatency(hs api.HostSession, d time.Duration) {
	if hs == nil {
		return
	}
	s, err := p.acquire(hs)
	if err != nil {
		return
	}
	defer s.mu.Unlock()
	s.latency.Observe(d)
}

// RecordConnectivityFailure counts a failed cloud request for hs. The count
// is reported, and reset, with the next report.
func (p *Plugin) RecordConnectivityFailure(hs api.HostSession) {
	if hs == nil {
		return
	}
	s, err := p.acquire(hs)
	if err != nil {
		return
	}
	defer s.mu.Unlock()
	now := p.clock.Now()
	wasOffline, _ := s.offline.Offline()
	s.offline.Failure(now)
	p.metrics.connectivityFailures.Inc()
	if !wasOffline {
		p.log.Warnf("session %d: cloud unreachable, next check at %s", hs.ID(), s.offline.NextCheck().Format(time.RFC3339))
	}
}

// RecordConnectivityRecovery marks the cloud reachable again for hs.
func (p *Plugin) RecordConnectivityRecovery(hs api.HostSession) {
	if hs == nil {
		return
	}
	s, err := p.acquire(hs)
	if err != nil {
		return
	}
	defer s.mu.Unlock()
	if offline, since := s.offline.Offline(); offline {
		p.log.Infof("session %d: cloud reachable again after %s", hs.ID(), p.clock.Now().Sub(since))
	}
	s.offline.Recovered()
}

// CloudAvailable reports whether the engine should try the cloud for hs
// now. Unknown sessions are assumed online.
func (p *Plugin) CloudAvailable(hs api.HostSession) bool {
	if hs == nil {
		return true
	}
	s, ok := p.sessions.Get(hs.ID())
	if !ok {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offline.Available(p.clock.Now())
}

// Sessions lists the registered sessions in id order.
func (p *Plugin) Sessions() []SessionInfo {
	var out []SessionInfo
	p.sessions.Range(func(id uint64, s *session) bool {
		s.mu.Lock()
		if !s.removed {
			out = append(out, s.info(id))
		}
		s.mu.Unlock()
		return true
	})
	return out
}

func (p *Plugin) auditEvent(event string, hs api.HostSession, details map[string]interface{}) {
	if details == nil {
		details = make(map[string]interface{}, 2)
	}
	details["session"] = hs.ID()
	details["provider"] = hs.Name()
	if err := p.audit.LogEvent(event, details); err != nil {
		p.log.Debugf("audit %s: %v", event, err)
	}
}

// logActivity writes the local activity record of one report.
func (p *Plugin) logActivity(hs api.HostSession, w report.Window, st *stats.HealthStats) {
	e := p.log.Event(logging.LevelInfo)
	if e == nil {
		return
	}
	e.Uint64("session", hs.ID()).
		Str("provider", hs.Name()).
		Time("window_start", w.StartedAt).
		Time("window_end", w.EndedAt).
		Uint64("total_lookups", st.TotalLookups).
		Uint64("cache_hits", st.CacheHits).
		Uint64("remote_lookups", st.RemoteLookups).
		Uint64("connectivity_failures", st.ConnectivityFailures).
		Uint64("service_failures", st.ServiceFailures).
		Uint64("uncategorized", st.Uncategorized).
		Int64("min_latency_ms", st.MinLatency.Milliseconds()).
		Int64("max_latency_ms", st.MaxLatency.Milliseconds()).
		Int64("avg_latency_ms", st.AvgLatency.Milliseconds()).
		Uint64("cached_entries", st.CachedEntries).
		Uint64("cache_size", st.CacheSize).
		Msg("health stats")
}
