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
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/suite"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/clock"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/audit"
	"github.com/srediag/plugin-healthstats/pkg/registry"
	"github.com/srediag/plugin-healthstats/pkg/report"
	"github.com/srediag/plugin-healthstats/pkg/stats"
)

var zeroStats = api.StatsFunc(func(api.HostSession) stats.EngineStats { return stats.EngineStats{} })

var t0 = time.Unix(1700000000, 0)

type fakeEngine struct {
	mu    sync.Mutex
	stats map[uint64]stats.EngineStats
	aux   uint64
}

func (e *fakeEngine) GetStats(s api.HostSession) stats.EngineStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats[s.ID()]
}

func (e *fakeEngine) HitCount(string) uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aux
}

func (e *fakeEngine) set(id uint64, s stats.EngineStats, aux uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats[id] = s
	e.aux = aux
}

type fakeConfig struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *fakeConfig) GetConfig(_ api.HostSession, key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

func (c *fakeConfig) set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

type fakeSink struct {
	mu      sync.Mutex
	err     error
	reports []*report.Envelope
	topics  []string
}

func (s *fakeSink) SendReport(_ context.Context, _ api.HostSession, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	env, err := report.Decode(payload)
	if err != nil {
		return err
	}
	s.reports = append(s.reports, env)
	s.topics = append(s.topics, topic)
	return s.err
}

func (s *fakeSink) sent() []*report.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*report.Envelope(nil), s.reports...)
}

// prometheusToFloat64 reads the value of a single counter or gauge.
func prometheusToFloat64(c prometheus.Collector) float64 {
	ch := make(chan prometheus.Metric, 1)
	c.Collect(ch)
	m := &dto.Metric{}
	_ = (<-ch).Write(m)
	if m.Counter != nil {
		return m.GetCounter().GetValue()
	}
	return m.GetGauge().GetValue()
}

type PluginTestSuite struct {
	suite.Suite

	clk    *clock.Manual
	engine *fakeEngine
	cfg    *fakeConfig
	sink   *fakeSink
	audit  *audit.Recorder
	config *Config
	p      *Plugin
	hs     *api.Session
}

func (s *PluginTestSuite) SetupTest() {
	s.clk = clock.NewManual(t0)
	s.engine = &fakeEngine{stats: map[uint64]stats.EngineStats{}}
	s.cfg = &fakeConfig{values: map[string]string{
		IntervalKey: "600",
		TopicKey:    "health",
	}}
	s.sink = &fakeSink{}
	s.audit = &audit.Recorder{}
	s.hs = &api.Session{SessionID: 7, SessionName: "edge-1", Node: "node-a", Location: "loc-1"}

	s.config = DefaultConfig()
	s.config.Clock = s.clk
	s.config.Logger = logging.New("test", io.Discard)
	s.config.Audit = s.audit
	s.config.Registerer = prometheus.NewRegistry()
	s.p = s.newPlugin(s.config)
}

func (s *PluginTestSuite) newPlugin(config *Config) *Plugin {
	p, err := New(config, Dependencies{
		Config: s.cfg,
		Stats:  s.engine,
		Hits:   s.engine,
		Sink:   s.sink,
	})
	s.Require().NoError(err)
	return p
}

func (s *PluginTestSuite) session() SessionInfo {
	infos := s.p.Sessions()
	s.Require().Len(infos, 1)
	return infos[0]
}

func (s *PluginTestSuite) TestSchedulerWindow() {
	s.Require().NoError(s.p.Init(s.hs))
	s.Equal(t0, s.session().WindowStart)
	s.Equal(600*time.Second, s.session().Interval)

	s.clk.Set(t0.Add(500 * time.Second))
	s.False(s.p.Due(s.hs))
	s.p.Periodic(context.Background(), s.hs)
	s.Empty(s.sink.sent())

	s.clk.Set(t0.Add(650 * time.Second))
	// peeking does not consume the window
	s.True(s.p.Due(s.hs))
	s.True(s.p.Due(s.hs))
	s.Equal(t0, s.session().WindowStart)

	s.p.Periodic(context.Background(), s.hs)
	sent := s.sink.sent()
	s.Require().Len(sent, 1)
	s.True(sent[0].Window.StartedAt.Equal(t0))
	s.True(sent[0].Window.EndedAt.Equal(t0.Add(650 * time.Second)))
	s.Equal("edge-1", sent[0].Provider)
	s.Equal(report.Point{NodeID: "node-a", LocationID: "loc-1"}, sent[0].Point)
	s.Equal([]string{"health"}, s.sink.topics)

	info := s.session()
	s.Equal(t0.Add(650*time.Second), info.WindowStart)
	s.Equal(uint64(1), info.Reports)
	s.False(s.p.Due(s.hs))

	// the same tick again is not due
	s.p.Periodic(context.Background(), s.hs)
	s.Len(s.sink.sent(), 1)
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.reports.WithLabelValues(outcomeSent)))
}

func (s *PluginTestSuite) TestLateTickSpansWholeWindow() {
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Set(t0.Add(1500 * time.Second))
	s.p.Periodic(context.Background(), s.hs)
	s.p.Periodic(context.Background(), s.hs)

	sent := s.sink.sent()
	s.Require().Len(sent, 1)
	s.Equal(1500*time.Second, sent[0].Window.Duration())
}

func (s *PluginTestSuite) TestIntervalUpdateAppliesNextTick() {
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Advance(100 * time.Second)
	s.False(s.p.Due(s.hs))

	s.cfg.set(IntervalKey, "60")
	s.p.Update(s.hs)
	s.Equal(time.Minute, s.session().Interval)
	s.True(s.p.Due(s.hs))

	s.p.Periodic(context.Background(), s.hs)
	s.Len(s.sink.sent(), 1)

	s.clk.Advance(59 * time.Second)
	s.False(s.p.Due(s.hs))
	s.clk.Advance(time.Second)
	s.True(s.p.Due(s.hs))
}

func (s *PluginTestSuite) TestIntervalFallback() {
	s.cfg.set(IntervalKey, "ten minutes")
	s.Require().NoError(s.p.Init(s.hs))
	s.Equal(defaultReportInterval, s.session().Interval)
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.configFallbacks))

	s.cfg.set(IntervalKey, "0")
	s.p.Update(s.hs)
	s.Equal(defaultReportInterval, s.session().Interval)
	s.Equal(float64(2), prometheusToFloat64(s.p.metrics.configFallbacks))

	// absent is not a fallback
	s.cfg.mu.Lock()
	delete(s.cfg.values, IntervalKey)
	s.cfg.mu.Unlock()
	s.p.Update(s.hs)
	s.Equal(defaultReportInterval, s.session().Interval)
	s.Equal(float64(2), prometheusToFloat64(s.p.metrics.configFallbacks))
}

func (s *PluginTestSuite) TestInitIsIdempotent() {
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Advance(300 * time.Second)
	s.cfg.set(IntervalKey, "60")
	s.Require().NoError(s.p.Init(s.hs))

	info := s.session()
	s.Equal(t0, info.WindowStart)
	s.Equal(600*time.Second, info.Interval)
	s.Equal(1, s.audit.Count(audit.EventSessionAdded))
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.sessions))
}

func (s *PluginTestSuite) TestInitNilSession() {
	s.ErrorIs(s.p.Init(nil), ErrNilSession)
	s.p.Update(nil)
	s.p.Periodic(context.Background(), nil)
	s.p.Exit(nil)
	s.False(s.p.Due(nil))
	s.Empty(s.p.Sessions())
}

func (s *PluginTestSuite) TestDeltas() {
	s.engine.set(7, stats.EngineStats{CacheHits: 100, CloudLookups: 20}, 0)
	s.Require().NoError(s.p.Init(s.hs))

	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	s.engine.set(7, stats.EngineStats{
		CacheHits:    150,
		CloudLookups: 25,
		MinLatency:   2 * time.Millisecond,
		MaxLatency:   80 * time.Millisecond,
		AvgLatency:   11 * time.Millisecond,
		CacheEntries: 42,
		CacheSize:    512,
	}, 5)
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	sent := s.sink.sent()
	s.Require().Len(sent, 2)
	first := sent[0].Stats
	s.Equal(uint64(100), first.CacheHits)
	s.Equal(uint64(20), first.RemoteLookups)
	s.Equal(uint64(120), first.TotalLookups)

	second := sent[1].Stats
	s.Equal(uint64(55), second.CacheHits)
	s.Equal(uint64(5), second.RemoteLookups)
	s.Equal(uint64(60), second.TotalLookups)
	s.Equal(2*time.Millisecond, second.MinLatency)
	s.Equal(80*time.Millisecond, second.MaxLatency)
	s.Equal(11*time.Millisecond, second.AvgLatency)
	s.Equal(uint64(42), second.CachedEntries)
	s.Equal(uint64(512), second.CacheSize)
	s.NotEqual(sent[0].ID, sent[1].ID)
}

func (s *PluginTestSuite) TestNoTopicKeepsReportLocal() {
	s.cfg.mu.Lock()
	delete(s.cfg.values, TopicKey)
	s.cfg.mu.Unlock()
	s.Require().NoError(s.p.Init(s.hs))

	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	s.Empty(s.sink.sent())
	s.Equal(uint64(1), s.session().Reports)
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.reports.WithLabelValues(outcomeLocal)))
}

func (s *PluginTestSuite) TestTransportFailureDropsOneWindow() {
	s.Require().NoError(s.p.Init(s.hs))
	s.engine.set(7, stats.EngineStats{CacheHits: 10}, 0)
	s.sink.err = errors.New("broker down")

	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.transportFailures))
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.reports.WithLabelValues(outcomeDropped)))
	// the window advanced even though the report was lost
	s.Equal(t0.Add(600*time.Second), s.session().WindowStart)

	s.sink.mu.Lock()
	s.sink.err = nil
	s.sink.mu.Unlock()
	s.engine.set(7, stats.EngineStats{CacheHits: 13}, 0)
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	sent := s.sink.sent()
	s.Require().Len(sent, 2)
	s.Equal(uint64(3), sent[1].Stats.CacheHits)
}

func (s *PluginTestSuite) TestRegressionIsAudited() {
	s.engine.set(7, stats.EngineStats{CacheHits: 500, CloudLookups: 50}, 0)
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	s.engine.set(7, stats.EngineStats{CacheHits: 8, CloudLookups: 60}, 0)
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	sent := s.sink.sent()
	s.Require().Len(sent, 2)
	s.Equal(uint64(8), sent[1].Stats.CacheHits)
	s.Equal(uint64(10), sent[1].Stats.RemoteLookups)
	s.Equal(uint64(68), sent[1].Stats.TotalLookups)

	s.Equal(1, s.audit.Count(audit.EventEngineRestart))
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.regressions.WithLabelValues(stats.FieldCacheHits)))
	s.Equal(float64(1), prometheusToFloat64(s.p.metrics.regressions.WithLabelValues(stats.FieldTotalLookups)))
}

func (s *PluginTestSuite) TestExitThenRecreateIsFresh() {
	s.engine.set(7, stats.EngineStats{CacheHits: 30}, 0)
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	s.p.Exit(s.hs)
	s.Empty(s.p.Sessions())
	s.False(s.p.Due(s.hs))
	s.p.Exit(s.hs)
	s.Equal(1, s.audit.Count(audit.EventSessionRemoved))
	s.Equal(float64(0), prometheusToFloat64(s.p.metrics.sessions))

	s.clk.Advance(time.Minute)
	s.Require().NoError(s.p.Init(s.hs))
	info := s.session()
	s.Equal(uint64(0), info.Reports)
	s.Equal(s.clk.Now(), info.WindowStart)

	// zero baseline: the whole cumulative value is reported again
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)
	sent := s.sink.sent()
	s.Require().Len(sent, 2)
	s.Equal(uint64(30), sent[1].Stats.CacheHits)
	s.Equal(2, s.audit.Count(audit.EventSessionAdded))
}

func (s *PluginTestSuite) TestLazyRegistration() {
	s.False(s.p.Due(s.hs))
	s.Empty(s.p.Sessions())

	s.p.Periodic(context.Background(), s.hs)
	info := s.session()
	s.Equal(t0, info.WindowStart)
	s.Equal("health", info.Topic)
	s.Empty(s.sink.sent())
}

func (s *PluginTestSuite) TestClockSteppedBack() {
	s.Require().NoError(s.p.Init(s.hs))
	s.clk.Advance(-time.Hour)
	s.False(s.p.Due(s.hs))
	s.p.Periodic(context.Background(), s.hs)
	s.Empty(s.sink.sent())
	s.Equal(t0.Add(-time.Hour), s.session().WindowStart)

	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)
	s.Len(s.sink.sent(), 1)
}

func (s *PluginTestSuite) TestLatencyAndConnectivity() {
	s.Require().NoError(s.p.Init(s.hs))
	s.p.RecordLatency(s.hs, 30*time.Millisecond)
	s.p.RecordLatency(s.hs, 5*time.Millisecond)
	s.True(s.p.CloudAvailable(s.hs))

	s.p.RecordConnectivityFailure(s.hs)
	s.p.RecordConnectivityFailure(s.hs)
	s.False(s.p.CloudAvailable(s.hs))
	s.True(s.session().Offline)

	s.clk.Advance(600 * time.Second)
	// the back-off is far shorter than a report window
	s.True(s.p.CloudAvailable(s.hs))
	s.p.Periodic(context.Background(), s.hs)

	s.p.RecordConnectivityRecovery(s.hs)
	s.False(s.session().Offline)
	s.clk.Advance(600 * time.Second)
	s.p.Periodic(context.Background(), s.hs)

	sent := s.sink.sent()
	s.Require().Len(sent, 2)
	s.Equal(uint64(2), sent[0].Stats.ConnectivityFailures)
	s.Equal(5*time.Millisecond, sent[0].Stats.MinLatency)
	s.Equal(30*time.Millisecond, sent[0].Stats.MaxLatency)
	s.Equal(17*time.Millisecond, sent[0].Stats.AvgLatency)

	s.Equal(uint64(0), sent[1].Stats.ConnectivityFailures)
	s.Equal(time.Duration(0), sent[1].Stats.MinLatency)
	s.Equal(float64(2), prometheusToFloat64(s.p.metrics.connectivityFailures))
	s.True(s.p.CloudAvailable(&api.Session{SessionID: 99}))
}

func (s *PluginTestSuite) TestAllocationGuard() {
	config := DefaultConfig()
	config.Clock = s.clk
	config.Logger = logging.New("test", io.Discard)
	config.Guard = registry.GuardFunc(func() error { return errors.New("memory low") })
	p := s.newPlugin(config)

	err := p.Init(s.hs)
	s.ErrorIs(err, ErrAllocation)
	s.Empty(p.Sessions())
	s.Equal(float64(1), prometheusToFloat64(p.metrics.allocationFailures))

	// the other callbacks stay silent no-ops
	p.Periodic(context.Background(), s.hs)
	p.Update(s.hs)
	p.Exit(s.hs)
	s.Empty(p.Sessions())
}

func (s *PluginTestSuite) TestSessionsAreOrdered() {
	for _, id := range []uint64{30, 10, 20} {
		s.Require().NoError(s.p.Init(&api.Session{SessionID: id}))
	}
	var ids []uint64
	for _, info := range s.p.Sessions() {
		ids = append(ids, info.ID)
	}
	s.Equal([]uint64{10, 20, 30}, ids)
}

func (s *PluginTestSuite) TestConcurrentSessions() {
	const sessions = 16
	var wg sync.WaitGroup
	for i := 0; i < sessions; i++ {
		hs := &api.Session{SessionID: uint64(i + 1)}
		s.Require().NoError(s.p.Init(hs))
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				s.p.RecordLatency(hs, time.Millisecond)
				s.p.Periodic(context.Background(), hs)
				s.p.Due(hs)
			}
			s.p.Exit(hs)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 20; j++ {
			s.clk.Advance(60 * time.Second)
			s.p.Sessions()
		}
	}()
	wg.Wait()

	s.Empty(s.p.Sessions())
	s.Equal(sessions, s.audit.Count(audit.EventSessionRemoved))
}

func (s *PluginTestSuite) TestExitWaitsForPeriodic() {
	entered := make(chan struct{})
	release := make(chan struct{})
	blocking := api.SinkFunc(func(context.Context, api.HostSession, string, []byte) error {
		close(entered)
		<-release
		return nil
	})
	p, err := New(s.config, Dependencies{Config: s.cfg, Stats: s.engine, Sink: blocking})
	s.Require().NoError(err)
	s.Require().NoError(p.Init(s.hs))
	s.clk.Advance(600 * time.Second)

	go p.Periodic(context.Background(), s.hs)
	<-entered

	exited := make(chan struct{})
	go func() {
		p.Exit(s.hs)
		close(exited)
	}()
	select {
	case <-exited:
		s.Fail("Exit returned while a report was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-exited
	s.Empty(p.Sessions())
}

// asyncSink accepts every report and fails it later through OnError.
type asyncSink struct {
	fakeSink
	onError api.SendErrorFunc
}

func (s *asyncSink) OnError(fn api.SendErrorFunc) { s.onError = fn }

func (s *PluginTestSuite) TestQueuedSinkCountsDeliveryFailures() {
	sink := &asyncSink{}
	p, err := New(s.config, Dependencies{Config: s.cfg, Stats: s.engine, Sink: sink})
	s.Require().NoError(err)
	s.Require().NotNil(sink.onError)
	s.Require().NoError(p.Init(s.hs))

	s.clk.Advance(600 * time.Second)
	p.Periodic(context.Background(), s.hs)
	s.Len(sink.sent(), 1)
	s.Equal(float64(1), prometheusToFloat64(p.metrics.reports.WithLabelValues(outcomeQueued)))
	s.Zero(prometheusToFloat64(p.metrics.reports.WithLabelValues(outcomeSent)))
	s.Zero(prometheusToFloat64(p.metrics.transportFailures))

	sink.onError(s.hs, "health", errors.New("peer closed"))
	s.Equal(float64(1), prometheusToFloat64(p.metrics.transportFailures))
	s.Equal(float64(1), prometheusToFloat64(p.metrics.reports.WithLabelValues(outcomeDropped)))
}

func TestPluginTestSuite(t *testing.T) {
	suite.Run(t, new(PluginTestSuite))
}
