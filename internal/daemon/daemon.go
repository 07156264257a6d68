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

package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/clock"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/audit"
	"github.com/srediag/plugin-healthstats/pkg/dnscache"
	"github.com/srediag/plugin-healthstats/pkg/health"
	"github.com/srediag/plugin-healthstats/pkg/lifecycle"
	"github.com/srediag/plugin-healthstats/pkg/transport"
	"github.com/srediag/plugin-healthstats/pkg/urlstats"
	"github.com/srediag/plugin-healthstats/plugin"
)

const (
	metricsNamespace = "healthstats"
	shutdownTimeout  = 5 * time.Second
	maxGoroutines    = 10000
)

// Daemon wires the plugin to its host collaborators.
type Daemon struct {
	cfg *Config
	log *logging.Logger

	registry *prometheus.Registry
	host     *Host
	store    *urlstats.Store
	cache    *dnscache.Cache
	sink     api.Sink
	plugin   *plugin.Plugin
	driver   *lifecycle.Driver
	traffic  *Traffic
	handler  http.Handler

	reloadMu sync.Mutex
}

// New builds a daemon from cfg. Nothing runs until Run.
func New(cfg *Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	d := &Daemon{
		cfg:      cfg,
		log:      logging.Default().Named("daemon"),
		registry: prometheus.NewRegistry(),
		host:     NewHost(),
		store:    urlstats.NewStore(),
		cache:    dnscache.New(cfg.DNSCache.TTL, clock.Real{}),
	}
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	sink, err := newSink(cfg.Sink)
	if err != nil {
		return nil, err
	}
	d.sink = sink

	guard := health.NewMemoryGuard(cfg.MinAvailableMemory)
	pc := plugin.DefaultConfig()
	pc.DefaultInterval = cfg.DefaultInterval
	pc.AuxServiceID = cfg.DNSCache.ServiceID
	pc.Guard = guard
	pc.Registerer = d.registry
	pc.Audit = audit.NewZerologAuditor(nil)
	d.plugin, err = plugin.New(pc, plugin.Dependencies{
		Config: d.host,
		Stats:  d.store,
		Hits:   d.cache,
		Sink:   sink,
	})
	if err != nil {
		d.closeSink()
		return nil, err
	}

	d.driver, err = lifecycle.NewDriver(d.plugin,
		lifecycle.WithSchedule(cfg.Schedule),
		lifecycle.WithPoolSize(cfg.Workers))
	if err != nil {
		d.closeSink()
		return nil, err
	}

	if cfg.Synthetic.Enabled {
		d.traffic = NewTraffic(cfg.Synthetic, cfg.DNSCache.ServiceID, d.store, d.cache, d.plugin)
	}

	checks := health.NewHandler(d.registry, metricsNamespace, health.Checks{
		Liveness: map[string]healthcheck.Check{
			"goroutines": healthcheck.GoroutineCountCheck(maxGoroutines),
		},
		Readiness: map[string]healthcheck.Check{
			"memory": guard.Check(),
		},
		Timeout: time.Second,
	})
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{Registry: d.registry}))
	mux.HandleFunc("/live", checks.LiveEndpoint)
	mux.HandleFunc("/ready", checks.ReadyEndpoint)
	mux.HandleFunc("/sessions", d.serveSessions)
	d.handler = mux
	return d, nil
}

func newSink(c SinkConfig) (api.Sink, error) {
	switch c.Kind {
	case SinkNone:
		return nil, nil
	case SinkLog:
		return transport.LogSink{L: logging.Default().Named("transport")}, nil
	case SinkWebsocket:
		ws := transport.NewWebsocketSink(c.URL)
		ws.WriteTimeout = c.SendTimeout
		return transport.NewQueuedSink(ws, c.QueueCapacity, c.SendTimeout), nil
	}
	return nil, fmt.Errorf("unknown sink kind %q", c.Kind)
}

// Handler serves /metrics, /live, /ready and /sessions.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Plugin returns the hosted plugin.
func (d *Daemon) Plugin() *plugin.Plugin {
	return d.plugin
}

func (d *Daemon) serveSessions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	for _, s := range d.plugin.Sessions() {
		fmt.Fprintf(w, "%d\t%s\tinterval=%s\ttopic=%q\treports=%d\toffline=%t\n",
			s.ID, s.Name, s.Interval, s.Topic, s.Reports, s.Offline)
	}
}

// Reload applies the session set of cfg. Other settings need a restart.
func (d *Daemon) Reload(cfg *Config) error {
	d.reloadMu.Lock()
	defer d.reloadMu.Unlock()
	return d.host.Apply(storeDriver{d}, cfg.Sessions)
}

// storeDriver drives the plugin and drops the engine counters of sessions
// that leave.
type storeDriver struct{ d *Daemon }

func (s storeDriver) Attach(hs api.HostSession) error { return s.d.driver.Attach(hs) }
func (s storeDriver) Reload(hs api.HostSession) error { return s.d.driver.Reload(hs) }

func (s storeDriver) Detach(hs api.HostSession) error {
	err := s.d.driver.Detach(hs)
	s.d.store.Delete(hs.ID())
	return err
}

// Run serves until ctx is done, then shuts down.
func (d *Daemon) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", d.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.cfg.Listen, err)
	}
	return d.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (d *Daemon) Serve(ctx context.Context, ln net.Listener) error {
	if err := d.driver.Start(); err != nil {
		ln.Close()
		return err
	}
	if err := d.Reload(d.cfg); err != nil {
		d.log.Warnf("some sessions failed to start: %v", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup
	if d.traffic != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.traffic.Run(ctx, d.host.Sessions)
		}()
	}

	srv := &http.Server{Handler: d.handler, ReadHeaderTimeout: 5 * time.Second}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	d.log.Infof("listening on %s", ln.Addr())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}
	cancel()
	wg.Wait()
	return errors.Join(serveErr, d.shutdown(srv))
}

func (d *Daemon) shutdown(srv *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errs = append(errs, err)
	}
	if err := d.driver.Stop(shutdownTimeout); err != nil {
		errs = append(errs, err)
	}
	errs = append(errs, d.closeSink())
	d.log.Infof("stopped")
	return errors.Join(errs...)
}

func (d *Daemon) closeSink() error {
	if c, ok := d.sink.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
