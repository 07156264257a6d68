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

// Package lifecycle drives a plugin the way its host does: sessions are
// attached and detached, configuration reloads become Update calls and a
// scheduler ticks every attached session.
package lifecycle

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/registry"
)

// DefaultSchedule ticks every session once a second.
const DefaultSchedule = "@every 1s"

var (
	ErrNotAttached = errors.New("lifecycle: session is not attached")
	ErrStopped     = errors.New("lifecycle: driver is stopped")
)

// attached is one session in the tick set. busy is set while a Periodic is
// queued or running; done is closed when it finishes. Once detached, no
// further Periodic starts.
type attached struct {
	hs api.HostSession

	mu       sync.Mutex
	busy     bool
	detached bool
	done     chan struct{}
}

// claim marks a dispatch. It fails when a Periodic is already pending or
// the session left.
func (a *attached) claim() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.busy || a.detached {
		return false
	}
	a.busy = true
	a.done = make(chan struct{})
	return true
}

// live reports whether a claimed Periodic may still run.
func (a *attached) live() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return !a.detached
}

func (a *attached) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.busy = false
	close(a.done)
}

// detach stops further dispatches and returns a channel closed once the
// pending Periodic, if any, has finished.
func (a *attached) detach() <-chan struct{} {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.detached = true
	if !a.busy {
		return nil
	}
	return a.done
}

// Driver is safe for concurrent use.
type Driver struct {
	plugin   api.Plugin
	schedule string
	log      *logging.Logger

	sessions *registry.Registry[uint64, *attached]
	cron     *cron.Cron
	pool     *ants.Pool

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	started bool
	stopped bool

	ticks   atomic.Uint64
	skipped atomic.Uint64
}

// Option configures a Driver.
type Option func(*options)

type options struct {
	schedule string
	poolSize int
	log      *logging.Logger
}

// WithSchedule sets the tick schedule in robfig/cron syntax.
func WithSchedule(spec string) Option {
	return func(o *options) { o.schedule = spec }
}

// WithPoolSize bounds how many Periodic calls run at once.
func WithPoolSize(n int) Option {
	return func(o *options) { o.poolSize = n }
}

// WithLogger sets the driver logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.log = l }
}

// NewDriver returns a driver for p. Call Start to begin ticking.
func NewDriver(p api.Plugin, opts ...Option) (*Driver, error) {
	o := options{schedule: DefaultSchedule, poolSize: 16, log: logging.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	log := o.log.Named("lifecycle")

	pool, err := ants.NewPool(o.poolSize,
		ants.WithNonblocking(true),
		ants.WithLogger(logging.AntsLogger{L: log}),
		ants.WithPanicHandler(func(v interface{}) {
			log.Errorf("periodic panicked: %v", v)
		}))
	if err != nil {
		return nil, fmt.Errorf("lifecycle: worker pool: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Driver{
		plugin:   p,
		schedule: o.schedule,
		log:      log,
		sessions: registry.New[uint64, *attached](cmp.Compare[uint64]),
		cron:     cron.New(cron.WithLogger(logging.CronLogger{L: log})),
		pool:     pool,
		ctx:      ctx,
		cancel:   cancel,
	}
	if _, err := d.cron.AddFunc(o.schedule, d.Tick); err != nil {
		pool.Release()
		cancel()
		return nil, fmt.Errorf("lifecycle: schedule %q: %w", o.schedule, err)
	}
	return d, nil
}

// Start begins ticking. Starting twice is a no-op.
func (d *Driver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrStopped
	}
	if !d.started {
		d.started = true
		d.cron.Start()
	}
	return nil
}

// Attach initializes hs with the plugin and adds it to the tick set.
func (d *Driver) Attach(hs api.HostSession) error {
	if d.isStopped() {
		return ErrStopped
	}
	if err := d.plugin.Init(hs); err != nil {
		return err
	}
	_, created, err := d.sessions.LookupOrCreate(hs.ID(), func() (*attached, error) {
		return &attached{hs: hs}, nil
	})
	if err != nil {
		return err
	}
	if created {
		d.log.Debugf("session %d attached", hs.ID())
	}
	return nil
}

// Reload tells the plugin that the configuration of hs changed.
func (d *Driver) Reload(hs api.HostSession) error {
	a, ok := d.sessions.Get(hs.ID())
	if !ok {
		return ErrNotAttached
	}
	d.plugin.Update(a.hs)
	return nil
}

// Detach removes hs from the tick set and exits it. A Periodic already
// running for hs completes before Exit; one still queued is dropped.
func (d *Driver) Detach(hs api.HostSession) error {
	a, ok := d.sessions.Remove(hs.ID())
	if !ok {
		return ErrNotAttached
	}
	d.exit(a, 0)
	d.log.Debugf("session %d detached", hs.ID())
	return nil
}

// exit waits up to timeout for the pending Periodic of a, or without
// bound when timeout is zero, then exits the session. A session whose
// Periodic is still running at the deadline is left to it.
func (d *Driver) exit(a *attached, timeout time.Duration) {
	if pending := a.detach(); pending != nil {
		if timeout <= 0 {
			<-pending
		} else {
			select {
			case <-pending:
			case <-time.After(timeout):
				d.log.Warnf("session %d: periodic still running, exit skipped", a.hs.ID())
				return
			}
		}
	}
	d.plugin.Exit(a.hs)
}

// Sessions returns the attached sessions in id order.
func (d *Driver) Sessions() []api.HostSession {
	var out []api.HostSession
	d.sessions.Range(func(_ uint64, a *attached) bool {
		out = append(out, a.hs)
		return true
	})
	return out
}

// Tick dispatches one Periodic per attached session on the worker pool. A
// session whose previous Periodic is still running is skipped, since the
// host never overlaps calls for one session.
func (d *Driver) Tick() {
	if d.isStopped() {
		return
	}
	d.ticks.Add(1)
	d.sessions.Range(func(id uint64, a *attached) bool {
		if !a.claim() {
			d.skipped.Add(1)
			return true
		}
		err := d.pool.Submit(func() {
			defer a.release()
			if a.live() {
				d.plugin.Periodic(d.ctx, a.hs)
			}
		})
		if err != nil {
			a.release()
			d.skipped.Add(1)
			d.log.Warnf("session %d: periodic not dispatched: %v", id, err)
		}
		return true
	})
}

// Stats returns how many ticks ran and how many session dispatches were
// skipped.
func (d *Driver) Stats() (ticks, skipped uint64) {
	return d.ticks.Load(), d.skipped.Load()
}

func (d *Driver) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}

// Stop halts the schedule, waits up to timeout for running Periodic calls
// and exits every attached session.
func (d *Driver) Stop(timeout time.Duration) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	d.mu.Unlock()

	done := d.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
	}
	d.cancel()
	err := d.pool.ReleaseTimeout(timeout)

	for _, hs := range d.Sessions() {
		if a, ok := d.sessions.Remove(hs.ID()); ok {
			d.exit(a, timeout)
		}
	}
	if err != nil {
		return fmt.Errorf("lifecycle: waiting for workers: %w", err)
	}
	return nil
}
