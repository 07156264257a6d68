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

// Package daemon hosts the health statistics plugin as a standalone
// process: sessions come from a config file, a scheduler ticks them and
// the plugin's metrics and health are served over HTTP.
package daemon

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
)

// Sink kinds.
const (
	SinkNone      = "none"
	SinkLog       = "log"
	SinkWebsocket = "websocket"
)

// Config is the daemon configuration file.
type Config struct {
	Listen             string          `mapstructure:"listen"`
	Schedule           string          `mapstructure:"schedule"`
	Workers            int             `mapstructure:"workers"`
	MinAvailableMemory uint64          `mapstructure:"min_available_memory"`
	DefaultInterval    time.Duration   `mapstructure:"default_interval"`
	Sink               SinkConfig      `mapstructure:"sink"`
	DNSCache           DNSCacheConfig  `mapstructure:"dns_cache"`
	Synthetic          SyntheticConfig `mapstructure:"synthetic"`
	Sessions           []SessionConfig `mapstructure:"sessions"`
}

type SinkConfig struct {
	Kind          string        `mapstructure:"kind"`
	URL           string        `mapstructure:"url"`
	QueueCapacity int64         `mapstructure:"queue_capacity"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

type DNSCacheConfig struct {
	TTL       time.Duration `mapstructure:"ttl"`
	ServiceID string        `mapstructure:"service_id"`
}

// SyntheticConfig drives generated categorization traffic, for trying the
// daemon without a real engine.
type SyntheticConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Interval       time.Duration `mapstructure:"interval"`
	LookupsPerTick int           `mapstructure:"lookups_per_tick"`
	FailureRate    float64       `mapstructure:"failure_rate"`
	Seed           int64         `mapstructure:"seed"`
}

// SessionConfig is one session and its plugin configuration, such as
// health_stats_interval_secs and health_stats_topic.
type SessionConfig struct {
	api.Session `mapstructure:",squash"`
	Config      map[string]string `mapstructure:"config"`
}

// DefaultConfig returns the configuration used for absent keys.
func DefaultConfig() *Config {
	return &Config{
		Listen:          ":9464",
		Schedule:        "@every 1s",
		Workers:         16,
		DefaultInterval: 600 * time.Second,
		Sink: SinkConfig{
			Kind:          SinkLog,
			QueueCapacity: 64,
			SendTimeout:   5 * time.Second,
		},
		DNSCache: DNSCacheConfig{
			TTL:       5 * time.Minute,
			ServiceID: "bc",
		},
		Synthetic: SyntheticConfig{
			Interval:       time.Second,
			LookupsPerTick: 20,
			FailureRate:    0.01,
		},
	}
}

// Validate checks the configuration for values the daemon cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Sink.Kind {
	case SinkNone, SinkLog:
	case SinkWebsocket:
		if c.Sink.URL == "" {
			errs = append(errs, errors.New("sink.url is required for the websocket sink"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown sink.kind %q", c.Sink.Kind))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.Workers))
	}
	if c.DefaultInterval < time.Second {
		errs = append(errs, fmt.Errorf("default_interval must be at least 1s, got %s", c.DefaultInterval))
	}
	if c.Synthetic.Enabled && c.Synthetic.Interval <= 0 {
		errs = append(errs, errors.New("synthetic.interval must be positive"))
	}
	if c.Synthetic.FailureRate < 0 || c.Synthetic.FailureRate > 1 {
		errs = append(errs, fmt.Errorf("synthetic.failure_rate must be in [0, 1], got %v", c.Synthetic.FailureRate))
	}
	seen := make(map[uint64]bool, len(c.Sessions))
	for i, s := range c.Sessions {
		if s.SessionID == 0 {
			errs = append(errs, fmt.Errorf("sessions[%d]: id is required", i))
			continue
		}
		if seen[s.SessionID] {
			errs = append(errs, fmt.Errorf("sessions[%d]: duplicate id %d", i, s.SessionID))
		}
		seen[s.SessionID] = true
	}
	return errors.Join(errs...)
}

// Loader reads the config file and environment. Environment variables
// use the HEALTHSTATS_ prefix, e.g. HEALTHSTATS_SINK_KIND.
type Loader struct {
	path string
	v    *viper.Viper
	log  *logging.Logger

	debounce time.Duration
	mu       sync.Mutex
	timer    *time.Timer
}

// NewLoader returns a loader for path. An empty path loads defaults and
// environment only.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix("HEALTHSTATS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
	}
	return &Loader{
		path:     path,
		v:        v,
		log:      logging.Default().Named("config"),
		debounce: 100 * time.Millisecond,
	}
}

func setDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("listen", c.Listen)
	v.SetDefault("schedule", c.Schedule)
	v.SetDefault("workers", c.Workers)
	v.SetDefault("min_available_memory", c.MinAvailableMemory)
	v.SetDefault("default_interval", c.DefaultInterval)
	v.SetDefault("sink.kind", c.Sink.Kind)
	v.SetDefault("sink.url", c.Sink.URL)
	v.SetDefault("sink.queue_capacity", c.Sink.QueueCapacity)
	v.SetDefault("sink.send_timeout", c.Sink.SendTimeout)
	v.SetDefault("dns_cache.ttl", c.DNSCache.TTL)
	v.SetDefault("dns_cache.service_id", c.DNSCache.ServiceID)
	v.SetDefault("synthetic.enabled", c.Synthetic.Enabled)
	v.SetDefault("synthetic.interval", c.Synthetic.Interval)
	v.SetDefault("synthetic.lookups_per_tick", c.Synthetic.LookupsPerTick)
	v.SetDefault("synthetic.failure_rate", c.Synthetic.FailureRate)
	v.SetDefault("synthetic.seed", c.Synthetic.Seed)
}

// Load reads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	if l.path != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", l.path, err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	cfg := DefaultConfig()
	if err := l.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Watch calls fn with the new configuration whenever the file changes.
// Bursts of file events are coalesced. An invalid file is logged and
// ignored; the previous configuration stays in effect.
func (l *Loader) Watch(fn func(*Config)) {
	if l.path == "" {
		return
	}
	l.v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.timer != nil {
			l.timer.Stop()
		}
		l.timer = time.AfterFunc(l.debounce, func() {
			cfg, err := l.decode()
			if err != nil {
				l.log.Warnf("ignoring config change in %s: %v", e.Name, err)
				return
			}
			l.log.Infof("config %s reloaded", e.Name)
			fn(cfg)
		})
	})
	l.v.WatchConfig()
}

// Stop cancels a pending reload.
func (l *Loader) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.timer != nil {
		l.timer.Stop()
	}
}
