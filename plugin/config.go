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
	"cmp"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/srediag/plugin-healthstats/internal/clock"
	"github.com/srediag/plugin-healthstats/internal/logging"
	"github.com/srediag/plugin-healthstats/pkg/audit"
	"github.com/srediag/plugin-healthstats/pkg/offline"
	"github.com/srediag/plugin-healthstats/pkg/registry"
	"github.com/srediag/plugin-healthstats/pkg/report"
)

const (
	defaultReportInterval = 600 * time.Second
	// IntervalKey and TopicKey are the session configuration keys read on
	// Init and Update.
	IntervalKey = "health_stats_interval_secs"
	TopicKey    = "health_stats_topic"
	// defaultAuxServiceID is the auxiliary cache service whose hits are
	// folded into the cache hit count.
	defaultAuxServiceID = "bc"
)

// Config is used to tune the health statistics plugin.
type Config struct {
	// DefaultInterval is used when a session has no valid interval configured.
	DefaultInterval time.Duration
	// IntervalKey names the config key holding the interval in seconds.
	IntervalKey string
	// TopicKey names the config key holding the report topic. A session
	// without a topic logs its reports locally only.
	TopicKey string
	// AuxServiceID selects the auxiliary cache hit counter.
	AuxServiceID string

	// Compare orders session ids in the registry.
	Compare func(a, b uint64) int
	// Guard, when set, is consulted before a session is allocated.
	Guard registry.Guard

	// ActivityLog writes every computed report to the local log.
	ActivityLog bool
	// Offline is the cloud re-check policy of each session.
	Offline offline.Policy

	Clock      clock.Clock
	Logger     *logging.Logger
	Audit      audit.AuditLogger
	Registerer prometheus.Registerer
	// EmitterOptions configure report tracing and metrics.
	EmitterOptions []report.EmitterOption
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultInterval: defaultReportInterval,
		IntervalKey:     IntervalKey,
		TopicKey:        TopicKey,
		AuxServiceID:    defaultAuxServiceID,
		Compare:         cmp.Compare[uint64],
		ActivityLog:     true,
		Offline:         offline.DefaultPolicy(),
		Clock:           clock.Real{},
		Logger:          logging.Default(),
		Audit:           audit.Nop{},
	}
}

// VerifyConfig is used to verify the sanity of configuration.
func VerifyConfig(config *Config) error {
	if config == nil {
		return errors.New("config is nil")
	}
	if config.DefaultInterval < time.Second {
		return fmt.Errorf("DefaultInterval must be at least one second, got %s", config.DefaultInterval)
	}
	if config.IntervalKey == "" || config.TopicKey == "" {
		return errors.New("IntervalKey and TopicKey must be set")
	}
	if config.IntervalKey == config.TopicKey {
		return fmt.Errorf("IntervalKey and TopicKey must differ, both are %q", config.IntervalKey)
	}
	if config.AuxServiceID == "" {
		return errors.New("AuxServiceID must be set")
	}
	if config.Compare == nil {
		return errors.New("Compare must be set")
	}
	p := config.Offline
	if p.InitialInterval <= 0 || p.MaxInterval < p.InitialInterval {
		return fmt.Errorf("Offline intervals are invalid: initial %s, max %s", p.InitialInterval, p.MaxInterval)
	}
	if p.Multiplier < 1 {
		return fmt.Errorf("Offline.Multiplier must be at least 1, got %v", p.Multiplier)
	}
	if p.Jitter < 0 || p.Jitter >= 1 {
		return fmt.Errorf("Offline.Jitter must be in [0, 1), got %v", p.Jitter)
	}
	return nil
}
