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
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "healthstats"

// Report outcomes.
const (
	outcomeSent    = "sent"
	outcomeQueued  = "queued"
	outcomeLocal   = "local"
	outcomeDropped = "dropped"
)

type metrics struct {
	reports              *prometheus.CounterVec
	transportFailures    prometheus.Counter
	regressions          *prometheus.CounterVec
	sessions             prometheus.Gauge
	configFallbacks      prometheus.Counter
	allocationFailures   prometheus.Counter
	connectivityFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "reports_total",
			Help:      "Health reports computed, by outcome.",
		}, []string{"outcome"}),
		transportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transport_failures_total",
			Help:      "Reports dropped because the transport failed.",
		}),
		regressions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "counter_regressions_total",
			Help:      "Cumulative engine counters found lower than their baseline.",
		}, []string{"field"}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "sessions",
			Help:      "Sessions currently registered.",
		}),
		configFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "config_fallbacks_total",
			Help:      "Invalid report intervals replaced by the default.",
		}),
		allocationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "allocation_failures_total",
			Help:      "Sessions that could not be registered.",
		}),
		connectivityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connectivity_failures_total",
			Help:      "Failed cloud requests reported by the categorization engine.",
		}),
	}

	var err error
	m.reports = register(reg, m.reports, &err)
	m.transportFailures = register(reg, m.transportFailures, &err)
	m.regressions = register(reg, m.regressions, &err)
	m.sessions = register(reg, m.sessions, &err)
	m.configFallbacks = register(reg, m.configFallbacks, &err)
	m.allocationFailures = register(reg, m.allocationFailures, &err)
	m.connectivityFailures = register(reg, m.connectivityFailures, &err)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// register adds c to reg. A collector already registered by an earlier
// plugin instance on the same registry is reused.
func register[C prometheus.Collector](reg prometheus.Registerer, c C, errp *error) C {
	if *errp != nil {
		return c
	}
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		*errp = err
	}
	return c
}
