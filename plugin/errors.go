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

	"github.com/srediag/plugin-healthstats/pkg/registry"
	"github.com/srediag/plugin-healthstats/pkg/report"
)

var (
	// ErrNilSession is returned when the host passes no session.
	ErrNilSession = errors.New("healthstats: nil session")
	// ErrNoStatsSource is returned by New without an engine stats source.
	ErrNoStatsSource = errors.New("healthstats: no stats source")
	// ErrAllocation is returned from Init when the session cannot be
	// registered. The session stays inert until the host retries.
	ErrAllocation = registry.ErrAllocation
	// ErrTransport wraps report sink failures. The report is dropped.
	ErrTransport = report.ErrTransport
)
