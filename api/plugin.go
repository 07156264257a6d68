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

// Package api defines the contracts between the health statistics plugin
// and its host.
package api

import "context"

// HostSession is the host's handle for one plugin session. ID is an opaque
// identity; sessions are ordered by its numeric value.
type HostSession interface {
	ID() uint64
	Name() string
	NodeID() string
	LocationID() string
}

// Plugin is the lifecycle protocol the host drives. The host calls the
// methods serially for a given session; different sessions may be driven
// concurrently.
type Plugin interface {
	// Init registers the session and reads its configuration.
	Init(s HostSession) error
	// Update re-reads the session configuration after a change.
	Update(s HostSession)
	// Periodic is the scheduler tick.
	Periodic(ctx context.Context, s HostSession)
	// Exit tears the session down.
	Exit(s HostSession)
}

// ConfigAccessor reads string configuration values for a session.
type ConfigAccessor interface {
	GetConfig(s HostSession, key string) (string, bool)
}

// ConfigFunc adapts a function to ConfigAccessor.
type ConfigFunc func(s HostSession, key string) (string, bool)

func (f ConfigFunc) GetConfig(s HostSession, key string) (string, bool) { return f(s, key) }
