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

// Package transport provides the report sinks: a local log sink, a
// websocket publisher and a bounded asynchronous queue in front of either.
package transport

import (
	"context"
	"errors"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
)

var (
	// ErrQueueFull is returned when the asynchronous queue cannot take a
	// report without blocking.
	ErrQueueFull = errors.New("transport: queue is full")
	// ErrClosed is returned by sinks that have been closed.
	ErrClosed = errors.New("transport: sink is closed")
)

// Func adapts a function to api.Sink.
type Func = api.SinkFunc

// LogSink writes a line per report instead of publishing it.
type LogSink struct {
	L *logging.Logger
}

func (s LogSink) SendReport(_ context.Context, hs api.HostSession, topic string, payload []byte) error {
	l := s.L
	if l == nil {
		l = logging.Default()
	}
	if e := l.Event(logging.LevelInfo); e != nil {
		e.Uint64("session", hs.ID()).
			Str("provider", hs.Name()).
			Str("topic", topic).
			Int("bytes", len(payload)).
			Msg("health report published")
	}
	return nil
}
