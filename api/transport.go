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

package api

import "context"

// Sink publishes a serialized report on a topic. The payload is only valid
// for the duration of the call.
type Sink interface {
	SendReport(ctx context.Context, s HostSession, topic string, payload []byte) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, s HostSession, topic string, payload []byte) error

func (f SinkFunc) SendReport(ctx context.Context, s HostSession, topic string, payload []byte) error {
	return f(ctx, s, topic, payload)
}

// SendErrorFunc receives a report that failed after its SendReport call
// returned.
type SendErrorFunc func(s HostSession, topic string, err error)

// AsyncSink is a Sink that accepts reports for later delivery. A nil error
// from SendReport means queued, not sent; delivery failures go to the
// OnError callback.
type AsyncSink interface {
	Sink
	OnError(fn SendErrorFunc)
}
