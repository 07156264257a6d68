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

package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Workiva/go-datastructures/queue"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
)

// default cap is 64 reports; a report is a few hundred bytes.
const defaultQueueCap = 64

type queuedReport struct {
	hs      api.HostSession
	topic   string
	payload []byte
}

// QueuedSink hands reports to a background goroutine that forwards them to
// the next sink. SendReport never blocks: a full queue drops the report
// with ErrQueueFull.
type QueuedSink struct {
	next        api.Sink
	q           *queue.Queue
	capacity    int64
	sendTimeout time.Duration
	log         *logging.Logger

	wg        sync.WaitGroup
	closeOnce sync.Once

	// mu serializes the capacity check with Put and guards onError.
	mu      sync.Mutex
	onError api.SendErrorFunc
}

var _ api.AsyncSink = (*QueuedSink)(nil)

// NewQueuedSink starts the forwarding goroutine. A capacity of zero or less
// selects the default.
func NewQueuedSink(next api.Sink, capacity int64, sendTimeout time.Duration) *QueuedSink {
	if capacity <= 0 {
		capacity = defaultQueueCap
	}
	s := &QueuedSink{
		next:        next,
		q:           queue.New(capacity),
		capacity:    capacity,
		sendTimeout: sendTimeout,
		log:         logging.Default().Named("transport"),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// OnError installs a callback for asynchronous send failures.
func (s *QueuedSink) OnError(fn api.SendErrorFunc) {
	s.mu.Lock()
	s.onError = fn
	s.mu.Unlock()
}

func (s *QueuedSink) SendReport(_ context.Context, hs api.HostSession, topic string, payload []byte) error {
	item := &queuedReport{
		hs:      hs,
		topic:   topic,
		payload: append([]byte(nil), payload...),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.Disposed() {
		return ErrClosed
	}
	if s.q.Len() >= s.capacity {
		return ErrQueueFull
	}
	if err := s.q.Put(item); err != nil {
		if errors.Is(err, queue.ErrDisposed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

// Len returns the number of reports waiting to be forwarded.
func (s *QueuedSink) Len() int64 {
	return s.q.Len()
}

func (s *QueuedSink) drain() {
	defer s.wg.Done()
	for {
		items, err := s.q.Get(1)
		if err != nil {
			return
		}
		for _, item := range items {
			s.forward(item.(*queuedReport))
		}
	}
}

func (s *QueuedSink) forward(r *queuedReport) {
	ctx := context.Background()
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}
	err := s.next.SendReport(ctx, r.hs, r.topic, r.payload)
	if err == nil {
		return
	}
	s.log.Warnf("session %d: queued report on %q dropped: %v", r.hs.ID(), r.topic, err)
	s.mu.Lock()
	fn := s.onError
	s.mu.Unlock()
	if fn != nil {
		fn(r.hs, r.topic, err)
	}
}

// Close stops accepting reports and waits for the forwarding goroutine.
// Reports still queued are discarded.
func (s *QueuedSink) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.q.Dispose()
		s.mu.Unlock()
	})
	s.wg.Wait()
	return nil
}
