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
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/srediag/plugin-healthstats/api"
)

const defaultWriteTimeout = 5 * time.Second

// WebsocketSink publishes each report as one binary message. The message is
// the topic length as a uvarint, the topic, then the payload. The connection
// is dialed on first use and redialed after a write failure.
type WebsocketSink struct {
	URL          string
	Dialer       *websocket.Dialer
	WriteTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	frame  []byte
}

// NewWebsocketSink returns a sink publishing to url.
func NewWebsocketSink(url string) *WebsocketSink {
	return &WebsocketSink{URL: url, Dialer: websocket.DefaultDialer, WriteTimeout: defaultWriteTimeout}
}

func (s *WebsocketSink) SendReport(ctx context.Context, _ api.HostSession, topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if s.conn == nil {
		d := s.Dialer
		if d == nil {
			d = websocket.DefaultDialer
		}
		conn, _, err := d.DialContext(ctx, s.URL, nil)
		if err != nil {
			return fmt.Errorf("dial %s: %w", s.URL, err)
		}
		s.conn = conn
	}

	deadline := time.Now().Add(s.timeout())
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		s.dropConn()
		return err
	}

	s.frame = AppendFrame(s.frame[:0], topic, payload)
	if err := s.conn.WriteMessage(websocket.BinaryMessage, s.frame); err != nil {
		s.dropConn()
		return fmt.Errorf("write %s: %w", s.URL, err)
	}
	return nil
}

func (s *WebsocketSink) timeout() time.Duration {
	if s.WriteTimeout > 0 {
		return s.WriteTimeout
	}
	return defaultWriteTimeout
}

// dropConn must be called with s.mu held.
func (s *WebsocketSink) dropConn() {
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}
}

// Close sends a close frame and shuts the connection.
func (s *WebsocketSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}

// AppendFrame appends the websocket message body for one report to b.
func AppendFrame(b []byte, topic string, payload []byte) []byte {
	b = binary.AppendUvarint(b, uint64(len(topic)))
	b = append(b, topic...)
	return append(b, payload...)
}

// ParseFrame splits a message produced by AppendFrame.
func ParseFrame(b []byte) (topic string, payload []byte, err error) {
	n, m := binary.Uvarint(b)
	if m <= 0 || uint64(len(b)-m) < n {
		return "", nil, fmt.Errorf("transport: malformed frame")
	}
	b = b[m:]
	return string(b[:n]), b[n:], nil
}
