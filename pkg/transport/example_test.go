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

package transport_test

import (
	"context"
	"fmt"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/pkg/transport"
)

func ExampleQueuedSink() {
	done := make(chan struct{})
	next := transport.Func(func(_ context.Context, hs api.HostSession, topic string, payload []byte) error {
		fmt.Printf("session %d: %d bytes on %s\n", hs.ID(), len(payload), topic)
		close(done)
		return nil
	})

	q := transport.NewQueuedSink(next, 8, 0)
	defer q.Close()
	if err := q.SendReport(context.Background(), &api.Session{SessionID: 4}, "health.edge", []byte("report")); err != nil {
		fmt.Println(err)
	}
	<-done
	// Output:
	// session 4: 6 bytes on health.edge
}

func ExampleParseFrame() {
	frame := transport.AppendFrame(nil, "health.edge", []byte{0x0a, 0x01, 'x'})
	topic, payload, err := transport.ParseFrame(frame)
	fmt.Println(topic, len(payload), err)
	// Output:
	// health.edge 3 <nil>
}
