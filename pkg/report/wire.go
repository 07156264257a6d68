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

package report

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/valyala/bytebufferpool"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/srediag/plugin-healthstats/pkg/stats"
)

// ErrMalformed is returned by Decode for payloads that are not reports.
var ErrMalformed = errors.New("report: malformed payload")

// Field numbers of the report message.
//
//	message Report {
//	  string provider = 1;
//	  Point  point    = 2;  // node_id = 1, location_id = 2
//	  Window window   = 3;  // started_at_unix_nano = 1, ended_at_unix_nano = 2
//	  Stats  stats    = 4;
//	  bytes  id       = 5;
//	}
//
// The topic travels out of band and is not encoded.
const (
	fieldProvider protowire.Number = 1
	fieldPoint    protowire.Number = 2
	fieldWindow   protowire.Number = 3
	fieldStats    protowire.Number = 4
	fieldID       protowire.Number = 5

	fieldNodeID     protowire.Number = 1
	fieldLocationID protowire.Number = 2

	fieldStartedAt protowire.Number = 1
	fieldEndedAt   protowire.Number = 2
)

// Stats message fields. Latencies are milliseconds.
const (
	fieldTotalLookups protowire.Number = iota + 1
	fieldCacheHits
	fieldRemoteLookups
	fieldConnectivityFailures
	fieldServiceFailures
	fieldUncategorized
	fieldMinLatencyMs
	fieldMaxLatencyMs
	fieldAvgLatencyMs
	fieldCachedEntries
	fieldCacheSize
)

// Serializer encodes envelopes into pooled buffers.
type Serializer struct {
	pool *bytebufferpool.Pool
}

// NewSerializer returns a serializer backed by its own buffer pool.
func NewSerializer() *Serializer {
	return &Serializer{pool: &bytebufferpool.Pool{}}
}

// Serialize encodes env. The caller owns the returned buffer until it calls
// Release.
func (s *Serializer) Serialize(env *Envelope) (*bytebufferpool.ByteBuffer, error) {
	if env == nil {
		return nil, fmt.Errorf("%w: nil envelope", ErrMalformed)
	}
	buf := s.pool.Get()

	b := buf.B[:0]
	if env.Provider != "" {
		b = protowire.AppendTag(b, fieldProvider, protowire.BytesType)
		b = protowire.AppendString(b, env.Provider)
	}

	var scratch [128]byte
	inner := appendString(scratch[:0], fieldNodeID, env.Point.NodeID)
	inner = appendString(inner, fieldLocationID, env.Point.LocationID)
	b = appendMessage(b, fieldPoint, inner)

	inner = appendTime(scratch[:0], fieldStartedAt, env.Window.StartedAt)
	inner = appendTime(inner, fieldEndedAt, env.Window.EndedAt)
	b = appendMessage(b, fieldWindow, inner)

	inner = appendStats(scratch[:0], &env.Stats)
	b = appendMessage(b, fieldStats, inner)

	b = protowire.AppendTag(b, fieldID, protowire.BytesType)
	b = protowire.AppendBytes(b, env.ID[:])

	buf.B = b
	return buf, nil
}

// Release returns buf to the pool. buf must not be used afterwards.
func (s *Serializer) Release(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		s.pool.Put(buf)
	}
}

func appendMessage(b []byte, num protowire.Number, msg []byte) []byte {
	if len(msg) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, msg)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendTime(b []byte, num protowire.Number, t time.Time) []byte {
	if t.IsZero() {
		return b
	}
	return appendVarint(b, num, uint64(t.UnixNano()))
}

func millis(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	return uint64(d / time.Millisecond)
}

func appendStats(b []byte, hs *stats.HealthStats) []byte {
	b = appendVarint(b, fieldTotalLookups, hs.TotalLookups)
	b = appendVarint(b, fieldCacheHits, hs.CacheHits)
	b = appendVarint(b, fieldRemoteLookups, hs.RemoteLookups)
	b = appendVarint(b, fieldConnectivityFailures, hs.ConnectivityFailures)
	b = appendVarint(b, fieldServiceFailures, hs.ServiceFailures)
	b = appendVarint(b, fieldUncategorized, hs.Uncategorized)
	b = appendVarint(b, fieldMinLatencyMs, millis(hs.MinLatency))
	b = appendVarint(b, fieldMaxLatencyMs, millis(hs.MaxLatency))
	b = appendVarint(b, fieldAvgLatencyMs, millis(hs.AvgLatency))
	b = appendVarint(b, fieldCachedEntries, hs.CachedEntries)
	b = appendVarint(b, fieldCacheSize, hs.CacheSize)
	return b
}

// Decode parses a payload produced by Serialize. Unknown fields are skipped;
// a known field with the wrong wire type is ErrMalformed. The returned
// envelope has no Topic.
func Decode(payload []byte) (*Envelope, error) {
	env := &Envelope{}
	err := walk(payload, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
		switch num {
		case fieldProvider:
			if err := expect("provider", typ, protowire.BytesType); err != nil {
				return err
			}
			env.Provider = string(v)
		case fieldPoint:
			if err := expect("point", typ, protowire.BytesType); err != nil {
				return err
			}
			return walk(v, func(num protowire.Number, typ protowire.Type, v []byte, _ uint64) error {
				switch num {
				case fieldNodeID:
					env.Point.NodeID = string(v)
					return expect("point.node_id", typ, protowire.BytesType)
				case fieldLocationID:
					env.Point.LocationID = string(v)
					return expect("point.location_id", typ, protowire.BytesType)
				}
				return nil
			})
		case fieldWindow:
			if err := expect("window", typ, protowire.BytesType); err != nil {
				return err
			}
			return walk(v, func(num protowire.Number, typ protowire.Type, _ []byte, n uint64) error {
				switch num {
				case fieldStartedAt:
					env.Window.StartedAt = time.Unix(0, int64(n))
					return expect("window.started_at", typ, protowire.VarintType)
				case fieldEndedAt:
					env.Window.EndedAt = time.Unix(0, int64(n))
					return expect("window.ended_at", typ, protowire.VarintType)
				}
				return nil
			})
		case fieldStats:
			if err := expect("stats", typ, protowire.BytesType); err != nil {
				return err
			}
			return walk(v, func(num protowire.Number, typ protowire.Type, _ []byte, n uint64) error {
				if num < fieldTotalLookups || num > fieldCacheSize {
					return nil
				}
				if err := expect(fmt.Sprintf("stats field %d", num), typ, protowire.VarintType); err != nil {
					return err
				}
				decodeStat(&env.Stats, num, n)
				return nil
			})
		case fieldID:
			if err := expect("id", typ, protowire.BytesType); err != nil {
				return err
			}
			id, err := uuid.FromBytes(v)
			if err != nil {
				return fmt.Errorf("%w: id: %w", ErrMalformed, err)
			}
			env.ID = id
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return env, nil
}

func expect(field string, got, want protowire.Type) error {
	if got != want {
		return fmt.Errorf("%w: %s has wire type %d, want %d", ErrMalformed, field, got, want)
	}
	return nil
}

func decodeStat(hs *stats.HealthStats, num protowire.Number, n uint64) {
	switch num {
	case fieldTotalLookups:
		hs.TotalLookups = n
	case fieldCacheHits:
		hs.CacheHits = n
	case fieldRemoteLookups:
		hs.RemoteLookups = n
	case fieldConnectivityFailures:
		hs.ConnectivityFailures = n
	case fieldServiceFailures:
		hs.ServiceFailures = n
	case fieldUncategorized:
		hs.Uncategorized = n
	case fieldMinLatencyMs:
		hs.MinLatency = time.Duration(n) * time.Millisecond
	case fieldMaxLatencyMs:
		hs.MaxLatency = time.Duration(n) * time.Millisecond
	case fieldAvgLatencyMs:
		hs.AvgLatency = time.Duration(n) * time.Millisecond
	case fieldCachedEntries:
		hs.CachedEntries = n
	case fieldCacheSize:
		hs.CacheSize = n
	}
}

// walk calls fn for every field of b. v is set for length-delimited fields
// and n for varints; other wire types carry neither.
func walk(b []byte, fn func(num protowire.Number, typ protowire.Type, v []byte, n uint64) error) error {
	for len(b) > 0 {
		num, typ, m := protowire.ConsumeTag(b)
		if m < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(m))
		}
		b = b[m:]
		switch typ {
		case protowire.VarintType:
			n, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(num, typ, nil, n); err != nil {
				return err
			}
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(num, typ, v, 0); err != nil {
				return err
			}
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(m))
			}
			b = b[m:]
			if err := fn(num, typ, nil, 0); err != nil {
				return err
			}
		}
	}
	return nil
}
