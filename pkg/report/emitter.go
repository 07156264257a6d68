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
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/plugin-healthstats/api"
	"github.com/srediag/plugin-healthstats/internal/logging"
)

// ErrTransport wraps every sink failure. A failed report is dropped.
var ErrTransport = errors.New("report: transport failed")

const instrumentationName = "github.com/srediag/plugin-healthstats/pkg/report"

// Emitter serializes envelopes and hands them to a sink.
type Emitter struct {
	sink   api.Sink
	ser    *Serializer
	log    *logging.Logger
	tracer trace.Tracer

	sent    metric.Int64Counter
	bytes   metric.Int64Counter
	dropped metric.Int64Counter
}

// EmitterOption configures an Emitter.
type EmitterOption func(*emitterOptions)

type emitterOptions struct {
	tp  trace.TracerProvider
	mp  metric.MeterProvider
	log *logging.Logger
	ser *Serializer
}

// WithTracerProvider overrides the global tracer provider.
func WithTracerProvider(tp trace.TracerProvider) EmitterOption {
	return func(o *emitterOptions) { o.tp = tp }
}

// WithMeterProvider overrides the global meter provider.
func WithMeterProvider(mp metric.MeterProvider) EmitterOption {
	return func(o *emitterOptions) { o.mp = mp }
}

// WithLogger sets the logger used for dropped reports.
func WithLogger(l *logging.Logger) EmitterOption {
	return func(o *emitterOptions) { o.log = l }
}

// WithSerializer shares a serializer, and its buffer pool, between emitters.
func WithSerializer(s *Serializer) EmitterOption {
	return func(o *emitterOptions) { o.ser = s }
}

// NewEmitter returns an emitter publishing through sink. A nil sink is
// allowed; every report is then treated as having no topic.
func NewEmitter(sink api.Sink, opts ...EmitterOption) (*Emitter, error) {
	o := emitterOptions{
		tp:  otel.GetTracerProvider(),
		mp:  otel.GetMeterProvider(),
		log: logging.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.ser == nil {
		o.ser = NewSerializer()
	}

	meter := o.mp.Meter(instrumentationName)
	e := &Emitter{
		sink:   sink,
		ser:    o.ser,
		log:    o.log.Named("report"),
		tracer: o.tp.Tracer(instrumentationName),
	}
	var err error
	if e.sent, err = meter.Int64Counter("healthstats.report.sent",
		metric.WithDescription("Reports handed to the transport"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	if e.bytes, err = meter.Int64Counter("healthstats.report.bytes",
		metric.WithDescription("Serialized report bytes handed to the transport"),
		metric.WithUnit("By")); err != nil {
		return nil, err
	}
	if e.dropped, err = meter.Int64Counter("healthstats.report.dropped",
		metric.WithDescription("Reports lost to transport failures"),
		metric.WithUnit("1")); err != nil {
		return nil, err
	}
	return e, nil
}

// Emit publishes env on env.Topic. With no topic the report stays local and
// Emit returns nil. Transport failures are logged, counted and returned
// wrapped in ErrTransport; they are never retried.
func (e *Emitter) Emit(ctx context.Context, hs api.HostSession, env *Envelope) error {
	if env.Topic == "" || e.sink == nil {
		e.log.Tracef("session %d: no topic, report kept local", hs.ID())
		return nil
	}

	ctx, span := e.tracer.Start(ctx, "healthstats.report.emit",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("healthstats.topic", env.Topic),
			attribute.String("healthstats.provider", env.Provider),
			attribute.String("healthstats.report_id", env.ID.String()),
		))
	defer span.End()

	topic := metric.WithAttributes(attribute.String("healthstats.topic", env.Topic))

	buf, err := e.ser.Serialize(env)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize")
		return err
	}
	defer e.ser.Release(buf)

	size := int64(buf.Len())
	span.SetAttributes(attribute.Int64("healthstats.payload_bytes", size))

	if err := e.sink.SendReport(ctx, hs, env.Topic, buf.Bytes()); err != nil {
		err = fmt.Errorf("%w: topic %q: %w", ErrTransport, env.Topic, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "send")
		e.dropped.Add(ctx, 1, topic)
		e.log.Warnf("session %d: report %s dropped: %v", hs.ID(), env.ID, err)
		return err
	}

	e.sent.Add(ctx, 1, topic)
	e.bytes.Add(ctx, size, topic)
	return nil
}
