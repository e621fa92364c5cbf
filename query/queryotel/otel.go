// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package queryotel provides OpenTelemetry instrumentation for query
// sessions. It implements [query.Hook], recording a client span per
// round trip together with request counts, durations, and the number
// of requests in flight.
//
// Usage:
//
//	session, err := query.Open(ctx, cfg, schema,
//		query.WithHook(queryotel.NewHook(queryotel.DefaultConfig())))
package queryotel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/posterior/loom/lib/protocol"
	"github.com/posterior/loom/query"
	"github.com/posterior/loom/transport"
)

const instrumentationName = "github.com/posterior/loom/query"

// Config configures the instrumentation.
type Config struct {
	// TracerProvider supplies the tracer. Defaults to
	// otel.GetTracerProvider().
	TracerProvider trace.TracerProvider
	// MeterProvider supplies the meter. Defaults to
	// otel.GetMeterProvider().
	MeterProvider metric.MeterProvider
	// EnableTracing enables span creation.
	EnableTracing bool
	// EnableMetrics enables counter, histogram, and gauge recording.
	EnableMetrics bool
	// RecordErrors calls RecordError on the span of a failed round
	// trip.
	RecordErrors bool
	// Attributes are added to every span.
	Attributes []attribute.KeyValue
}

// DefaultConfig enables everything against the global providers.
func DefaultConfig() Config {
	return Config{
		EnableTracing: true,
		EnableMetrics: true,
		RecordErrors:  true,
	}
}

// Hook is a query.Hook that reports to OpenTelemetry.
type Hook struct {
	cfg      Config
	tracer   trace.Tracer
	requests metric.Int64Counter
	duration metric.Float64Histogram
	inFlight metric.Int64UpDownCounter
}

var _ query.Hook = (*Hook)(nil)

// NewHook resolves cfg's providers and creates the instruments.
func NewHook(cfg Config) *Hook {
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	if cfg.MeterProvider == nil {
		cfg.MeterProvider = otel.GetMeterProvider()
	}

	hook := &Hook{
		cfg:    cfg,
		tracer: cfg.TracerProvider.Tracer(instrumentationName),
	}
	if cfg.EnableMetrics {
		meter := cfg.MeterProvider.Meter(instrumentationName)
		hook.requests, _ = meter.Int64Counter("loom.query.requests",
			metric.WithUnit("{request}"),
			metric.WithDescription("Number of query round trips"),
		)
		hook.duration, _ = meter.Float64Histogram("loom.query.duration",
			metric.WithUnit("s"),
			metric.WithDescription("Duration of query round trips"),
		)
		hook.inFlight, _ = meter.Int64UpDownCounter("loom.query.in_flight",
			metric.WithUnit("{request}"),
			metric.WithDescription("Query requests sent and not yet answered"),
		)
	}
	return hook
}

// spanToken is the HookToken returned by OnRoundTripStart.
type spanToken struct {
	span      trace.Span
	startTime time.Time
}

// OnRoundTripStart starts a client span named after the request kind.
func (h *Hook) OnRoundTripStart(ctx context.Context, info query.RoundTripInfo) (context.Context, query.HookToken) {
	if h.inFlight != nil {
		h.inFlight.Add(ctx, 1, metric.WithAttributes(attribute.String("loom.query.kind", info.Kind)))
	}
	if !h.cfg.EnableTracing {
		return ctx, &spanToken{startTime: time.Now()}
	}

	attrs := []attribute.KeyValue{
		attribute.String("loom.query.kind", info.Kind),
		attribute.String("loom.query.id", info.ID),
		attribute.Int("loom.query.in_flight", info.InFlight),
		attribute.Bool("loom.query.pipelined", info.Pipelined),
	}
	attrs = append(attrs, h.cfg.Attributes...)

	ctx, span := h.tracer.Start(ctx, "loom.query/"+info.Kind,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	return ctx, &spanToken{span: span, startTime: time.Now()}
}

// OnRoundTripEnd records metrics and ends the span.
func (h *Hook) OnRoundTripEnd(ctx context.Context, token query.HookToken, info query.RoundTripInfo, err error) {
	st, ok := token.(*spanToken)
	if !ok {
		return
	}
	duration := time.Since(st.startTime)

	status := "ok"
	if err != nil {
		status = "error"
	}

	if h.cfg.EnableMetrics {
		kind := attribute.String("loom.query.kind", info.Kind)
		if h.inFlight != nil {
			h.inFlight.Add(ctx, -1, metric.WithAttributes(kind))
		}
		attrs := metric.WithAttributes(kind, attribute.String("status", status))
		if h.requests != nil {
			h.requests.Add(ctx, 1, attrs)
		}
		if h.duration != nil {
			h.duration.Record(ctx, duration.Seconds(), attrs)
		}
	}

	if st.span == nil || !st.span.IsRecording() {
		return
	}
	if err != nil {
		st.span.SetStatus(codes.Error, err.Error())
		if h.cfg.RecordErrors {
			st.span.RecordError(err)
		}
		st.span.SetAttributes(attribute.String("loom.query.error_type", errorType(err)))
	} else {
		st.span.SetStatus(codes.Ok, "")
	}
	st.span.End()
}

// errorType classifies err for the loom.query.error_type attribute.
func errorType(err error) string {
	switch {
	case errors.Is(err, protocol.ErrServer):
		return "server"
	case errors.Is(err, query.ErrProtocolViolation):
		return "protocol_violation"
	case errors.Is(err, transport.ErrTransportClosed):
		return "closed"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return fmt.Sprintf("%T", err)
	}
}
