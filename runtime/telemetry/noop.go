package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// NoOp implements Logger, Metrics, Tracer, and Span as a discard sink. Used
// by default in unit tests that don't assert on telemetry output.
type NoOp struct{}

func (NoOp) Debug(context.Context, string, ...any) {}
func (NoOp) Info(context.Context, string, ...any)  {}
func (NoOp) Warn(context.Context, string, ...any)  {}
func (NoOp) Error(context.Context, string, ...any) {}

func (NoOp) IncCounter(string, float64, ...string)            {}
func (NoOp) RecordTimer(string, time.Duration, ...string)     {}
func (NoOp) RecordGauge(string, float64, ...string)           {}

func (NoOp) Start(ctx context.Context, _ string, _ ...trace.SpanStartOption) (context.Context, Span) {
	return ctx, NoOp{}
}
func (NoOp) Span(ctx context.Context) Span { return NoOp{} }

func (NoOp) End(...trace.SpanEndOption)                {}
func (NoOp) AddEvent(string, ...any)                   {}
func (NoOp) SetStatus(codes.Code, string)              {}
func (NoOp) RecordError(error, ...trace.EventOption)   {}
