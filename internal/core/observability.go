package core

import (
	"context"
	"time"

	"periodcore/pkg/domain"
)

// MetricsRecorder receives service operation outcomes and the sibling
// corrections they caused.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
	ObserveCorrections(ctx context.Context, kind domain.Kind, corrections map[string]int)
}

// Tracer opens a span around each service operation.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan is closed with the operation's error, if any.
type TraceSpan interface {
	End(err error)
}

type noopMetrics struct{}

func (noopMetrics) Observe(context.Context, string, bool, time.Duration)            {}
func (noopMetrics) ObserveCorrections(context.Context, domain.Kind, map[string]int) {}

type noopTracer struct{}

func (noopTracer) Start(ctx context.Context, _ string) (context.Context, TraceSpan) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}
