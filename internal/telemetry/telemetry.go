// Package telemetry wires OpenTelemetry spans and counters around the
// engine's step loop and network traffic. It is purely additive: nothing
// here feeds back into a harness predicate, and a harness run with
// telemetry disabled (the zero Provider) behaves identically to one with
// it enabled.
//
// A Provider owns a TracerProvider for the lifetime of one harness
// invocation: sdktrace.NewTracerProvider and otel.SetTracerProvider at
// construction, a deferred Shutdown at the end of the run. The observable
// gauges over distsim/internal/observability's counters are registered
// separately, by RegisterNetworkGauges, on the global MeterProvider.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"distsim/internal/observability"
)

const instrumentationName = "distsim"

// Provider owns a process-wide TracerProvider. The zero value is usable:
// its span calls fall through to the global (no-op by default) otel
// TracerProvider, so instrumenting a call site never requires a nil check.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider installs a fresh TracerProvider as the process-wide default,
// mirroring cmd/ployz/main.go's startup sequence.
func NewProvider() *Provider {
	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)
	return &Provider{tp: tp}
}

// Shutdown flushes and releases the provider's resources.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

func (p *Provider) tracer() trace.Tracer {
	if p == nil || p.tp == nil {
		return otel.Tracer(instrumentationName)
	}
	return p.tp.Tracer(instrumentationName)
}

// TraceSteps wraps a call to the engine's step loop in a span named
// "engine.steps" carrying the requested step count as an attribute, and
// marks the span as errored (without altering the returned error) when
// advance fails — so a trace backend can show exactly which step batch in
// a long scenario run raised a fatal engine error.
func (p *Provider) TraceSteps(ctx context.Context, n int, advance func() (int, error)) (int, error) {
	ctx, span := p.tracer().Start(ctx, "engine.steps", trace.WithAttributes(
		attribute.Int("distsim.steps.requested", n),
	))
	defer span.End()

	advanced, err := advance()
	span.SetAttributes(attribute.Int("distsim.steps.advanced", advanced))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return advanced, err
}

// TraceScenario wraps one named scenario run (one harness.Suite.Run
// callback) in a span, recording pass/fail as the span status. The span is
// a child of whatever span ctx carries; no run-level root span is started.
func (p *Provider) TraceScenario(ctx context.Context, name string, run func() error) error {
	ctx, span := p.tracer().Start(ctx, name)
	defer span.End()

	err := run()
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// RegisterNetworkGauges registers observable gauges that sample obs's
// network message/byte counters whenever a metric reader collects, using
// the global (no-op unless configured) MeterProvider — exactly as
// TraceSteps uses the global TracerProvider when no Provider was
// constructed, so a caller can wire real SDK metric export later without
// touching call sites.
func RegisterNetworkGauges(obs *observability.Observability) error {
	meter := otel.Meter(instrumentationName)

	msgs, err := meter.Int64ObservableGauge(
		"distsim.network.messages",
		metric.WithDescription("cumulative count of messages placed on the wire"),
	)
	if err != nil {
		return err
	}
	bytesCounter, err := meter.Int64ObservableGauge(
		"distsim.network.bytes",
		metric.WithDescription("cumulative payload bytes placed on the wire"),
	)
	if err != nil {
		return err
	}

	_, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		o.ObserveInt64(msgs, int64(obs.GetNetworkMessageCount()))
		o.ObserveInt64(bytesCounter, int64(obs.GetNetworkTraffic()))
		return nil
	}, msgs, bytesCounter)
	return err
}
