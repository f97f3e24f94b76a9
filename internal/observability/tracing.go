package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials/insecure"
)

const defaultServiceName = "groundwork"

// Tracer opens spans for turns, reasoner attempts and tool calls. Spans carry
// identifiers only. A nil *Tracer uses the global provider.
type Tracer struct {
	tracer trace.Tracer
	config TraceConfig
}

// TraceConfig configures the OTLP exporter.
type TraceConfig struct {
	ServiceName    string            `yaml:"service_name"`
	ServiceVersion string            `yaml:"service_version"`
	Environment    string            `yaml:"environment"`
	Endpoint       string            `yaml:"endpoint"`
	SamplingRate   float64           `yaml:"sampling_rate"`
	Attributes     map[string]string `yaml:"attributes"`
	EnableInsecure bool              `yaml:"insecure"`
}

// NewTracer returns a tracer and the function that flushes it. Without an
// endpoint, or when the exporter cannot be built, spans go to the global
// provider and shutdown does nothing.
func NewTracer(config TraceConfig) (*Tracer, func(context.Context) error) {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	t := &Tracer{tracer: otel.Tracer(config.ServiceName), config: config}
	noop := func(context.Context) error { return nil }
	if config.Endpoint == "" {
		return t, noop
	}

	provider, err := newTraceProvider(context.Background(), config)
	if err != nil {
		return t, noop
	}
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
	t.tracer = provider.Tracer(config.ServiceName)
	return t, provider.Shutdown
}

func newTraceProvider(ctx context.Context, config TraceConfig) (*sdktrace.TracerProvider, error) {
	clientOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.Endpoint)}
	if config.EnableInsecure {
		clientOpts = append(clientOpts, otlptracegrpc.WithTLSCredentials(insecure.NewCredentials()))
	}
	exporter, err := otlptrace.New(ctx, otlptracegrpc.NewClient(clientOpts...))
	if err != nil {
		return nil, err
	}

	attrs := []attribute.KeyValue{
		semconv.ServiceName(config.ServiceName),
		semconv.ServiceVersion(config.ServiceVersion),
	}
	if config.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironment(config.Environment))
	}
	for k, v := range config.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.New(ctx, resource.WithAttributes(attrs...))
	if err != nil {
		res = resource.Default()
	}

	return sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(samplerFor(config.SamplingRate)),
	), nil
}

// samplerFor treats 0 as unset and samples everything.
func samplerFor(rate float64) sdktrace.Sampler {
	switch {
	case rate == 0 || rate >= 1:
		return sdktrace.AlwaysSample()
	case rate < 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func (t *Tracer) start(ctx context.Context, name string, kind trace.SpanKind, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	var tracer trace.Tracer
	if t != nil && t.tracer != nil {
		tracer = t.tracer
	} else {
		tracer = otel.Tracer(defaultServiceName)
	}
	return tracer.Start(ctx, name, trace.WithSpanKind(kind), trace.WithAttributes(attrs...))
}

// TraceTurn starts the root span of one HandleTurn call.
func (t *Tracer) TraceTurn(ctx context.Context, sessionID, turnID string) (context.Context, trace.Span) {
	return t.start(ctx, "agent.turn", trace.SpanKindServer,
		attribute.String("session_id", sessionID),
		attribute.String("turn_id", turnID))
}

// TraceReasoner starts a span around one backend attempt.
func (t *Tracer) TraceReasoner(ctx context.Context, provider, model string, iteration int) (context.Context, trace.Span) {
	return t.start(ctx, "reasoner."+provider, trace.SpanKindClient,
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("loop.iteration", iteration))
}

// TraceToolExecution starts a span around one tool call.
func (t *Tracer) TraceToolExecution(ctx context.Context, toolName, callID string) (context.Context, trace.Span) {
	return t.start(ctx, "tool."+toolName, trace.SpanKindInternal,
		attribute.String("tool.name", toolName),
		attribute.String("tool.call_id", callID))
}

// RecordError marks span failed. Both arguments may be nil.
func RecordError(span trace.Span, err error) {
	if err == nil || span == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// GetTraceID returns the trace ID of the span on ctx, or "".
func GetTraceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
