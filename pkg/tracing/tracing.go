// Package tracing sets up OpenTelemetry export to Jaeger and names the
// spans the gateway opens around signaling, presence and named data.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentation = "ccngate"

// Version is reported as service.version on every exported span.
var Version = "dev"

type Config struct {
	Enabled     bool
	ServiceName string
	JaegerURL   string
	Environment string
	// SampleRate is the fraction of root spans kept, 0..1.
	SampleRate float64
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "ccngate",
		JaegerURL:   "http://localhost:14268/api/traces",
		Environment: "development",
		SampleRate:  1.0,
	}
}

// Provider owns the SDK tracer provider. A disabled Provider is a no-op.
type Provider struct {
	tp *tracesdk.TracerProvider
}

// Init installs a Jaeger-backed global tracer provider. With tracing
// disabled the global no-op provider is left in place.
func Init(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.JaegerURL)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter for %s: %w", cfg.JaegerURL, err)
	}
	res, err := resource.New(context.Background(), resource.WithAttributes(
		semconv.ServiceNameKey.String(cfg.ServiceName),
		semconv.ServiceVersionKey.String(Version),
		semconv.DeploymentEnvironmentKey.String(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing resource: %w", err)
	}

	tp := tracesdk.NewTracerProvider(
		tracesdk.WithBatcher(exp),
		tracesdk.WithResource(res),
		tracesdk.WithSampler(tracesdk.ParentBased(tracesdk.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp}, nil
}

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

var (
	PeerIDKey       = attribute.Key("peer.id")
	NickKey         = attribute.Key("peer.nick")
	NameKey         = attribute.Key("ccn.name")
	StreamKey       = attribute.Key("ccn.stream")
	PresenceTypeKey = attribute.Key("presence.type")
	ChatroomKey     = attribute.Key("chatroom")
	SignalEventKey  = attribute.Key("signal.event")
	SessionStepKey  = attribute.Key("session.step")
)

func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return otel.Tracer(instrumentation).Start(ctx, name, opts...)
}

// RecordError marks the span in ctx as failed.
func RecordError(ctx context.Context, err error) {
	span := trace.SpanFromContext(ctx)
	if err == nil || !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func TraceHTTPRequest(ctx context.Context, method, route string) (context.Context, trace.Span) {
	return StartSpan(ctx, "http."+method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			semconv.HTTPMethodKey.String(method),
			semconv.HTTPRouteKey.String(route),
		),
	)
}

// TraceSignalMessage spans one event received from the browser.
func TraceSignalMessage(ctx context.Context, event, clientID string) (context.Context, trace.Span) {
	return StartSpan(ctx, "signal."+event, trace.WithAttributes(
		SignalEventKey.String(event),
		PeerIDKey.String(clientID),
	))
}

func TracePresence(ctx context.Context, msgType, uid, nick string) (context.Context, trace.Span) {
	return StartSpan(ctx, "presence."+msgType, trace.WithAttributes(
		PresenceTypeKey.String(msgType),
		PeerIDKey.String(uid),
		NickKey.String(nick),
	))
}

func TraceSession(ctx context.Context, step, uid string) (context.Context, trace.Span) {
	return StartSpan(ctx, "session."+step, trace.WithAttributes(
		SessionStepKey.String(step),
		PeerIDKey.String(uid),
	))
}

// TraceInterest spans the expression of one interest on a fetch stream.
func TraceInterest(ctx context.Context, stream, name string) (context.Context, trace.Span) {
	return StartSpan(ctx, "interest."+stream,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			StreamKey.String(stream),
			NameKey.String(name),
		),
	)
}

// TraceSyncPublish spans publishing a record and announcing it to a chatroom.
func TraceSyncPublish(ctx context.Context, chatroom, name string) (context.Context, trace.Span) {
	return StartSpan(ctx, "sync.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			ChatroomKey.String(chatroom),
			NameKey.String(name),
		),
	)
}
