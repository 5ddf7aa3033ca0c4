package middleware

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vango-dev/hypercube/pkg/hypercube"
)

// Default tracer name for Hypercube applications.
const defaultTracerName = "hypercube"

// OTelConfig configures the OpenTelemetry middleware.
type OTelConfig struct {
	// TracerName is the name of the tracer (default: "hypercube").
	TracerName string

	// TracerProvider supplies the tracer. If nil, the global provider is used.
	TracerProvider trace.TracerProvider

	// IncludeSessionID records the session ID on every span.
	// Enabled by default.
	IncludeSessionID bool

	// AttributeExtractor returns extra attributes once routing is complete.
	AttributeExtractor func(d *hypercube.Dispatch) []attribute.KeyValue
}

// OTelOption configures the OpenTelemetry middleware.
type OTelOption func(*OTelConfig)

// WithTracerName sets the tracer name.
func WithTracerName(name string) OTelOption {
	return func(c *OTelConfig) {
		c.TracerName = name
	}
}

// WithTracerProvider sets the tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *OTelConfig) {
		c.TracerProvider = tp
	}
}

// WithIncludeSessionID enables/disables the session ID attribute.
func WithIncludeSessionID(include bool) OTelOption {
	return func(c *OTelConfig) {
		c.IncludeSessionID = include
	}
}

// WithAttributeExtractor sets a custom attribute extractor.
func WithAttributeExtractor(extractor func(d *hypercube.Dispatch) []attribute.KeyValue) OTelOption {
	return func(c *OTelConfig) {
		c.AttributeExtractor = extractor
	}
}

func defaultOTelConfig() OTelConfig {
	return OTelConfig{
		TracerName:       defaultTracerName,
		IncludeSessionID: true,
	}
}

// OpenTelemetry creates middleware that traces every routed frame.
//
// Each span is named "hypercube <path>" and carries the event name and
// routing outcome. Frames that were not handled get an error status.
// The span is available to later middleware through SpanFromDispatch.
//
// The tracer uses the global OpenTelemetry tracer provider unless
// WithTracerProvider is given. Configure it in main() before serving:
//
//	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
//	otel.SetTracerProvider(tp)
func OpenTelemetry(opts ...OTelOption) hypercube.Middleware {
	config := defaultOTelConfig()
	for _, opt := range opts {
		opt(&config)
	}

	tp := config.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer(config.TracerName)

	return func(d *hypercube.Dispatch, next func()) {
		attrs := []attribute.KeyValue{
			attribute.String("hypercube.path", d.Path),
			attribute.Int("hypercube.frame_bytes", d.Size),
		}
		if config.IncludeSessionID && d.Session != nil {
			attrs = append(attrs, attribute.String("hypercube.session_id", d.Session.ID))
		}

		ctx, span := tracer.Start(d.Context(), "hypercube "+d.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(attrs...),
		)
		defer span.End()
		d.SetContext(ctx)

		next()

		span.SetAttributes(
			attribute.String("hypercube.event", d.Event),
			attribute.String("hypercube.outcome", string(d.Outcome)),
		)
		if config.AttributeExtractor != nil {
			span.SetAttributes(config.AttributeExtractor(d)...)
		}

		if d.Outcome == hypercube.OutcomeHandled {
			span.SetStatus(codes.Ok, "")
			return
		}
		if d.Err != nil {
			span.RecordError(d.Err)
			span.SetStatus(codes.Error, d.Err.Error())
			return
		}
		span.SetStatus(codes.Error, string(d.Outcome))
	}
}

// SpanFromDispatch returns the span started for d, or a no-op span if the
// OpenTelemetry middleware is not installed further out.
func SpanFromDispatch(d *hypercube.Dispatch) trace.Span {
	return trace.SpanFromContext(d.Context())
}
