// Package traces wires OpenTelemetry tracing for the gateway: the OTLP
// exporter, a per-request gin middleware, and attribute helpers shared by
// the prediction path.
package traces

import (
	"context"
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/mbd888/cardiorisk"

// TraceHeader carries the trace id back to the caller.
const TraceHeader = "X-Trace-ID"

// Settings configures the tracer provider.
type Settings struct {
	Endpoint    string // OTLP gRPC endpoint; empty disables export
	Version     string
	Environment string
	SampleRatio float64 // fraction of new root traces to record
}

// Init installs the global tracer provider. With no endpoint nothing is
// exported and the returned shutdown is a no-op.
func Init(ctx context.Context, s Settings, logger *slog.Logger) (func(context.Context) error, error) {
	if s.Endpoint == "" {
		logger.Info("tracing disabled (no OTEL_EXPORTER_OTLP_ENDPOINT set)")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(s.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, err
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName("cardiorisk"),
			semconv.ServiceVersion(s.Version),
			semconv.DeploymentEnvironment(s.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(s.SampleRatio))),
	)
	otel.SetTracerProvider(tp)

	logger.Info("tracing enabled", "endpoint", s.Endpoint, "sample_ratio", s.SampleRatio)
	return tp.Shutdown, nil
}

// StartSpan starts a span on the package tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

// Middleware opens a server span per request. The span is named by the
// matched route so high-cardinality paths collapse into one name.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		ctx, span := otel.Tracer(tracerName).Start(c.Request.Context(), c.Request.Method+" "+route,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(c.Request.Method),
				semconv.HTTPRoute(route),
			),
		)
		defer span.End()

		if sc := span.SpanContext(); sc.HasTraceID() {
			c.Header(TraceHeader, sc.TraceID().String())
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCode(status))
		if status >= 500 {
			span.SetStatus(codes.Error, "server error")
		}
	}
}

// Common attribute helpers for consistent span decoration.

func SessionID(id string) attribute.KeyValue {
	return attribute.String("prediction.session_id", id)
}

func Source(source string) attribute.KeyValue {
	return attribute.String("prediction.source", source)
}

func Risk(risk int) attribute.KeyValue {
	return attribute.Int("prediction.risk", risk)
}

func ErrorClass(class string) attribute.KeyValue {
	return attribute.String("ml.error_class", class)
}

func Endpoint(url string) attribute.KeyValue {
	return attribute.String("ml.endpoint", url)
}
