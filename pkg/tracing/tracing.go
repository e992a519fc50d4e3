// Package tracing OpenTelemetry 链路追踪（Jaeger 导出）
package tracing

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

type Config struct {
	ServiceName string
	Environment string
	Endpoint    string // Jaeger collector endpoint
	Enabled     bool
	SampleRate  float64 // 0.0-1.0
}

const (
	httpTraceHeader = "X-Trace-ID"
	streamTraceID   = "_traceId"
	defaultSpanName = "request"
	tracerName      = "ordermatch/tracing"
	unknownService  = "unknown-service"
)

type ctxKeyTraceID struct{}

var enabled atomic.Bool

func Enabled() bool { return enabled.Load() }

func setPropagator() {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
}

// Init 初始化全局 TracerProvider；未启用时安装 noop provider
func Init(cfg Config) (shutdown func(context.Context) error, err error) {
	setPropagator()
	if !cfg.Enabled {
		enabled.Store(false)
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		return func(context.Context) error { return nil }, nil
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = unknownService
	}

	sampleRate := cfg.SampleRate
	switch {
	case sampleRate <= 0:
		sampleRate = 0
	case sampleRate >= 1:
		sampleRate = 1
	}

	exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(cfg.Endpoint)))
	if err != nil {
		return nil, fmt.Errorf("jaeger exporter: %w", err)
	}

	attrs := []attribute.KeyValue{attribute.String("service.name", serviceName)}
	if cfg.Environment != "" {
		attrs = append(attrs, attribute.String("deployment.environment", cfg.Environment))
	}
	res, err := sdkresource.New(context.Background(), sdkresource.WithAttributes(attrs...))
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	enabled.Store(true)

	return tp.Shutdown, nil
}

// HTTPMiddleware HTTP 请求追踪中间件
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !enabled.Load() {
			next.ServeHTTP(w, r)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		if TraceIDFromContext(ctx) == "" {
			if tid := r.Header.Get(httpTraceHeader); tid != "" {
				ctx = ContextWithTraceID(ctx, tid)
			}
		}

		ctx, span := StartSpan(ctx, r.Method+" "+r.URL.Path, trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("url.path", r.URL.Path),
		)
		if traceID := TraceIDFromContext(ctx); traceID != "" {
			w.Header().Set(httpTraceHeader, traceID)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func TraceIDFromContext(ctx context.Context) string {
	if ctx == nil || !enabled.Load() {
		return ""
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		return sc.TraceID().String()
	}
	if s, ok := ctx.Value(ctxKeyTraceID{}).(string); ok {
		return s
	}
	return ""
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() || traceID == "" {
		return ctx
	}
	ctx = context.WithValue(ctx, ctxKeyTraceID{}, traceID)
	if tid, err := trace.TraceIDFromHex(traceID); err == nil && tid.IsValid() {
		sc := trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    tid,
			TraceFlags: trace.FlagsSampled,
			Remote:     true,
		})
		ctx = trace.ContextWithSpanContext(ctx, sc)
	}
	return ctx
}

// StartSpan 开始一个新 span
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !enabled.Load() {
		return ctx, trace.SpanFromContext(context.Background())
	}
	if name == "" {
		name = defaultSpanName
	}
	return otel.Tracer(tracerName).Start(ctx, name, opts...)
}

// SetError 记录错误
func SetError(ctx context.Context, err error) {
	if ctx == nil || err == nil || !enabled.Load() {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// streamCarrier 让 Redis Stream 字段可以承载 traceparent
type streamCarrier map[string]interface{}

func (c streamCarrier) Get(key string) string {
	switch v := c[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (c streamCarrier) Set(key, value string) { c[key] = value }

func (c streamCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

// InjectStream 把当前 trace 写入待 XADD 的字段
func InjectStream(ctx context.Context, values map[string]interface{}) {
	if ctx == nil || values == nil || !enabled.Load() {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, streamCarrier(values))
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		values[streamTraceID] = traceID
	}
}

// ExtractStream 从 Stream 消息字段恢复 trace
func ExtractStream(ctx context.Context, values map[string]interface{}) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if values == nil || !enabled.Load() {
		return ctx
	}
	carrier := streamCarrier(values)
	ctx = otel.GetTextMapPropagator().Extract(ctx, carrier)
	if TraceIDFromContext(ctx) != "" {
		return ctx
	}
	return ContextWithTraceID(ctx, carrier.Get(streamTraceID))
}
