package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledIsNoop(t *testing.T) {
	shutdown, err := Init(Config{Enabled: false})
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	defer shutdown(context.Background())

	ctx, span := StartSpan(context.Background(), "match")
	defer span.End()
	if span.IsRecording() {
		t.Fatal("span should not record when tracing is disabled")
	}
	if TraceIDFromContext(ctx) != "" {
		t.Fatal("trace id should be empty when disabled")
	}

	values := map[string]interface{}{"data": "{}"}
	InjectStream(ctx, values)
	if len(values) != 1 {
		t.Fatalf("values mutated: %v", values)
	}
	if got := ExtractStream(context.Background(), map[string]interface{}{streamTraceID: "abc"}); TraceIDFromContext(got) != "" {
		t.Fatal("extract should be a no-op when disabled")
	}
}

func TestHTTPMiddlewareDisabledPassesThrough(t *testing.T) {
	_, _ = Init(Config{})
	called := false
	h := HTTPMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/symbols", nil))
	if !called {
		t.Fatal("next handler not called")
	}
	if rec.Header().Get(httpTraceHeader) != "" {
		t.Fatal("unexpected trace header")
	}
}

func TestStreamCarrier(t *testing.T) {
	c := streamCarrier{"a": "1", "b": []byte("2"), "c": 3}
	if c.Get("a") != "1" || c.Get("b") != "2" || c.Get("c") != "3" || c.Get("missing") != "" {
		t.Fatalf("unexpected carrier values: %v", c)
	}
	c.Set("traceparent", "00-x")
	if c.Get("traceparent") != "00-x" {
		t.Fatal("Set failed")
	}
	if len(c.Keys()) != 4 {
		t.Fatalf("Keys = %v", c.Keys())
	}
}
