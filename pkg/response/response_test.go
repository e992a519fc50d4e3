package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
	"github.com/exchange/ordermatch/pkg/logger"
)

func decode(t *testing.T, rec *httptest.ResponseRecorder) omerrors.Error {
	t.Helper()
	var e omerrors.Error
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode: %v (%s)", err, rec.Body.String())
	}
	return e
}

func TestWriteErrorMapsCode(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/v1/marketdata/XYZ", nil)
	req.Header.Set("X-Request-ID", "req-1")

	WriteError(rec, req, omerrors.New(omerrors.CodeNotFound, "unknown symbol"))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d", rec.Code)
	}
	e := decode(t, rec)
	if e.Code != omerrors.CodeNotFound || e.RequestID != "req-1" || e.Message != "unknown symbol" {
		t.Fatalf("payload = %+v", e)
	}
}

func TestWriteErrorHidesPlainErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("db password leaked"))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if e := decode(t, rec); e.Message != "internal server error" {
		t.Fatalf("message = %q", e.Message)
	}
}

func TestMiddlewares(t *testing.T) {
	h := RequestIDMiddleware(RecoveryMiddleware(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if RequestIDFromContext(r.Context()) == "" {
			t.Error("request id missing from context")
		}
		panic("boom")
	})))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("code = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("X-Request-ID header not set")
	}
}
