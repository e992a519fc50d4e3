package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestIsMatchesByCode(t *testing.T) {
	err := Newf(CodeOrderNotFound, "order %s not found", "A")
	if !stderrors.Is(err, ErrOrderNotFound) {
		t.Fatal("expected errors.Is to match by code")
	}
	wrapped := fmt.Errorf("cancel: %w", err)
	if !stderrors.Is(wrapped, ErrOrderNotFound) {
		t.Fatal("expected wrapped error to match")
	}
	if stderrors.Is(wrapped, ErrDuplicateOrder) {
		t.Fatal("different code must not match")
	}
}

func TestCodeOf(t *testing.T) {
	if got := CodeOf(nil); got != CodeOK {
		t.Fatalf("CodeOf(nil) = %s", got)
	}
	if got := CodeOf(stderrors.New("boom")); got != CodeUnknown {
		t.Fatalf("CodeOf(plain) = %s", got)
	}
	if got := CodeOf(fmt.Errorf("x: %w", New(CodeInvalidPrice, "bad"))); got != CodeInvalidPrice {
		t.Fatalf("CodeOf(wrapped) = %s", got)
	}
}

func TestFatalCodes(t *testing.T) {
	tests := []struct {
		code  Code
		fatal bool
	}{
		{CodeInvalidFill, true},
		{CodeInvalidState, true},
		{CodeBookHalted, true},
		{CodeInvalidPrice, false},
		{CodeOrderNotFound, false},
	}
	for _, tc := range tests {
		if got := IsFatal(New(tc.code, "x")); got != tc.fatal {
			t.Fatalf("IsFatal(%s) = %v, want %v", tc.code, got, tc.fatal)
		}
	}
	if IsFatal(stderrors.New("plain")) {
		t.Fatal("plain error must not be fatal")
	}
}

func TestHTTPStatus(t *testing.T) {
	if got := New(CodeDuplicateClientOrderId, "").HTTPStatus(); got != http.StatusConflict {
		t.Fatalf("duplicate status = %d", got)
	}
	if got := New(CodeEmptyBook, "").HTTPStatus(); got != http.StatusNotFound {
		t.Fatalf("empty book status = %d", got)
	}
	if got := New(CodeBookHalted, "").HTTPStatus(); got != http.StatusServiceUnavailable {
		t.Fatalf("halted status = %d", got)
	}
	if !New(CodeSystemBusy, "").Retryable {
		t.Fatal("system busy should be retryable")
	}
}
