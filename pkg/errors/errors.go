// Package errors 定义统一错误码
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK              Code = "OK"
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidParam    Code = "INVALID_PARAM"
	CodeNotFound        Code = "NOT_FOUND"
	CodeUnauthenticated Code = "UNAUTHENTICATED"
	CodeInternal        Code = "INTERNAL"
	CodeUnavailable     Code = "UNAVAILABLE"
	CodeTimeout         Code = "TIMEOUT"
	CodeSystemBusy      Code = "SYSTEM_BUSY"

	// 下单校验
	CodeInvalidSide            Code = "INVALID_SIDE"
	CodeInvalidOrderType       Code = "INVALID_ORDER_TYPE"
	CodeInvalidTimeInForce     Code = "INVALID_TIME_IN_FORCE"
	CodeInvalidPrice           Code = "INVALID_PRICE"
	CodeInvalidQuantity        Code = "INVALID_QUANTITY"
	CodeDuplicateClientOrderId Code = "DUPLICATE_CLIENT_ORDER_ID"

	// 撤单 / 行情
	CodeOrderNotFound Code = "ORDER_NOT_FOUND"
	CodeEmptyBook     Code = "EMPTY_BOOK"

	// 撮合内部不变量（致命）
	CodeInvalidFill  Code = "INVALID_FILL"
	CodeInvalidState Code = "INVALID_STATE"
	CodeBookHalted   Code = "BOOK_HALTED"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches any *Error carrying the same code, so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// NewWithDefault 创建错误，message 为空时使用错误码
func NewWithDefault(code Code, message string) *Error {
	if message == "" {
		message = string(code)
	}
	return New(code, message)
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// Fatal reports whether the code marks a broken matching invariant.
func (e *Error) Fatal() bool {
	switch e.Code {
	case CodeInvalidFill, CodeInvalidState, CodeBookHalted:
		return true
	default:
		return false
	}
}

// CodeOf 提取错误码，非业务错误返回 CodeUnknown
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return CodeUnknown
}

// IsFatal reports whether err (or anything it wraps) is a fatal matching error.
func IsFatal(err error) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Fatal()
	}
	return false
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeSystemBusy, CodeTimeout, CodeUnavailable:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidPrice, CodeInvalidQuantity,
		CodeInvalidSide, CodeInvalidOrderType, CodeInvalidTimeInForce:
		return http.StatusBadRequest
	case CodeUnauthenticated:
		return http.StatusUnauthorized
	case CodeNotFound, CodeOrderNotFound, CodeEmptyBook:
		return http.StatusNotFound
	case CodeDuplicateClientOrderId:
		return http.StatusConflict
	case CodeInternal, CodeUnknown, CodeInvalidFill, CodeInvalidState:
		return http.StatusInternalServerError
	case CodeUnavailable, CodeSystemBusy, CodeBookHalted:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam    = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound        = New(CodeNotFound, "not found")
	ErrUnauthenticated = New(CodeUnauthenticated, "unauthenticated")
	ErrOrderNotFound   = New(CodeOrderNotFound, "order not found")
	ErrDuplicateOrder  = New(CodeDuplicateClientOrderId, "duplicate client order id")
	ErrInvalidFill     = New(CodeInvalidFill, "invalid fill")
	ErrInvalidState    = New(CodeInvalidState, "invalid order state")
	ErrBookHalted      = New(CodeBookHalted, "order book halted")
	ErrEmptyBook       = New(CodeEmptyBook, "no resting orders")
)
