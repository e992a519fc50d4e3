// Package response HTTP 响应工具
package response

import (
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

const requestIDHeader = "X-Request-ID"

// RequestIDFromRequest 从请求头读取 request id
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(r.Header.Get(requestIDHeader))
}

// WriteJSON 写成功响应
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError 按错误码映射 HTTP 状态写错误响应；非业务错误按 INTERNAL 处理
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	if w == nil || err == nil {
		return
	}
	code := omerrors.CodeInternal
	msg := "internal server error"
	var ce *omerrors.Error
	if stderrors.As(err, &ce) && ce != nil {
		code, msg = ce.Code, ce.Message
	}
	payload := omerrors.NewWithDefault(code, msg)
	if reqID := RequestIDFromRequest(r); reqID != "" {
		payload = payload.WithRequestID(reqID)
	}
	WriteJSON(w, payload.HTTPStatus(), payload)
}

// WriteErrorCode 用错误码和消息写错误响应
func WriteErrorCode(w http.ResponseWriter, r *http.Request, code omerrors.Code, message string) {
	WriteError(w, r, omerrors.NewWithDefault(code, message))
}
