// Package validate 下单参数校验
package validate

import (
	stderrors "errors"
	"regexp"
	"strings"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

var (
	symbolRe = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._/-]{0,31}$`)
	idRe     = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,64}$`)
)

// Symbol 校验交易标的（如 MSFT、BTC_USDT、EUR/USD）
func Symbol(s string) error {
	if s == "" {
		return omerrors.New(omerrors.CodeInvalidParam, "symbol is required")
	}
	if !symbolRe.MatchString(s) {
		return omerrors.Newf(omerrors.CodeInvalidParam, "invalid symbol: %q", s)
	}
	return nil
}

// ID 校验 clOrdID / owner / target 一类标识
func ID(field, id string) error {
	if id == "" {
		return omerrors.Newf(omerrors.CodeInvalidParam, "%s is required", field)
	}
	if !idRe.MatchString(id) {
		return omerrors.Newf(omerrors.CodeInvalidParam, "invalid %s: %q (expected 1-64 chars, [A-Za-z0-9_.:-])", field, id)
	}
	return nil
}

// Price 限价单价格必须 > 0（最小价格单位整数）
func Price(price int64) error {
	if price <= 0 {
		return omerrors.Newf(omerrors.CodeInvalidPrice, "invalid price: %d (must be > 0)", price)
	}
	return nil
}

// Quantity 数量必须 > 0；max > 0 时校验上限
func Quantity(qty, max int64) error {
	if qty <= 0 {
		return omerrors.Newf(omerrors.CodeInvalidQuantity, "invalid quantity: %d (must be > 0)", qty)
	}
	if max > 0 && qty > max {
		return omerrors.Newf(omerrors.CodeInvalidQuantity, "invalid quantity: %d (max=%d)", qty, max)
	}
	return nil
}

type ValidationError struct {
	Field   string
	Code    omerrors.Code
	Message string
}

// Validator 链式收集校验错误
type Validator struct {
	errors []ValidationError
}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) Check(field string, err error) *Validator {
	if err == nil {
		return v
	}
	var ce *omerrors.Error
	if stderrors.As(err, &ce) && ce != nil {
		v.errors = append(v.errors, ValidationError{Field: field, Code: ce.Code, Message: ce.Message})
		return v
	}
	v.errors = append(v.errors, ValidationError{Field: field, Code: omerrors.CodeInvalidParam, Message: err.Error()})
	return v
}

func (v *Validator) Symbol(field, value string) *Validator {
	return v.Check(field, Symbol(value))
}

func (v *Validator) ID(field, value string) *Validator {
	return v.Check(field, ID(field, value))
}

func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.Check(field, omerrors.Newf(omerrors.CodeInvalidParam, "%s is required", field))
	}
	return v
}

func (v *Validator) Errors() []ValidationError {
	out := make([]ValidationError, len(v.errors))
	copy(out, v.errors)
	return out
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Err 返回第一个错误；没有错误时返回 nil
func (v *Validator) Err() error {
	if len(v.errors) == 0 {
		return nil
	}
	first := v.errors[0]
	return omerrors.New(first.Code, first.Message)
}
