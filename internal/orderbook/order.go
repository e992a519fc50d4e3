// Package orderbook 订单簿与撮合核心
package orderbook

import (
	"container/list"
	"fmt"
	"strings"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

// Side 订单方向
type Side int

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int(s))
	}
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite 对手方向
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// ParseSide 解析 BUY / SELL（大小写不敏感）
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "1":
		return SideBuy, nil
	case "SELL", "2":
		return SideSell, nil
	default:
		return 0, omerrors.Newf(omerrors.CodeInvalidSide, "invalid side: %q (expected BUY or SELL)", s)
	}
}

// OrderType 订单类型
type OrderType int

const (
	TypeLimit  OrderType = 1
	TypeMarket OrderType = 2
)

func (t OrderType) String() string {
	switch t {
	case TypeLimit:
		return "LIMIT"
	case TypeMarket:
		return "MARKET"
	default:
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
}

func (t OrderType) Valid() bool { return t == TypeLimit || t == TypeMarket }

// ParseOrderType 解析 LIMIT / MARKET
func ParseOrderType(s string) (OrderType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return TypeLimit, nil
	case "MARKET":
		return TypeMarket, nil
	default:
		return 0, omerrors.Newf(omerrors.CodeInvalidOrderType, "invalid order type: %q (expected LIMIT or MARKET)", s)
	}
}

// Status 订单状态
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPartiallyFilled Status = "PARTIALLY_FILLED"
	StatusFilled          Status = "FILLED"
	StatusCanceled        Status = "CANCELED"
	StatusRejected        Status = "REJECTED"
)

// Open 是否可以留在订单簿中
func (s Status) Open() bool {
	return s == StatusNew || s == StatusPartiallyFilled
}

// Order 订单
//
// 不变量：ExecutedQty + OpenQty == Quantity；FILLED 当且仅当 OpenQty == 0 且 ExecutedQty > 0。
type Order struct {
	ClientOrderID     string    `json:"clientOrderId"`
	Symbol            string    `json:"symbol"`
	Owner             string    `json:"owner"`
	Target            string    `json:"target"`
	Side              Side      `json:"side"`
	Type              OrderType `json:"type"`
	Price             int64     `json:"price"`    // 最小单位整数，市价单为 0
	Quantity          int64     `json:"quantity"` // 原始数量
	ExecutedQty       int64     `json:"executedQty"`
	OpenQty           int64     `json:"openQty"`
	LastExecutedQty   int64     `json:"lastExecutedQty"`
	LastExecutedPrice int64     `json:"lastExecutedPrice"`
	AvgExecutedPrice  float64   `json:"avgExecutedPrice"`
	EntryTime         int64     `json:"entryTime"` // 纳秒，入簿时赋值一次
	Seq               int64     `json:"seq"`       // 入簿序号，同价位时间优先
	Status            Status    `json:"status"`
	Text              string    `json:"text,omitempty"`

	element *list.Element
}

// NewOrder 创建待入簿订单
func NewOrder(clientOrderID, symbol, owner, target string, side Side, typ OrderType, price, qty int64) *Order {
	if typ == TypeMarket {
		price = 0
	}
	return &Order{
		ClientOrderID: clientOrderID,
		Symbol:        symbol,
		Owner:         owner,
		Target:        target,
		Side:          side,
		Type:          typ,
		Price:         price,
		Quantity:      qty,
		OpenQty:       qty,
		Status:        StatusNew,
	}
}

// Reduce 按一次成交扣减剩余数量
func (o *Order) Reduce(qty, price int64) error {
	if !o.Status.Open() {
		return omerrors.Newf(omerrors.CodeInvalidState, "reduce %s %s: status %s", o.Side, o.ClientOrderID, o.Status)
	}
	if qty <= 0 || qty > o.OpenQty {
		return omerrors.Newf(omerrors.CodeInvalidFill, "reduce %s %s: fill qty %d, open qty %d", o.Side, o.ClientOrderID, qty, o.OpenQty)
	}

	notional := o.AvgExecutedPrice*float64(o.ExecutedQty) + float64(price)*float64(qty)
	o.OpenQty -= qty
	o.ExecutedQty += qty
	o.AvgExecutedPrice = notional / float64(o.ExecutedQty)
	o.LastExecutedQty = qty
	o.LastExecutedPrice = price

	if o.OpenQty == 0 {
		o.Status = StatusFilled
	} else {
		o.Status = StatusPartiallyFilled
	}
	return nil
}

// Cancel 撤单；已终结的订单返回 INVALID_STATE
func (o *Order) Cancel() error {
	if !o.Status.Open() {
		return omerrors.Newf(omerrors.CodeInvalidState, "cancel %s %s: status %s", o.Side, o.ClientOrderID, o.Status)
	}
	o.Status = StatusCanceled
	return nil
}

// Reject 标记为未入簿的拒绝单
func (o *Order) Reject(reason string) {
	o.Status = StatusRejected
	o.Text = reason
}

func (o *Order) IsFilled() bool {
	return o.OpenQty == 0 && o.ExecutedQty > 0
}

// IsClosed 已成交、已撤或已拒绝
func (o *Order) IsClosed() bool {
	return !o.Status.Open()
}

func (o *Order) clone() Order {
	c := *o
	c.element = nil
	return c
}

// ahead 按价格-时间优先比较，o 是否排在 other 之前（同方向）
func (o *Order) ahead(other *Order) bool {
	if o.Type != other.Type {
		return o.Type == TypeMarket
	}
	if o.Type == TypeLimit && o.Price != other.Price {
		if o.Side == SideBuy {
			return o.Price > other.Price
		}
		return o.Price < other.Price
	}
	return o.Seq < other.Seq
}
