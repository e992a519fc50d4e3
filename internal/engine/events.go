package engine

import (
	"strconv"

	"github.com/exchange/ordermatch/internal/orderbook"
)

// CommandType 命令类型
type CommandType int

const (
	CmdNewOrder CommandType = iota + 1
	CmdCancelOrder
	CmdMarketData
)

// Command 撮合命令
type Command struct {
	Type              CommandType
	ClientOrderID     string
	OrigClientOrderID string // 撤单时的原订单号
	MDReqID           string
	Symbol            string
	Owner             string
	Target            string
	Side              orderbook.Side
	OrderType         orderbook.OrderType
	TimeInForce       string
	Price             int64
	Qty               int64
	TraceID           string
}

// EventType 事件类型
type EventType int

const (
	EventExecutionReport EventType = iota + 1
	EventCancelReject
	EventMarketDataSnapshot
	EventMarketDataReject
	// EventBookChanged 订单簿变化，仅供行情推送，不写入事件流
	EventBookChanged
)

func (t EventType) String() string {
	switch t {
	case EventExecutionReport:
		return "EXECUTION_REPORT"
	case EventCancelReject:
		return "CANCEL_REJECT"
	case EventMarketDataSnapshot:
		return "MARKET_DATA_SNAPSHOT"
	case EventMarketDataReject:
		return "MARKET_DATA_REJECT"
	case EventBookChanged:
		return "BOOK_CHANGED"
	default:
		return "UNKNOWN"
	}
}

// Event 撮合事件
type Event struct {
	Type      EventType
	Symbol    string
	Seq       int64
	Timestamp int64
	TraceID   string
	Data      interface{}
}

// ExecutionReport 执行回报。Owner/Target 与订单相反，回报发回给下单方。
type ExecutionReport struct {
	ExecID            string  `json:"execId"`
	OrderID           string  `json:"orderId"`
	ClientOrderID     string  `json:"clientOrderId"`
	OrigClientOrderID string  `json:"origClientOrderId,omitempty"`
	Symbol            string  `json:"symbol"`
	Side              string  `json:"side"`
	OrderType         string  `json:"orderType"`
	Owner             string  `json:"owner"`
	Target            string  `json:"target"`
	ExecType          string  `json:"execType"`
	OrdStatus         string  `json:"ordStatus"`
	OrderQty          int64   `json:"orderQty"`
	Price             int64   `json:"price"`
	LeavesQty         int64   `json:"leavesQty"`
	CumQty            int64   `json:"cumQty"`
	AvgPx             float64 `json:"avgPx"`
	LastQty           int64   `json:"lastQty,omitempty"`
	LastPx            int64   `json:"lastPx,omitempty"`
	Text              string  `json:"text,omitempty"`
}

// CancelReject 撤单拒绝
type CancelReject struct {
	ClientOrderID     string `json:"clientOrderId"`
	OrigClientOrderID string `json:"origClientOrderId"`
	Symbol            string `json:"symbol"`
	Side              string `json:"side"`
	Owner             string `json:"owner"`
	Target            string `json:"target"`
	Reason            string `json:"reason"`
}

// MDEntry 行情快照条目
type MDEntry struct {
	OrderID   string `json:"orderId"`
	Side      string `json:"side"` // BID / OFFER
	Price     int64  `json:"price"`
	Size      int64  `json:"size"`
	EntryTime int64  `json:"entryTime"`
}

// MarketDataSnapshot 行情快照
type MarketDataSnapshot struct {
	MDReqID string    `json:"mdReqId"`
	Symbol  string    `json:"symbol"`
	Owner   string    `json:"owner"`
	Target  string    `json:"target"`
	Entries []MDEntry `json:"entries"`
}

// MarketDataReject 行情请求拒绝
type MarketDataReject struct {
	MDReqID string `json:"mdReqId"`
	Symbol  string `json:"symbol"`
	Owner   string `json:"owner"`
	Target  string `json:"target"`
	Reason  string `json:"reason"`
}

// BookChanged 订单簿深度
type BookChanged struct {
	Symbol    string               `json:"symbol"`
	LastPrice int64                `json:"lastPrice"`
	Bids      []orderbook.PriceQty `json:"bids"`
	Asks      []orderbook.PriceQty `json:"asks"`
}

func orderID(o *orderbook.Order) string {
	if o.Seq > 0 {
		return strconv.FormatInt(o.Seq, 10)
	}
	return o.ClientOrderID
}

// newReport 由订单副本生成执行回报，ExecType 与订单状态一致
func newReport(execID string, o *orderbook.Order) *ExecutionReport {
	r := &ExecutionReport{
		ExecID:        execID,
		OrderID:       orderID(o),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          o.Side.String(),
		OrderType:     o.Type.String(),
		Owner:         o.Target,
		Target:        o.Owner,
		ExecType:      string(o.Status),
		OrdStatus:     string(o.Status),
		OrderQty:      o.Quantity,
		Price:         o.Price,
		LeavesQty:     o.OpenQty,
		CumQty:        o.ExecutedQty,
		AvgPx:         o.AvgExecutedPrice,
		Text:          o.Text,
	}
	switch o.Status {
	case orderbook.StatusFilled, orderbook.StatusPartiallyFilled:
		r.LastQty = o.LastExecutedQty
		r.LastPx = o.LastExecutedPrice
	case orderbook.StatusCanceled, orderbook.StatusRejected:
		r.LeavesQty = 0
	}
	return r
}

func mdSide(s orderbook.Side) string {
	if s == orderbook.SideBuy {
		return "BID"
	}
	return "OFFER"
}
