// Package engine 单标的撮合执行器
package engine

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/metrics"
	"github.com/exchange/ordermatch/internal/orderbook"
	omerrors "github.com/exchange/ordermatch/pkg/errors"
	"github.com/exchange/ordermatch/pkg/logger"
	"github.com/exchange/ordermatch/pkg/validate"
)

const (
	tifDay          = "DAY"
	unsupportedTIF  = "Unsupported TIF, use Day"
	unknownOrder    = "Unknown order"
	emptyBookReason = "no resting orders"
	depthLevels     = 20
)

var (
	ErrEngineStopped = stderrors.New("engine stopped")
	ErrQueueFull     = stderrors.New("command queue full")
)

// Options 执行器参数
type Options struct {
	CmdBuffer   int
	EventBuffer int
	Logger      *logger.Logger
}

// Engine 单标的执行器：一个 goroutine 按到达顺序处理该标的的命令，
// 订单簿本身由共享的 Matcher 持有。
type Engine struct {
	symbol  string
	matcher *orderbook.Matcher
	ids     *idgen.Generator
	log     *logger.Logger

	cmdCh   chan *Command
	eventCh chan *Event

	seq    atomic.Int64
	halted bool

	ctx    context.Context
	cancel context.CancelFunc
}

// NewEngine 创建执行器
func NewEngine(symbol string, matcher *orderbook.Matcher, ids *idgen.Generator, opts Options) *Engine {
	if opts.CmdBuffer <= 0 {
		opts.CmdBuffer = 10000
	}
	if opts.EventBuffer <= 0 {
		opts.EventBuffer = 10000
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		symbol:  symbol,
		matcher: matcher,
		ids:     ids,
		log:     log.WithField("symbol", symbol),
		cmdCh:   make(chan *Command, opts.CmdBuffer),
		eventCh: make(chan *Event, opts.EventBuffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (e *Engine) Symbol() string { return e.symbol }

// Start 启动引擎
func (e *Engine) Start() {
	go e.run()
}

// Stop 停止引擎
func (e *Engine) Stop() {
	e.cancel()
}

// Submit 提交命令，不阻塞
func (e *Engine) Submit(cmd *Command) error {
	select {
	case <-e.ctx.Done():
		return ErrEngineStopped
	default:
	}

	select {
	case e.cmdCh <- cmd:
		return nil
	case <-e.ctx.Done():
		return ErrEngineStopped
	default:
		return ErrQueueFull
	}
}

// Events 获取事件通道
func (e *Engine) Events() <-chan *Event {
	return e.eventCh
}

func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Depth 获取深度
func (e *Engine) Depth(limit int) (bids, asks []orderbook.PriceQty) {
	return e.matcher.GetMarket(e.symbol).Depth(limit)
}

func (e *Engine) run() {
	for {
		select {
		case cmd := <-e.cmdCh:
			e.processCommand(cmd)
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) processCommand(cmd *Command) {
	switch cmd.Type {
	case CmdNewOrder:
		e.processNewOrder(cmd)
	case CmdCancelOrder:
		e.processCancelOrder(cmd)
	case CmdMarketData:
		e.processMarketData(cmd)
	default:
		e.log.Warnf("unknown command type", map[string]interface{}{"type": int(cmd.Type)})
	}
}

func (e *Engine) processNewOrder(cmd *Command) {
	order := orderbook.NewOrder(cmd.ClientOrderID, e.symbol, cmd.Owner, cmd.Target, cmd.Side, cmd.OrderType, cmd.Price, cmd.Qty)

	if err := checkNewOrder(cmd); err != nil {
		order.Reject(rejectText(err))
		e.rejectOrder(cmd, order)
		return
	}

	start := time.Now()
	res, err := e.matcher.Submit(order)
	metrics.ObserveMatchingLatency(time.Since(start))

	if res.Accepted == nil {
		if order.Status != orderbook.StatusRejected {
			order.Reject(rejectText(err))
		}
		e.rejectOrder(cmd, order)
		return
	}

	metrics.IncOrders(e.symbol, "accepted")
	e.emit(cmd.TraceID, EventExecutionReport, newReport(e.ids.Next(), res.Accepted))
	for i := range res.Fills {
		f := &res.Fills[i]
		e.emit(cmd.TraceID, EventExecutionReport, newReport(e.ids.Next(), &f.Bid))
		e.emit(cmd.TraceID, EventExecutionReport, newReport(e.ids.Next(), &f.Ask))
	}
	metrics.AddExecutions(e.symbol, len(res.Fills))
	if len(res.Fills) > 0 {
		e.log.Infof("order matched", map[string]interface{}{
			"clientOrderId": order.ClientOrderID,
			"fills":         len(res.Fills),
			"touched":       formatTouched(res.Touched),
		})
	}

	if err != nil {
		e.fatal("match", err)
	}
	e.bookChanged(cmd.TraceID)
	e.display()
}

// checkNewOrder 撮合前的报文级校验，数值校验由 Matcher 完成
func checkNewOrder(cmd *Command) error {
	tif := strings.ToUpper(strings.TrimSpace(cmd.TimeInForce))
	if tif != "" && tif != tifDay && tif != "0" {
		return omerrors.New(omerrors.CodeInvalidTimeInForce, unsupportedTIF)
	}
	return validate.New().
		ID("clientOrderId", cmd.ClientOrderID).
		ID("owner", cmd.Owner).
		ID("target", cmd.Target).
		Err()
}

func rejectText(err error) string {
	var ce *omerrors.Error
	if stderrors.As(err, &ce) {
		return ce.Message
	}
	if err != nil {
		return err.Error()
	}
	return "rejected"
}

func (e *Engine) rejectOrder(cmd *Command, order *orderbook.Order) {
	metrics.IncOrders(e.symbol, "rejected")
	e.log.Infof("order rejected", map[string]interface{}{
		"clientOrderId": order.ClientOrderID,
		"owner":         order.Owner,
		"reason":        order.Text,
	})
	e.emit(cmd.TraceID, EventExecutionReport, newReport(e.ids.Next(), order))
}

func (e *Engine) processCancelOrder(cmd *Command) {
	canceled, err := e.matcher.Cancel(e.symbol, cmd.Side, cmd.OrigClientOrderID)
	if err != nil {
		metrics.IncCancels(e.symbol, "rejected")
		reason := unknownOrder
		if omerrors.CodeOf(err) != omerrors.CodeOrderNotFound {
			reason = rejectText(err)
		}
		if omerrors.IsFatal(err) {
			e.fatal("cancel", err)
		}
		e.emit(cmd.TraceID, EventCancelReject, &CancelReject{
			ClientOrderID:     cmd.ClientOrderID,
			OrigClientOrderID: cmd.OrigClientOrderID,
			Symbol:            e.symbol,
			Side:              cmd.Side.String(),
			Owner:             cmd.Target,
			Target:            cmd.Owner,
			Reason:            reason,
		})
		return
	}

	metrics.IncCancels(e.symbol, "canceled")
	report := newReport(e.ids.Next(), canceled)
	report.OrigClientOrderID = cmd.OrigClientOrderID
	if cmd.ClientOrderID != "" {
		report.ClientOrderID = cmd.ClientOrderID
	}
	e.emit(cmd.TraceID, EventExecutionReport, report)
	e.bookChanged(cmd.TraceID)
}

func (e *Engine) processMarketData(cmd *Command) {
	snap := e.matcher.GetMarket(e.symbol).Snapshot()
	if snap.Empty() {
		metrics.IncMarketData(e.symbol, "rejected")
		e.emit(cmd.TraceID, EventMarketDataReject, &MarketDataReject{
			MDReqID: cmd.MDReqID,
			Symbol:  e.symbol,
			Owner:   cmd.Target,
			Target:  cmd.Owner,
			Reason:  emptyBookReason,
		})
		return
	}

	entries := make([]MDEntry, 0, len(snap.Bids)+len(snap.Asks))
	for _, o := range snap.Entries() {
		entries = append(entries, MDEntry{
			OrderID:   orderID(&o),
			Side:      mdSide(o.Side),
			Price:     o.Price,
			Size:      o.OpenQty,
			EntryTime: o.EntryTime,
		})
	}
	metrics.IncMarketData(e.symbol, "snapshot")
	e.emit(cmd.TraceID, EventMarketDataSnapshot, &MarketDataSnapshot{
		MDReqID: cmd.MDReqID,
		Symbol:  e.symbol,
		Owner:   cmd.Target,
		Target:  cmd.Owner,
		Entries: entries,
	})
}

// fatal 撮合不变量被破坏：该标的订单簿已停止，其它标的继续
func (e *Engine) fatal(op string, err error) {
	if e.halted {
		return
	}
	e.halted = true
	metrics.IncBookHalted(e.symbol)
	e.log.WithError(err).Errorf("order book halted", map[string]interface{}{"op": op})
}

func (e *Engine) bookChanged(traceID string) {
	mk := e.matcher.GetMarket(e.symbol)
	bids, asks := mk.Depth(depthLevels)
	var bidQty, askQty int64
	for _, l := range bids {
		bidQty += l.Qty
	}
	for _, l := range asks {
		askQty += l.Qty
	}
	metrics.SetOrderbookDepth(e.symbol, "bid", float64(bidQty))
	metrics.SetOrderbookDepth(e.symbol, "ask", float64(askQty))

	e.emit(traceID, EventBookChanged, &BookChanged{
		Symbol:    e.symbol,
		LastPrice: mk.LastPrice(),
		Bids:      bids,
		Asks:      asks,
	})
}

// display 每笔新订单处理后以 debug 级别输出订单簿
func (e *Engine) display() {
	snap := e.matcher.GetMarket(e.symbol).Snapshot()
	e.log.Debugf("book", map[string]interface{}{
		"bids":      formatSide(snap.Bids),
		"asks":      formatSide(snap.Asks),
		"lastPrice": snap.LastPrice,
	})
}

// formatTouched 本次撮合涉及订单的最终状态
func formatTouched(orders []orderbook.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		out = append(out, fmt.Sprintf("%s %s %d/%d", o.ClientOrderID, o.Status, o.ExecutedQty, o.Quantity))
	}
	return out
}

func formatSide(orders []orderbook.Order) []string {
	out := make([]string, 0, len(orders))
	for _, o := range orders {
		px := "MKT"
		if o.Type == orderbook.TypeLimit {
			px = fmt.Sprint(o.Price)
		}
		out = append(out, fmt.Sprintf("%s %d@%s", o.ClientOrderID, o.OpenQty, px))
	}
	return out
}

func (e *Engine) emit(traceID string, eventType EventType, data interface{}) {
	event := &Event{
		Type:      eventType,
		Symbol:    e.symbol,
		Seq:       e.seq.Add(1),
		Timestamp: time.Now().UnixNano(),
		TraceID:   traceID,
		Data:      data,
	}

	select {
	case e.eventCh <- event:
	case <-e.ctx.Done():
	}
}
