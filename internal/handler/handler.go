// Package handler 消息处理
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/ordermatch/internal/engine"
	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/metrics"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/health"
	"github.com/exchange/ordermatch/pkg/logger"
	"github.com/exchange/ordermatch/pkg/tracing"
	"github.com/exchange/ordermatch/pkg/validate"
)

// 入站消息类型
const (
	MsgNew        = "NEW"
	MsgCancel     = "CANCEL"
	MsgMarketData = "MARKET_DATA"
)

// OrderMessage 订单消息（从 Redis Stream 接收）
type OrderMessage struct {
	Type              string `json:"type"` // NEW / CANCEL / MARKET_DATA
	ClientOrderID     string `json:"clientOrderId"`
	OrigClientOrderID string `json:"origClientOrderId,omitempty"`
	MDReqID           string `json:"mdReqId,omitempty"`
	Symbol            string `json:"symbol"`
	Owner             string `json:"owner"`
	Target            string `json:"target"`
	Side              string `json:"side"`        // BUY / SELL
	OrderType         string `json:"orderType"`   // LIMIT / MARKET
	TimeInForce       string `json:"timeInForce"` // 只接受 DAY
	Price             int64  `json:"price"`       // 最小单位整数
	Qty               int64  `json:"qty"`
}

// EventMessage 事件消息（发送到 Redis Stream）
type EventMessage struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Seq       int64       `json:"seq"`
	Timestamp int64       `json:"timestamp"`
	TraceID   string      `json:"traceId,omitempty"`
	Data      interface{} `json:"data"`
}

// BookPublisher 深度推送
type BookPublisher interface {
	Publish(ctx context.Context, book *engine.BookChanged) error
}

// Handler 消息处理器
type Handler struct {
	redis     *redis.Client
	matcher   *orderbook.Matcher
	ids       *idgen.Generator
	publisher BookPublisher
	engines   map[string]*engine.Engine
	mu        sync.RWMutex
	log       *logger.Logger

	orderStream string // 输入流名称
	eventStream string // 输出流名称
	group       string // 消费者组
	consumer    string // 消费者名称
	dedupeTTL   time.Duration
	cmdBuffer   int
	eventBuffer int

	ctxMu sync.RWMutex
	ctx   context.Context

	forwardWg sync.WaitGroup // 跟踪 forwardEvents goroutine
	loop      health.LoopMonitor
}

const (
	defaultMaxStreamRetries = 10
	defaultClaimMinIdle     = 30 * time.Second
)

// Config 配置
type Config struct {
	OrderStream string
	EventStream string
	Group       string
	Consumer    string
	DedupeTTL   time.Duration
	CmdBuffer   int
	EventBuffer int
	Matcher     *orderbook.Matcher
	IDs         *idgen.Generator
	Publisher   BookPublisher
	Logger      *logger.Logger
}

// NewHandler 创建处理器
func NewHandler(redisClient *redis.Client, cfg *Config) *Handler {
	dedupeTTL := cfg.DedupeTTL
	if dedupeTTL <= 0 {
		dedupeTTL = 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	matcher := cfg.Matcher
	if matcher == nil {
		matcher = orderbook.NewMatcher()
	}
	ids := cfg.IDs
	if ids == nil {
		ids = idgen.New(0)
	}
	return &Handler{
		redis:       redisClient,
		matcher:     matcher,
		ids:         ids,
		publisher:   cfg.Publisher,
		engines:     make(map[string]*engine.Engine),
		log:         log,
		orderStream: cfg.OrderStream,
		eventStream: cfg.EventStream,
		group:       cfg.Group,
		consumer:    cfg.Consumer,
		dedupeTTL:   dedupeTTL,
		cmdBuffer:   cfg.CmdBuffer,
		eventBuffer: cfg.EventBuffer,
	}
}

// Start 创建消费者组并启动消费循环；订单簿须已恢复
func (h *Handler) Start(ctx context.Context) error {
	err := h.redis.XGroupCreateMkStream(ctx, h.orderStream, h.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	h.ctxMu.Lock()
	h.ctx = ctx
	h.ctxMu.Unlock()

	h.loop.Tick()
	go h.consumeLoop(ctx)
	return nil
}

// Loop 消费循环的存活监控
func (h *Handler) Loop() *health.LoopMonitor {
	return &h.loop
}

func (h *Handler) consumeLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.loop.SetError(fmt.Errorf("panic: %v", r))
			h.log.Errorf("consumeLoop panic", map[string]interface{}{
				"panic": r, "stack": string(debug.Stack()),
			})
		}
	}()

	pendingTicker := time.NewTicker(30 * time.Second)
	defer pendingTicker.Stop()

	if err := h.processPending(ctx); err != nil {
		h.loop.SetError(err)
		h.log.WithError(err).Warn("process pending error")
	}

	for {
		h.loop.Tick()

		select {
		case <-ctx.Done():
			return
		case <-pendingTicker.C:
			if err := h.processPending(ctx); err != nil {
				h.loop.SetError(err)
				h.log.WithError(err).Warn("process pending error")
			}
			continue
		default:
		}

		results, err := h.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    h.group,
			Consumer: h.consumer,
			Streams:  []string{h.orderStream, ">"},
			Count:    100,
			Block:    1000 * time.Millisecond,
		}).Result()

		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			h.loop.SetError(err)
			metrics.IncStreamError(h.orderStream, h.group)
			h.log.WithError(err).Warn("read stream error")
			continue
		}
		h.loop.SetError(nil)

		for _, result := range results {
			for _, msg := range result.Messages {
				h.processMessage(ctx, msg)
			}
		}
	}
}

func (h *Handler) processMessage(ctx context.Context, msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		h.ack(ctx, msg.ID)
		return
	}

	ctx = tracing.ExtractStream(ctx, msg.Values)
	ctx, span := tracing.StartSpan(ctx, "ordermatch.handle")
	defer span.End()

	var orderMsg OrderMessage
	if err := json.Unmarshal([]byte(data), &orderMsg); err != nil {
		tracing.SetError(ctx, err)
		h.log.WithError(err).Warn("unmarshal message error")
		h.ack(ctx, msg.ID)
		return
	}

	cmd, err := toCommand(&orderMsg)
	if err != nil {
		tracing.SetError(ctx, err)
		h.log.WithError(err).WithField("msgId", msg.ID).Warn("drop message")
		h.ack(ctx, msg.ID)
		return
	}
	cmd.TraceID = tracing.TraceIDFromContext(ctx)

	key := dedupeKey(h.orderStream, msg.ID)
	if h.processed(ctx, key) {
		h.ack(ctx, msg.ID)
		return
	}

	eng := h.getOrCreateEngine(cmd.Symbol)
	if err := eng.Submit(cmd); err != nil {
		// 不 ack，留在 pending 中等待重新认领
		metrics.IncStreamError(h.orderStream, h.group)
		h.log.WithError(err).Warn("submit command error")
		return
	}

	h.markProcessed(ctx, key)
	h.ack(ctx, msg.ID)
}

// dedupeKey 按流消息 ID 去重：只拦截同一条消息的重复投递，
// 重复的 clientOrderId 交给撮合拒绝
func dedupeKey(stream, msgID string) string {
	if msgID == "" {
		return ""
	}
	return fmt.Sprintf("ordermatch:dedupe:%s:%s", stream, msgID)
}

// processed 消息已成功提交过（提交后 ack 失败被重新认领）
func (h *Handler) processed(ctx context.Context, key string) bool {
	if h.dedupeTTL <= 0 || key == "" {
		return false
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	n, err := h.redis.Exists(timeoutCtx, key).Result()
	if err != nil {
		h.log.WithError(err).Warn("dedupe check error")
		return false
	}
	if n > 0 {
		h.log.Infof("duplicate delivery skipped", map[string]interface{}{"key": key})
		return true
	}
	return false
}

// markProcessed 只在提交成功后记录，提交失败的消息重新认领时仍会处理
func (h *Handler) markProcessed(ctx context.Context, key string) {
	if h.dedupeTTL <= 0 || key == "" {
		return
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.redis.Set(timeoutCtx, key, "1", h.dedupeTTL).Err(); err != nil {
		h.log.WithError(err).Warn("dedupe mark error")
	}
}

func (h *Handler) processPending(ctx context.Context) error {
	if summary, err := h.redis.XPending(ctx, h.orderStream, h.group).Result(); err == nil {
		metrics.SetStreamPending(h.orderStream, h.group, summary.Count)
	}

	pending, err := h.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: h.orderStream,
		Group:  h.group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return err
	}

	var ids []string
	dlqIDs := make(map[string]int64)
	for _, entry := range pending {
		if entry.Idle >= defaultClaimMinIdle {
			ids = append(ids, entry.ID)
			if entry.RetryCount > defaultMaxStreamRetries {
				dlqIDs[entry.ID] = entry.RetryCount
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := h.redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   h.orderStream,
		Group:    h.group,
		Consumer: h.consumer,
		MinIdle:  defaultClaimMinIdle,
		Messages: ids,
	}).Result()
	if err != nil {
		return err
	}

	for _, msg := range claimed {
		if retryCount, toDLQ := dlqIDs[msg.ID]; toDLQ {
			if err := h.sendToDLQ(ctx, &msg, fmt.Sprintf("max retries exceeded: %d", retryCount)); err != nil {
				metrics.IncStreamError(h.orderStream, h.group)
				h.log.WithError(err).Warn("send dlq error")
				continue
			}
			metrics.IncStreamDLQ(h.orderStream, h.group)
			h.ack(ctx, msg.ID)
			continue
		}
		h.processMessage(ctx, msg)
	}
	return nil
}

func (h *Handler) sendToDLQ(ctx context.Context, msg *redis.XMessage, reason string) error {
	dlqStream := h.orderStream + ":dlq"
	_, err := h.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: dlqStream,
		Values: map[string]interface{}{
			"stream":   h.orderStream,
			"msgId":    msg.ID,
			"reason":   reason,
			"data":     msg.Values["data"],
			"tsMs":     time.Now().UnixMilli(),
			"group":    h.group,
			"consumer": h.consumer,
		},
	}).Result()
	return err
}

func (h *Handler) getOrCreateEngine(symbol string) *engine.Engine {
	h.mu.RLock()
	eng, exists := h.engines[symbol]
	h.mu.RUnlock()

	if exists {
		return eng
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	// 双重检查
	if eng, exists = h.engines[symbol]; exists {
		return eng
	}

	eng = engine.NewEngine(symbol, h.matcher, h.ids, engine.Options{
		CmdBuffer:   h.cmdBuffer,
		EventBuffer: h.eventBuffer,
		Logger:      h.log,
	})
	eng.Start()

	h.ctxMu.RLock()
	evtCtx := h.ctx
	h.ctxMu.RUnlock()
	if evtCtx == nil {
		evtCtx = context.Background()
	}
	h.forwardWg.Add(1)
	go h.forwardEvents(evtCtx, eng)

	h.engines[symbol] = eng
	return eng
}

func (h *Handler) forwardEvents(ctx context.Context, eng *engine.Engine) {
	defer h.forwardWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-eng.Done():
			return
		case event := <-eng.Events():
			if event == nil {
				continue
			}
			if event.Type == engine.EventBookChanged {
				h.publishBook(ctx, event)
				continue
			}

			data, err := json.Marshal(&EventMessage{
				Type:      event.Type.String(),
				Symbol:    event.Symbol,
				Seq:       event.Seq,
				Timestamp: event.Timestamp,
				TraceID:   event.TraceID,
				Data:      event.Data,
			})
			if err != nil {
				h.log.WithError(err).Warn("marshal event error")
				continue
			}

			values := map[string]interface{}{"data": string(data)}
			tracing.InjectStream(tracing.ContextWithTraceID(ctx, event.TraceID), values)
			if err := h.publishEvent(ctx, values); err != nil && ctx.Err() == nil {
				h.log.WithError(err).Warn("send event error")
			}
		}
	}
}

func (h *Handler) publishBook(ctx context.Context, event *engine.Event) {
	if h.publisher == nil {
		return
	}
	book, ok := event.Data.(*engine.BookChanged)
	if !ok {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := h.publisher.Publish(pubCtx, book); err != nil && ctx.Err() == nil {
		h.log.WithError(err).WithField("symbol", book.Symbol).Warn("publish depth error")
	}
}

func (h *Handler) publishEvent(ctx context.Context, values map[string]interface{}) error {
	backoff := 200 * time.Millisecond
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		_, err := h.redis.XAdd(sendCtx, &redis.XAddArgs{
			Stream: h.eventStream,
			Values: values,
		}).Result()
		cancel()
		if err == nil {
			return nil
		}
		metrics.IncStreamError(h.eventStream, h.group)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
}

// toCommand 报文转命令。side/orderType 解析失败时保留零值，由撮合校验生成拒绝回报
func toCommand(msg *OrderMessage) (*engine.Command, error) {
	if err := validate.Symbol(msg.Symbol); err != nil {
		return nil, err
	}
	cmd := &engine.Command{
		ClientOrderID: msg.ClientOrderID,
		Symbol:        msg.Symbol,
		Owner:         msg.Owner,
		Target:        msg.Target,
	}
	cmd.Side, _ = orderbook.ParseSide(msg.Side)

	switch strings.ToUpper(msg.Type) {
	case MsgNew:
		cmd.Type = engine.CmdNewOrder
		cmd.OrderType, _ = orderbook.ParseOrderType(msg.OrderType)
		cmd.TimeInForce = msg.TimeInForce
		cmd.Price = msg.Price
		cmd.Qty = msg.Qty
	case MsgCancel:
		cmd.Type = engine.CmdCancelOrder
		cmd.OrigClientOrderID = msg.OrigClientOrderID
	case MsgMarketData:
		cmd.Type = engine.CmdMarketData
		cmd.MDReqID = msg.MDReqID
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}
	return cmd, nil
}

func (h *Handler) ack(ctx context.Context, id string) {
	if err := h.redis.XAck(ctx, h.orderStream, h.group, id).Err(); err != nil {
		h.log.WithError(err).WithField("msgId", id).Warn("ack message error")
	}
}

// ResetEngines 停止执行器；订单簿保留在 Matcher 中
func (h *Handler) ResetEngines(symbol string) int {
	h.mu.Lock()

	resetOne := func(key string, eng *engine.Engine) {
		eng.Stop()
		delete(h.engines, key)
	}

	if symbol != "" {
		eng, ok := h.engines[symbol]
		if !ok {
			h.mu.Unlock()
			return 0
		}
		resetOne(symbol, eng)
		h.mu.Unlock()
		h.forwardWg.Wait()
		return 1
	}

	count := 0
	for key, eng := range h.engines {
		resetOne(key, eng)
		count++
	}
	h.mu.Unlock()
	h.forwardWg.Wait()
	return count
}

// Stop 优雅关闭处理器
func (h *Handler) Stop() {
	h.log.Info("stopping handler")
	h.ResetEngines("")
	h.log.Info("handler stopped")
}
