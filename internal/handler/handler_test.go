package handler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/exchange/ordermatch/internal/engine"
	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/orderbook"
)

const (
	testOrders = "ordermatch:orders"
	testEvents = "ordermatch:events"
)

type fakePublisher struct {
	mu    sync.Mutex
	books []*engine.BookChanged
}

func (p *fakePublisher) Publish(_ context.Context, book *engine.BookChanged) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.books = append(p.books, book)
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.books)
}

func startHandler(t *testing.T, pub BookPublisher) (*Handler, *redis.Client, *orderbook.Matcher) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	matcher := orderbook.NewMatcher()
	h := NewHandler(client, &Config{
		OrderStream: testOrders,
		EventStream: testEvents,
		Group:       "ordermatch",
		Consumer:    "test-1",
		Matcher:     matcher,
		IDs:         idgen.New(0),
		Publisher:   pub,
	})

	ctx, cancel := context.WithCancel(context.Background())
	if err := h.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.Stop()
	})
	return h, client, matcher
}

func send(t *testing.T, client *redis.Client, msg OrderMessage) {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: testOrders,
		Values: map[string]interface{}{"data": string(raw)},
	}).Err(); err != nil {
		t.Fatalf("xadd: %v", err)
	}
}

type rawEvent struct {
	Type   string          `json:"type"`
	Symbol string          `json:"symbol"`
	Data   json.RawMessage `json:"data"`
}

func waitEvents(t *testing.T, client *redis.Client, n int) []rawEvent {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		msgs, err := client.XRange(context.Background(), testEvents, "-", "+").Result()
		if err != nil {
			t.Fatalf("xrange: %v", err)
		}
		if len(msgs) >= n {
			out := make([]rawEvent, 0, len(msgs))
			for _, m := range msgs {
				var ev rawEvent
				if err := json.Unmarshal([]byte(m.Values["data"].(string)), &ev); err != nil {
					t.Fatalf("unmarshal event: %v", err)
				}
				out = append(out, ev)
			}
			return out
		}
		if time.Now().After(deadline) {
			t.Fatalf("got %d events, want %d", len(msgs), n)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func newMsg(id, side string, price, qty int64) OrderMessage {
	return OrderMessage{
		Type:          MsgNew,
		ClientOrderID: id,
		Symbol:        "MSFT",
		Owner:         "CLIENT1",
		Target:        "EXEC",
		Side:          side,
		OrderType:     "LIMIT",
		TimeInForce:   "DAY",
		Price:         price,
		Qty:           qty,
	}
}

func TestNewOrderPublishesReportAndDepth(t *testing.T) {
	pub := &fakePublisher{}
	_, client, matcher := startHandler(t, pub)

	send(t, client, newMsg("B1", "BUY", 1000, 10))

	evs := waitEvents(t, client, 1)
	if evs[0].Type != "EXECUTION_REPORT" || evs[0].Symbol != "MSFT" {
		t.Fatalf("event = %+v", evs[0])
	}
	var r engine.ExecutionReport
	if err := json.Unmarshal(evs[0].Data, &r); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if r.OrdStatus != "NEW" || r.ClientOrderID != "B1" || r.Target != "CLIENT1" {
		t.Fatalf("report = %+v", r)
	}

	if _, ok := matcher.Find("MSFT", orderbook.SideBuy, "B1"); !ok {
		t.Fatal("B1 not resting")
	}

	deadline := time.Now().Add(2 * time.Second)
	for pub.count() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no depth published")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// 重复的 clientOrderId 不在 adapter 层丢弃，由撮合返回 REJECTED
func TestDuplicateOrderRejected(t *testing.T) {
	_, client, matcher := startHandler(t, nil)

	send(t, client, newMsg("B1", "BUY", 1000, 10))
	send(t, client, newMsg("B1", "BUY", 1000, 10))
	send(t, client, OrderMessage{Type: MsgMarketData, MDReqID: "MD1", Symbol: "MSFT", Owner: "CLIENT1", Target: "EXEC"})

	evs := waitEvents(t, client, 3)
	var first, second engine.ExecutionReport
	if err := json.Unmarshal(evs[0].Data, &first); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := json.Unmarshal(evs[1].Data, &second); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if first.OrdStatus != "NEW" || second.OrdStatus != "REJECTED" || second.ClientOrderID != "B1" {
		t.Fatalf("reports = %s, %s", first.OrdStatus, second.OrdStatus)
	}
	if evs[2].Type != "MARKET_DATA_SNAPSHOT" {
		t.Fatalf("third event = %s", evs[2].Type)
	}
	var snap engine.MarketDataSnapshot
	if err := json.Unmarshal(evs[2].Data, &snap); err != nil {
		t.Fatalf("unmarshal snapshot: %v", err)
	}
	if len(snap.Entries) != 1 || snap.Entries[0].Side != "BID" {
		t.Fatalf("entries = %+v", snap.Entries)
	}
	if o, ok := matcher.Find("MSFT", orderbook.SideBuy, "B1"); !ok || o.Quantity != 10 {
		t.Fatalf("B1 = %+v, %v", o, ok)
	}
}

// 成交或撤单后 clientOrderId 可以重用
func TestClientOrderIDReusedAfterCancel(t *testing.T) {
	_, client, matcher := startHandler(t, nil)

	send(t, client, newMsg("B1", "BUY", 1000, 10))
	send(t, client, OrderMessage{Type: MsgCancel, ClientOrderID: "C1", OrigClientOrderID: "B1", Symbol: "MSFT", Owner: "CLIENT1", Target: "EXEC", Side: "BUY"})
	send(t, client, newMsg("B1", "BUY", 1100, 5))

	evs := waitEvents(t, client, 3)
	var r engine.ExecutionReport
	if err := json.Unmarshal(evs[2].Data, &r); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if r.OrdStatus != "NEW" || r.ClientOrderID != "B1" {
		t.Fatalf("third report = %+v", r)
	}
	if o, ok := matcher.Find("MSFT", orderbook.SideBuy, "B1"); !ok || o.Price != 1100 {
		t.Fatalf("B1 = %+v, %v", o, ok)
	}
}

func streamMessage(t *testing.T, id string, msg OrderMessage) redis.XMessage {
	t.Helper()
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return redis.XMessage{ID: id, Values: map[string]interface{}{"data": string(raw)}}
}

// 同一条流消息重复投递只处理一次
func TestRedeliverySkipped(t *testing.T) {
	h, client, _ := startHandler(t, nil)
	ctx := context.Background()

	msg := streamMessage(t, "1700000000000-0", newMsg("B1", "BUY", 1000, 10))
	h.processMessage(ctx, msg)
	h.processMessage(ctx, msg)

	waitEvents(t, client, 1)
	time.Sleep(100 * time.Millisecond)
	n, err := client.XLen(ctx, testEvents).Result()
	if err != nil {
		t.Fatalf("xlen: %v", err)
	}
	if n != 1 {
		t.Fatalf("events = %d, want 1", n)
	}
}

// 队列满时消息留在 pending，重新认领后仍会处理
func TestQueueFullMessageRetried(t *testing.T) {
	h, client, matcher := startHandler(t, nil)
	ctx := context.Background()

	full := engine.NewEngine("IBM", matcher, idgen.New(0), engine.Options{CmdBuffer: 1})
	if err := full.Submit(&engine.Command{Type: engine.CmdMarketData, Symbol: "IBM"}); err != nil {
		t.Fatalf("fill queue: %v", err)
	}
	h.mu.Lock()
	h.engines["IBM"] = full
	h.mu.Unlock()

	order := newMsg("B1", "BUY", 1000, 10)
	order.Symbol = "IBM"
	msg := streamMessage(t, "1700000000001-0", order)
	key := dedupeKey(testOrders, msg.ID)

	h.processMessage(ctx, msg)
	if n, err := client.Exists(ctx, key).Result(); err != nil || n != 0 {
		t.Fatalf("dedupe key set after failed submit: n=%d err=%v", n, err)
	}

	h.mu.Lock()
	delete(h.engines, "IBM")
	h.mu.Unlock()
	full.Stop()

	h.processMessage(ctx, msg)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := matcher.Find("IBM", orderbook.SideBuy, "B1"); ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retried order not processed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if n, err := client.Exists(ctx, key).Result(); err != nil || n != 1 {
		t.Fatalf("dedupe key after submit: n=%d err=%v", n, err)
	}
}

func TestCancelAndCancelReject(t *testing.T) {
	_, client, matcher := startHandler(t, nil)

	send(t, client, newMsg("B1", "BUY", 1000, 10))
	send(t, client, OrderMessage{Type: MsgCancel, ClientOrderID: "C1", OrigClientOrderID: "B1", Symbol: "MSFT", Owner: "CLIENT1", Target: "EXEC", Side: "BUY"})
	send(t, client, OrderMessage{Type: MsgCancel, ClientOrderID: "C2", OrigClientOrderID: "B1", Symbol: "MSFT", Owner: "CLIENT1", Target: "EXEC", Side: "BUY"})

	evs := waitEvents(t, client, 3)
	var canceled engine.ExecutionReport
	if err := json.Unmarshal(evs[1].Data, &canceled); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if canceled.OrdStatus != "CANCELED" || canceled.OrigClientOrderID != "B1" {
		t.Fatalf("cancel report = %+v", canceled)
	}
	if evs[2].Type != "CANCEL_REJECT" {
		t.Fatalf("third event = %s", evs[2].Type)
	}
	if _, ok := matcher.Find("MSFT", orderbook.SideBuy, "B1"); ok {
		t.Fatal("B1 still resting")
	}
}

func TestToCommand(t *testing.T) {
	tests := []struct {
		name    string
		msg     OrderMessage
		want    engine.CommandType
		wantErr bool
	}{
		{"new", newMsg("B1", "BUY", 1000, 1), engine.CmdNewOrder, false},
		{"cancel", OrderMessage{Type: "cancel", Symbol: "MSFT", Side: "SELL", OrigClientOrderID: "S1"}, engine.CmdCancelOrder, false},
		{"market data", OrderMessage{Type: MsgMarketData, Symbol: "MSFT", MDReqID: "M1"}, engine.CmdMarketData, false},
		{"unknown type", OrderMessage{Type: "AMEND", Symbol: "MSFT"}, 0, true},
		{"missing symbol", OrderMessage{Type: MsgNew}, 0, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cmd, err := toCommand(&tc.msg)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("toCommand: %v", err)
			}
			if cmd.Type != tc.want {
				t.Fatalf("type = %d, want %d", cmd.Type, tc.want)
			}
		})
	}

	cmd, err := toCommand(&OrderMessage{Type: MsgNew, Symbol: "MSFT", Side: "SIDEWAYS", OrderType: "STOP"})
	if err != nil {
		t.Fatalf("toCommand: %v", err)
	}
	if cmd.Side != 0 || cmd.OrderType != 0 {
		t.Fatalf("unparsed side/type should stay zero: %+v", cmd)
	}
}

func TestDedupeKey(t *testing.T) {
	if got := dedupeKey("ordermatch:orders", "1-0"); got != "ordermatch:dedupe:ordermatch:orders:1-0" {
		t.Fatalf("key = %s", got)
	}
	if got := dedupeKey("ordermatch:orders", ""); got != "" {
		t.Fatalf("key = %s, want empty", got)
	}
}
