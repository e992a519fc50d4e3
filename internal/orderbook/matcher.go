package orderbook

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

// Fill 一次成交，Bid/Ask 为成交后的订单副本
type Fill struct {
	Symbol    string `json:"symbol"`
	Price     int64  `json:"price"`
	Qty       int64  `json:"qty"`
	Bid       Order  `json:"bid"`
	Ask       Order  `json:"ask"`
	Aggressor Side   `json:"aggressor"` // Seq 较大的一方
}

// MatchResult 撮合结果
type MatchResult struct {
	Symbol string
	// Accepted 入簿时的订单副本，仅 Submit 设置
	Accepted *Order
	// Touched 本次撮合涉及的订单最终状态，按首次成交顺序去重
	Touched []Order
	Fills   []Fill
}

// Matcher 管理 symbol -> Market，是唯一可以修改订单簿的组件
type Matcher struct {
	mu      sync.RWMutex
	markets map[string]*Market

	seq       atomic.Int64
	lastEntry atomic.Int64
	now       func() time.Time
}

type Option func(*Matcher)

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

func NewMatcher(opts ...Option) *Matcher {
	m := &Matcher{
		markets: make(map[string]*Market),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// GetMarket 获取订单簿，不存在时创建空订单簿
func (m *Matcher) GetMarket(symbol string) *Market {
	m.mu.RLock()
	mk, ok := m.markets[symbol]
	m.mu.RUnlock()
	if ok {
		return mk
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if mk, ok = m.markets[symbol]; ok {
		return mk
	}
	mk = NewMarket(symbol)
	m.markets[symbol] = mk
	return mk
}

func (m *Matcher) lookup(symbol string) (*Market, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mk, ok := m.markets[symbol]
	return mk, ok
}

// Symbols 已知标的，按字母序
func (m *Matcher) Symbols() []string {
	m.mu.RLock()
	out := make([]string, 0, len(m.markets))
	for s := range m.markets {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Seq 当前入簿序号
func (m *Matcher) Seq() int64 { return m.seq.Load() }

func validateNew(o *Order) error {
	switch {
	case o.Symbol == "":
		return omerrors.New(omerrors.CodeInvalidParam, "symbol is required")
	case o.ClientOrderID == "":
		return omerrors.New(omerrors.CodeInvalidParam, "clientOrderId is required")
	case !o.Side.Valid():
		return omerrors.Newf(omerrors.CodeInvalidSide, "invalid side: %d", int(o.Side))
	case !o.Type.Valid():
		return omerrors.Newf(omerrors.CodeInvalidOrderType, "invalid order type: %d", int(o.Type))
	case o.Quantity <= 0:
		return omerrors.Newf(omerrors.CodeInvalidQuantity, "invalid quantity: %d (must be > 0)", o.Quantity)
	case o.Type == TypeLimit && o.Price <= 0:
		return omerrors.Newf(omerrors.CodeInvalidPrice, "invalid price: %d (must be > 0)", o.Price)
	case o.Status != StatusNew || o.ExecutedQty != 0 || o.OpenQty != o.Quantity:
		return omerrors.Newf(omerrors.CodeInvalidParam, "order %s already processed (status %s)", o.ClientOrderID, o.Status)
	}
	return nil
}

// stamp 分配严格递增的入簿时间和序号
func (m *Matcher) stamp(o *Order) {
	t := m.now().UnixNano()
	for {
		last := m.lastEntry.Load()
		if t <= last {
			t = last + 1
		}
		if m.lastEntry.CompareAndSwap(last, t) {
			break
		}
	}
	o.EntryTime = t
	o.Seq = m.seq.Add(1)
}

// Insert 校验并挂单；失败时订单被标记为 REJECTED 且不进入订单簿。
// 成功后订单归 Market 所有，调用方应通过副本读取其状态。
func (m *Matcher) Insert(o *Order) error {
	if err := validateNew(o); err != nil {
		o.Reject(err.(*omerrors.Error).Message)
		return err
	}
	mk := m.GetMarket(o.Symbol)
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return m.insertLocked(mk, o)
}

func (m *Matcher) insertLocked(mk *Market, o *Order) error {
	if o.Type == TypeMarket {
		o.Price = 0
	}
	if mk.halted != nil {
		err := mk.haltedErr()
		o.Reject(err.(*omerrors.Error).Message)
		return err
	}
	if _, dup := mk.index[orderKey{side: o.Side, id: o.ClientOrderID}]; dup {
		err := omerrors.Newf(omerrors.CodeDuplicateClientOrderId, "duplicate order %s %s %s", o.Symbol, o.Side, o.ClientOrderID)
		o.Reject(err.Message)
		return err
	}
	m.stamp(o)
	return mk.addLocked(o)
}

// Match 撮合直到买卖不再交叉
func (m *Matcher) Match(symbol string) (*MatchResult, error) {
	res := &MatchResult{Symbol: symbol}
	mk, ok := m.lookup(symbol)
	if !ok {
		return res, nil
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	err := mk.matchLocked(res)
	return res, err
}

// Submit 在同一把锁内完成 Insert 与 Match
func (m *Matcher) Submit(o *Order) (*MatchResult, error) {
	res := &MatchResult{Symbol: o.Symbol}
	if err := validateNew(o); err != nil {
		o.Reject(err.(*omerrors.Error).Message)
		return res, err
	}
	mk := m.GetMarket(o.Symbol)
	mk.mu.Lock()
	defer mk.mu.Unlock()

	if err := m.insertLocked(mk, o); err != nil {
		return res, err
	}
	accepted := o.clone()
	res.Accepted = &accepted
	err := mk.matchLocked(res)
	return res, err
}

// Find 按 (symbol, side, clientOrderID) 查找挂单，返回副本
func (m *Matcher) Find(symbol string, side Side, clientOrderID string) (*Order, bool) {
	mk, ok := m.lookup(symbol)
	if !ok {
		return nil, false
	}
	o, ok := mk.Find(side, clientOrderID)
	if !ok {
		return nil, false
	}
	return &o, true
}

// Erase 从订单簿移除订单，不修改订单状态；不存在时为空操作
func (m *Matcher) Erase(o *Order) error {
	if o == nil {
		return nil
	}
	mk, ok := m.lookup(o.Symbol)
	if !ok {
		return nil
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	if mk.halted != nil {
		return mk.haltedErr()
	}
	mk.eraseLocked(o)
	return nil
}

// Cancel 查找、撤销并移除挂单，返回撤销后的副本
func (m *Matcher) Cancel(symbol string, side Side, clientOrderID string) (*Order, error) {
	mk, ok := m.lookup(symbol)
	if !ok {
		return nil, omerrors.Newf(omerrors.CodeOrderNotFound, "order %s %s %s not found", symbol, side, clientOrderID)
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	if mk.halted != nil {
		return nil, mk.haltedErr()
	}

	live, ok := mk.index[orderKey{side: side, id: clientOrderID}]
	if !ok {
		return nil, omerrors.Newf(omerrors.CodeOrderNotFound, "order %s %s %s not found", symbol, side, clientOrderID)
	}
	if err := live.Cancel(); err != nil {
		// 挂单状态必然为 NEW/PARTIALLY_FILLED
		mk.halt(err)
		return nil, err
	}
	mk.removeLocked(side, clientOrderID)
	c := live.clone()
	return &c, nil
}

func crossable(bid, ask *Order) bool {
	if bid.Type == TypeMarket || ask.Type == TypeMarket {
		return true
	}
	return bid.Price >= ask.Price
}

// executionPrice 成交价取先入簿（被动方）订单的价格。
// 被动方为市价单时取主动方限价；双方均为市价单时取最近成交价，没有则返回 false。
func (mk *Market) executionPrice(bid, ask *Order) (int64, bool) {
	passive, aggressor := bid, ask
	if ask.Seq < bid.Seq {
		passive, aggressor = ask, bid
	}
	switch {
	case passive.Type == TypeLimit:
		return passive.Price, true
	case aggressor.Type == TypeLimit:
		return aggressor.Price, true
	case mk.lastPrice > 0:
		return mk.lastPrice, true
	default:
		return 0, false
	}
}

// limitCounterparty 双方队首均为市价单且没有最近成交价时，
// 先入簿的市价单与对手方最优限价单成交，价格取该限价；对手方没有限价单时换另一张市价单。
func (mk *Market) limitCounterparty(bid, ask *Order) (*Order, *Order, int64, bool) {
	tryBid := func() (*Order, *Order, int64, bool) {
		if la := mk.asks.bestLimit(); la != nil {
			return bid, la, la.Price, true
		}
		return nil, nil, 0, false
	}
	tryAsk := func() (*Order, *Order, int64, bool) {
		if lb := mk.bids.bestLimit(); lb != nil {
			return lb, ask, lb.Price, true
		}
		return nil, nil, 0, false
	}
	first, second := tryBid, tryAsk
	if ask.Seq < bid.Seq {
		first, second = tryAsk, tryBid
	}
	if b, a, p, ok := first(); ok {
		return b, a, p, true
	}
	return second()
}

func (mk *Market) matchLocked(res *MatchResult) error {
	if mk.halted != nil {
		return mk.haltedErr()
	}

	var touched []*Order
	seen := make(map[*Order]struct{})
	touch := func(o *Order) {
		if _, ok := seen[o]; !ok {
			seen[o] = struct{}{}
			touched = append(touched, o)
		}
	}
	defer func() {
		for _, o := range touched {
			res.Touched = append(res.Touched, o.clone())
		}
	}()

	for {
		bid, ask := mk.bids.best(), mk.asks.best()
		if bid == nil || ask == nil || !crossable(bid, ask) {
			return nil
		}
		price, ok := mk.executionPrice(bid, ask)
		if !ok {
			bid, ask, price, ok = mk.limitCounterparty(bid, ask)
			if !ok {
				return nil
			}
		}

		qty := min(bid.OpenQty, ask.OpenQty)
		if err := bid.Reduce(qty, price); err != nil {
			mk.halt(err)
			return err
		}
		if err := ask.Reduce(qty, price); err != nil {
			mk.halt(err)
			return err
		}
		mk.bids.filled(bid, qty)
		mk.asks.filled(ask, qty)
		mk.lastPrice = price

		touch(bid)
		touch(ask)
		aggressor := SideBuy
		if ask.Seq > bid.Seq {
			aggressor = SideSell
		}
		res.Fills = append(res.Fills, Fill{
			Symbol:    mk.symbol,
			Price:     price,
			Qty:       qty,
			Bid:       bid.clone(),
			Ask:       ask.clone(),
			Aggressor: aggressor,
		})

		if bid.OpenQty == 0 {
			mk.removeLocked(SideBuy, bid.ClientOrderID)
		}
		if ask.OpenQty == 0 {
			mk.removeLocked(SideSell, ask.ClientOrderID)
		}
	}
}
