package orderbook

import (
	"sync"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

type orderKey struct {
	side Side
	id   string
}

// Market 单个标的的订单簿
//
// 所有写操作持有写锁完成，读操作（快照、最优价、深度、查找）持有读锁，
// 因此读者不会看到撮合进行到一半的状态。
type Market struct {
	symbol string

	mu        sync.RWMutex
	bids      *bookSide
	asks      *bookSide
	index     map[orderKey]*Order
	lastPrice int64
	// 非 nil 表示撮合不变量被破坏，订单簿已停止处理
	halted error
}

// NewMarket 创建空订单簿
func NewMarket(symbol string) *Market {
	return &Market{
		symbol: symbol,
		bids:   newBookSide(SideBuy),
		asks:   newBookSide(SideSell),
		index:  make(map[orderKey]*Order),
	}
}

func (mk *Market) Symbol() string { return mk.symbol }

// AddBid 挂买单
func (mk *Market) AddBid(o *Order) error {
	if o.Side != SideBuy {
		return omerrors.Newf(omerrors.CodeInvalidSide, "add bid: order %s is %s", o.ClientOrderID, o.Side)
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.addLocked(o)
}

// AddAsk 挂卖单
func (mk *Market) AddAsk(o *Order) error {
	if o.Side != SideSell {
		return omerrors.Newf(omerrors.CodeInvalidSide, "add ask: order %s is %s", o.ClientOrderID, o.Side)
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.addLocked(o)
}

func (mk *Market) addLocked(o *Order) error {
	if mk.halted != nil {
		return mk.haltedErr()
	}
	key := orderKey{side: o.Side, id: o.ClientOrderID}
	if _, exists := mk.index[key]; exists {
		return omerrors.Newf(omerrors.CodeDuplicateClientOrderId, "duplicate order %s %s %s", mk.symbol, o.Side, o.ClientOrderID)
	}
	mk.sideOf(o.Side).add(o)
	mk.index[key] = o
	return nil
}

// Remove 从所在一侧删除订单；不存在时静默忽略
func (mk *Market) Remove(o *Order) {
	if o == nil {
		return
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.eraseLocked(o)
}

// eraseLocked 只删除与 o 为同一笔的挂单（Seq 相同），o 可以是副本
func (mk *Market) eraseLocked(o *Order) *Order {
	live, ok := mk.index[orderKey{side: o.Side, id: o.ClientOrderID}]
	if !ok || o.Seq == 0 || live.Seq != o.Seq {
		return nil
	}
	return mk.removeLocked(o.Side, o.ClientOrderID)
}

func (mk *Market) removeLocked(side Side, id string) *Order {
	key := orderKey{side: side, id: id}
	live, ok := mk.index[key]
	if !ok {
		return nil
	}
	mk.sideOf(side).remove(live)
	delete(mk.index, key)
	return live
}

func (mk *Market) sideOf(side Side) *bookSide {
	if side == SideBuy {
		return mk.bids
	}
	return mk.asks
}

// BestBid 最优买单副本
func (mk *Market) BestBid() (Order, bool) {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return copyOf(mk.bids.best())
}

// BestAsk 最优卖单副本
func (mk *Market) BestAsk() (Order, bool) {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return copyOf(mk.asks.best())
}

func copyOf(o *Order) (Order, bool) {
	if o == nil {
		return Order{}, false
	}
	return o.clone(), true
}

// Find 按方向和客户端订单号查找（副本）
func (mk *Market) Find(side Side, clientOrderID string) (Order, bool) {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return copyOf(mk.index[orderKey{side: side, id: clientOrderID}])
}

// Len 挂单总数
func (mk *Market) Len() int {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return len(mk.index)
}

// Depth 获取深度
func (mk *Market) Depth(limit int) (bids, asks []PriceQty) {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return mk.bids.depth(limit), mk.asks.depth(limit)
}

// LastPrice 最近成交价，未成交过为 0
func (mk *Market) LastPrice() int64 {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return mk.lastPrice
}

// Halted 返回导致停止的错误；正常时为 nil
func (mk *Market) Halted() error {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return mk.halted
}

func (mk *Market) halt(cause error) {
	if mk.halted == nil {
		mk.halted = cause
	}
}

func (mk *Market) haltedErr() error {
	return omerrors.Newf(omerrors.CodeBookHalted, "order book %s halted: %v", mk.symbol, mk.halted)
}

// Snapshot 订单簿只读快照，按价格-时间优先排列
type Snapshot struct {
	Symbol    string  `json:"symbol"`
	LastPrice int64   `json:"lastPrice"`
	Bids      []Order `json:"bids"`
	Asks      []Order `json:"asks"`
}

func (s Snapshot) Empty() bool {
	return len(s.Bids) == 0 && len(s.Asks) == 0
}

// Entries 先买后卖
func (s Snapshot) Entries() []Order {
	out := make([]Order, 0, len(s.Bids)+len(s.Asks))
	out = append(out, s.Bids...)
	return append(out, s.Asks...)
}

func (mk *Market) Snapshot() Snapshot {
	mk.mu.RLock()
	defer mk.mu.RUnlock()
	return mk.snapshotLocked()
}

func (mk *Market) snapshotLocked() Snapshot {
	snap := Snapshot{
		Symbol:    mk.symbol,
		LastPrice: mk.lastPrice,
		Bids:      make([]Order, 0, mk.bids.len()),
		Asks:      make([]Order, 0, mk.asks.len()),
	}
	mk.bids.each(func(o *Order) { snap.Bids = append(snap.Bids, o.clone()) })
	mk.asks.each(func(o *Order) { snap.Asks = append(snap.Asks, o.clone()) })
	return snap
}
