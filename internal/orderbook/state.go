package orderbook

import (
	"sort"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

// State 撮合器完整状态，持久化边界
type State struct {
	Seq       int64         `json:"seq"`
	LastEntry int64         `json:"lastEntry"`
	Markets   []MarketState `json:"markets"`
}

// MarketState 单个订单簿状态，订单按优先级排列
type MarketState struct {
	Symbol    string  `json:"symbol"`
	LastPrice int64   `json:"lastPrice"`
	Bids      []Order `json:"bids"`
	Asks      []Order `json:"asks"`
}

// OrderCount 挂单总数
func (s *State) OrderCount() int {
	if s == nil {
		return 0
	}
	n := 0
	for _, ms := range s.Markets {
		n += len(ms.Bids) + len(ms.Asks)
	}
	return n
}

// ExportState 导出全部订单簿；每个订单簿在自己的读锁内取快照，
// 保留 Seq 与 EntryTime，恢复后价格-时间优先完全一致。
func (m *Matcher) ExportState() *State {
	m.mu.RLock()
	markets := make([]*Market, 0, len(m.markets))
	for _, mk := range m.markets {
		markets = append(markets, mk)
	}
	m.mu.RUnlock()
	sort.Slice(markets, func(i, j int) bool { return markets[i].symbol < markets[j].symbol })

	st := &State{Markets: make([]MarketState, 0, len(markets))}
	for _, mk := range markets {
		snap := mk.Snapshot()
		if snap.Empty() && snap.LastPrice == 0 {
			continue
		}
		st.Markets = append(st.Markets, MarketState{
			Symbol:    snap.Symbol,
			LastPrice: snap.LastPrice,
			Bids:      snap.Bids,
			Asks:      snap.Asks,
		})
	}
	st.Seq = m.seq.Load()
	st.LastEntry = m.lastEntry.Load()
	return st
}

// ImportState 用导出的状态替换当前全部订单簿；校验失败时保持原状态不变
func (m *Matcher) ImportState(st *State) error {
	if st == nil {
		return omerrors.New(omerrors.CodeInvalidParam, "import state: nil state")
	}

	markets := make(map[string]*Market, len(st.Markets))
	maxSeq, maxEntry := st.Seq, st.LastEntry
	for _, ms := range st.Markets {
		if ms.Symbol == "" {
			return omerrors.New(omerrors.CodeInvalidParam, "import state: market without symbol")
		}
		if _, dup := markets[ms.Symbol]; dup {
			return omerrors.Newf(omerrors.CodeInvalidParam, "import state: duplicate market %s", ms.Symbol)
		}
		mk := NewMarket(ms.Symbol)
		mk.lastPrice = ms.LastPrice

		orders := make([]Order, 0, len(ms.Bids)+len(ms.Asks))
		for _, o := range ms.Bids {
			if o.Side != SideBuy {
				return omerrors.Newf(omerrors.CodeInvalidParam, "import state: %s order %s in bids", o.Side, o.ClientOrderID)
			}
			orders = append(orders, o)
		}
		for _, o := range ms.Asks {
			if o.Side != SideSell {
				return omerrors.Newf(omerrors.CodeInvalidParam, "import state: %s order %s in asks", o.Side, o.ClientOrderID)
			}
			orders = append(orders, o)
		}
		sort.SliceStable(orders, func(i, j int) bool { return orders[i].Seq < orders[j].Seq })

		for i := range orders {
			o := orders[i]
			if o.Symbol == "" {
				o.Symbol = ms.Symbol
			}
			if err := validateResting(ms.Symbol, &o); err != nil {
				return err
			}
			if err := mk.addLocked(&o); err != nil {
				return err
			}
			maxSeq = max(maxSeq, o.Seq)
			maxEntry = max(maxEntry, o.EntryTime)
		}
		markets[ms.Symbol] = mk
	}

	m.mu.Lock()
	m.markets = markets
	m.mu.Unlock()
	raise(&m.seq, maxSeq)
	raise(&m.lastEntry, maxEntry)
	return nil
}

func validateResting(symbol string, o *Order) error {
	switch {
	case o.Symbol != symbol:
		return omerrors.Newf(omerrors.CodeInvalidParam, "import state: order %s has symbol %s, market %s", o.ClientOrderID, o.Symbol, symbol)
	case o.ClientOrderID == "":
		return omerrors.Newf(omerrors.CodeInvalidParam, "import state: %s order without clientOrderId", symbol)
	case !o.Type.Valid():
		return omerrors.Newf(omerrors.CodeInvalidOrderType, "import state: order %s type %d", o.ClientOrderID, int(o.Type))
	case o.Type == TypeLimit && o.Price <= 0:
		return omerrors.Newf(omerrors.CodeInvalidPrice, "import state: order %s price %d", o.ClientOrderID, o.Price)
	case !o.Status.Open() || o.OpenQty <= 0:
		return omerrors.Newf(omerrors.CodeInvalidParam, "import state: order %s is not restable (status %s, open %d)", o.ClientOrderID, o.Status, o.OpenQty)
	case o.ExecutedQty < 0 || o.ExecutedQty+o.OpenQty != o.Quantity:
		return omerrors.Newf(omerrors.CodeInvalidParam, "import state: order %s executed %d + open %d != quantity %d", o.ClientOrderID, o.ExecutedQty, o.OpenQty, o.Quantity)
	case o.Seq <= 0:
		return omerrors.Newf(omerrors.CodeInvalidParam, "import state: order %s without seq", o.ClientOrderID)
	}
	return nil
}

type int64Counter interface {
	Load() int64
	CompareAndSwap(old, new int64) bool
}

// raise 把计数器提升到至少 v，保证恢复后新序号继续递增
func raise(c int64Counter, v int64) {
	for {
		cur := c.Load()
		if cur >= v || c.CompareAndSwap(cur, v) {
			return
		}
	}
}
