package orderbook

import "container/list"

// PriceLevel 价格档位
type PriceLevel struct {
	Price  int64
	Orders *list.List // *Order，按 Seq 升序
	Total  int64      // 该档位剩余总量
}

// PriceQty 价格数量对
type PriceQty struct {
	Price int64 `json:"price"`
	Qty   int64 `json:"qty"`
	Count int   `json:"count"`
}

// bookSide 单边订单队列
type bookSide struct {
	side Side

	// 市价单没有价格，排在所有限价之前
	market      *list.List
	marketTotal int64

	levels map[int64]*PriceLevel
	// 买盘降序，卖盘升序
	prices []int64
}

func newBookSide(side Side) *bookSide {
	return &bookSide{
		side:   side,
		market: list.New(),
		levels: make(map[int64]*PriceLevel),
		prices: make([]int64, 0),
	}
}

func (s *bookSide) add(o *Order) {
	if o.Type == TypeMarket {
		o.element = enqueue(s.market, o)
		s.marketTotal += o.OpenQty
		return
	}

	level, ok := s.levels[o.Price]
	if !ok {
		level = &PriceLevel{Price: o.Price, Orders: list.New()}
		s.levels[o.Price] = level
		s.prices = insertPrice(s.prices, o.Price, s.side == SideBuy)
	}
	o.element = enqueue(level.Orders, o)
	level.Total += o.OpenQty
}

// enqueue 按 Seq 插入；新订单 Seq 最大，通常直接追加到队尾
func enqueue(l *list.List, o *Order) *list.Element {
	for e := l.Back(); e != nil; e = e.Prev() {
		if e.Value.(*Order).Seq < o.Seq {
			return l.InsertAfter(o, e)
		}
	}
	return l.PushFront(o)
}

func (s *bookSide) remove(o *Order) {
	if o.element == nil {
		return
	}
	if o.Type == TypeMarket {
		s.market.Remove(o.element)
		s.marketTotal -= o.OpenQty
		o.element = nil
		return
	}

	level := s.levels[o.Price]
	if level == nil {
		o.element = nil
		return
	}
	level.Orders.Remove(o.element)
	level.Total -= o.OpenQty
	o.element = nil

	if level.Orders.Len() == 0 {
		delete(s.levels, o.Price)
		s.prices = removePrice(s.prices, o.Price)
	}
}

// filled 成交后扣减档位总量（订单本身已 Reduce）
func (s *bookSide) filled(o *Order, qty int64) {
	if o.Type == TypeMarket {
		s.marketTotal -= qty
		return
	}
	if level := s.levels[o.Price]; level != nil {
		level.Total -= qty
	}
}

func (s *bookSide) best() *Order {
	if e := s.market.Front(); e != nil {
		return e.Value.(*Order)
	}
	if len(s.prices) == 0 {
		return nil
	}
	return s.levels[s.prices[0]].Orders.Front().Value.(*Order)
}

// bestLimit 最优限价单，跳过市价队列
func (s *bookSide) bestLimit() *Order {
	if len(s.prices) == 0 {
		return nil
	}
	return s.levels[s.prices[0]].Orders.Front().Value.(*Order)
}

// each 按优先级遍历
func (s *bookSide) each(fn func(o *Order)) {
	for e := s.market.Front(); e != nil; e = e.Next() {
		fn(e.Value.(*Order))
	}
	for _, p := range s.prices {
		for e := s.levels[p].Orders.Front(); e != nil; e = e.Next() {
			fn(e.Value.(*Order))
		}
	}
}

func (s *bookSide) len() int {
	n := s.market.Len()
	for _, level := range s.levels {
		n += level.Orders.Len()
	}
	return n
}

// depth 聚合限价档位；市价单无价格，不计入深度
func (s *bookSide) depth(limit int) []PriceQty {
	if limit <= 0 || limit > len(s.prices) {
		limit = len(s.prices)
	}
	out := make([]PriceQty, 0, limit)
	for i := 0; i < limit; i++ {
		level := s.levels[s.prices[i]]
		out = append(out, PriceQty{Price: level.Price, Qty: level.Total, Count: level.Orders.Len()})
	}
	return out
}

// insertPrice 插入价格并保持排序
func insertPrice(prices []int64, price int64, descending bool) []int64 {
	i := 0
	for i < len(prices) {
		if descending {
			if price > prices[i] {
				break
			}
		} else if price < prices[i] {
			break
		}
		i++
	}

	prices = append(prices, 0)
	copy(prices[i+1:], prices[i:])
	prices[i] = price
	return prices
}

// removePrice 移除价格
func removePrice(prices []int64, price int64) []int64 {
	for i, p := range prices {
		if p == price {
			return append(prices[:i], prices[i+1:]...)
		}
	}
	return prices
}
