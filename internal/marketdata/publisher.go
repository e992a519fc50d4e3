// Package marketdata publishes order book depth to Redis pub/sub.
package marketdata

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/ordermatch/internal/engine"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/decimal"
)

const defaultChannelTemplate = "marketdata:{symbol}"

// Level 深度档位，价格按 PRICE_SCALE 格式化
type Level struct {
	Price string `json:"price"`
	Qty   int64  `json:"qty"`
	Count int    `json:"count"`
}

// Depth 推送给订阅方的深度消息
type Depth struct {
	Symbol    string  `json:"symbol"`
	LastPrice string  `json:"lastPrice"`
	Bids      []Level `json:"bids"`
	Asks      []Level `json:"asks"`
	Timestamp int64   `json:"ts"`
}

// Publisher publishes depth updates per symbol.
type Publisher struct {
	client   *redis.Client
	template string
	scale    int
}

// NewPublisher creates a publisher. channel may contain {symbol}; otherwise ":<symbol>" is appended.
func NewPublisher(client *redis.Client, channel string, priceScale int) *Publisher {
	if channel == "" {
		channel = defaultChannelTemplate
	}
	if !strings.Contains(channel, "{symbol}") {
		channel += ":{symbol}"
	}
	return &Publisher{client: client, template: channel, scale: priceScale}
}

// Channel 标的对应的频道名
func (p *Publisher) Channel(symbol string) string {
	return strings.ReplaceAll(p.template, "{symbol}", symbol)
}

// Publish 发布一次深度变化
func (p *Publisher) Publish(ctx context.Context, book *engine.BookChanged) error {
	if book == nil {
		return nil
	}
	msg := Depth{
		Symbol:    book.Symbol,
		LastPrice: decimal.FormatScaled(book.LastPrice, p.scale),
		Bids:      p.levels(book.Bids),
		Asks:      p.levels(book.Asks),
		Timestamp: time.Now().UnixMilli(),
	}
	raw, err := json.Marshal(map[string]interface{}{
		"channel": "depth",
		"data":    msg,
	})
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.Channel(book.Symbol), raw).Err()
}

func (p *Publisher) levels(in []orderbook.PriceQty) []Level {
	out := make([]Level, 0, len(in))
	for _, l := range in {
		out = append(out, Level{
			Price: decimal.FormatScaled(l.Price, p.scale),
			Qty:   l.Qty,
			Count: l.Count,
		})
	}
	return out
}
