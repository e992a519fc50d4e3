// Package console 交互式控制台：查看订单簿并强制保存快照
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/decimal"
	"github.com/exchange/ordermatch/pkg/logger"
)

// ErrQuit 输入了 #quit
var ErrQuit = errors.New("quit requested")

// SnapshotSaver 立即保存快照
type SnapshotSaver interface {
	SaveNow(ctx context.Context) error
}

type Console struct {
	in      io.Reader
	out     io.Writer
	matcher *orderbook.Matcher
	saver   SnapshotSaver
	scale   int
	log     *logger.Logger
}

func New(in io.Reader, out io.Writer, matcher *orderbook.Matcher, saver SnapshotSaver, priceScale int, log *logger.Logger) *Console {
	if log == nil {
		log = logger.Nop()
	}
	return &Console{in: in, out: out, matcher: matcher, saver: saver, scale: priceScale, log: log}
}

// Run 读取命令直到 #quit（返回 ErrQuit）或输入结束（返回 nil）
func (c *Console) Run(ctx context.Context) error {
	fmt.Fprintln(c.out, "type #quit to quit")
	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		switch strings.TrimSpace(scanner.Text()) {
		case "#quit":
			return ErrQuit
		case "#symbols":
			c.DisplayAll()
		default:
			c.DisplayAll()
			if c.saver == nil {
				continue
			}
			if err := c.saver.SaveNow(ctx); err != nil {
				c.log.WithError(err).Warn("console snapshot failed")
				fmt.Fprintf(c.out, "snapshot failed: %v\n", err)
				continue
			}
			fmt.Fprintln(c.out, "snapshot saved")
		}
	}
	return scanner.Err()
}

// DisplayAll 按标的顺序输出全部订单簿
func (c *Console) DisplayAll() {
	symbols := c.matcher.Symbols()
	if len(symbols) == 0 {
		fmt.Fprintln(c.out, "no books")
		return
	}
	for _, symbol := range symbols {
		c.Display(symbol)
	}
}

func (c *Console) Display(symbol string) {
	snap := c.matcher.GetMarket(symbol).Snapshot()
	fmt.Fprintf(c.out, "MARKET: %s  last %s\n", symbol, decimal.FormatScaled(snap.LastPrice, c.scale))
	c.displaySide("BIDS", snap.Bids)
	c.displaySide("ASKS", snap.Asks)
}

func (c *Console) displaySide(title string, orders []orderbook.Order) {
	fmt.Fprintf(c.out, "%s:\n-----\n", title)
	for _, o := range orders {
		px := "MKT"
		if o.Type == orderbook.TypeLimit {
			px = decimal.FormatScaled(o.Price, c.scale)
		}
		fmt.Fprintf(c.out, "  %-12s %-10s %8d @ %s\n", o.ClientOrderID, o.Owner, o.OpenQty, px)
	}
}
