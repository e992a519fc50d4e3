// Package idgen 执行编号生成器
package idgen

import (
	"errors"
	"strconv"
	"sync/atomic"
	"time"
)

const (
	// 起始时间戳 (2024-01-01 00:00:00 UTC)
	epoch int64 = 1704067200000

	workerIDBits = 10
	sequenceBits = 12

	maxWorkerID    = -1 ^ (-1 << workerIDBits) // 1023
	workerIDShift  = sequenceBits
	timestampShift = sequenceBits + workerIDBits
)

var ErrInvalidWorkerID = errors.New("worker ID must be between 0 and 1023")

// Generator 进程内唯一的原子计数器，在 main 中创建一次并按引用传递，不会被重置
type Generator struct {
	last atomic.Int64
}

// New 从 start 开始计数，第一次 Next 返回 start+1
func New(start int64) *Generator {
	g := &Generator{}
	g.last.Store(start)
	return g
}

// Seed 雪花格式的起始值：毫秒时间戳 | workerID | 0。
// 重启后起点大于上一进程，只要上一进程每毫秒平均生成不超过 4096 个编号。
func Seed(now time.Time, workerID int64) (int64, error) {
	if workerID < 0 || workerID > maxWorkerID {
		return 0, ErrInvalidWorkerID
	}
	ms := now.UnixMilli() - epoch
	if ms < 0 {
		ms = 0
	}
	return ms<<timestampShift | workerID<<workerIDShift, nil
}

// Time 起始值对应的时间
func Time(seed int64) time.Time {
	return time.UnixMilli((seed >> timestampShift) + epoch)
}

// NextID 返回严格递增的编号，并发安全
func (g *Generator) NextID() int64 {
	return g.last.Add(1)
}

// Next 字符串形式的编号，用于执行回报 execId
func (g *Generator) Next() string {
	return strconv.FormatInt(g.NextID(), 10)
}

// Current 最近一次生成的编号
func (g *Generator) Current() int64 {
	return g.last.Load()
}

// Advance 保证后续编号大于 min（快照恢复后调用）
func (g *Generator) Advance(min int64) {
	for {
		cur := g.last.Load()
		if cur >= min || g.last.CompareAndSwap(cur, min) {
			return
		}
	}
}
