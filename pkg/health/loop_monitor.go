package health

import (
	"sync/atomic"
	"time"
)

// LoopMonitor 记录后台循环（流消费、快照保存）最近一次心跳
type LoopMonitor struct {
	lastTick atomic.Int64
	lastErr  atomic.Value // string
	ticks    atomic.Uint64
}

func (m *LoopMonitor) Tick() {
	m.lastTick.Store(time.Now().UnixNano())
	m.ticks.Add(1)
}

// SetError 记录最近一次错误；传 nil 清除
func (m *LoopMonitor) SetError(err error) {
	if err == nil {
		m.lastErr.Store("")
		return
	}
	m.lastErr.Store(err.Error())
}

func (m *LoopMonitor) LastError() string {
	if v, ok := m.lastErr.Load().(string); ok {
		return v
	}
	return ""
}

func (m *LoopMonitor) Ticks() uint64 {
	return m.ticks.Load()
}

// Healthy 最近 maxAge 内有心跳即健康；从未 Tick 视为不健康
func (m *LoopMonitor) Healthy(now time.Time, maxAge time.Duration) (ok bool, age time.Duration, lastErr string) {
	lastErr = m.LastError()
	last := m.lastTick.Load()
	if last <= 0 {
		return false, 0, lastErr
	}
	t := time.Unix(0, last)
	if now.Before(t) {
		return true, 0, lastErr
	}
	if maxAge <= 0 {
		maxAge = 10 * time.Second
	}
	age = now.Sub(t)
	return age <= maxAge, age, lastErr
}
