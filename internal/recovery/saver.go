package recovery

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/metrics"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/logger"
)

// DefaultSchedule 每 60 秒保存一次
const DefaultSchedule = "@every 60s"

// Saver 按 cron 表达式定期保存快照
type Saver struct {
	store   Store
	matcher *orderbook.Matcher
	ids     *idgen.Generator
	log     *logger.Logger

	mu   sync.Mutex // 串行化保存
	cron *cron.Cron
}

func NewSaver(store Store, matcher *orderbook.Matcher, ids *idgen.Generator, schedule string, log *logger.Logger) (*Saver, error) {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if log == nil {
		log = logger.Nop()
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	sched, err := parser.Parse(schedule)
	if err != nil {
		return nil, fmt.Errorf("invalid snapshot schedule %q: %w", schedule, err)
	}

	s := &Saver{
		store:   store,
		matcher: matcher,
		ids:     ids,
		log:     log,
		cron:    cron.New(cron.WithParser(parser)),
	}
	s.cron.Schedule(sched, cron.FuncJob(func() {
		if err := s.SaveNow(context.Background()); err != nil {
			s.log.WithError(err).Warn("scheduled snapshot failed")
		}
	}))
	return s, nil
}

func (s *Saver) Start() {
	s.cron.Start()
}

// Stop 停止调度并等待正在执行的保存结束
func (s *Saver) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

// SaveNow 立即保存一次
func (s *Saver) SaveNow(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Capture(s.matcher, s.ids)
	err := s.store.Save(ctx, snap)
	metrics.ObserveSnapshotSave(s.store.Name(), snap.Book.OrderCount(), err)
	if err != nil {
		return fmt.Errorf("save snapshot to %s: %w", s.store.Name(), err)
	}
	s.log.Debugf("snapshot saved", map[string]interface{}{
		"store":  s.store.Name(),
		"orders": snap.Book.OrderCount(),
	})
	return nil
}
