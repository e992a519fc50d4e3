package recovery

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/exchange/ordermatch/internal/idgen"
	"github.com/exchange/ordermatch/internal/orderbook"
	"github.com/exchange/ordermatch/pkg/logger"
)

type memStore struct {
	mu    sync.Mutex
	snaps []*Snapshot
	err   error
}

func (s *memStore) Name() string { return "mem" }
func (s *memStore) Close() error { return nil }

func (s *memStore) Save(_ context.Context, snap *Snapshot) error {
	if s.err != nil {
		return s.err
	}
	raw, err := Encode(snap)
	if err != nil {
		return err
	}
	decoded, err := Decode(raw)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.snaps = append(s.snaps, decoded)
	s.mu.Unlock()
	return nil
}

func (s *memStore) Load(context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.snaps) == 0 {
		return nil, ErrNoSnapshot
	}
	return s.snaps[len(s.snaps)-1], nil
}

func seededMatcher(t *testing.T) *orderbook.Matcher {
	t.Helper()
	m := orderbook.NewMatcher()
	orders := []*orderbook.Order{
		orderbook.NewOrder("B1", "MSFT", "C1", "EX", orderbook.SideBuy, orderbook.TypeLimit, 1000, 10),
		orderbook.NewOrder("B2", "MSFT", "C1", "EX", orderbook.SideBuy, orderbook.TypeLimit, 1000, 5),
		orderbook.NewOrder("S1", "MSFT", "C2", "EX", orderbook.SideSell, orderbook.TypeLimit, 1010, 7),
		orderbook.NewOrder("S1", "IBM", "C2", "EX", orderbook.SideSell, orderbook.TypeLimit, 1500, 3),
	}
	for _, o := range orders {
		if _, err := m.Submit(o); err != nil {
			t.Fatalf("submit %s: %v", o.ClientOrderID, err)
		}
	}
	return m
}

func TestRestoreRoundTrip(t *testing.T) {
	src := seededMatcher(t)
	srcIDs := idgen.New(500)
	store := &memStore{}
	if err := store.Save(context.Background(), Capture(src, srcIDs)); err != nil {
		t.Fatalf("save: %v", err)
	}

	dst := orderbook.NewMatcher()
	ids := idgen.New(0)
	snap, err := Restore(context.Background(), store, dst, ids, logger.Nop())
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if snap == nil || snap.Book.OrderCount() != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}
	if ids.Current() != 500 {
		t.Fatalf("ids current = %d, want 500", ids.Current())
	}
	if dst.Seq() != src.Seq() {
		t.Fatalf("seq = %d, want %d", dst.Seq(), src.Seq())
	}

	want := src.GetMarket("MSFT").Snapshot()
	got := dst.GetMarket("MSFT").Snapshot()
	if len(got.Bids) != 2 || got.Bids[0].ClientOrderID != want.Bids[0].ClientOrderID || got.Bids[1].Seq != want.Bids[1].Seq {
		t.Fatalf("bids = %+v, want %+v", got.Bids, want.Bids)
	}
	if _, ok := dst.Find("IBM", orderbook.SideSell, "S1"); !ok {
		t.Fatal("IBM S1 not restored")
	}
}

func TestRestoreWithoutSnapshot(t *testing.T) {
	m := orderbook.NewMatcher()
	snap, err := Restore(context.Background(), &memStore{}, m, idgen.New(0), logger.Nop())
	if err != nil || snap != nil {
		t.Fatalf("restore empty = %v, %v", snap, err)
	}
	if len(m.Symbols()) != 0 {
		t.Fatalf("symbols = %v", m.Symbols())
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"garbage", "not json"},
		{"version", `{"version":99,"book":{"markets":[]}}`},
		{"no book", `{"version":1}`},
	}
	for _, tc := range tests {
		if _, err := Decode([]byte(tc.raw)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestSaverSaveNow(t *testing.T) {
	store := &memStore{}
	s, err := NewSaver(store, seededMatcher(t), idgen.New(7), "", logger.Nop())
	if err != nil {
		t.Fatalf("new saver: %v", err)
	}
	if err := s.SaveNow(context.Background()); err != nil {
		t.Fatalf("save now: %v", err)
	}
	snap, err := store.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.LastExecID != 7 || snap.Book.OrderCount() != 4 {
		t.Fatalf("snapshot = %+v", snap)
	}

	store.err = errors.New("disk full")
	if err := s.SaveNow(context.Background()); err == nil {
		t.Fatal("expected save error")
	}
}

func TestSaverSchedule(t *testing.T) {
	if _, err := NewSaver(&memStore{}, orderbook.NewMatcher(), idgen.New(0), "every minute", nil); err == nil {
		t.Fatal("expected invalid schedule error")
	}
	for _, expr := range []string{"@every 60s", "*/5 * * * *", "@hourly"} {
		s, err := NewSaver(&memStore{}, orderbook.NewMatcher(), idgen.New(0), expr, nil)
		if err != nil {
			t.Fatalf("schedule %q: %v", expr, err)
		}
		s.Start()
		s.Stop(context.Background())
	}
}
