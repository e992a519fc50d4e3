package orderbook

import (
	"encoding/json"
	"fmt"
	"testing"

	omerrors "github.com/exchange/ordermatch/pkg/errors"
)

func TestExportImportPreservesPriority(t *testing.T) {
	src := NewMatcher()
	mustInsert(t, src, limit("B1", SideBuy, 1000, 10))
	mustInsert(t, src, limit("B2", SideBuy, 1000, 20))
	mustInsert(t, src, limit("B3", SideBuy, 1010, 5))
	mustInsert(t, src, limit("S1", SideSell, 1020, 7))
	mustInsert(t, src, market("MB", SideBuy, 3))
	mustInsert(t, src, limit("S0", SideSell, 1000, 4))
	mustMatch(t, src)
	mustInsert(t, src, NewOrder("A1", "AAPL", "o", "t", SideSell, TypeLimit, 300, 1))

	raw, err := json.Marshal(src.ExportState())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if st.OrderCount() != 5 {
		t.Fatalf("order count = %d", st.OrderCount())
	}

	dst := NewMatcher()
	if err := dst.ImportState(&st); err != nil {
		t.Fatalf("ImportState: %v", err)
	}
	for _, s := range []string{sym, "AAPL"} {
		want := src.GetMarket(s).Snapshot()
		got := dst.GetMarket(s).Snapshot()
		if fmt.Sprint(want) != fmt.Sprint(got) {
			t.Fatalf("%s snapshot mismatch:\nwant %v\ngot  %v", s, want, got)
		}
	}

	// 恢复后新订单排在已有订单之后
	o := limit("B4", SideBuy, 1000, 1)
	mustInsert(t, dst, o)
	if o.Seq <= src.Seq() {
		t.Fatalf("seq after import = %d, want > %d", o.Seq, src.Seq())
	}
	snap := dst.GetMarket(sym).Snapshot()
	last := snap.Bids[len(snap.Bids)-1]
	if last.ClientOrderID != "B4" {
		t.Fatalf("last bid = %s", last.ClientOrderID)
	}

	res, err := dst.Submit(limit("S9", SideSell, 1000, 100))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	var got []string
	for _, f := range res.Fills {
		got = append(got, f.Bid.ClientOrderID)
	}
	if fmt.Sprint(got) != "[B3 B1 B2 B4]" {
		t.Fatalf("fill order after restore = %v", got)
	}
}

func TestImportStateRejectsBadOrders(t *testing.T) {
	good := Order{ClientOrderID: "x", Symbol: sym, Side: SideBuy, Type: TypeLimit, Price: 10, Quantity: 5, OpenQty: 5, Status: StatusNew, Seq: 1}

	tests := []struct {
		name   string
		mutate func(st *State)
	}{
		{"wrong side list", func(st *State) { st.Markets[0].Asks = st.Markets[0].Bids; st.Markets[0].Bids = nil }},
		{"filled order", func(st *State) { st.Markets[0].Bids[0].Status = StatusFilled }},
		{"quantity mismatch", func(st *State) { st.Markets[0].Bids[0].ExecutedQty = 1 }},
		{"duplicate id", func(st *State) { st.Markets[0].Bids = append(st.Markets[0].Bids, st.Markets[0].Bids[0]) }},
		{"missing seq", func(st *State) { st.Markets[0].Bids[0].Seq = 0 }},
		{"duplicate market", func(st *State) { st.Markets = append(st.Markets, st.Markets[0]) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &State{Markets: []MarketState{{Symbol: sym, Bids: []Order{good}}}}
			tt.mutate(st)

			m := NewMatcher()
			mustInsert(t, m, limit("keep", SideSell, 99, 1))
			if err := m.ImportState(st); err == nil {
				t.Fatal("expected error")
			}
			if _, ok := m.Find(sym, SideSell, "keep"); !ok {
				t.Fatal("failed import must leave state untouched")
			}
		})
	}

	if err := NewMatcher().ImportState(nil); omerrors.CodeOf(err) != omerrors.CodeInvalidParam {
		t.Fatalf("nil state err = %v", err)
	}
}
