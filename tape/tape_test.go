package tape

import (
	"fmt"
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

func newTrade(id, instrumentID string) *types.Trade {
	return &types.Trade{
		ID:           id,
		InstrumentID: instrumentID,
		Price:        math.LegacyMustNewDecFromStr("99"),
		Quantity:     math.LegacyMustNewDecFromStr("1"),
	}
}

func TestRecentNewestFirst(t *testing.T) {
	tp := New(10)
	for i := 0; i < 5; i++ {
		tp.Record(newTrade(fmt.Sprintf("t%d", i), "BOND-1"))
	}

	got := tp.Recent("BOND-1", 3)
	if len(got) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(got))
	}
	want := []string{"t4", "t3", "t2"}
	for i := range want {
		if got[i].ID != want[i] {
			t.Fatalf("order %v, want %v", []string{got[0].ID, got[1].ID, got[2].ID}, want)
		}
	}
}

func TestCapacityEviction(t *testing.T) {
	tp := New(3)
	for i := 0; i < 5; i++ {
		tp.Record(newTrade(fmt.Sprintf("t%d", i), "BOND-1"))
	}
	if tp.Len("BOND-1") != 3 {
		t.Fatalf("len = %d, want 3", tp.Len("BOND-1"))
	}
	got := tp.Recent("BOND-1", 10)
	if len(got) != 3 || got[0].ID != "t4" || got[2].ID != "t2" {
		t.Fatalf("unexpected retained trades: %+v", got)
	}
}

func TestInstrumentsIsolated(t *testing.T) {
	tp := New(10)
	tp.Record(newTrade("a1", "BOND-1"), newTrade("b1", "BOND-2"))

	if got := tp.Recent("BOND-1", 10); len(got) != 1 || got[0].ID != "a1" {
		t.Fatalf("BOND-1 tape: %+v", got)
	}
	if got := tp.Recent("BOND-2", 10); len(got) != 1 || got[0].ID != "b1" {
		t.Fatalf("BOND-2 tape: %+v", got)
	}
	if got := tp.Recent("BOND-3", 10); got != nil {
		t.Fatalf("unknown instrument tape should be empty: %+v", got)
	}
}
