package book

import (
	"fmt"
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

func newTestOrder(b *Book, id, userID string, side types.Side, price, qty string) *types.Order {
	o := types.NewOrder(id, userID, b.InstrumentID, side, types.OrderTypeLimit, dec(price), dec(qty), "")
	o.Sequence = b.ReserveSeq()
	return o
}

func TestBookAddRemove(t *testing.T) {
	b := New("BOND-1")

	buy := newTestOrder(b, "o1", "alice", types.SideBuy, "98.50", "100")
	sell := newTestOrder(b, "o2", "bob", types.SideSell, "99.00", "50")
	b.Add(buy)
	b.Add(sell)

	if b.Len() != 2 {
		t.Fatalf("expected 2 resting orders, got %d", b.Len())
	}
	if best := b.BestBid(); best == nil || !best.Price.Equal(dec("98.50")) {
		t.Fatalf("unexpected best bid: %+v", best)
	}
	if best := b.BestAsk(); best == nil || !best.Price.Equal(dec("99.00")) {
		t.Fatalf("unexpected best ask: %+v", best)
	}

	removed := b.Remove(buy)
	if removed == nil || removed.ID != "o1" {
		t.Fatalf("expected to remove o1, got %+v", removed)
	}
	if b.BestBid() != nil {
		t.Fatal("bid side should be empty after removal")
	}
	if b.Remove(buy) != nil {
		t.Fatal("removing a non-resting order should return nil")
	}
}

func TestBookBestPriceOrdering(t *testing.T) {
	b := New("BOND-1")

	for i, p := range []string{"97.00", "99.00", "98.00"} {
		b.Add(newTestOrder(b, fmt.Sprintf("b%d", i), "alice", types.SideBuy, p, "10"))
	}
	for i, p := range []string{"101.00", "100.00", "102.00"} {
		b.Add(newTestOrder(b, fmt.Sprintf("a%d", i), "bob", types.SideSell, p, "10"))
	}

	if !b.BestBid().Price.Equal(dec("99.00")) {
		t.Errorf("best bid = %s, want 99.00", b.BestBid().Price)
	}
	if !b.BestAsk().Price.Equal(dec("100.00")) {
		t.Errorf("best ask = %s, want 100.00", b.BestAsk().Price)
	}

	var bids []string
	b.IterateBids(func(lvl *Level) bool {
		bids = append(bids, lvl.Price.String())
		return true
	})
	want := []string{dec("99.00").String(), dec("98.00").String(), dec("97.00").String()}
	for i := range want {
		if bids[i] != want[i] {
			t.Fatalf("bid iteration order %v, want %v", bids, want)
		}
	}

	var asks []string
	b.IterateAsks(func(lvl *Level) bool {
		asks = append(asks, lvl.Price.String())
		return true
	})
	want = []string{dec("100.00").String(), dec("101.00").String(), dec("102.00").String()}
	for i := range want {
		if asks[i] != want[i] {
			t.Fatalf("ask iteration order %v, want %v", asks, want)
		}
	}
}

func TestLevelFIFO(t *testing.T) {
	b := New("BOND-1")

	first := newTestOrder(b, "first", "alice", types.SideBuy, "98.00", "10")
	second := newTestOrder(b, "second", "bob", types.SideBuy, "98.00", "20")
	third := newTestOrder(b, "third", "carol", types.SideBuy, "98.00", "30")
	b.Add(first)
	b.Add(second)
	b.Add(third)

	lvl := b.BestBid()
	if len(lvl.Orders) != 3 {
		t.Fatalf("expected 3 orders at level, got %d", len(lvl.Orders))
	}
	if lvl.FirstOrder().ID != "first" {
		t.Errorf("queue head = %s, want first", lvl.FirstOrder().ID)
	}
	if !lvl.Quantity.Equal(dec("60")) {
		t.Errorf("level quantity = %s, want 60", lvl.Quantity)
	}
	if first.Sequence >= second.Sequence || second.Sequence >= third.Sequence {
		t.Errorf("sequences not increasing: %d %d %d", first.Sequence, second.Sequence, third.Sequence)
	}

	// Removing the middle order keeps the rest in place.
	b.Remove(second)
	lvl = b.BestBid()
	if len(lvl.Orders) != 2 || lvl.Orders[0].ID != "first" || lvl.Orders[1].ID != "third" {
		t.Fatalf("unexpected queue after removal: %+v", lvl.Orders)
	}
	if !lvl.Quantity.Equal(dec("40")) {
		t.Errorf("level quantity = %s, want 40", lvl.Quantity)
	}
}

func TestBookSnapshotDepth(t *testing.T) {
	b := New("BOND-1")

	for i := 0; i < 5; i++ {
		price := fmt.Sprintf("%d.00", 95+i)
		b.Add(newTestOrder(b, fmt.Sprintf("b%d", i), "alice", types.SideBuy, price, "10"))
		b.Add(newTestOrder(b, fmt.Sprintf("b%d-2", i), "bob", types.SideBuy, price, "5"))
		askPrice := fmt.Sprintf("%d.00", 101+i)
		b.Add(newTestOrder(b, fmt.Sprintf("a%d", i), "carol", types.SideSell, askPrice, "7"))
	}

	snap := b.Snapshot(3)
	if len(snap.Bids) != 3 || len(snap.Asks) != 3 {
		t.Fatalf("snapshot depth: %d bids %d asks, want 3 each", len(snap.Bids), len(snap.Asks))
	}
	if !snap.Bids[0].Price.Equal(dec("99.00")) {
		t.Errorf("top bid = %s, want 99.00", snap.Bids[0].Price)
	}
	if snap.Bids[0].OrderCount != 2 {
		t.Errorf("top bid order count = %d, want 2", snap.Bids[0].OrderCount)
	}
	if !snap.Bids[0].Quantity.Equal(dec("15")) {
		t.Errorf("top bid quantity = %s, want 15", snap.Bids[0].Quantity)
	}
	if !snap.Asks[0].Price.Equal(dec("101.00")) {
		t.Errorf("top ask = %s, want 101.00", snap.Asks[0].Price)
	}
}

func TestSeedSeq(t *testing.T) {
	b := New("BOND-1")
	b.SeedSeq(42)
	if got := b.ReserveSeq(); got != 43 {
		t.Errorf("ReserveSeq after seed = %d, want 43", got)
	}
	// Seeding backwards must not rewind the counter.
	b.SeedSeq(10)
	if got := b.ReserveSeq(); got != 44 {
		t.Errorf("ReserveSeq = %d, want 44", got)
	}
}
