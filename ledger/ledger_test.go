package ledger

import (
	"sync"
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

func dec(s string) math.LegacyDec {
	return math.LegacyMustNewDecFromStr(s)
}

func TestCreditDebit(t *testing.T) {
	l := New()

	l.Credit("alice", "BOND-1", dec("100"))
	if !l.Balance("alice", "BOND-1").Equal(dec("100")) {
		t.Fatalf("balance = %s, want 100", l.Balance("alice", "BOND-1"))
	}

	if err := l.Debit("alice", "BOND-1", dec("40")); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if !l.Balance("alice", "BOND-1").Equal(dec("60")) {
		t.Fatalf("balance = %s, want 60", l.Balance("alice", "BOND-1"))
	}

	err := l.Debit("alice", "BOND-1", dec("100"))
	if !types.ErrInsufficientHoldings.Is(err) {
		t.Fatalf("expected insufficient holdings, got %v", err)
	}
	// Failed debit must not change the balance.
	if !l.Balance("alice", "BOND-1").Equal(dec("60")) {
		t.Fatalf("balance changed after failed debit: %s", l.Balance("alice", "BOND-1"))
	}
}

func TestZeroBalanceRemoved(t *testing.T) {
	l := New()
	l.Credit("alice", "BOND-1", dec("25"))
	if err := l.Debit("alice", "BOND-1", dec("25")); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if got := l.Holdings("alice"); len(got) != 0 {
		t.Fatalf("expected no holdings after full debit, got %+v", got)
	}
	if !l.Balance("alice", "BOND-1").IsZero() {
		t.Fatal("balance should read zero after removal")
	}
}

func TestTransferConservation(t *testing.T) {
	l := New()
	l.Credit("seller", "BOND-1", dec("100"))
	l.Credit("buyer", "BOND-1", dec("10"))

	before := l.TotalSupply("BOND-1")
	if err := l.Transfer("seller", "buyer", "BOND-1", dec("30")); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if !l.Balance("seller", "BOND-1").Equal(dec("70")) {
		t.Errorf("seller = %s, want 70", l.Balance("seller", "BOND-1"))
	}
	if !l.Balance("buyer", "BOND-1").Equal(dec("40")) {
		t.Errorf("buyer = %s, want 40", l.Balance("buyer", "BOND-1"))
	}
	if !l.TotalSupply("BOND-1").Equal(before) {
		t.Errorf("total supply changed: %s -> %s", before, l.TotalSupply("BOND-1"))
	}

	err := l.Transfer("seller", "buyer", "BOND-1", dec("1000"))
	if !types.ErrInsufficientHoldings.Is(err) {
		t.Fatalf("expected insufficient holdings, got %v", err)
	}
	if !l.TotalSupply("BOND-1").Equal(before) {
		t.Error("failed transfer must not move units")
	}
}

func TestTransferSelfIsNoop(t *testing.T) {
	l := New()
	l.Credit("alice", "BOND-1", dec("10"))
	if err := l.Transfer("alice", "alice", "BOND-1", dec("5")); err != nil {
		t.Fatalf("self transfer errored: %v", err)
	}
	if !l.Balance("alice", "BOND-1").Equal(dec("10")) {
		t.Errorf("self transfer changed balance: %s", l.Balance("alice", "BOND-1"))
	}
}

func TestLoad(t *testing.T) {
	l := New()
	l.Load([]*types.Holding{
		{UserID: "alice", InstrumentID: "BOND-1", Quantity: dec("50")},
		{UserID: "alice", InstrumentID: "BOND-2", Quantity: dec("20")},
		{UserID: "bob", InstrumentID: "BOND-1", Quantity: dec("5")},
	})
	if !l.Balance("alice", "BOND-2").Equal(dec("20")) {
		t.Errorf("alice BOND-2 = %s, want 20", l.Balance("alice", "BOND-2"))
	}
	got := l.Holdings("alice")
	if len(got) != 2 || got[0].InstrumentID != "BOND-1" || got[1].InstrumentID != "BOND-2" {
		t.Fatalf("unexpected holdings: %+v", got)
	}
	if !l.TotalSupply("BOND-1").Equal(dec("55")) {
		t.Errorf("total supply = %s, want 55", l.TotalSupply("BOND-1"))
	}
}

func TestConcurrentTransfers(t *testing.T) {
	l := New()
	users := []string{"u1", "u2", "u3", "u4"}
	for _, u := range users {
		l.Credit(u, "BOND-1", dec("1000"))
	}
	before := l.TotalSupply("BOND-1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from := users[i%len(users)]
			to := users[(i+1)%len(users)]
			for j := 0; j < 100; j++ {
				// Ignore insufficient-holdings races, only conservation matters.
				_ = l.Transfer(from, to, "BOND-1", dec("1"))
			}
		}(i)
	}
	wg.Wait()

	if !l.TotalSupply("BOND-1").Equal(before) {
		t.Fatalf("total supply drifted: %s -> %s", before, l.TotalSupply("BOND-1"))
	}
	for _, u := range users {
		if l.Balance(u, "BOND-1").IsNegative() {
			t.Fatalf("negative balance for %s: %s", u, l.Balance(u, "BOND-1"))
		}
	}
}
