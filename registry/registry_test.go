package registry

import (
	"context"
	"testing"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/store/memory"
	"github.com/openalpha/bondbook/types"
)

func TestInstrumentLookup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.SaveInstrument(ctx, &types.Instrument{
		ID:      "BOND-1",
		Name:    "Test Bond 2030",
		MinUnit: math.LegacyMustNewDecFromStr("1"),
		Status:  types.InstrumentStatusActive,
	})
	r := New(s)

	inst, err := r.Instrument(ctx, "BOND-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if inst.Name != "Test Bond 2030" || !inst.IsTradable() {
		t.Fatalf("unexpected instrument: %+v", inst)
	}

	_, err = r.Instrument(ctx, "nope")
	if !types.ErrUnknownInstrument.Is(err) {
		t.Fatalf("expected unknown instrument, got %v", err)
	}
}

func TestUserLookup(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.SaveUser(ctx, &types.User{ID: "alice"})
	r := New(s)

	if _, err := r.User(ctx, "alice"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if _, err := r.User(ctx, "ghost"); !types.ErrUnknownUser.Is(err) {
		t.Fatalf("expected unknown user, got %v", err)
	}
}

func TestNegativeResultsNotCached(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	r := New(s)

	if _, err := r.Instrument(ctx, "BOND-1"); !types.ErrUnknownInstrument.Is(err) {
		t.Fatalf("expected unknown instrument, got %v", err)
	}
	_ = s.SaveInstrument(ctx, &types.Instrument{
		ID:      "BOND-1",
		MinUnit: math.LegacyMustNewDecFromStr("1"),
		Status:  types.InstrumentStatusActive,
	})
	if _, err := r.Instrument(ctx, "BOND-1"); err != nil {
		t.Fatalf("instrument should resolve after creation: %v", err)
	}
}

func TestInvalidate(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	_ = s.SaveInstrument(ctx, &types.Instrument{
		ID:      "BOND-1",
		MinUnit: math.LegacyMustNewDecFromStr("1"),
		Status:  types.InstrumentStatusActive,
	})
	r := New(s)

	if _, err := r.Instrument(ctx, "BOND-1"); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	// Mature the instrument behind the cache's back.
	_ = s.SaveInstrument(ctx, &types.Instrument{
		ID:      "BOND-1",
		MinUnit: math.LegacyMustNewDecFromStr("1"),
		Status:  types.InstrumentStatusMatured,
	})
	r.Invalidate("BOND-1")

	inst, err := r.Instrument(ctx, "BOND-1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if inst.IsTradable() {
		t.Fatal("stale tradability after invalidation")
	}
}
