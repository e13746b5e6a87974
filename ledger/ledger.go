// Package ledger tracks per-user bond unit holdings in memory. It is
// the authoritative balance view for sell-side admission checks and is
// kept consistent with the persisted holdings table by the engine.
package ledger

import (
	"sort"
	"sync"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

// userAccount holds one user's balances keyed by instrument ID
type userAccount struct {
	mu       sync.Mutex
	balances map[string]math.LegacyDec
}

// Ledger is a concurrency-safe holdings map. Balances never go
// negative; zero balances are removed.
type Ledger struct {
	mu    sync.RWMutex
	users map[string]*userAccount
}

// New creates an empty ledger
func New() *Ledger {
	return &Ledger{
		users: make(map[string]*userAccount),
	}
}

// Load seeds the ledger from persisted holdings. Called once at
// startup before the engine accepts orders.
func (l *Ledger) Load(holdings []*types.Holding) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, h := range holdings {
		acct, ok := l.users[h.UserID]
		if !ok {
			acct = &userAccount{balances: make(map[string]math.LegacyDec)}
			l.users[h.UserID] = acct
		}
		if h.Quantity.IsPositive() {
			acct.balances[h.InstrumentID] = h.Quantity
		}
	}
}

func (l *Ledger) account(userID string) *userAccount {
	l.mu.RLock()
	acct, ok := l.users[userID]
	l.mu.RUnlock()
	if ok {
		return acct
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok = l.users[userID]; ok {
		return acct
	}
	acct = &userAccount{balances: make(map[string]math.LegacyDec)}
	l.users[userID] = acct
	return acct
}

// Balance returns the user's holding for an instrument, zero if none
func (l *Ledger) Balance(userID, instrumentID string) math.LegacyDec {
	acct := l.account(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	if q, ok := acct.balances[instrumentID]; ok {
		return q
	}
	return math.LegacyZeroDec()
}

// Credit adds qty to the user's holding
func (l *Ledger) Credit(userID, instrumentID string, qty math.LegacyDec) {
	if !qty.IsPositive() {
		return
	}
	acct := l.account(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	cur, ok := acct.balances[instrumentID]
	if !ok {
		cur = math.LegacyZeroDec()
	}
	acct.balances[instrumentID] = cur.Add(qty)
}

// Debit removes qty from the user's holding. Fails without mutating
// if the balance is insufficient. A balance reaching zero is deleted.
func (l *Ledger) Debit(userID, instrumentID string, qty math.LegacyDec) error {
	if !qty.IsPositive() {
		return types.ErrBadQuantity.Wrapf("debit quantity %s", qty)
	}
	acct := l.account(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()
	return debitLocked(acct, userID, instrumentID, qty)
}

func debitLocked(acct *userAccount, userID, instrumentID string, qty math.LegacyDec) error {
	cur, ok := acct.balances[instrumentID]
	if !ok || cur.LT(qty) {
		have := math.LegacyZeroDec()
		if ok {
			have = cur
		}
		return types.ErrInsufficientHoldings.Wrapf("user %s has %s of %s, needs %s", userID, have, instrumentID, qty)
	}
	rem := cur.Sub(qty)
	if rem.IsZero() {
		delete(acct.balances, instrumentID)
	} else {
		acct.balances[instrumentID] = rem
	}
	return nil
}

// Transfer moves qty of an instrument from seller to buyer as one
// step. Both accounts are locked in sorted user-ID order so two
// concurrent transfers cannot deadlock.
func (l *Ledger) Transfer(sellerID, buyerID, instrumentID string, qty math.LegacyDec) error {
	if sellerID == buyerID {
		return nil
	}
	if !qty.IsPositive() {
		return types.ErrBadQuantity.Wrapf("transfer quantity %s", qty)
	}

	seller := l.account(sellerID)
	buyer := l.account(buyerID)

	first, second := seller, buyer
	if sellerID > buyerID {
		first, second = buyer, seller
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	if err := debitLocked(seller, sellerID, instrumentID, qty); err != nil {
		return err
	}
	cur, ok := buyer.balances[instrumentID]
	if !ok {
		cur = math.LegacyZeroDec()
	}
	buyer.balances[instrumentID] = cur.Add(qty)
	return nil
}

// Holdings returns all non-zero holdings for a user, sorted by
// instrument ID for stable output.
func (l *Ledger) Holdings(userID string) []*types.Holding {
	acct := l.account(userID)
	acct.mu.Lock()
	defer acct.mu.Unlock()

	out := make([]*types.Holding, 0, len(acct.balances))
	for instrumentID, qty := range acct.balances {
		out = append(out, &types.Holding{
			UserID:       userID,
			InstrumentID: instrumentID,
			Quantity:     qty,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

// TotalSupply sums every user's holding of an instrument. Matching
// never changes this number; it exists for audits and tests.
func (l *Ledger) TotalSupply(instrumentID string) math.LegacyDec {
	l.mu.RLock()
	ids := make([]string, 0, len(l.users))
	for id := range l.users {
		ids = append(ids, id)
	}
	l.mu.RUnlock()

	total := math.LegacyZeroDec()
	for _, id := range ids {
		total = total.Add(l.Balance(id, instrumentID))
	}
	return total
}
