// Package memory is an in-process Store used by tests and the
// --memory development mode. Writes inside a Tx are journaled and
// applied on Commit, so a rollback leaves no trace.
package memory

import (
	"context"
	"sort"
	"sync"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/store"
	"github.com/openalpha/bondbook/types"
)

type holdingKey struct {
	userID       string
	instrumentID string
}

// Store keeps everything in maps guarded by one mutex.
type Store struct {
	mu          sync.Mutex
	instruments map[string]*types.Instrument
	users       map[string]*types.User
	orders      map[string]*types.Order
	trades      []*types.Trade
	holdings    map[holdingKey]math.LegacyDec

	// FailNextCommit makes the next Commit return a persistence
	// failure. Lets tests exercise the rollback path.
	FailNextCommit bool
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		instruments: make(map[string]*types.Instrument),
		users:       make(map[string]*types.User),
		orders:      make(map[string]*types.Order),
		holdings:    make(map[holdingKey]math.LegacyDec),
	}
}

func cloneOrder(o *types.Order) *types.Order {
	c := *o
	return &c
}

// Begin opens a journaling transaction
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	return &tx{store: s}, nil
}

func (s *Store) GetInstrument(ctx context.Context, id string) (*types.Instrument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instruments[id]
	if !ok {
		return nil, types.ErrUnknownInstrument.Wrapf("instrument %s", id)
	}
	c := *inst
	return &c, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, types.ErrUnknownUser.Wrapf("user %s", id)
	}
	c := *u
	return &c, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	return cloneOrder(o), nil
}

func (s *Store) OpenOrders(ctx context.Context) ([]*types.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Order, 0)
	for _, o := range s.orders {
		if o.IsActive() {
			out = append(out, cloneOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (s *Store) Holdings(ctx context.Context) ([]*types.Holding, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Holding, 0, len(s.holdings))
	for k, q := range s.holdings {
		out = append(out, &types.Holding{UserID: k.userID, InstrumentID: k.instrumentID, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UserID != out[j].UserID {
			return out[i].UserID < out[j].UserID
		}
		return out[i].InstrumentID < out[j].InstrumentID
	})
	return out, nil
}

func (s *Store) HoldingsByUser(ctx context.Context, userID string) ([]*types.Holding, error) {
	all, err := s.Holdings(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*types.Holding, 0)
	for _, h := range all {
		if h.UserID == userID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (s *Store) RecentTrades(ctx context.Context, instrumentID string, limit int) ([]*types.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.Trade, 0, limit)
	// trades append in execution order; walk newest first
	for i := len(s.trades) - 1; i >= 0 && len(out) < limit; i-- {
		if s.trades[i].InstrumentID == instrumentID {
			c := *s.trades[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *Store) SaveInstrument(ctx context.Context, instrument *types.Instrument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *instrument
	s.instruments[instrument.ID] = &c
	return nil
}

func (s *Store) SaveUser(ctx context.Context, user *types.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := *user
	s.users[user.ID] = &c
	return nil
}

func (s *Store) SaveHolding(ctx context.Context, holding *types.Holding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := holdingKey{userID: holding.UserID, instrumentID: holding.InstrumentID}
	if holding.Quantity.IsPositive() {
		s.holdings[k] = holding.Quantity
	} else {
		delete(s.holdings, k)
	}
	return nil
}

func (s *Store) Close() error { return nil }

// tx journals writes and applies them under the store lock on Commit.
type tx struct {
	store *Store
	ops   []func(*Store)
	done  bool
}

func (t *tx) InsertOrder(order *types.Order) error {
	c := cloneOrder(order)
	t.ops = append(t.ops, func(s *Store) { s.orders[c.ID] = c })
	return nil
}

func (t *tx) UpdateOrderFill(order *types.Order) error {
	c := cloneOrder(order)
	t.ops = append(t.ops, func(s *Store) { s.orders[c.ID] = c })
	return nil
}

func (t *tx) InsertTrade(trade *types.Trade) error {
	c := *trade
	t.ops = append(t.ops, func(s *Store) { s.trades = append(s.trades, &c) })
	return nil
}

func (t *tx) UpsertHolding(userID, instrumentID string, quantity math.LegacyDec) error {
	t.ops = append(t.ops, func(s *Store) {
		s.holdings[holdingKey{userID: userID, instrumentID: instrumentID}] = quantity
	})
	return nil
}

func (t *tx) DeleteHolding(userID, instrumentID string) error {
	t.ops = append(t.ops, func(s *Store) {
		delete(s.holdings, holdingKey{userID: userID, instrumentID: instrumentID})
	})
	return nil
}

func (t *tx) Commit() error {
	if t.done {
		return types.ErrInternal.Wrap("commit on finished tx")
	}
	t.done = true
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	if t.store.FailNextCommit {
		t.store.FailNextCommit = false
		return types.ErrPersistenceFailure.Wrap("injected commit failure")
	}
	for _, op := range t.ops {
		op(t.store)
	}
	return nil
}

func (t *tx) Rollback() error {
	t.done = true
	t.ops = nil
	return nil
}
