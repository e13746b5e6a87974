// Package engine implements the matching core: admission checks,
// price-time priority matching, atomic persistence, ledger transfer,
// and post-commit event emission. Matching is serialized per
// instrument; different instruments match in parallel.
package engine

import (
	"context"
	"sync"

	"cosmossdk.io/log"
	"cosmossdk.io/math"
	"github.com/google/uuid"

	"github.com/openalpha/bondbook/book"
	"github.com/openalpha/bondbook/ledger"
	"github.com/openalpha/bondbook/metrics"
	"github.com/openalpha/bondbook/registry"
	"github.com/openalpha/bondbook/store"
	"github.com/openalpha/bondbook/tape"
	"github.com/openalpha/bondbook/types"
)

// maxConflictRetries bounds internal retries on write conflicts
// before the error surfaces to the caller.
const maxConflictRetries = 3

// Broadcaster receives the event batch for a committed submission.
// Publish must not block matching; implementations fan out on their
// own workers.
type Broadcaster interface {
	Publish(events []types.Event)
}

// NopBroadcaster drops all events.
type NopBroadcaster struct{}

func (NopBroadcaster) Publish([]types.Event) {}

// shard serializes all matching activity for one instrument.
type shard struct {
	mu   sync.Mutex
	book *book.Book
}

// resting pins a live order to the instrument whose shard lock guards
// every mutation of it. instrumentID is immutable, so it may be read
// after only the orders-map lookup; order fields may not.
type resting struct {
	instrumentID string
	order        *types.Order
}

// Engine is the trading core. All submissions and cancels go through
// it; the order books and the resting-order index are owned by it.
type Engine struct {
	store    store.Store
	ledger   *ledger.Ledger
	registry *registry.Registry
	tape     *tape.Tape
	bc       Broadcaster
	logger   log.Logger
	metrics  *metrics.Collector

	// mu guards the shard and order maps. Field reads on a resting
	// order additionally require its instrument's shard lock.
	mu     sync.Mutex
	shards map[string]*shard
	orders map[string]resting
}

// New wires an engine over its collaborators.
func New(s store.Store, l *ledger.Ledger, r *registry.Registry, tp *tape.Tape, bc Broadcaster, logger log.Logger) *Engine {
	if bc == nil {
		bc = NopBroadcaster{}
	}
	return &Engine{
		store:    s,
		ledger:   l,
		registry: r,
		tape:     tp,
		bc:       bc,
		logger:   logger.With("module", "engine"),
		metrics:  metrics.GetCollector(),
		shards:   make(map[string]*shard),
		orders:   make(map[string]resting),
	}
}

func (e *Engine) getShard(instrumentID string) *shard {
	e.mu.Lock()
	defer e.mu.Unlock()
	sh, ok := e.shards[instrumentID]
	if !ok {
		sh = &shard{book: book.New(instrumentID)}
		e.shards[instrumentID] = sh
	}
	return sh
}

// LoadBooks rebuilds in-memory state from the store: the holdings
// ledger, then every open and partially filled order in insertion
// order. Must run before the engine accepts traffic.
func (e *Engine) LoadBooks(ctx context.Context) error {
	holdings, err := e.store.Holdings(ctx)
	if err != nil {
		return err
	}
	e.ledger.Load(holdings)

	open, err := e.store.OpenOrders(ctx)
	if err != nil {
		return err
	}
	for _, o := range open {
		sh := e.getShard(o.InstrumentID)
		sh.mu.Lock()
		sh.book.Add(o)
		sh.book.SeedSeq(o.Sequence)
		sh.mu.Unlock()

		e.mu.Lock()
		e.orders[o.ID] = resting{instrumentID: o.InstrumentID, order: o}
		e.mu.Unlock()
	}
	e.logger.Info("books rebuilt", "open_orders", len(open), "holdings", len(holdings))
	return nil
}

// Submission is one order request after authentication.
type Submission struct {
	UserID       string
	InstrumentID string
	Side         types.Side
	Type         types.OrderType
	Price        math.LegacyDec
	Quantity     math.LegacyDec
	TxHash       string
}

// Result is the outcome of an accepted submission.
type Result struct {
	Order  *types.Order
	Trades []*types.Trade
}

// fill is one planned match against a resting maker.
type fill struct {
	maker *types.Order
	qty   math.LegacyDec
}

// Submit runs the full submission pipeline: admission checks, match
// planning, one atomic persistence transaction, and only then the
// in-memory apply and event broadcast. A failed commit leaves book,
// ledger, and subscribers untouched.
func (e *Engine) Submit(ctx context.Context, sub Submission) (*Result, error) {
	timer := metrics.NewTimer()

	inst, user, err := e.admit(ctx, sub)
	if err != nil {
		e.metrics.RecordReject(sub.InstrumentID, types.ErrorCode(err))
		return nil, err
	}

	taker := types.NewOrder(uuid.NewString(), user.ID, inst.ID, sub.Side, sub.Type, sub.Price, sub.Quantity, sub.TxHash)

	sh := e.getShard(inst.ID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// Sell admission runs under the shard lock so the balance cannot
	// change between the check and the commit for this instrument.
	if sub.Side == types.SideSell {
		if have := e.ledger.Balance(user.ID, inst.ID); have.LT(sub.Quantity) {
			err := types.ErrInsufficientHoldings.Wrapf("user %s holds %s of %s, sell requires %s", user.ID, have, inst.ID, sub.Quantity)
			e.metrics.RecordReject(inst.ID, types.ErrorCode(err))
			return nil, err
		}
	}

	matchTimer := metrics.NewTimer()
	fills := e.planFills(sh.book, taker)
	e.metrics.RecordMatchingLatency(inst.ID, matchTimer.ElapsedMs())

	// Terminal state of the taker, decided before persistence.
	takerFinal := *taker
	for _, f := range fills {
		if err := takerFinal.Fill(f.qty); err != nil {
			return nil, err
		}
	}
	rests := false
	switch {
	case sub.Type == types.OrderTypeLimit && !takerFinal.IsFilled():
		rests = true
		taker.Sequence = sh.book.ReserveSeq()
		takerFinal.Sequence = taker.Sequence
	case sub.Type == types.OrderTypeMarket && len(fills) > 0 && !takerFinal.IsFilled():
		// Residual of a matched market order is discarded.
		takerFinal.Status = types.OrderStatusFilled
	case sub.Type == types.OrderTypeMarket && len(fills) == 0:
		takerFinal.Cancel(types.CancelReasonUnfilledMarket)
	}

	trades := make([]*types.Trade, 0, len(fills))
	makerFinals := make([]*types.Order, 0, len(fills))
	for _, f := range fills {
		mf := *f.maker
		if err := mf.Fill(f.qty); err != nil {
			return nil, err
		}
		makerFinals = append(makerFinals, &mf)

		buy, sell := &takerFinal, &mf
		if sub.Side == types.SideSell {
			buy, sell = &mf, &takerFinal
		}
		trades = append(trades, types.NewTrade(uuid.NewString(), buy, sell, f.maker.Price, f.qty, sub.TxHash))
	}

	if err := e.persist(ctx, inst.ID, &takerFinal, makerFinals, trades); err != nil {
		e.logger.Error("submission rolled back", "order_id", taker.ID, "instrument_id", inst.ID, "err", err)
		return nil, err
	}

	// Commit succeeded; apply the same effects in memory.
	for _, f := range fills {
		sh.book.Reduce(f.maker, f.qty)
		if err := f.maker.Fill(f.qty); err != nil {
			e.logger.Error("in-memory fill diverged", "order_id", f.maker.ID, "err", err)
		}
		if f.maker.IsFilled() {
			sh.book.Remove(f.maker)
			e.mu.Lock()
			delete(e.orders, f.maker.ID)
			e.mu.Unlock()
		}
	}
	*taker = takerFinal
	if rests {
		sh.book.Add(taker)
		e.mu.Lock()
		e.orders[taker.ID] = resting{instrumentID: inst.ID, order: taker}
		e.mu.Unlock()
	}
	for _, tr := range trades {
		if err := e.ledger.Transfer(tr.SellerID, tr.BuyerID, inst.ID, tr.Quantity); err != nil {
			// Cannot happen after a successful admission check under
			// the shard lock; log and continue, store already holds
			// the authoritative balances.
			e.logger.Error("ledger transfer failed post-commit", "trade_id", tr.ID, "err", err)
		}
	}
	e.tape.Record(trades...)

	e.metrics.RecordOrder(inst.ID, sub.Side.String(), sub.Type.String(), taker.Status.String())
	for _, tr := range trades {
		v, _ := tr.Quantity.Float64()
		e.metrics.RecordTrade(inst.ID, v)
	}
	e.metrics.SetBookDepth(inst.ID, sh.book.Bids.Len(), sh.book.Asks.Len())
	e.metrics.RecordOrderLatency(inst.ID, sub.Type.String(), timer.ElapsedMs())

	e.bc.Publish(e.submissionEvents(sh, taker, makerFinals, trades))

	e.logger.Info("order processed",
		"order_id", taker.ID,
		"instrument_id", inst.ID,
		"side", sub.Side.String(),
		"type", sub.Type.String(),
		"status", taker.Status.String(),
		"trades", len(trades),
	)
	return &Result{Order: taker, Trades: trades}, nil
}

// admit runs the pre-lock admission checks in their contract order.
func (e *Engine) admit(ctx context.Context, sub Submission) (*types.Instrument, *types.User, error) {
	inst, err := e.registry.Instrument(ctx, sub.InstrumentID)
	if err != nil {
		return nil, nil, err
	}
	if !inst.IsTradable() {
		return nil, nil, types.ErrInstrumentNotTradable.Wrapf("instrument %s is %s", inst.ID, inst.Status)
	}
	user, err := e.registry.User(ctx, sub.UserID)
	if err != nil {
		return nil, nil, err
	}
	if sub.Side != types.SideBuy && sub.Side != types.SideSell {
		return nil, nil, types.ErrInternal.Wrap("order side unspecified")
	}
	if sub.Type != types.OrderTypeLimit && sub.Type != types.OrderTypeMarket {
		return nil, nil, types.ErrInternal.Wrap("order type unspecified")
	}
	if sub.Quantity.IsNil() || !sub.Quantity.IsPositive() {
		return nil, nil, types.ErrBadQuantity.Wrap("quantity must be positive")
	}
	if !types.IsMultipleOf(sub.Quantity, inst.MinUnit) {
		return nil, nil, types.ErrBadQuantity.Wrapf("quantity %s is not a multiple of min unit %s", sub.Quantity, inst.MinUnit)
	}
	if sub.Type == types.OrderTypeLimit && (sub.Price.IsNil() || !sub.Price.IsPositive()) {
		return nil, nil, types.ErrBadPrice.Wrap("limit price must be positive")
	}
	return inst, user, nil
}

// planFills walks the opposite side without mutating the book and
// returns the matches the taker would take, in priority order. Same
// user resting orders are skipped and keep their queue position.
func (e *Engine) planFills(b *book.Book, taker *types.Order) []fill {
	remaining := taker.RemainingQty()
	var fills []fill
	walk := func(lvl *book.Level) bool {
		if !remaining.IsPositive() {
			return false
		}
		if taker.Type == types.OrderTypeLimit {
			if taker.Side == types.SideBuy && lvl.Price.GT(taker.Price) {
				return false
			}
			if taker.Side == types.SideSell && lvl.Price.LT(taker.Price) {
				return false
			}
		}
		for _, maker := range lvl.Orders {
			if !remaining.IsPositive() {
				break
			}
			if maker.UserID == taker.UserID {
				continue
			}
			qty := math.LegacyMinDec(remaining, maker.RemainingQty())
			fills = append(fills, fill{maker: maker, qty: qty})
			remaining = remaining.Sub(qty)
		}
		return remaining.IsPositive()
	}
	if taker.Side == types.SideBuy {
		b.IterateAsks(walk)
	} else {
		b.IterateBids(walk)
	}
	return fills
}

// persist writes the whole submission effect in one transaction.
// Write conflicts are retried a bounded number of times.
func (e *Engine) persist(ctx context.Context, instrumentID string, taker *types.Order, makers []*types.Order, trades []*types.Trade) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = e.persistOnce(ctx, instrumentID, taker, makers, trades)
		if err == nil || !types.ErrConflict.Is(err) {
			return err
		}
		e.logger.Debug("retrying conflicted transaction", "order_id", taker.ID, "attempt", attempt+1)
	}
	return err
}

func (e *Engine) persistOnce(ctx context.Context, instrumentID string, taker *types.Order, makers []*types.Order, trades []*types.Trade) error {
	tx, err := e.store.Begin(ctx)
	if err != nil {
		return err
	}
	abort := func(err error) error {
		_ = tx.Rollback()
		return err
	}

	if err := tx.InsertOrder(taker); err != nil {
		return abort(err)
	}
	for _, m := range makers {
		if err := tx.UpdateOrderFill(m); err != nil {
			return abort(err)
		}
	}
	for _, tr := range trades {
		if err := tx.InsertTrade(tr); err != nil {
			return abort(err)
		}
	}

	// Net unit movement per user for this instrument; zero balances
	// become row deletions.
	deltas := make(map[string]math.LegacyDec)
	for _, tr := range trades {
		sd, ok := deltas[tr.SellerID]
		if !ok {
			sd = math.LegacyZeroDec()
		}
		deltas[tr.SellerID] = sd.Sub(tr.Quantity)

		bd, ok := deltas[tr.BuyerID]
		if !ok {
			bd = math.LegacyZeroDec()
		}
		deltas[tr.BuyerID] = bd.Add(tr.Quantity)
	}
	for userID, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		next := e.ledger.Balance(userID, instrumentID).Add(delta)
		if next.IsNegative() {
			return abort(types.ErrInternal.Wrapf("negative holding computed for user %s", userID))
		}
		if next.IsZero() {
			if err := tx.DeleteHolding(userID, instrumentID); err != nil {
				return abort(err)
			}
		} else if err := tx.UpsertHolding(userID, instrumentID, next); err != nil {
			return abort(err)
		}
	}

	return tx.Commit()
}

// submissionEvents builds the post-commit batch: trades first, then
// order updates, then the depth snapshot, then portfolio updates.
func (e *Engine) submissionEvents(sh *shard, taker *types.Order, makers []*types.Order, trades []*types.Trade) []types.Event {
	instRoom := types.InstrumentRoom(taker.InstrumentID)
	events := make([]types.Event, 0, 2*len(trades)+len(makers)+2)

	for _, tr := range trades {
		events = append(events, types.Event{
			Room: instRoom,
			Type: types.EventTrade,
			Data: types.NewTradeEventData(tr),
		})
	}
	events = append(events, types.Event{
		Room: types.UserRoom(taker.UserID),
		Type: types.EventOrderUpdate,
		Data: types.NewOrderEventData(taker),
	})
	for _, m := range makers {
		events = append(events, types.Event{
			Room: types.UserRoom(m.UserID),
			Type: types.EventOrderUpdate,
			Data: types.NewOrderEventData(m),
		})
	}
	events = append(events, types.Event{
		Room: instRoom,
		Type: types.EventOrderbookUpdate,
		Data: types.NewOrderbookEventData(sh.book.Snapshot(snapshotDepthDefault)),
	})

	seen := make(map[string]bool)
	for _, tr := range trades {
		for _, userID := range []string{tr.BuyerID, tr.SellerID} {
			if seen[userID] {
				continue
			}
			seen[userID] = true
			events = append(events, types.Event{
				Room: types.UserRoom(userID),
				Type: types.EventPortfolioUpdate,
				Data: types.PortfolioEventData{
					UserID:       userID,
					InstrumentID: taker.InstrumentID,
					Quantity:     e.ledger.Balance(userID, taker.InstrumentID).String(),
				},
			})
		}
	}
	return events
}

const (
	snapshotDepthDefault = 20
	// SnapshotDepthMax caps the depth a caller may request.
	SnapshotDepthMax = 50
)

// Cancel removes the residual of an open or partially filled order.
// Returns true only when this call cancelled the order; terminal,
// foreign, and unknown orders report a typed error with false.
func (e *Engine) Cancel(ctx context.Context, orderID, userID string) (bool, error) {
	e.mu.Lock()
	r, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return false, e.cancelMiss(ctx, orderID, userID)
	}

	sh := e.getShard(r.instrumentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	// The order may have filled or been cancelled while we waited on
	// the shard; ownership and activity are only read under its lock.
	e.mu.Lock()
	r, ok = e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return false, e.cancelMiss(ctx, orderID, userID)
	}
	if r.order.UserID != userID {
		return false, types.ErrNotOwner.Wrapf("order %s", orderID)
	}
	if !r.order.IsActive() {
		return false, types.ErrNotCancellable.Wrapf("order %s", orderID)
	}

	final := *r.order
	final.Cancel("")
	if err := e.persistCancel(ctx, &final); err != nil {
		e.logger.Error("cancel rolled back", "order_id", orderID, "err", err)
		return false, err
	}

	sh.book.Remove(r.order)
	*r.order = final
	e.mu.Lock()
	delete(e.orders, orderID)
	e.mu.Unlock()

	e.metrics.SetBookDepth(r.instrumentID, sh.book.Bids.Len(), sh.book.Asks.Len())
	e.bc.Publish([]types.Event{
		{
			Room: types.UserRoom(userID),
			Type: types.EventOrderUpdate,
			Data: types.NewOrderEventData(r.order),
		},
		{
			Room: types.InstrumentRoom(r.instrumentID),
			Type: types.EventOrderbookUpdate,
			Data: types.NewOrderbookEventData(sh.book.Snapshot(snapshotDepthDefault)),
		},
	})
	e.logger.Info("order cancelled", "order_id", orderID, "instrument_id", r.instrumentID)
	return true, nil
}

// cancelMiss classifies a cancel of an order that is not resting:
// terminal orders are not cancellable, unknown orders do not exist.
func (e *Engine) cancelMiss(ctx context.Context, orderID, userID string) error {
	persisted, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if persisted.UserID != userID {
		return types.ErrNotOwner.Wrapf("order %s", orderID)
	}
	return types.ErrNotCancellable.Wrapf("order %s is %s", orderID, persisted.Status)
}

func (e *Engine) persistCancel(ctx context.Context, order *types.Order) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		var tx store.Tx
		tx, err = e.store.Begin(ctx)
		if err != nil {
			return err
		}
		if err = tx.UpdateOrderFill(order); err != nil {
			_ = tx.Rollback()
			return err
		}
		err = tx.Commit()
		if err == nil || !types.ErrConflict.Is(err) {
			return err
		}
	}
	return err
}

// Snapshot returns the aggregated top-of-book for an instrument.
func (e *Engine) Snapshot(ctx context.Context, instrumentID string, depth int) (*types.BookSnapshot, error) {
	if _, err := e.registry.Instrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	if depth <= 0 {
		depth = snapshotDepthDefault
	}
	if depth > SnapshotDepthMax {
		depth = SnapshotDepthMax
	}
	sh := e.getShard(instrumentID)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	return sh.book.Snapshot(depth), nil
}

// Trades returns recent trades for an instrument, newest first. The
// in-memory tape answers when warm; otherwise the store does.
func (e *Engine) Trades(ctx context.Context, instrumentID string, limit int) ([]*types.Trade, error) {
	if _, err := e.registry.Instrument(ctx, instrumentID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	if recent := e.tape.Recent(instrumentID, limit); len(recent) > 0 {
		return recent, nil
	}
	return e.store.RecentTrades(ctx, instrumentID, limit)
}

// Portfolio returns the user's non-zero holdings.
func (e *Engine) Portfolio(ctx context.Context, userID string) ([]*types.Holding, error) {
	if _, err := e.registry.User(ctx, userID); err != nil {
		return nil, err
	}
	return e.ledger.Holdings(userID), nil
}

// Order returns one order by ID, preferring the live resting copy.
// The copy is taken under the instrument's shard lock, the same lock
// every fill and cancel mutates the struct under.
func (e *Engine) Order(ctx context.Context, orderID string) (*types.Order, error) {
	e.mu.Lock()
	r, ok := e.orders[orderID]
	e.mu.Unlock()
	if !ok {
		return e.store.GetOrder(ctx, orderID)
	}

	sh := e.getShard(r.instrumentID)
	sh.mu.Lock()
	c := *r.order
	sh.mu.Unlock()
	return &c, nil
}
