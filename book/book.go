package book

import (
	"cosmossdk.io/math"
	"github.com/google/btree"

	"github.com/openalpha/bondbook/types"
)

const btreeDegree = 32 // affects node size and cache efficiency

// priceLevelItem wraps a price level for use in btree
type priceLevelItem struct {
	price math.LegacyDec
	level *Level
}

// Less implements btree.Item - ascending order by price
func (a *priceLevelItem) Less(b btree.Item) bool {
	return a.price.LT(b.(*priceLevelItem).price)
}

// side is one side of the order book (bids or asks)
type side struct {
	tree *btree.BTree
	desc bool // true for bids (iterate descending), false for asks (ascending)
}

func newSide(desc bool) *side {
	return &side{
		tree: btree.New(btreeDegree),
		desc: desc,
	}
}

// Get returns the price level at the given price, or nil if not found
func (s *side) Get(price math.LegacyDec) *Level {
	item := s.tree.Get(&priceLevelItem{price: price})
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

// GetOrCreate returns the existing price level or creates a new one
func (s *side) GetOrCreate(price math.LegacyDec) *Level {
	level := s.Get(price)
	if level == nil {
		level = NewLevel(price)
		s.tree.ReplaceOrInsert(&priceLevelItem{price: price, level: level})
	}
	return level
}

// Remove removes a price level
func (s *side) Remove(price math.LegacyDec) {
	s.tree.Delete(&priceLevelItem{price: price})
}

// Best returns the best price level.
// For bids (desc=true): the highest price. For asks: the lowest.
func (s *side) Best() *Level {
	var item btree.Item
	if s.desc {
		item = s.tree.Max()
	} else {
		item = s.tree.Min()
	}
	if item == nil {
		return nil
	}
	return item.(*priceLevelItem).level
}

// Len returns the number of price levels
func (s *side) Len() int {
	return s.tree.Len()
}

// Iterate walks price levels best-first: descending for bids,
// ascending for asks.
func (s *side) Iterate(fn func(*Level) bool) {
	if s.desc {
		s.tree.Descend(func(item btree.Item) bool {
			return fn(item.(*priceLevelItem).level)
		})
	} else {
		s.tree.Ascend(func(item btree.Item) bool {
			return fn(item.(*priceLevelItem).level)
		})
	}
}

// Book is a single-instrument central limit order book with
// price-time priority. It is not safe for concurrent use; the engine
// serializes all access per instrument.
type Book struct {
	InstrumentID string
	Bids         *side
	Asks         *side

	seq uint64 // insertion counter, monotonically increasing
}

// New creates an empty order book for an instrument
func New(instrumentID string) *Book {
	return &Book{
		InstrumentID: instrumentID,
		Bids:         newSide(true),  // descending for bids
		Asks:         newSide(false), // ascending for asks
	}
}

func (b *Book) getSide(s types.Side) *side {
	if s == types.SideBuy {
		return b.Bids
	}
	return b.Asks
}

// ReserveSeq hands out the next insertion sequence number. The number
// ties time priority within a price level and must be assigned before
// the order is persisted so restarts rebuild the same queue order.
func (b *Book) ReserveSeq() uint64 {
	b.seq++
	return b.seq
}

// SeedSeq advances the insertion counter past the given value.
// Called during rebuild so new orders sort after recovered ones.
func (b *Book) SeedSeq(max uint64) {
	if max > b.seq {
		b.seq = max
	}
}

// Add rests an order on its side - O(log n). The order must already
// carry its insertion sequence.
func (b *Book) Add(order *types.Order) {
	level := b.getSide(order.Side).GetOrCreate(order.Price)
	level.AddOrder(order)
}

// Remove takes an order off the book - O(log n) for the tree plus
// O(k) within the level. Returns nil if the order does not rest here.
func (b *Book) Remove(order *types.Order) *types.Order {
	s := b.getSide(order.Side)
	level := s.Get(order.Price)
	if level == nil {
		return nil
	}
	removed := level.RemoveOrder(order.ID)
	if level.IsEmpty() {
		s.Remove(order.Price)
	}
	return removed
}

// BestBid returns the highest bid level, or nil on an empty side
func (b *Book) BestBid() *Level {
	return b.Bids.Best()
}

// BestAsk returns the lowest ask level, or nil on an empty side
func (b *Book) BestAsk() *Level {
	return b.Asks.Best()
}

// IterateBids walks bid levels highest price first
func (b *Book) IterateBids(fn func(*Level) bool) {
	b.Bids.Iterate(fn)
}

// IterateAsks walks ask levels lowest price first
func (b *Book) IterateAsks(fn func(*Level) bool) {
	b.Asks.Iterate(fn)
}

// Reduce subtracts a filled quantity from the level aggregate after a
// partial fill, without touching queue position.
func (b *Book) Reduce(order *types.Order, qty math.LegacyDec) {
	level := b.getSide(order.Side).Get(order.Price)
	if level != nil {
		level.Quantity = level.Quantity.Sub(qty)
	}
}

// Len returns the number of resting orders across both sides
func (b *Book) Len() int {
	n := 0
	count := func(lvl *Level) bool {
		n += len(lvl.Orders)
		return true
	}
	b.Bids.Iterate(count)
	b.Asks.Iterate(count)
	return n
}

// Snapshot aggregates up to depth levels per side, best-first.
func (b *Book) Snapshot(depth int) *types.BookSnapshot {
	snap := &types.BookSnapshot{
		InstrumentID: b.InstrumentID,
		Bids:         make([]types.DepthLevel, 0, depth),
		Asks:         make([]types.DepthLevel, 0, depth),
	}
	take := func(dst *[]types.DepthLevel) func(*Level) bool {
		return func(lvl *Level) bool {
			if len(*dst) >= depth {
				return false
			}
			*dst = append(*dst, lvl.ToDepthLevel())
			return true
		}
	}
	b.Bids.Iterate(take(&snap.Bids))
	b.Asks.Iterate(take(&snap.Asks))
	return snap
}
