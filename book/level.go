package book

import (
	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

// Level is one price level holding resting orders in FIFO queue
type Level struct {
	Price    math.LegacyDec
	Quantity math.LegacyDec
	Orders   []*types.Order // oldest first
}

// NewLevel creates an empty price level
func NewLevel(price math.LegacyDec) *Level {
	return &Level{
		Price:    price,
		Quantity: math.LegacyZeroDec(),
		Orders:   make([]*types.Order, 0),
	}
}

// AddOrder appends an order to the level queue (FIFO)
func (lvl *Level) AddOrder(order *types.Order) {
	lvl.Orders = append(lvl.Orders, order)
	lvl.Quantity = lvl.Quantity.Add(order.RemainingQty())
}

// RemoveOrder removes an order from the level by ID
func (lvl *Level) RemoveOrder(orderID string) *types.Order {
	for i, o := range lvl.Orders {
		if o.ID == orderID {
			lvl.Orders = append(lvl.Orders[:i], lvl.Orders[i+1:]...)
			lvl.Quantity = lvl.Quantity.Sub(o.RemainingQty())
			return o
		}
	}
	return nil
}

// UpdateQuantity recalculates the total remaining quantity
func (lvl *Level) UpdateQuantity() {
	total := math.LegacyZeroDec()
	for _, o := range lvl.Orders {
		total = total.Add(o.RemainingQty())
	}
	lvl.Quantity = total
}

// IsEmpty returns true if no orders rest at this level
func (lvl *Level) IsEmpty() bool {
	return len(lvl.Orders) == 0
}

// FirstOrder returns the oldest order at this level
func (lvl *Level) FirstOrder() *types.Order {
	if len(lvl.Orders) == 0 {
		return nil
	}
	return lvl.Orders[0]
}

// ToDepthLevel converts to the aggregated snapshot form
func (lvl *Level) ToDepthLevel() types.DepthLevel {
	return types.DepthLevel{
		Price:      lvl.Price,
		Quantity:   lvl.Quantity,
		OrderCount: len(lvl.Orders),
	}
}
