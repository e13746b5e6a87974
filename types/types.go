package types

import (
	"math/big"
	"time"

	"cosmossdk.io/math"
)

// Side represents order side
type Side int

const (
	SideUnspecified Side = iota
	SideBuy
	SideSell
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unspecified"
	}
}

func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// SideFromString parses a wire-level side string.
func SideFromString(s string) Side {
	switch s {
	case "buy":
		return SideBuy
	case "sell":
		return SideSell
	default:
		return SideUnspecified
	}
}

// OrderType represents order type
type OrderType int

const (
	OrderTypeUnspecified OrderType = iota
	OrderTypeLimit
	OrderTypeMarket
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeLimit:
		return "limit"
	case OrderTypeMarket:
		return "market"
	default:
		return "unspecified"
	}
}

// OrderTypeFromString parses a wire-level order type string.
func OrderTypeFromString(s string) OrderType {
	switch s {
	case "limit":
		return OrderTypeLimit
	case "market":
		return OrderTypeMarket
	default:
		return OrderTypeUnspecified
	}
}

// OrderStatus represents order status
type OrderStatus int

const (
	OrderStatusUnspecified OrderStatus = iota
	OrderStatusOpen
	OrderStatusPartial
	OrderStatusFilled
	OrderStatusCancelled
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusOpen:
		return "open"
	case OrderStatusPartial:
		return "partial"
	case OrderStatusFilled:
		return "filled"
	case OrderStatusCancelled:
		return "cancelled"
	default:
		return "unspecified"
	}
}

// OrderStatusFromString parses a persisted status string.
func OrderStatusFromString(s string) OrderStatus {
	switch s {
	case "open":
		return OrderStatusOpen
	case "partial":
		return OrderStatusPartial
	case "filled":
		return OrderStatusFilled
	case "cancelled":
		return OrderStatusCancelled
	default:
		return OrderStatusUnspecified
	}
}

// CancelReasonUnfilledMarket marks a market order whose residual was
// discarded without any fill.
const CancelReasonUnfilledMarket = "unfilled_market"

// InstrumentStatus represents the lifecycle state of a bond.
// Lifecycle transitions are managed outside the trading core; the
// engine only admits orders for active instruments.
type InstrumentStatus int

const (
	InstrumentStatusDraft InstrumentStatus = iota
	InstrumentStatusActive
	InstrumentStatusMatured
)

func (s InstrumentStatus) String() string {
	switch s {
	case InstrumentStatusDraft:
		return "draft"
	case InstrumentStatusActive:
		return "active"
	case InstrumentStatusMatured:
		return "matured"
	default:
		return "unspecified"
	}
}

// InstrumentStatusFromString parses a persisted status string.
func InstrumentStatusFromString(s string) InstrumentStatus {
	switch s {
	case "active":
		return InstrumentStatusActive
	case "matured":
		return InstrumentStatusMatured
	default:
		return InstrumentStatusDraft
	}
}

// Instrument is a tradable bond.
type Instrument struct {
	ID        string
	Name      string
	ISIN      string
	MinUnit   math.LegacyDec
	FaceValue math.LegacyDec
	Status    InstrumentStatus
}

// IsTradable returns true if the instrument accepts new orders.
func (i *Instrument) IsTradable() bool {
	return i.Status == InstrumentStatusActive
}

// User is a market participant. Identity and KYC live elsewhere; the
// trading core only needs the stable ID and the optional wallet tag.
type User struct {
	ID            string
	WalletAddress string
}

// Order represents a trading order
type Order struct {
	ID           string
	UserID       string
	InstrumentID string
	Side         Side
	Type         OrderType
	Price        math.LegacyDec // limit price (ignored for market orders)
	Quantity     math.LegacyDec // original quantity, immutable
	FilledQty    math.LegacyDec
	Status       OrderStatus
	CancelReason string
	Sequence     uint64 // per-book insertion counter, assigned when the order rests
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TxHash       string // opaque external transaction identifier
}

// NewOrder creates a new order in the open state.
func NewOrder(id, userID, instrumentID string, side Side, orderType OrderType, price, quantity math.LegacyDec, txHash string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:           id,
		UserID:       userID,
		InstrumentID: instrumentID,
		Side:         side,
		Type:         orderType,
		Price:        price,
		Quantity:     quantity,
		FilledQty:    math.LegacyZeroDec(),
		Status:       OrderStatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		TxHash:       txHash,
	}
}

// RemainingQty returns the remaining unfilled quantity
func (o *Order) RemainingQty() math.LegacyDec {
	return o.Quantity.Sub(o.FilledQty)
}

// IsFilled returns true if the order is completely filled
func (o *Order) IsFilled() bool {
	return o.FilledQty.GTE(o.Quantity)
}

// IsActive returns true if the order can still be matched
func (o *Order) IsActive() bool {
	return o.Status == OrderStatusOpen || o.Status == OrderStatusPartial
}

// Fill fills the order with the given quantity
func (o *Order) Fill(qty math.LegacyDec) error {
	if qty.GT(o.RemainingQty()) {
		return ErrInternal.Wrapf("fill quantity %s exceeds remaining %s for order %s", qty, o.RemainingQty(), o.ID)
	}
	o.FilledQty = o.FilledQty.Add(qty)
	o.UpdatedAt = time.Now().UTC()
	if o.IsFilled() {
		o.Status = OrderStatusFilled
	} else if o.FilledQty.IsPositive() {
		o.Status = OrderStatusPartial
	}
	return nil
}

// Cancel moves the order to the terminal cancelled state.
func (o *Order) Cancel(reason string) {
	o.Status = OrderStatusCancelled
	o.CancelReason = reason
	o.UpdatedAt = time.Now().UTC()
}

// Trade represents an executed trade. Trades are immutable once recorded.
type Trade struct {
	ID           string
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string
	SellerID     string
	InstrumentID string
	Price        math.LegacyDec
	Quantity     math.LegacyDec
	ExecutedAt   time.Time
	TxHash       string
}

// NewTrade creates a trade between a buy and a sell order.
func NewTrade(id string, buy, sell *Order, price, qty math.LegacyDec, txHash string) *Trade {
	return &Trade{
		ID:           id,
		BuyOrderID:   buy.ID,
		SellOrderID:  sell.ID,
		BuyerID:      buy.UserID,
		SellerID:     sell.UserID,
		InstrumentID: buy.InstrumentID,
		Price:        price,
		Quantity:     qty,
		ExecutedAt:   time.Now().UTC(),
		TxHash:       txHash,
	}
}

// Holding is a per-(user, instrument) unit balance. Rows with zero
// quantity are deleted rather than persisted.
type Holding struct {
	ID           string
	UserID       string
	InstrumentID string
	Quantity     math.LegacyDec
}

// DepthLevel is one aggregated price level of a book snapshot.
type DepthLevel struct {
	Price      math.LegacyDec
	Quantity   math.LegacyDec
	OrderCount int
}

// BookSnapshot is the aggregated top-of-book view for an instrument.
type BookSnapshot struct {
	InstrumentID string
	Bids         []DepthLevel
	Asks         []DepthLevel
}

// IsMultipleOf reports whether qty is a positive integer multiple of
// unit. The check runs on the raw 18-decimal mantissas so it is exact;
// LegacyDec division rounds and cannot be trusted here.
func IsMultipleOf(qty, unit math.LegacyDec) bool {
	if !unit.IsPositive() || !qty.IsPositive() {
		return false
	}
	rem := new(big.Int).Mod(qty.BigInt(), unit.BigInt())
	return rem.Sign() == 0
}
