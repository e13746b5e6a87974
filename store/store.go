// Package store defines the persistence boundary of the trading core.
// The engine persists every accepted submission through a single
// transaction before any in-memory state changes or events go out.
package store

import (
	"context"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/types"
)

// Tx is one atomic unit of persistence. All writes for a submission
// land in one Tx; Commit makes them durable together, Rollback drops
// them together.
type Tx interface {
	InsertOrder(order *types.Order) error
	UpdateOrderFill(order *types.Order) error
	InsertTrade(trade *types.Trade) error
	UpsertHolding(userID, instrumentID string, quantity math.LegacyDec) error
	DeleteHolding(userID, instrumentID string) error

	Commit() error
	Rollback() error
}

// Store is the durable backing of the trading core.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	GetInstrument(ctx context.Context, id string) (*types.Instrument, error)
	GetUser(ctx context.Context, id string) (*types.User, error)
	GetOrder(ctx context.Context, id string) (*types.Order, error)

	// OpenOrders returns every open and partially filled order across
	// all instruments, ordered by insertion sequence. Used to rebuild
	// books at startup.
	OpenOrders(ctx context.Context) ([]*types.Order, error)

	Holdings(ctx context.Context) ([]*types.Holding, error)
	HoldingsByUser(ctx context.Context, userID string) ([]*types.Holding, error)
	RecentTrades(ctx context.Context, instrumentID string, limit int) ([]*types.Trade, error)

	SaveInstrument(ctx context.Context, instrument *types.Instrument) error
	SaveUser(ctx context.Context, user *types.User) error
	SaveHolding(ctx context.Context, holding *types.Holding) error

	Close() error
}
