// Package postgres backs the trading core with PostgreSQL via GORM.
// Decimals travel as numeric columns serialized through strings so no
// precision is lost between the engine and the database.
package postgres

import (
	"context"
	"errors"
	"time"

	"cosmossdk.io/math"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/openalpha/bondbook/store"
	"github.com/openalpha/bondbook/types"
)

// pgSerializationFailure is the SQLSTATE raised when two serializable
// transactions collide. The engine retries these.
const pgSerializationFailure = "40001"

type instrumentRow struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	ISIN      string `gorm:"column:isin"`
	MinUnit   string `gorm:"type:numeric(38,18)"`
	FaceValue string `gorm:"type:numeric(38,18)"`
	Status    string `gorm:"index"`
}

func (instrumentRow) TableName() string { return "instruments" }

type userRow struct {
	ID            string `gorm:"primaryKey"`
	WalletAddress string
}

func (userRow) TableName() string { return "users" }

type orderRow struct {
	ID           string `gorm:"primaryKey"`
	UserID       string `gorm:"index"`
	InstrumentID string `gorm:"index"`
	Side         string
	Type         string
	Price        string `gorm:"type:numeric(38,18)"`
	Quantity     string `gorm:"type:numeric(38,18)"`
	FilledQty    string `gorm:"type:numeric(38,18)"`
	Status       string `gorm:"index"`
	CancelReason string
	Sequence     uint64 `gorm:"index"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
	TxHash       *string
}

func (orderRow) TableName() string { return "orders" }

type tradeRow struct {
	ID           string    `gorm:"primaryKey"`
	BuyOrderID   string
	SellOrderID  string
	BuyerID      string    `gorm:"index"`
	SellerID     string    `gorm:"index"`
	InstrumentID string    `gorm:"index"`
	Price        string    `gorm:"type:numeric(38,18)"`
	Quantity     string    `gorm:"type:numeric(38,18)"`
	ExecutedAt   time.Time `gorm:"index"`
	TxHash       *string
}

func (tradeRow) TableName() string { return "trades" }

type holdingRow struct {
	UserID       string `gorm:"primaryKey"`
	InstrumentID string `gorm:"primaryKey"`
	Quantity     string `gorm:"type:numeric(38,18)"`
}

func (holdingRow) TableName() string { return "holdings" }

// Store is the PostgreSQL-backed implementation of store.Store.
type Store struct {
	db *gorm.DB
}

// Open connects to PostgreSQL and migrates the schema.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, types.ErrPersistenceFailure.Wrapf("open database: %v", err)
	}
	if err := db.AutoMigrate(&instrumentRow{}, &userRow{}, &orderRow{}, &tradeRow{}, &holdingRow{}); err != nil {
		return nil, types.ErrPersistenceFailure.Wrapf("migrate schema: %v", err)
	}
	return &Store{db: db}, nil
}

// wrapErr maps database errors onto the engine error taxonomy.
func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgSerializationFailure {
		return types.ErrConflict.Wrapf("%v", err)
	}
	return types.ErrPersistenceFailure.Wrapf("%v", err)
}

func mustDec(s string) math.LegacyDec {
	d, err := math.LegacyNewDecFromStr(s)
	if err != nil {
		return math.LegacyZeroDec()
	}
	return d
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func strVal(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func toOrderRow(o *types.Order) *orderRow {
	return &orderRow{
		ID:           o.ID,
		UserID:       o.UserID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side.String(),
		Type:         o.Type.String(),
		Price:        o.Price.String(),
		Quantity:     o.Quantity.String(),
		FilledQty:    o.FilledQty.String(),
		Status:       o.Status.String(),
		CancelReason: o.CancelReason,
		Sequence:     o.Sequence,
		CreatedAt:    o.CreatedAt,
		UpdatedAt:    o.UpdatedAt,
		TxHash:       strPtr(o.TxHash),
	}
}

func fromOrderRow(r *orderRow) *types.Order {
	return &types.Order{
		ID:           r.ID,
		UserID:       r.UserID,
		InstrumentID: r.InstrumentID,
		Side:         types.SideFromString(r.Side),
		Type:         types.OrderTypeFromString(r.Type),
		Price:        mustDec(r.Price),
		Quantity:     mustDec(r.Quantity),
		FilledQty:    mustDec(r.FilledQty),
		Status:       types.OrderStatusFromString(r.Status),
		CancelReason: r.CancelReason,
		Sequence:     r.Sequence,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
		TxHash:       strVal(r.TxHash),
	}
}

func fromTradeRow(r *tradeRow) *types.Trade {
	return &types.Trade{
		ID:           r.ID,
		BuyOrderID:   r.BuyOrderID,
		SellOrderID:  r.SellOrderID,
		BuyerID:      r.BuyerID,
		SellerID:     r.SellerID,
		InstrumentID: r.InstrumentID,
		Price:        mustDec(r.Price),
		Quantity:     mustDec(r.Quantity),
		ExecutedAt:   r.ExecutedAt,
		TxHash:       strVal(r.TxHash),
	}
}

// Begin opens a database transaction.
func (s *Store) Begin(ctx context.Context) (store.Tx, error) {
	db := s.db.WithContext(ctx).Begin()
	if db.Error != nil {
		return nil, wrapErr(db.Error)
	}
	return &tx{db: db}, nil
}

func (s *Store) GetInstrument(ctx context.Context, id string) (*types.Instrument, error) {
	var r instrumentRow
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrUnknownInstrument.Wrapf("instrument %s", id)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &types.Instrument{
		ID:        r.ID,
		Name:      r.Name,
		ISIN:      r.ISIN,
		MinUnit:   mustDec(r.MinUnit),
		FaceValue: mustDec(r.FaceValue),
		Status:    types.InstrumentStatusFromString(r.Status),
	}, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*types.User, error) {
	var r userRow
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrUnknownUser.Wrapf("user %s", id)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return &types.User{ID: r.ID, WalletAddress: r.WalletAddress}, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	var r orderRow
	err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, types.ErrOrderNotFound.Wrapf("order %s", id)
	}
	if err != nil {
		return nil, wrapErr(err)
	}
	return fromOrderRow(&r), nil
}

func (s *Store) OpenOrders(ctx context.Context) ([]*types.Order, error) {
	var rows []orderRow
	err := s.db.WithContext(ctx).
		Where("status IN ?", []string{types.OrderStatusOpen.String(), types.OrderStatusPartial.String()}).
		Order("sequence asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*types.Order, 0, len(rows))
	for i := range rows {
		out = append(out, fromOrderRow(&rows[i]))
	}
	return out, nil
}

func (s *Store) Holdings(ctx context.Context) ([]*types.Holding, error) {
	var rows []holdingRow
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*types.Holding, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.Holding{UserID: r.UserID, InstrumentID: r.InstrumentID, Quantity: mustDec(r.Quantity)})
	}
	return out, nil
}

func (s *Store) HoldingsByUser(ctx context.Context, userID string) ([]*types.Holding, error) {
	var rows []holdingRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("instrument_id asc").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*types.Holding, 0, len(rows))
	for _, r := range rows {
		out = append(out, &types.Holding{UserID: r.UserID, InstrumentID: r.InstrumentID, Quantity: mustDec(r.Quantity)})
	}
	return out, nil
}

func (s *Store) RecentTrades(ctx context.Context, instrumentID string, limit int) ([]*types.Trade, error) {
	var rows []tradeRow
	err := s.db.WithContext(ctx).
		Where("instrument_id = ?", instrumentID).
		Order("executed_at desc").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	out := make([]*types.Trade, 0, len(rows))
	for i := range rows {
		out = append(out, fromTradeRow(&rows[i]))
	}
	return out, nil
}

func (s *Store) SaveInstrument(ctx context.Context, instrument *types.Instrument) error {
	r := &instrumentRow{
		ID:        instrument.ID,
		Name:      instrument.Name,
		ISIN:      instrument.ISIN,
		MinUnit:   instrument.MinUnit.String(),
		FaceValue: instrument.FaceValue.String(),
		Status:    instrument.Status.String(),
	}
	return wrapErr(s.db.WithContext(ctx).Save(r).Error)
}

func (s *Store) SaveUser(ctx context.Context, user *types.User) error {
	return wrapErr(s.db.WithContext(ctx).Save(&userRow{ID: user.ID, WalletAddress: user.WalletAddress}).Error)
}

func (s *Store) SaveHolding(ctx context.Context, holding *types.Holding) error {
	if !holding.Quantity.IsPositive() {
		err := s.db.WithContext(ctx).
			Delete(&holdingRow{}, "user_id = ? AND instrument_id = ?", holding.UserID, holding.InstrumentID).Error
		return wrapErr(err)
	}
	r := &holdingRow{UserID: holding.UserID, InstrumentID: holding.InstrumentID, Quantity: holding.Quantity.String()}
	return wrapErr(s.db.WithContext(ctx).Save(r).Error)
}

func (s *Store) Close() error {
	db, err := s.db.DB()
	if err != nil {
		return wrapErr(err)
	}
	return db.Close()
}

type tx struct {
	db *gorm.DB
}

func (t *tx) InsertOrder(order *types.Order) error {
	return wrapErr(t.db.Create(toOrderRow(order)).Error)
}

func (t *tx) UpdateOrderFill(order *types.Order) error {
	return wrapErr(t.db.Save(toOrderRow(order)).Error)
}

func (t *tx) InsertTrade(trade *types.Trade) error {
	r := &tradeRow{
		ID:           trade.ID,
		BuyOrderID:   trade.BuyOrderID,
		SellOrderID:  trade.SellOrderID,
		BuyerID:      trade.BuyerID,
		SellerID:     trade.SellerID,
		InstrumentID: trade.InstrumentID,
		Price:        trade.Price.String(),
		Quantity:     trade.Quantity.String(),
		ExecutedAt:   trade.ExecutedAt,
		TxHash:       strPtr(trade.TxHash),
	}
	return wrapErr(t.db.Create(r).Error)
}

func (t *tx) UpsertHolding(userID, instrumentID string, quantity math.LegacyDec) error {
	r := &holdingRow{UserID: userID, InstrumentID: instrumentID, Quantity: quantity.String()}
	return wrapErr(t.db.Save(r).Error)
}

func (t *tx) DeleteHolding(userID, instrumentID string) error {
	err := t.db.Delete(&holdingRow{}, "user_id = ? AND instrument_id = ?", userID, instrumentID).Error
	return wrapErr(err)
}

func (t *tx) Commit() error {
	return wrapErr(t.db.Commit().Error)
}

func (t *tx) Rollback() error {
	return wrapErr(t.db.Rollback().Error)
}
