package types

// Event types carried on the broadcast stream.
const (
	EventConnected       = "connected"
	EventOrderbookUpdate = "orderbook_update"
	EventTrade           = "trade"
	EventOrderUpdate     = "order_update"
	EventPortfolioUpdate = "portfolio_update"
	EventRoomJoined      = "room_joined"
	EventRoomLeft        = "room_left"
	EventPong            = "pong"
	EventError           = "error"
)

// InstrumentRoom returns the room name carrying orderbook_update and
// trade events for an instrument.
func InstrumentRoom(instrumentID string) string {
	return "instrument:" + instrumentID
}

// UserRoom returns the room name carrying portfolio and order updates
// for a user.
func UserRoom(userID string) string {
	return "user:" + userID
}

// Event is one broadcast unit produced by the engine after a commit.
// The broadcaster assigns the server sequence when it fans the event
// out; within a room, delivery order matches batch order.
type Event struct {
	Room string
	Type string
	Data any
}

// TradeEventData is the payload of a trade event.
type TradeEventData struct {
	ID         string `json:"id"`
	Price      string `json:"price"`
	Quantity   string `json:"quantity"`
	ExecutedAt string `json:"executed_at"`
}

// DepthLevelData is one price level of an orderbook_update payload.
type DepthLevelData struct {
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	OrdersCount int    `json:"orders_count"`
}

// OrderbookEventData is the payload of an orderbook_update event.
type OrderbookEventData struct {
	BondID string           `json:"bond_id"`
	Bids   []DepthLevelData `json:"bids"`
	Asks   []DepthLevelData `json:"asks"`
}

// OrderEventData is the payload of an order_update event.
type OrderEventData struct {
	ID           string `json:"id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	FilledQty    string `json:"filled_quantity"`
	Status       string `json:"status"`
	CancelReason string `json:"cancel_reason,omitempty"`
}

// PortfolioEventData is the payload of a portfolio_update event.
type PortfolioEventData struct {
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Quantity     string `json:"quantity"`
}

// NewTradeEventData builds the wire payload for a trade.
func NewTradeEventData(t *Trade) TradeEventData {
	return TradeEventData{
		ID:         t.ID,
		Price:      t.Price.String(),
		Quantity:   t.Quantity.String(),
		ExecutedAt: t.ExecutedAt.Format("2006-01-02T15:04:05.000000Z07:00"),
	}
}

// NewOrderEventData builds the wire payload for an order update.
func NewOrderEventData(o *Order) OrderEventData {
	return OrderEventData{
		ID:           o.ID,
		InstrumentID: o.InstrumentID,
		Side:         o.Side.String(),
		Type:         o.Type.String(),
		Price:        o.Price.String(),
		Quantity:     o.Quantity.String(),
		FilledQty:    o.FilledQty.String(),
		Status:       o.Status.String(),
		CancelReason: o.CancelReason,
	}
}

// NewOrderbookEventData builds the wire payload for a depth snapshot.
func NewOrderbookEventData(s *BookSnapshot) OrderbookEventData {
	data := OrderbookEventData{
		BondID: s.InstrumentID,
		Bids:   make([]DepthLevelData, 0, len(s.Bids)),
		Asks:   make([]DepthLevelData, 0, len(s.Asks)),
	}
	for _, lvl := range s.Bids {
		data.Bids = append(data.Bids, DepthLevelData{Price: lvl.Price.String(), Quantity: lvl.Quantity.String(), OrdersCount: lvl.OrderCount})
	}
	for _, lvl := range s.Asks {
		data.Asks = append(data.Asks, DepthLevelData{Price: lvl.Price.String(), Quantity: lvl.Quantity.String(), OrdersCount: lvl.OrderCount})
	}
	return data
}
