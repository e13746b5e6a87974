package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"cosmossdk.io/math"

	"github.com/openalpha/bondbook/engine"
	"github.com/openalpha/bondbook/types"
)

// submitRequest is the order submission body.
type submitRequest struct {
	UserID       string `json:"user_id"`
	InstrumentID string `json:"instrument_id"`
	Side         string `json:"side"`
	Type         string `json:"type"`
	Price        string `json:"price"`
	Quantity     string `json:"quantity"`
	TxHash       string `json:"tx_hash,omitempty"`
}

// orderResponse is the full order record returned by the API.
type orderResponse struct {
	ID           string   `json:"id"`
	UserID       string   `json:"user_id"`
	InstrumentID string   `json:"instrument_id"`
	Side         string   `json:"side"`
	Type         string   `json:"type"`
	Price        string   `json:"price"`
	Quantity     string   `json:"quantity"`
	FilledQty    string   `json:"filled_quantity"`
	Status       string   `json:"status"`
	CancelReason string   `json:"cancel_reason,omitempty"`
	CreatedAt    string   `json:"created_at"`
	TradeIDs     []string `json:"trade_ids,omitempty"`
}

func newOrderResponse(o *types.Order, trades []*types.Trade) *orderResponse {
	resp := &orderResponse{
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
		CreatedAt:    o.CreatedAt.UTC().Format("2006-01-02T15:04:05.000000Z"),
	}
	for _, tr := range trades {
		resp.TradeIDs = append(resp.TradeIDs, tr.ID)
	}
	return resp
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use POST")
		return
	}

	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorStatus(w, http.StatusBadRequest, "BadRequest", "malformed JSON body")
		return
	}

	side := types.SideFromString(req.Side)
	if side == types.SideUnspecified {
		writeErrorStatus(w, http.StatusBadRequest, "BadRequest", "side must be \"buy\" or \"sell\"")
		return
	}
	orderType := types.OrderTypeFromString(req.Type)
	if orderType == types.OrderTypeUnspecified {
		writeErrorStatus(w, http.StatusBadRequest, "BadRequest", "type must be \"limit\" or \"market\"")
		return
	}
	quantity, err := math.LegacyNewDecFromStr(req.Quantity)
	if err != nil {
		writeError(w, types.ErrBadQuantity.Wrap("quantity is not a decimal"))
		return
	}
	price := math.LegacyZeroDec()
	if orderType == types.OrderTypeLimit {
		price, err = math.LegacyNewDecFromStr(req.Price)
		if err != nil {
			writeError(w, types.ErrBadPrice.Wrap("price is not a decimal"))
			return
		}
	}

	if !s.config.DisableRateLimit && !s.rateLimiter.AllowOrder(req.UserID) {
		writeErrorStatus(w, http.StatusTooManyRequests, "RateLimited", "order rate limit exceeded")
		return
	}

	res, err := s.engine.Submit(r.Context(), engine.Submission{
		UserID:       req.UserID,
		InstrumentID: req.InstrumentID,
		Side:         side,
		Type:         orderType,
		Price:        price,
		Quantity:     quantity,
		TxHash:       req.TxHash,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newOrderResponse(res.Order, res.Trades))
}

func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimPrefix(r.URL.Path, "/api/v1/orders/")
	if orderID == "" || strings.Contains(orderID, "/") {
		writeErrorStatus(w, http.StatusNotFound, "OrderNotFound", "order not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		order, err := s.engine.Order(r.Context(), orderID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newOrderResponse(order, nil))

	case http.MethodDelete:
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			writeErrorStatus(w, http.StatusBadRequest, "BadRequest", "user_id is required")
			return
		}
		ok, err := s.engine.Cancel(r.Context(), orderID, userID)
		if err != nil && !cancelReturnsFalse(err) {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"cancelled": ok})

	default:
		writeErrorStatus(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use GET or DELETE")
	}
}

// cancelReturnsFalse lists the cancel outcomes reported as a false
// boolean rather than an error response.
func cancelReturnsFalse(err error) bool {
	return types.ErrNotCancellable.Is(err) ||
		types.ErrNotOwner.Is(err) ||
		types.ErrOrderNotFound.Is(err)
}

func (s *Server) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use GET")
		return
	}
	instrumentID := strings.TrimPrefix(r.URL.Path, "/api/v1/orderbook/")
	depth, _ := strconv.Atoi(r.URL.Query().Get("depth"))

	snap, err := s.engine.Snapshot(r.Context(), instrumentID, depth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.NewOrderbookEventData(snap))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use GET")
		return
	}
	instrumentID := strings.TrimPrefix(r.URL.Path, "/api/v1/trades/")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	trades, err := s.engine.Trades(r.Context(), instrumentID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]types.TradeEventData, 0, len(trades))
	for _, tr := range trades {
		out = append(out, types.NewTradeEventData(tr))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"instrument_id": instrumentID,
		"trades":        out,
	})
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErrorStatus(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "use GET")
		return
	}
	userID := strings.TrimPrefix(r.URL.Path, "/api/v1/portfolio/")

	holdings, err := s.engine.Portfolio(r.Context(), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	out := make([]map[string]string, 0, len(holdings))
	for _, h := range holdings {
		out = append(out, map[string]string{
			"instrument_id": h.InstrumentID,
			"quantity":      h.Quantity.String(),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":  userID,
		"holdings": out,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": s.hub.ClientCount(),
	})
}

// ============ response helpers ============

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps an engine error to its HTTP status and stable code.
func writeError(w http.ResponseWriter, err error) {
	code := types.ErrorCode(err)
	status := http.StatusInternalServerError
	switch code {
	case "UnknownInstrument", "UnknownUser", "OrderNotFound":
		status = http.StatusNotFound
	case "BadPrice", "BadQuantity", "InstrumentNotTradable", "InsufficientHoldings":
		status = http.StatusBadRequest
	case "NotOwner":
		status = http.StatusForbidden
	case "NotCancellable", "Conflict":
		status = http.StatusConflict
	}
	writeErrorStatus(w, status, code, publicMessage(code))
}

func writeErrorStatus(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"code":    code,
		"message": message,
	})
}

// publicMessage keeps wire messages stable and free of internal
// detail; the full error is only logged server side.
func publicMessage(code string) string {
	switch code {
	case "UnknownInstrument":
		return "instrument not found"
	case "InstrumentNotTradable":
		return "instrument is not open for trading"
	case "UnknownUser":
		return "user not found"
	case "BadPrice":
		return "price must be a positive decimal"
	case "BadQuantity":
		return "quantity must be a positive multiple of the instrument min unit"
	case "InsufficientHoldings":
		return "holdings are insufficient for this sell order"
	case "NotCancellable":
		return "order is not cancellable"
	case "NotOwner":
		return "order belongs to another user"
	case "OrderNotFound":
		return "order not found"
	case "PersistenceFailure":
		return "order could not be persisted"
	case "Conflict":
		return "write conflict, retry"
	default:
		return "internal error"
	}
}
