package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/ledger"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/settlement"
	"github.com/kcnex/exchange/internal/xerrors"
)

// CommandSender forwards an order command to the matching engine
// responsible for a symbol, over UDP, per spec.md §4.1/Open Question
// 4's unified binary command format.
type CommandSender interface {
	SendOrderNew(symbol string, cmd marketdata.OrderNew) error
	SendOrderCancel(symbol string, cmd marketdata.OrderCancel) error
}

// AccountsServer serves the ledger/settlement collaborator's HTTP
// surface: the internal settle/cancel endpoints the matching engine
// calls synchronously per fill (spec.md §6), plus the public
// order-placement and balance endpoints (SPEC_FULL.md §4.10).
type AccountsServer struct {
	router  *mux.Router
	engine  *settlement.Engine
	ledger  *ledger.Store
	sender  CommandSender
	log     *zap.Logger
}

// NewAccountsServer constructs an AccountsServer.
func NewAccountsServer(engine *settlement.Engine, store *ledger.Store, sender CommandSender, log *zap.Logger) *AccountsServer {
	s := &AccountsServer{engine: engine, ledger: store, sender: sender, log: log}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

func (s *AccountsServer) Handler() http.Handler { return s.router }

func (s *AccountsServer) routes() {
	s.router.HandleFunc("/internal/settle", s.handleSettle).Methods(http.MethodPost)
	s.router.HandleFunc("/internal/cancel", s.handleCancel).Methods(http.MethodPost)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/orders", s.handlePlaceOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders/cancel", s.handleCancelOrder).Methods(http.MethodPost)
	api.HandleFunc("/balances/{user}/{asset}", s.handleBalance).Methods(http.MethodGet)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
}

// settleRequest mirrors spec.md §6's POST /internal/settle body.
type settleRequest struct {
	Symbol      string          `json:"symbol"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   int64           `json:"timestamp"` // unix nanoseconds
}

type settleResponse struct {
	TradeID  uuid.UUID  `json:"trade_id"`
	BuyerID  *uuid.UUID `json:"buyer_id,omitempty"`
	SellerID *uuid.UUID `json:"seller_id,omitempty"`
	Settled  bool       `json:"settled"`
}

func (s *AccountsServer) handleSettle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}

	trade, err := s.engine.Settle(r.Context(), settlement.SettleRequest{
		Symbol:      req.Symbol,
		BuyOrderID:  req.BuyOrderID,
		SellOrderID: req.SellOrderID,
		Price:       req.Price,
		Quantity:    req.Quantity,
		Timestamp:   time.Unix(0, req.Timestamp),
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusOK, settleResponse{
		TradeID:  trade.ID,
		BuyerID:  trade.Buyer,
		SellerID: trade.Seller,
		Settled:  true,
	})
}

// cancelRequest mirrors spec.md §6's POST /internal/cancel body.
type cancelRequest struct {
	OrderID        uuid.UUID       `json:"order_id"`
	FilledQuantity decimal.Decimal `json:"filled_quantity"`
}

func (s *AccountsServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}

	if err := s.engine.CancelInternal(r.Context(), req.OrderID, req.FilledQuantity); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

// placeOrderRequest is the public order-placement request body
// (SPEC_FULL.md §4.10).
type placeOrderRequest struct {
	User             uuid.UUID        `json:"user"`
	Symbol           string           `json:"symbol"`
	Side             string           `json:"side"`
	Type             string           `json:"type"`
	Price            *decimal.Decimal `json:"price,omitempty"`
	MaxSlippagePrice *decimal.Decimal `json:"max_slippage_price,omitempty"`
	Quantity         decimal.Decimal  `json:"quantity"`
}

type placeOrderResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	Status  string    `json:"status"`
}

func (s *AccountsServer) handlePlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}

	side, err := parseRequestSide(req.Side)
	if err != nil {
		respondErr(w, err)
		return
	}
	typ, err := parseRequestType(req.Type)
	if err != nil {
		respondErr(w, err)
		return
	}

	order, err := s.engine.LockFunds(r.Context(), settlement.PlacementRequest{
		User:             req.User,
		Symbol:           req.Symbol,
		Side:             side,
		Type:             typ,
		LimitPrice:       req.Price,
		MaxSlippagePrice: req.MaxSlippagePrice,
		Quantity:         req.Quantity,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	cmd := marketdata.OrderNew{
		OrderID:  marketdata.FromUUID(order.ID),
		UserID:   marketdata.FromUUID(req.User),
		Symbol:   order.Symbol,
		Side:     wireSide(order.Side),
		Type:     wireType(order.Type),
		Quantity: order.Quantity.InexactFloat64(),
	}
	if order.StoredPrice != nil {
		cmd.Price = order.StoredPrice.InexactFloat64()
	}
	if err := s.sender.SendOrderNew(order.Symbol, cmd); err != nil {
		if s.log != nil {
			s.log.Error("failed to forward OrderNew", zap.Error(err), zap.String("order_id", order.ID.String()))
		}
		respondErr(w, xerrors.Wrap(xerrors.TransientStore, err))
		return
	}

	respondJSON(w, http.StatusAccepted, placeOrderResponse{OrderID: order.ID, Status: "submitted"})
}

type cancelOrderRequest struct {
	OrderID uuid.UUID `json:"order_id"`
}

func (s *AccountsServer) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	var req cancelOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}

	order, err := s.engine.GetOrder(r.Context(), req.OrderID)
	if err != nil {
		respondErr(w, err)
		return
	}

	if err := s.sender.SendOrderCancel(order.Symbol, marketdata.OrderCancel{
		OrderID: marketdata.FromUUID(order.ID),
		Symbol:  order.Symbol,
	}); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.TransientStore, err))
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "submitted"})
}

func (s *AccountsServer) handleBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID, err := uuid.Parse(vars["user"])
	if err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}
	asset := vars["asset"]
	if err := assets.ValidateSymbol(asset); err != nil {
		respondErr(w, xerrors.Wrap(xerrors.Validation, err))
		return
	}

	available, err := s.ledger.CachedAvailable(r.Context(), userID, asset)
	if err != nil {
		respondErr(w, xerrors.Wrap(xerrors.TransientStore, err))
		return
	}
	reconciled, err := s.ledger.Reconcile(r.Context(), userID, asset)
	if err != nil {
		respondErr(w, xerrors.Wrap(xerrors.TransientStore, err))
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"user":             userID,
		"asset":            asset,
		"cached_available": available,
		"reconciled":       reconciled,
	})
}

func parseRequestSide(s string) (orderbook.Side, error) {
	switch s {
	case "bid":
		return orderbook.Bid, nil
	case "ask":
		return orderbook.Ask, nil
	default:
		return 0, xerrors.New(xerrors.Validation, "side must be bid or ask, got %q", s)
	}
}

func parseRequestType(s string) (orderbook.Type, error) {
	switch s {
	case "limit":
		return orderbook.Limit, nil
	case "market":
		return orderbook.Market, nil
	default:
		return 0, xerrors.New(xerrors.Validation, "type must be limit or market, got %q", s)
	}
}

func wireSide(s orderbook.Side) marketdata.Side {
	if s == orderbook.Ask {
		return marketdata.SideAsk
	}
	return marketdata.SideBid
}

func wireType(t orderbook.Type) marketdata.OrderType {
	if t == orderbook.Market {
		return marketdata.OrderTypeMarket
	}
	return marketdata.OrderTypeLimit
}
