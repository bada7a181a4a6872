// Package httpapi implements the REST/WS surfaces of spec.md §4.10's
// expansion, adapted from the teacher's pkg/api (gorilla/mux routing,
// a websocket Hub/Client fan-out, rs/cors policy).
package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/marketdata"
	"github.com/kcnex/exchange/internal/reconstructor"
)

// MarketInfo describes one configured trading symbol.
type MarketInfo struct {
	Symbol         string `json:"symbol"`
	BaseAsset      string `json:"base_asset"`
	QuoteAsset     string `json:"quote_asset"`
	BasePrecision  int32  `json:"base_precision"`
	QuotePrecision int32  `json:"quote_precision"`
}

// PriceLevel is the REST/WS wire shape for one book level.
type PriceLevel struct {
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderbookSnapshotResponse is the GET orderbook response body. The
// websocket "orderbook:{symbol}" channel carries OrderbookDiffMessage
// instead. BidSum/AskSum and TimestampUS are spec.md §4.9's "aggregate
// bid/ask sums and a server-wallclock timestamp to the microsecond"
// requirement on client-facing notifications.
type OrderbookSnapshotResponse struct {
	Symbol      string       `json:"symbol"`
	Seq         uint64       `json:"seq"`
	Bids        []PriceLevel `json:"bids"`
	Asks        []PriceLevel `json:"asks"`
	BidSum      float64      `json:"bid_sum"`
	AskSum      float64      `json:"ask_sum"`
	TimestampUS int64        `json:"timestamp_us"`
}

// DiffEntry is one reconstructed price-level change.
type DiffEntry struct {
	Side     string  `json:"side"`
	Kind     string  `json:"kind"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// OrderbookDiffMessage is the websocket "orderbook:{symbol}" push
// payload: the Add/Update/Remove price-level changes a snapshot or
// delta event produced, per spec.md §4.9's diff-driven UI update
// requirement. Unlike OrderbookSnapshotResponse (the REST pull
// response, always a full top-K view), this only ever carries what
// changed.
type OrderbookDiffMessage struct {
	Symbol string      `json:"symbol"`
	Seq    uint64      `json:"seq"`
	Diffs  []DiffEntry `json:"diffs"`
}

// NewOrderbookDiffMessage converts reconstructor diffs into the
// websocket wire shape.
func NewOrderbookDiffMessage(symbol string, seq uint64, diffs []reconstructor.Diff) OrderbookDiffMessage {
	out := make([]DiffEntry, len(diffs))
	for i, d := range diffs {
		out[i] = DiffEntry{Side: diffSideString(d.Side), Kind: diffKindString(d.Kind), Price: d.Price, Quantity: d.Quantity}
	}
	return OrderbookDiffMessage{Symbol: symbol, Seq: seq, Diffs: out}
}

func diffSideString(s marketdata.Side) string {
	if s == marketdata.SideAsk {
		return "ask"
	}
	return "bid"
}

func diffKindString(k marketdata.DeltaKind) string {
	switch k {
	case marketdata.DeltaAdd:
		return "add"
	case marketdata.DeltaRemove:
		return "remove"
	default:
		return "update"
	}
}

// TradeInfo is one trade-tape entry.
type TradeInfo struct {
	Price       float64 `json:"price"`
	Quantity    float64 `json:"quantity"`
	TimestampUS int64   `json:"timestamp_us"`
}

// StatsResponse is the rolling 24h stats window, per spec.md §4.9's
// expansion ("update rolling 24h stats {open, high, low, volume,
// last_price}").
type StatsResponse struct {
	Symbol string  `json:"symbol"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	Last   float64 `json:"last_price"`
}

// GatewayServer hosts the event relay's public REST+WS surface: one
// reconstructor.ClientBook per subscribed symbol, fanned out to
// websocket subscribers of "orderbook:{symbol}" and "trades:{symbol}".
type GatewayServer struct {
	router *mux.Router
	hub    *Hub
	assets *assets.Registry
	log    *zap.Logger

	mu    sync.RWMutex
	books map[string]*reconstructor.ClientBook
}

// NewGatewayServer constructs a GatewayServer with no symbols
// registered yet; call RegisterSymbol per subscribed market.
func NewGatewayServer(registry *assets.Registry, log *zap.Logger) *GatewayServer {
	s := &GatewayServer{
		hub:    NewHub(log),
		assets: registry,
		log:    log,
		books:  make(map[string]*reconstructor.ClientBook),
	}
	s.router = mux.NewRouter()
	s.routes()
	return s
}

// RegisterSymbol adds a symbol's reconstructed book and returns it so
// the caller can feed it snapshot/delta/fill events as they arrive
// over UDP.
func (s *GatewayServer) RegisterSymbol(symbol string) *reconstructor.ClientBook {
	book := reconstructor.New(symbol)
	s.mu.Lock()
	s.books[symbol] = book
	s.mu.Unlock()
	return book
}

// Hub exposes the websocket hub so the gateway main can broadcast
// reconstructed book/trade updates as they're applied.
func (s *GatewayServer) Hub() *Hub { return s.hub }

func (s *GatewayServer) bookFor(symbol string) (*reconstructor.ClientBook, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[symbol]
	return b, ok
}

func (s *GatewayServer) routes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/markets", s.handleMarkets).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleOrderbook).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/trades", s.handleTrades).Methods(http.MethodGet)
	api.HandleFunc("/markets/{symbol}/stats", s.handleStats).Methods(http.MethodGet)

	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
}

// Handler returns the CORS-wrapped router, ready for http.ListenAndServe.
func (s *GatewayServer) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
	})
	return c.Handler(s.router)
}

// Run starts the hub's dispatch loop; call in its own goroutine before
// serving HTTP.
func (s *GatewayServer) Run() { s.hub.Run() }

func (s *GatewayServer) handleMarkets(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	symbols := make([]string, 0, len(s.books))
	for sym := range s.books {
		symbols = append(symbols, sym)
	}
	s.mu.RUnlock()

	infos := make([]MarketInfo, 0, len(symbols))
	for _, sym := range symbols {
		pair, err := assets.ParseSymbol(sym)
		if err != nil {
			continue
		}
		infos = append(infos, MarketInfo{
			Symbol:         sym,
			BaseAsset:      pair.Base,
			QuoteAsset:     pair.Quote,
			BasePrecision:  s.assets.Precision(pair.Base),
			QuotePrecision: s.assets.Precision(pair.Quote),
		})
	}
	respondJSON(w, http.StatusOK, infos)
}

func (s *GatewayServer) handleOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	book, ok := s.bookFor(symbol)
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown symbol", Code: "ORDER_NOT_FOUND"})
		return
	}

	bids := book.Bids(20)
	asks := book.Asks(20)
	respondJSON(w, http.StatusOK, NewOrderbookSnapshotResponse(symbol, book.Seq(), bids, asks))
}

// NewOrderbookSnapshotResponse builds the REST orderbook payload,
// deriving the aggregate bid/ask sums and wallclock timestamp spec.md
// §4.9 requires on client-facing book notifications. Its only caller
// is the REST handler above; the UDP event relay builds its own
// OrderbookDiffMessage.
func NewOrderbookSnapshotResponse(symbol string, seq uint64, bids, asks []reconstructor.Level) OrderbookSnapshotResponse {
	var bidSum, askSum float64
	for _, l := range bids {
		bidSum += l.Quantity
	}
	for _, l := range asks {
		askSum += l.Quantity
	}
	return OrderbookSnapshotResponse{
		Symbol:      symbol,
		Seq:         seq,
		Bids:        toLevels(bids),
		Asks:        toLevels(asks),
		BidSum:      bidSum,
		AskSum:      askSum,
		TimestampUS: time.Now().UnixMicro(),
	}
}

func (s *GatewayServer) handleStats(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	book, ok := s.bookFor(symbol)
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown symbol", Code: "ORDER_NOT_FOUND"})
		return
	}
	stats := book.Stats24h()
	respondJSON(w, http.StatusOK, StatsResponse{
		Symbol: symbol,
		Open:   stats.Open,
		High:   stats.High,
		Low:    stats.Low,
		Volume: stats.Volume,
		Last:   stats.Last,
	})
}

func (s *GatewayServer) handleTrades(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]
	book, ok := s.bookFor(symbol)
	if !ok {
		respondJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown symbol", Code: "ORDER_NOT_FOUND"})
		return
	}

	trades := book.Trades()
	out := make([]TradeInfo, len(trades))
	for i, t := range trades {
		out[i] = TradeInfo{Price: t.Price, Quantity: t.Quantity, TimestampUS: t.TimestampUS}
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *GatewayServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func toLevels(in []reconstructor.Level) []PriceLevel {
	out := make([]PriceLevel, len(in))
	for i, l := range in {
		out[i] = PriceLevel{Price: l.Price, Quantity: l.Quantity}
	}
	return out
}
