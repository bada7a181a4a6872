package orderbook

import (
	"sort"
	"sync"
	"time"

	"container/heap"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// OrderBook maintains bids and asks as price-indexed FIFO queues for a
// single trading symbol, plus an id index for O(log N) cancellation.
// Callers must pass prices already rounded to the asset's precision
// (internal/assets.Registry.Round) so that equal prices key identically.
type OrderBook struct {
	mu sync.RWMutex

	symbol string

	bidHeap *maxPriceHeap
	askHeap *minPriceHeap

	bids map[string]*PriceLevel
	asks map[string]*PriceLevel

	orderIndex map[uuid.UUID]string // order id -> price key
	sideIndex  map[uuid.UUID]Side

	lastPrice decimal.Decimal
}

// NewOrderBook returns an empty book for one symbol.
func NewOrderBook(symbol string) *OrderBook {
	bidHeap := &maxPriceHeap{}
	askHeap := &minPriceHeap{}
	heap.Init(bidHeap)
	heap.Init(askHeap)

	return &OrderBook{
		symbol:     symbol,
		bidHeap:    bidHeap,
		askHeap:    askHeap,
		bids:       make(map[string]*PriceLevel),
		asks:       make(map[string]*PriceLevel),
		orderIndex: make(map[uuid.UUID]string),
		sideIndex:  make(map[uuid.UUID]Side),
		lastPrice:  decimal.Zero,
	}
}

func priceKey(p decimal.Decimal) string { return p.String() }

func (ob *OrderBook) addResting(side Side, price decimal.Decimal, o *Order) {
	key := priceKey(price)
	book := ob.bidsOrAsks(side)
	level, ok := book[key]
	if !ok {
		level = &PriceLevel{Price: price, Quantity: decimal.Zero}
		book[key] = level
		if side == Bid {
			heap.Push(ob.bidHeap, price)
		} else {
			heap.Push(ob.askHeap, price)
		}
	}
	level.orders = append(level.orders, o)
	level.Quantity = level.Quantity.Add(o.Remaining())

	ob.orderIndex[o.ID] = key
	ob.sideIndex[o.ID] = side
}

func (ob *OrderBook) bidsOrAsks(side Side) map[string]*PriceLevel {
	if side == Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) removeLevelIfEmpty(side Side, key string, price decimal.Decimal) {
	book := ob.bidsOrAsks(side)
	level, ok := book[key]
	if !ok || len(level.orders) > 0 {
		return
	}
	delete(book, key)
	if side == Bid {
		removeFromMaxHeap(ob.bidHeap, price)
	} else {
		removeFromMinHeap(ob.askHeap, price)
	}
}

func removeFromMaxHeap(h *maxPriceHeap, price decimal.Decimal) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i].Equal(price) {
			heap.Remove(h, i)
			return
		}
	}
}

func removeFromMinHeap(h *minPriceHeap, price decimal.Decimal) {
	for i := 0; i < h.Len(); i++ {
		if (*h)[i].Equal(price) {
			heap.Remove(h, i)
			return
		}
	}
}

// BestBid returns the highest resting bid price.
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestBidLocked()
}

func (ob *OrderBook) bestBidLocked() (decimal.Decimal, bool) {
	if ob.bidHeap.Len() == 0 {
		return decimal.Zero, false
	}
	return ob.bidHeap.Peek(), true
}

// BestAsk returns the lowest resting ask price.
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.bestAskLocked()
}

func (ob *OrderBook) bestAskLocked() (decimal.Decimal, bool) {
	if ob.askHeap.Len() == 0 {
		return decimal.Zero, false
	}
	return ob.askHeap.Peek(), true
}

// Spread returns best_ask - best_bid; ok is false unless both sides
// are non-empty.
func (ob *OrderBook) Spread() (decimal.Decimal, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	bid, okB := ob.bestBidLocked()
	ask, okA := ob.bestAskLocked()
	if !okB || !okA {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// QuantityAt returns the aggregated remaining quantity resting at a
// given price on the given side.
func (ob *OrderBook) QuantityAt(side Side, price decimal.Decimal) decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	level, ok := ob.bidsOrAsks(side)[priceKey(price)]
	if !ok {
		return decimal.Zero
	}
	return level.Quantity
}

// LastPrice returns the most recent fill price, or zero if none yet.
func (ob *OrderBook) LastPrice() decimal.Decimal {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	return ob.lastPrice
}

// GetOrder returns a snapshot copy of a resting order by id, for use
// by the rollback primitive described in spec.md §4.4.
func (ob *OrderBook) GetOrder(id uuid.UUID) (*Order, bool) {
	ob.mu.RLock()
	defer ob.mu.RUnlock()

	side, ok := ob.sideIndex[id]
	if !ok {
		return nil, false
	}
	key := ob.orderIndex[id]
	level := ob.bidsOrAsks(side)[key]
	for _, o := range level.orders {
		if o.ID == id {
			cp := *o
			return &cp, true
		}
	}
	return nil, false
}

// RestoreOrder re-inserts a previously removed order at the tail of
// its price level's queue. It exists so a caller may take a pre-match
// snapshot (GetOrder) and, on downstream settlement failure, put an
// unfilled remainder back — exposed but not invoked by default, per
// spec.md §4.4 and Open Question 2.
func (ob *OrderBook) RestoreOrder(o *Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	if o.LimitPrice == nil {
		return
	}
	ob.addResting(o.Side, *o.LimitPrice, o)
}

// Cancel removes an order from its level and the id index. It reports
// whether the id existed.
func (ob *OrderBook) Cancel(id uuid.UUID) bool {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	side, ok := ob.sideIndex[id]
	if !ok {
		return false
	}
	key := ob.orderIndex[id]
	book := ob.bidsOrAsks(side)
	level, ok := book[key]
	if !ok {
		return false
	}
	for i, o := range level.orders {
		if o.ID != id {
			continue
		}
		level.Quantity = level.Quantity.Sub(o.Remaining())
		level.orders = append(level.orders[:i], level.orders[i+1:]...)
		delete(ob.orderIndex, id)
		delete(ob.sideIndex, id)
		ob.removeLevelIfEmpty(side, key, level.Price)
		return true
	}
	return false
}

// PlaceLimit matches a limit order against the opposite book until no
// crossing level remains or quantity is exhausted; any residual rests
// at its price level's queue tail. Returns the fills produced and the
// orders (maker or taker) fully completed by this action.
func (ob *OrderBook) PlaceLimit(o *Order) ([]Fill, []*Order) {
	o.Type = Limit
	return ob.place(o)
}

// PlaceMarket matches a market order until exhausted or liquidity runs
// out. It never rests.
func (ob *OrderBook) PlaceMarket(o *Order) ([]Fill, []*Order) {
	o.Type = Market
	return ob.place(o)
}

func (ob *OrderBook) place(taker *Order) ([]Fill, []*Order) {
	ob.mu.Lock()
	defer ob.mu.Unlock()

	var fills []Fill
	var completed []*Order
	now := time.Now()

	if taker.Side == Bid {
		for taker.Remaining().IsPositive() {
			askPrice, ok := ob.bestAskLocked()
			if !ok {
				break
			}
			if taker.Type == Limit && askPrice.GreaterThan(*taker.LimitPrice) {
				break
			}
			key := priceKey(askPrice)
			level := ob.asks[key]
			if level == nil || len(level.orders) == 0 {
				ob.removeLevelIfEmpty(Ask, key, askPrice)
				continue
			}
			maker := level.orders[0]
			matchQty := decimal.Min(taker.Remaining(), maker.Remaining())

			taker.FilledQuantity = taker.FilledQuantity.Add(matchQty)
			maker.FilledQuantity = maker.FilledQuantity.Add(matchQty)
			level.Quantity = level.Quantity.Sub(matchQty)

			fills = append(fills, Fill{
				BuyOrderID:  taker.ID,
				SellOrderID: maker.ID,
				Price:       askPrice,
				Quantity:    matchQty,
				Timestamp:   now,
			})
			ob.lastPrice = askPrice

			if !maker.Remaining().IsPositive() {
				level.orders = level.orders[1:]
				delete(ob.orderIndex, maker.ID)
				delete(ob.sideIndex, maker.ID)
				completed = append(completed, maker)
				ob.removeLevelIfEmpty(Ask, key, askPrice)
			} else {
				level.orders[0] = maker
			}
		}
		if taker.Remaining().IsPositive() && taker.Type == Limit {
			ob.addResting(Bid, *taker.LimitPrice, taker)
		}
	} else {
		for taker.Remaining().IsPositive() {
			bidPrice, ok := ob.bestBidLocked()
			if !ok {
				break
			}
			if taker.Type == Limit && bidPrice.LessThan(*taker.LimitPrice) {
				break
			}
			key := priceKey(bidPrice)
			level := ob.bids[key]
			if level == nil || len(level.orders) == 0 {
				ob.removeLevelIfEmpty(Bid, key, bidPrice)
				continue
			}
			maker := level.orders[0]
			matchQty := decimal.Min(taker.Remaining(), maker.Remaining())

			taker.FilledQuantity = taker.FilledQuantity.Add(matchQty)
			maker.FilledQuantity = maker.FilledQuantity.Add(matchQty)
			level.Quantity = level.Quantity.Sub(matchQty)

			fills = append(fills, Fill{
				BuyOrderID:  maker.ID,
				SellOrderID: taker.ID,
				Price:       bidPrice,
				Quantity:    matchQty,
				Timestamp:   now,
			})
			ob.lastPrice = bidPrice

			if !maker.Remaining().IsPositive() {
				level.orders = level.orders[1:]
				delete(ob.orderIndex, maker.ID)
				delete(ob.sideIndex, maker.ID)
				completed = append(completed, maker)
				ob.removeLevelIfEmpty(Bid, key, bidPrice)
			} else {
				level.orders[0] = maker
			}
		}
		if taker.Remaining().IsPositive() && taker.Type == Limit {
			ob.addResting(Ask, *taker.LimitPrice, taker)
		}
	}

	if !taker.Remaining().IsPositive() {
		completed = append(completed, taker)
	}

	return fills, completed
}

// GetBidLevels returns all bid levels sorted best-first (highest price
// first).
func (ob *OrderBook) GetBidLevels() []LevelView {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	levels := make([]LevelView, 0, len(ob.bids))
	for _, l := range ob.bids {
		levels = append(levels, LevelView{Price: l.Price, Quantity: l.Quantity})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.GreaterThan(levels[j].Price) })
	return levels
}

// GetAskLevels returns all ask levels sorted best-first (lowest price
// first).
func (ob *OrderBook) GetAskLevels() []LevelView {
	ob.mu.RLock()
	defer ob.mu.RUnlock()
	levels := make([]LevelView, 0, len(ob.asks))
	for _, l := range ob.asks {
		levels = append(levels, LevelView{Price: l.Price, Quantity: l.Quantity})
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i].Price.LessThan(levels[j].Price) })
	return levels
}

// GetBids returns the top n bid levels, best first.
func (ob *OrderBook) GetBids(n int) []LevelView {
	levels := ob.GetBidLevels()
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels
}

// GetAsks returns the top n ask levels, best first.
func (ob *OrderBook) GetAsks(n int) []LevelView {
	levels := ob.GetAskLevels()
	if len(levels) > n {
		levels = levels[:n]
	}
	return levels
}
