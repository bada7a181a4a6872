package settlement_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/google/uuid"
	"github.com/kcnex/exchange/internal/assets"
	"github.com/kcnex/exchange/internal/ledger"
	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/orderbook"
	"github.com/kcnex/exchange/internal/settlement"
)

// openTestEngine mirrors internal/ledger's DATABASE_URL-gated test
// pattern: skip unless a real PostgreSQL instance is configured.
func openTestEngine(t *testing.T) (*settlement.Engine, *ledger.Store) {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping settlement integration test")
	}
	db, err := sql.Open("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	registry := assets.NewRegistry()
	store := ledger.New(db, registry)

	schema, err := os.ReadFile("../ledger/schema.sql")
	require.NoError(t, err)
	require.NoError(t, store.Bootstrap(context.Background(), string(schema)))

	log := zap.NewNop()
	engine := settlement.New(db, store, registry, metrics.NewSettlement(), log)
	return engine, store
}

func fund(t *testing.T, store *ledger.Store, user uuid.UUID, asset string, amount decimal.Decimal) {
	t.Helper()
	_, err := store.Append(context.Background(), user, asset, amount, ledger.Deposit, nil, nil)
	require.NoError(t, err)
}

// TestLockFundsRejectsUnderfunded covers spec.md §4.8: a limit buy that
// would lock more quote than the user has is rejected by LockFunds.
// Only the returned error is checked here.
func TestLockFundsRejectsUnderfunded(t *testing.T) {
	engine, _ := openTestEngine(t)
	ctx := context.Background()
	buyer := uuid.New()

	price := decimal.NewFromInt(100)
	_, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User:       buyer,
		Symbol:     "KCN/EUR",
		Side:       orderbook.Bid,
		Type:       orderbook.Limit,
		LimitPrice: &price,
		Quantity:   decimal.NewFromInt(10),
	})
	require.Error(t, err)
}

// TestMarketBuyRequiresSlippagePrice resolves Open Question 1: a
// market buy with no max_slippage_price is rejected rather than
// assuming a fallback price.
func TestMarketBuyRequiresSlippagePrice(t *testing.T) {
	engine, store := openTestEngine(t)
	ctx := context.Background()
	buyer := uuid.New()
	fund(t, store, buyer, "EUR", decimal.NewFromInt(1000))

	_, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User:     buyer,
		Symbol:   "KCN/EUR",
		Side:     orderbook.Bid,
		Type:     orderbook.Market,
		Quantity: decimal.NewFromInt(1),
	})
	require.Error(t, err)
}

// TestSettleFeeSymmetry is spec.md §8 property 11: buyer_fee and
// seller_fee are identical, both equal to round_quote(quote_amount *
// fee_rate), and the fee is recorded on the trade row only — it is
// never debited from either side's ledger balance.
func TestSettleFeeSymmetry(t *testing.T) {
	engine, store := openTestEngine(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	fund(t, store, buyer, "EUR", decimal.NewFromInt(1000))
	fund(t, store, seller, "KCN", decimal.NewFromInt(10))

	price := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)

	buyOrder, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: buyer, Symbol: "KCN/EUR", Side: orderbook.Bid, Type: orderbook.Limit,
		LimitPrice: &price, Quantity: qty,
	})
	require.NoError(t, err)

	sellOrder, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: seller, Symbol: "KCN/EUR", Side: orderbook.Ask, Type: orderbook.Limit,
		LimitPrice: &price, Quantity: qty,
	})
	require.NoError(t, err)

	trade, err := engine.Settle(ctx, settlement.SettleRequest{
		Symbol: "KCN/EUR", BuyOrderID: buyOrder.ID, SellOrderID: sellOrder.ID,
		Price: price, Quantity: qty, Timestamp: time.Unix(0, 1),
	})
	require.NoError(t, err)
	wantFee := price.Mul(qty).Mul(settlement.FeeRate)
	require.True(t, trade.BuyerFee.Equal(trade.SellerFee))
	require.True(t, trade.BuyerFee.Equal(wantFee))

	buyerEUR, err := store.CachedAvailable(ctx, buyer, "EUR")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1000).Sub(price.Mul(qty)).Equal(buyerEUR))

	buyerKCN, err := store.CachedAvailable(ctx, buyer, "KCN")
	require.NoError(t, err)
	require.True(t, qty.Equal(buyerKCN))

	sellerKCN, err := store.CachedAvailable(ctx, seller, "KCN")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(10).Sub(qty).Equal(sellerKCN))

	sellerEUR, err := store.CachedAvailable(ctx, seller, "EUR")
	require.NoError(t, err)
	require.True(t, price.Mul(qty).Equal(sellerEUR))
}

// TestSettleIdempotent is spec.md §8 property 6 / scenario f: settling
// the same (buy, sell, price, quantity, timestamp) twice produces
// exactly one trade row and moves balances only once.
func TestSettleIdempotent(t *testing.T) {
	engine, store := openTestEngine(t)
	ctx := context.Background()
	buyer, seller := uuid.New(), uuid.New()
	fund(t, store, buyer, "EUR", decimal.NewFromInt(1000))
	fund(t, store, seller, "KCN", decimal.NewFromInt(10))

	price := decimal.NewFromInt(100)
	qty := decimal.NewFromInt(1)

	buyOrder, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: buyer, Symbol: "KCN/EUR", Side: orderbook.Bid, Type: orderbook.Limit,
		LimitPrice: &price, Quantity: qty,
	})
	require.NoError(t, err)
	sellOrder, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: seller, Symbol: "KCN/EUR", Side: orderbook.Ask, Type: orderbook.Limit,
		LimitPrice: &price, Quantity: qty,
	})
	require.NoError(t, err)

	req := settlement.SettleRequest{
		Symbol: "KCN/EUR", BuyOrderID: buyOrder.ID, SellOrderID: sellOrder.ID,
		Price: price, Quantity: qty, Timestamp: time.Unix(0, 42),
	}
	first, err := engine.Settle(ctx, req)
	require.NoError(t, err)
	second, err := engine.Settle(ctx, req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	buyerEUR, err := store.CachedAvailable(ctx, buyer, "EUR")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1000).Sub(price.Mul(qty)).Equal(buyerEUR))
}

// TestCancelInternalUnlocksResidual is spec.md §8 scenario g: a market
// order partially filled and then cancel_internal'd unlocks exactly the
// unfilled fraction of the original lock.
func TestCancelInternalUnlocksResidual(t *testing.T) {
	engine, store := openTestEngine(t)
	ctx := context.Background()
	buyer := uuid.New()
	fund(t, store, buyer, "EUR", decimal.NewFromInt(1000))

	slippage := decimal.NewFromInt(100)
	order, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: buyer, Symbol: "KCN/EUR", Side: orderbook.Bid, Type: orderbook.Market,
		MaxSlippagePrice: &slippage, Quantity: decimal.NewFromInt(10),
	})
	require.NoError(t, err)

	seller := uuid.New()
	fund(t, store, seller, "KCN", decimal.NewFromInt(10))
	sellOrder, err := engine.LockFunds(ctx, settlement.PlacementRequest{
		User: seller, Symbol: "KCN/EUR", Side: orderbook.Ask, Type: orderbook.Limit,
		LimitPrice: &slippage, Quantity: decimal.NewFromInt(4),
	})
	require.NoError(t, err)

	filled := decimal.NewFromInt(4)
	_, err = engine.Settle(ctx, settlement.SettleRequest{
		Symbol: "KCN/EUR", BuyOrderID: order.ID, SellOrderID: sellOrder.ID,
		Price: slippage, Quantity: filled, Timestamp: time.Unix(0, 99),
	})
	require.NoError(t, err)

	require.NoError(t, engine.CancelInternal(ctx, order.ID, filled))

	// locked 10*100=1000 EUR; 4 filled and released by Settle's Unlock
	// (400 EUR); residual unlock should release the remaining 600 EUR.
	balance, err := store.CachedAvailable(ctx, buyer, "EUR")
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(1000).Sub(slippage.Mul(filled)).Equal(balance))
}
