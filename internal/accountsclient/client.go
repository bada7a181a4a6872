// Package accountsclient is the matching engine's synchronous HTTP
// client for the accounts service's internal settlement/cancel
// endpoints (spec.md §6), including the retry policy of §5: 5s
// per-attempt timeout, up to 3 retries after the first attempt with
// exponential backoff (50ms, 100ms, 200ms) on DATABASE_ERROR/5xx,
// terminal otherwise.
package accountsclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/kcnex/exchange/internal/metrics"
	"github.com/kcnex/exchange/internal/xerrors"
)

// SettleRequest mirrors the accounts service's POST /internal/settle
// body (spec.md §6).
type SettleRequest struct {
	Symbol      string          `json:"symbol"`
	BuyOrderID  uuid.UUID       `json:"buy_order_id"`
	SellOrderID uuid.UUID       `json:"sell_order_id"`
	Price       decimal.Decimal `json:"price"`
	Quantity    decimal.Decimal `json:"quantity"`
	Timestamp   int64           `json:"timestamp"`
}

// SettleResponse mirrors the 200 OK response body.
type SettleResponse struct {
	TradeID  uuid.UUID  `json:"trade_id"`
	BuyerID  *uuid.UUID `json:"buyer_id,omitempty"`
	SellerID *uuid.UUID `json:"seller_id,omitempty"`
	Settled  bool       `json:"settled"`
}

type errorEnvelope struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Client calls the accounts service's internal HTTP surface.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Settlement
}

// New constructs a Client against baseURL (ACCOUNTS_URL).
func New(baseURL string, m *metrics.Settlement) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
		metrics: m,
	}
}

// backoff is the base/step schedule of spec.md §5: 50ms, 100ms, 200ms.
var backoff = []time.Duration{50 * time.Millisecond, 100 * time.Millisecond, 200 * time.Millisecond}

// Settle calls POST /internal/settle, retrying on transient failures
// up to len(backoff) additional attempts. Success and the terminal
// codes PARTIAL_SETTLEMENT/ORDER_NOT_FOUND/INVALID_SYMBOL return
// immediately without retry.
func (c *Client) Settle(ctx context.Context, req SettleRequest) (*SettleResponse, error) {
	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.doSettle(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retryable(err) || attempt >= len(backoff) {
			return nil, lastErr
		}
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff[attempt]):
		}
	}
}

func (c *Client) doSettle(ctx context.Context, req SettleRequest) (*SettleResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Internal, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/settle", bytes.NewReader(body))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("accountsclient: settle: %w", err))
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode == http.StatusOK {
		var out SettleResponse
		if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
			return nil, xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("accountsclient: decode settle response: %w", err))
		}
		return &out, nil
	}
	return nil, classify(httpResp.StatusCode, httpResp.Body)
}

// CancelInternal calls POST /internal/cancel with the same retry
// policy as Settle.
func (c *Client) CancelInternal(ctx context.Context, orderID uuid.UUID, filledQuantity decimal.Decimal) error {
	type cancelRequest struct {
		OrderID        uuid.UUID       `json:"order_id"`
		FilledQuantity decimal.Decimal `json:"filled_quantity"`
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		body, err := json.Marshal(cancelRequest{OrderID: orderID, FilledQuantity: filledQuantity})
		if err != nil {
			return xerrors.Wrap(xerrors.Internal, err)
		}
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/cancel", bytes.NewReader(body))
		if err != nil {
			return xerrors.Wrap(xerrors.TransientStore, err)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			lastErr = xerrors.Wrap(xerrors.TransientStore, fmt.Errorf("accountsclient: cancel: %w", err))
		} else {
			defer httpResp.Body.Close()
			if httpResp.StatusCode == http.StatusOK {
				return nil
			}
			lastErr = classify(httpResp.StatusCode, httpResp.Body)
		}

		if !retryable(lastErr) || attempt >= len(backoff) {
			return lastErr
		}
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff[attempt]):
		}
	}
}

func classify(status int, body io.Reader) error {
	var env errorEnvelope
	_ = json.NewDecoder(body).Decode(&env)

	switch env.Code {
	case "ORDER_NOT_FOUND":
		return xerrors.New(xerrors.NotFound, "accountsclient: %s", env.Error)
	case "PARTIAL_SETTLEMENT":
		return xerrors.New(xerrors.PartialSettlement, "accountsclient: %s", env.Error)
	case "CANNOT_CANCEL":
		return xerrors.New(xerrors.CannotCancel, "accountsclient: %s", env.Error)
	case "INVALID_SYMBOL":
		return xerrors.New(xerrors.Validation, "accountsclient: %s", env.Error)
	case "ALREADY_SETTLED":
		return xerrors.New(xerrors.Duplicate, "accountsclient: %s", env.Error)
	}
	if status >= 500 {
		return xerrors.New(xerrors.TransientStore, "accountsclient: server error %d: %s", status, env.Error)
	}
	return xerrors.New(xerrors.Validation, "accountsclient: status %d: %s", status, env.Error)
}

// retryable implements spec.md §4.7's "retries on DATABASE_ERROR and
// HTTP 5xx using exponential backoff"; success and
// PARTIAL_SETTLEMENT/ORDER_NOT_FOUND are terminal.
func retryable(err error) bool {
	return xerrors.KindOf(err) == xerrors.TransientStore
}
