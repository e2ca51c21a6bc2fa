// Package exchange implements the exchange's REST and WebSocket clients.
//
// A single Client interface carries every REST operation the agent needs;
// two concrete implementations satisfy it — LiveClient (real HTTP calls
// against the venue) and PaperClient (in-memory simulation) — so the
// trading cycle never branches on a dry-run flag at the call site. This
// removes the reflection-based API-drift handling the source relied on:
// method sets are explicit and checked at compile time.
package exchange

import (
	"context"
	"time"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// Client is every exchange REST operation the trading cycle, trigger
// engine, and keepalive worker depend on.
type Client interface {
	ExchangeInfo(ctx context.Context, symbol string) (types.SymbolFilter, error)
	PositionMode(ctx context.Context) (hedgeMode bool, err error)
	Account(ctx context.Context) (AccountInfo, error)
	PositionInformation(ctx context.Context, symbol string) ([]types.Position, error)
	OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error)

	CreateOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	GetOrder(ctx context.Context, symbol string, orderID int64) (types.OpenOrder, error)
	ChangeLeverage(ctx context.Context, symbol string, leverage int) error

	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PremiumIndex(ctx context.Context, symbol string) (PremiumIndexInfo, error)
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error)
	OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)
	GlobalLongShortAccountRatio(ctx context.Context, symbol, period string, limit int) ([]LongShortRatioPoint, error)
	OrderBook(ctx context.Context, symbol string, limit int) (OrderBookSnapshot, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
	Ticker24hr(ctx context.Context, symbol string) (types.Stats24h, error)

	CreateListenKey(ctx context.Context) (string, error)
	KeepAliveListenKey(ctx context.Context, listenKey string) error
	CloseListenKey(ctx context.Context, listenKey string) error
}

// KeepaliveLoop renews listenKey once every renew interval (the engine
// passes 45 minutes) until ctx is cancelled, matching §5's dedicated
// keepalive worker. The caller runs this in its own goroutine.
func KeepaliveLoop(ctx context.Context, client Client, listenKey string, renew time.Duration, onErr func(error)) {
	ticker := time.NewTicker(renew)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := client.KeepAliveListenKey(ctx, listenKey); err != nil && onErr != nil {
				onErr(err)
			}
		}
	}
}
