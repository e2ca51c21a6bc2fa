package exchange

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"perp-trader/pkg/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MarketDataClient is the read-only subset of Client a PaperClient delegates
// to for prices, candles, and venue metadata — there is no point simulating
// data the real venue already serves for free.
type MarketDataClient interface {
	ExchangeInfo(ctx context.Context, symbol string) (types.SymbolFilter, error)
	MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	PremiumIndex(ctx context.Context, symbol string) (PremiumIndexInfo, error)
	FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error)
	OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error)
	OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error)
	GlobalLongShortAccountRatio(ctx context.Context, symbol, period string, limit int) ([]LongShortRatioPoint, error)
	OrderBook(ctx context.Context, symbol string, limit int) (OrderBookSnapshot, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error)
	Ticker24hr(ctx context.Context, symbol string) (types.Stats24h, error)
}

// PaperClient simulates order placement and account state in memory against
// real market data, so dry-run mode exercises the same cycle code path the
// live venue would without risking funds. Only MARKET orders fill
// immediately; LIMIT and conditional orders rest as NEW and are never
// triggered — paper mode verifies the cycle's decision logic, not a full
// matching engine.
type PaperClient struct {
	market MarketDataClient

	mu         sync.Mutex
	balance    decimal.Decimal
	positions  map[string]*types.Position
	openOrders map[int64]*types.OpenOrder
	leverage   map[string]int
	nextID     int64

	onUpdate func(types.OrderTradeUpdateEvent)
}

// NewPaperClient creates a simulated account seeded with startingBalance.
// onUpdate, if non-nil, is invoked synchronously for every simulated order
// state change — wire it to orderstore.Store.ApplyEvent the same way the
// real user-data stream would be.
func NewPaperClient(market MarketDataClient, startingBalance decimal.Decimal, onUpdate func(types.OrderTradeUpdateEvent)) *PaperClient {
	return &PaperClient{
		market:     market,
		balance:    startingBalance,
		positions:  make(map[string]*types.Position),
		openOrders: make(map[int64]*types.OpenOrder),
		leverage:   make(map[string]int),
		onUpdate:   onUpdate,
	}
}

func (c *PaperClient) ExchangeInfo(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	return c.market.ExchangeInfo(ctx, symbol)
}

func (c *PaperClient) PositionMode(ctx context.Context) (bool, error) {
	return false, nil
}

func (c *PaperClient) Account(ctx context.Context) (AccountInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return AccountInfo{
		TotalWalletBalance: c.balance,
		AvailableBalance:   c.balance,
		HedgeMode:          false,
	}, nil
}

func (c *PaperClient) PositionInformation(ctx context.Context, symbol string) ([]types.Position, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.positions[symbol]
	if !ok {
		return []types.Position{{Symbol: symbol, Side: types.PositionNone, Quantity: decimal.Zero}}, nil
	}
	return []types.Position{*p}, nil
}

func (c *PaperClient) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	orders := make([]types.OpenOrder, 0, len(c.openOrders))
	for _, o := range c.openOrders {
		if o.Symbol == symbol && !o.Status.IsTerminal() {
			orders = append(orders, *o)
		}
	}
	return orders, nil
}

func (c *PaperClient) nextOrderID() int64 {
	return atomic.AddInt64(&c.nextID, 1)
}

// CreateOrder simulates placement. MARKET orders fill at the current mark
// price and immediately update the simulated position; everything else
// rests as NEW.
func (c *PaperClient) CreateOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	orderID := c.nextOrderID()
	clientOrderID := req.ClientOrderID
	if clientOrderID == "" {
		clientOrderID = uuid.NewString()
	}

	status := types.OrderStatusNew
	fillPrice := req.Price
	fillQty := decimal.Zero

	if req.Type == types.OrderTypeMarket {
		mark, err := c.market.MarkPrice(ctx, req.Symbol)
		if err != nil {
			return types.OrderAck{}, fmt.Errorf("paper createOrder: fetch mark price: %w", err)
		}
		fillPrice = mark
		fillQty = req.Quantity
		status = types.OrderStatusFilled
		c.applyFill(req, fillPrice, fillQty)
	}

	c.mu.Lock()
	c.openOrders[orderID] = &types.OpenOrder{
		OrderID:       orderID,
		Symbol:        req.Symbol,
		Side:          req.Side,
		PositionSide:  req.PositionSide,
		Type:          req.Type,
		ReduceOnly:    req.ReduceOnly,
		ClosePosition: req.ClosePosition,
		Price:         req.Price,
		StopPrice:     req.StopPrice,
		Quantity:      req.Quantity,
		ExecutedQty:   fillQty,
		Status:        status,
	}
	c.mu.Unlock()

	c.emit(req.Symbol, clientOrderID, orderID, req, status, fillQty, fillQty, fillPrice, fillPrice)

	return types.OrderAck{OrderID: orderID, ClientOrderID: clientOrderID, Status: status}, nil
}

// applyFill updates the simulated position for an immediately-filled order.
// Reduce-only fills shrink the existing position; otherwise the fill opens
// or adds to it at a quantity-weighted average entry price.
func (c *PaperClient) applyFill(req types.OrderRequest, price, qty decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[req.Symbol]
	if !ok {
		pos = &types.Position{Symbol: req.Symbol, Side: types.PositionNone, Quantity: decimal.Zero}
		c.positions[req.Symbol] = pos
	}

	closing := req.ReduceOnly || req.ClosePosition
	if closing {
		pos.Quantity = pos.Quantity.Sub(qty)
		if pos.Quantity.Sign() <= 0 {
			pos.Quantity = decimal.Zero
			pos.Side = types.PositionNone
			pos.EntryPrice = decimal.Zero
		}
		return
	}

	side := types.PositionLong
	if req.Side == types.SELL {
		side = types.PositionShort
	}

	if pos.Quantity.IsZero() {
		pos.Side = side
		pos.EntryPrice = price
		pos.Quantity = qty
		return
	}

	totalNotional := pos.EntryPrice.Mul(pos.Quantity).Add(price.Mul(qty))
	pos.Quantity = pos.Quantity.Add(qty)
	if !pos.Quantity.IsZero() {
		pos.EntryPrice = totalNotional.Div(pos.Quantity)
	}
}

func (c *PaperClient) emit(symbol, clientOrderID string, orderID int64, req types.OrderRequest, status types.OrderStatus, lastFillQty, executedQty, lastFillPrice, avgPrice decimal.Decimal) {
	if c.onUpdate == nil {
		return
	}
	now := time.Now().UnixMilli()
	c.onUpdate(types.OrderTradeUpdateEvent{
		EventType: "ORDER_TRADE_UPDATE",
		EventTime: now,
		TradeTime: now,
		Order: types.OrderUpdateData{
			Symbol:        symbol,
			ClientOrderID: clientOrderID,
			Side:          string(req.Side),
			OrderType:     string(req.Type),
			TimeInForce:   string(req.TimeInForce),
			Quantity:      req.Quantity.String(),
			Price:         req.Price.String(),
			StopPrice:     req.StopPrice.String(),
			Status:        string(status),
			OrderID:       orderID,
			LastFillQty:   lastFillQty.String(),
			ExecutedQty:   executedQty.String(),
			LastFillPrice: lastFillPrice.String(),
			ReduceOnly:    req.ReduceOnly,
			WorkingType:   string(req.WorkingType),
			AvgPrice:      avgPrice.String(),
			PositionSide:  string(req.PositionSide),
			ClosePosition: req.ClosePosition,
		},
	})
}

func (c *PaperClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	c.mu.Lock()
	o, ok := c.openOrders[orderID]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("paper cancelOrder: order %d not found", orderID)
	}
	o.Status = types.OrderStatusCanceled
	snapshot := *o
	c.mu.Unlock()

	c.emit(symbol, "", orderID, types.OrderRequest{
		Symbol: symbol, Side: snapshot.Side, PositionSide: snapshot.PositionSide,
		Type: snapshot.Type, Price: snapshot.Price, StopPrice: snapshot.StopPrice,
		Quantity: snapshot.Quantity, ReduceOnly: snapshot.ReduceOnly,
	}, types.OrderStatusCanceled, decimal.Zero, snapshot.ExecutedQty, decimal.Zero, decimal.Zero)
	return nil
}

func (c *PaperClient) GetOrder(ctx context.Context, symbol string, orderID int64) (types.OpenOrder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, ok := c.openOrders[orderID]
	if !ok {
		return types.OpenOrder{}, fmt.Errorf("paper getOrder: order %d not found", orderID)
	}
	return *o, nil
}

func (c *PaperClient) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leverage[symbol] = leverage
	return nil
}

func (c *PaperClient) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.market.MarkPrice(ctx, symbol)
}

func (c *PaperClient) PremiumIndex(ctx context.Context, symbol string) (PremiumIndexInfo, error) {
	return c.market.PremiumIndex(ctx, symbol)
}

func (c *PaperClient) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.market.FundingRate(ctx, symbol)
}

func (c *PaperClient) OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return c.market.OpenInterest(ctx, symbol)
}

func (c *PaperClient) OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error) {
	return c.market.OpenInterestHist(ctx, symbol, period, limit)
}

func (c *PaperClient) GlobalLongShortAccountRatio(ctx context.Context, symbol, period string, limit int) ([]LongShortRatioPoint, error) {
	return c.market.GlobalLongShortAccountRatio(ctx, symbol, period, limit)
}

func (c *PaperClient) OrderBook(ctx context.Context, symbol string, limit int) (OrderBookSnapshot, error) {
	return c.market.OrderBook(ctx, symbol, limit)
}

func (c *PaperClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return c.market.Klines(ctx, symbol, interval, limit)
}

func (c *PaperClient) Ticker24hr(ctx context.Context, symbol string) (types.Stats24h, error) {
	return c.market.Ticker24hr(ctx, symbol)
}

// CreateListenKey, KeepAliveListenKey, and CloseListenKey have nothing to
// connect to in paper mode — there is no real user-data stream, so these are
// no-ops that satisfy Client without the engine branching on dry-run.
func (c *PaperClient) CreateListenKey(ctx context.Context) (string, error) {
	return "paper-listen-key", nil
}

func (c *PaperClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}

func (c *PaperClient) CloseListenKey(ctx context.Context, listenKey string) error {
	return nil
}

var _ Client = (*PaperClient)(nil)
