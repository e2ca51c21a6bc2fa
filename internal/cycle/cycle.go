// Package cycle implements the Trading Cycle: the deterministic,
// per-invocation routine that turns one cache snapshot into a disciplined
// sequence of exchange orders.
//
// Grounded on original_source/auto_future_trader.py's run_once for the
// exact flat/reverse/entry/protection field semantics, and on the teacher's
// strategy.Maker.quoteUpdate for the stale-check -> compute -> reconcile
// shape of a single-tick strategy method.
package cycle

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"perp-trader/internal/advisor"
	"perp-trader/internal/cache"
	"perp-trader/internal/exchange"
	"perp-trader/internal/orderstore"
	"perp-trader/internal/status"
	"perp-trader/pkg/types"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"log/slog"
)

// Result is the terminal state of one cycle invocation, always exactly one
// of completed | flat | skipped(reason) | invalid(reason) | error(message).
type Result struct {
	Status string
	Reason string
}

const (
	statusCompleted = "completed"
	statusFlat      = "flat"
	statusSkipped   = "skipped"
	statusInvalid   = "invalid"
	statusError     = "error"
)

// protectiveOrderTypes is the cleanup predicate's type set: every order type
// that can be placed reduce-only to protect a position, including the bare
// STOP/TAKE_PROFIT (limit-on-trigger) variants alongside the *_MARKET ones.
var protectiveOrderTypes = map[types.OrderType]bool{
	types.OrderTypeStop:             true,
	types.OrderTypeTakeProfit:       true,
	types.OrderTypeStopMarket:       true,
	types.OrderTypeTakeProfitMarket: true,
	types.OrderTypeTrailingStop:     true,
	types.OrderTypeLimit:            true,
}

// Config carries the per-cycle tunables sourced from the agent's config.
type Config struct {
	Symbol              string
	ConfThreshold       float64
	ForbiddenWindowsUTC []string
	DryRun              bool

	EntryWSTimeout   time.Duration
	EntryRESTTimeout time.Duration
	ExitWSTimeout    time.Duration
	ExitRESTTimeout  time.Duration
}

// Cycle owns one symbol's trading cycle and all the collaborators it calls
// into: the exchange client, the advisor, the order store, the stream
// cache, and the status publisher.
type Cycle struct {
	cfg       Config
	exchange  exchange.Client
	advisor   *advisor.Client
	store     *orderstore.Store
	cache     *cache.Cache
	publisher *status.Publisher
	logger    *slog.Logger

	filterMu sync.Mutex
	filter   *types.SymbolFilter
}

// New creates a Cycle. The symbol filter (tick/step/precision) is fetched
// lazily on first Run and cached for the process lifetime.
func New(cfg Config, ex exchange.Client, adv *advisor.Client, store *orderstore.Store, c *cache.Cache, pub *status.Publisher, logger *slog.Logger) *Cycle {
	return &Cycle{
		cfg:       cfg,
		exchange:  ex,
		advisor:   adv,
		store:     store,
		cache:     c,
		publisher: pub,
		logger:    logger.With("component", "cycle"),
	}
}

// Run performs one full cycle invocation. A non-nil error is an
// environmental/protocol failure the trigger loop should back off on;
// policy short-circuits (forbidden window, low confidence, invalid
// decision, zero quantity) are reported via Result with a nil error.
func (c *Cycle) Run(ctx context.Context) error {
	result, err := c.runOnce(ctx)
	c.logResult(result, err)
	return err
}

func (c *Cycle) logResult(result Result, err error) {
	if err != nil {
		c.publisher.AppendEvent("execution", fmt.Sprintf("error: %s", err))
		return
	}
	c.publisher.AppendEvent("execution", fmt.Sprintf("%s %s", result.Status, result.Reason))
}

func (c *Cycle) runOnce(ctx context.Context) (Result, error) {
	symbol := c.cfg.Symbol

	// 1. Precheck
	snap := c.cache.Snapshot()
	if !snap.Primed() {
		return c.skip("ws_priming"), nil
	}

	filter, err := c.symbolFilter(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("fetch symbol filter: %w", err)
	}

	// 2. Snapshot assembly
	marketSnapshot, err := c.buildSnapshot(ctx, snap)
	if err != nil {
		return Result{}, fmt.Errorf("assemble market snapshot: %w", err)
	}
	c.publisher.SetLatestInput(&marketSnapshot)

	if c.isForbiddenWindow(time.Now().UTC()) {
		c.logger.Warn("forbidden time window, deferring new entries")
		c.publisher.AppendEvent("constraint", "forbidden_window")
	}

	// 3. Advisory call
	advice, err := c.advisor.Advise(ctx, marketSnapshot)
	if err != nil {
		return Result{}, fmt.Errorf("advisory call: %w", err)
	}
	c.publisher.SetLatestAdvice(&advice)
	c.publisher.AppendAIHistory(aiHistoryEntry{
		Ts:         time.Now().UnixMilli(),
		Symbol:     symbol,
		Decision:   string(advice.Decision),
		Confidence: advice.Confidence,
		Rationale:  advice.Rationale,
		Notes:      advice.Notes,
		Timeframe:  advice.Timeframe,
	})

	if !types.ValidDirection(advice.Decision) {
		return c.invalid("invalid_decision"), nil
	}

	// 4. Confidence gate
	if advice.Confidence > 0 && advice.Confidence < c.cfg.ConfThreshold {
		return c.skip("low_confidence"), nil
	}

	// 5. Account read
	hedge, positions, err := c.readAccount(ctx, symbol)
	if err != nil {
		return Result{}, fmt.Errorf("read account: %w", err)
	}
	c.publisher.SetPositions(positions)

	targetSide, isFlat := directionToPositionSide(advice.Decision)
	sameQty, oppQty := splitExistingQty(positions, targetSide, isFlat)

	// 6. Leverage adjustment
	if advice.Entry.Leverage != nil && *advice.Entry.Leverage > 0 {
		if err := c.exchange.ChangeLeverage(ctx, symbol, *advice.Entry.Leverage); err != nil {
			c.logger.Warn("leverage change failed", "error", err)
		}
	}

	// 7. Flat decision
	if isFlat {
		for _, p := range positions {
			if p.Symbol != symbol || !p.Quantity.IsPositive() {
				continue
			}
			if err := c.closePosition(ctx, symbol, p, hedge, "flat_exit"); err != nil {
				c.logger.Error("flat exit failed", "error", err)
			}
		}
		c.cleanupProtectiveOrders(ctx, symbol, hedge)
		return Result{Status: statusFlat}, nil
	}

	// 8. Reverse
	if oppQty.IsPositive() {
		opposite := oppositeSide(targetSide)
		for _, p := range positions {
			if p.Symbol == symbol && p.Side == opposite && p.Quantity.IsPositive() {
				if err := c.closePosition(ctx, symbol, p, hedge, "hedge_close"); err != nil {
					c.logger.Error("reverse close failed", "error", err)
				}
			}
		}
		c.cleanupProtectiveOrders(ctx, symbol, hedge)
	}
	_ = sameQty

	// 9. Entry
	filledQty, err := c.enterPosition(ctx, symbol, hedge, targetSide, advice, marketSnapshot, filter)
	if err != nil {
		if err == errZeroQuantity {
			return c.invalid("zero_quantity"), nil
		}
		return Result{}, fmt.Errorf("entry: %w", err)
	}

	// 10. Protection
	if filledQty.IsPositive() {
		c.placeProtection(ctx, symbol, hedge, targetSide, advice, filledQty, filter)
	}

	return Result{Status: statusCompleted}, nil
}

var errZeroQuantity = fmt.Errorf("resolved entry quantity is zero")

// aiHistoryEntry is one line of the bounded ai_history.jsonl log — the
// advisor's free-form commentary alongside its structured decision.
type aiHistoryEntry struct {
	Ts         int64   `json:"ts"`
	Symbol     string  `json:"symbol"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Rationale  string  `json:"rationale,omitempty"`
	Notes      string  `json:"notes,omitempty"`
	Timeframe  string  `json:"timeframe,omitempty"`
}

// closeHistoryEntry is one line of the bounded close_history.jsonl log,
// written whenever a position-reducing order is placed.
type closeHistoryEntry struct {
	Ts       int64           `json:"ts"`
	Symbol   string          `json:"symbol"`
	Action   string          `json:"action"`
	Side     types.Side      `json:"side"`
	Quantity decimal.Decimal `json:"quantity"`
}

func (c *Cycle) skip(reason string) Result {
	return Result{Status: statusSkipped, Reason: reason}
}

func (c *Cycle) invalid(reason string) Result {
	return Result{Status: statusInvalid, Reason: reason}
}

func (c *Cycle) symbolFilter(ctx context.Context) (types.SymbolFilter, error) {
	c.filterMu.Lock()
	defer c.filterMu.Unlock()
	if c.filter != nil {
		return *c.filter, nil
	}
	f, err := c.exchange.ExchangeInfo(ctx, c.cfg.Symbol)
	if err != nil {
		return types.SymbolFilter{}, err
	}
	c.filter = &f
	return f, nil
}

// buildSnapshot assembles the market view handed to the advisor, overriding
// mark price and last close with the cached values so the advisor sees
// exactly what the detector saw.
func (c *Cycle) buildSnapshot(ctx context.Context, cached cache.Snapshot) (types.MarketSnapshot, error) {
	symbol := c.cfg.Symbol

	premium, err := c.exchange.PremiumIndex(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	stats, err := c.exchange.Ticker24hr(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	oi, err := c.exchange.OpenInterest(ctx, symbol)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	book, err := c.exchange.OrderBook(ctx, symbol, 20)
	if err != nil {
		return types.MarketSnapshot{}, err
	}
	candles, err := c.exchange.Klines(ctx, symbol, "1m", 50)
	if err != nil {
		return types.MarketSnapshot{}, err
	}

	var bestBid, bestAsk, bidQty, askQty decimal.Decimal
	var depthImbalance float64
	if bid, ask, ok := book.BestBidAsk(); ok {
		bestBid, bestAsk, bidQty, askQty = bid.Price, ask.Price, bid.Qty, ask.Qty
		total := bidQty.Add(askQty)
		if !total.IsZero() {
			depthImbalance, _ = bidQty.Sub(askQty).Div(total).Float64()
		}
	}

	snapshot := types.MarketSnapshot{
		Symbol:          symbol,
		GeneratedAt:     time.Now().UTC(),
		MarkPrice:       cached.MarkPrice,
		LastPrice:       stats.LastPrice,
		IndexPrice:      premium.IndexPrice,
		FundingRate:     premium.FundingRate,
		NextFundingTime: premium.NextFundingTime,
		OpenInterest:    oi,
		Stats24h:        stats,
		BestBid:         bestBid,
		BestAsk:         bestAsk,
		BidQty:          bidQty,
		AskQty:          askQty,
		DepthImbalance:  depthImbalance,
		RecentCandles:   candles,
		Indicators:      map[string]float64{},
		Constraints: types.VenueConstraints{
			ForbiddenWindowsUTC: c.cfg.ForbiddenWindowsUTC,
		},
	}
	if cached.HasLastCandle {
		snapshot.RecentCandles = replaceLastClosed(snapshot.RecentCandles, cached.LastCandle)
	}
	return snapshot, nil
}

// replaceLastClosed substitutes the cache's last closed candle for the
// final element of the REST-fetched series, so the advisor's view matches
// exactly what fired the detector.
func replaceLastClosed(candles []types.Candle, last types.Candle) []types.Candle {
	if len(candles) == 0 {
		return []types.Candle{last}
	}
	out := make([]types.Candle, len(candles))
	copy(out, candles)
	out[len(out)-1] = last
	return out
}

// isForbiddenWindow reports whether now's "HH:MM" falls lexically inside
// any configured "HH:MM-HH:MM" UTC span — zero-padded clock strings compare
// correctly as plain strings, matching the source's approach.
func (c *Cycle) isForbiddenWindow(now time.Time) bool {
	hhmm := now.Format("15:04")
	for _, span := range c.cfg.ForbiddenWindowsUTC {
		parts := strings.SplitN(span, "-", 2)
		if len(parts) != 2 {
			continue
		}
		if parts[0] <= hhmm && hhmm <= parts[1] {
			return true
		}
	}
	return false
}

func (c *Cycle) readAccount(ctx context.Context, symbol string) (bool, []types.Position, error) {
	account, err := c.exchange.Account(ctx)
	if err != nil {
		return false, nil, err
	}
	positions, err := c.exchange.PositionInformation(ctx, symbol)
	if err != nil {
		return false, nil, err
	}
	return account.HedgeMode, positions, nil
}

func directionToPositionSide(d types.Direction) (types.PositionSide, bool) {
	switch d {
	case types.DirectionLong:
		return types.PositionLong, false
	case types.DirectionShort:
		return types.PositionShort, false
	default:
		return types.PositionNone, true
	}
}

func oppositeSide(side types.PositionSide) types.PositionSide {
	if side == types.PositionLong {
		return types.PositionShort
	}
	return types.PositionLong
}

func splitExistingQty(positions []types.Position, target types.PositionSide, isFlat bool) (same, opp decimal.Decimal) {
	if isFlat {
		return decimal.Zero, decimal.Zero
	}
	for _, p := range positions {
		if !p.Quantity.IsPositive() {
			continue
		}
		if p.Side == target {
			same = same.Add(p.Quantity)
		} else {
			opp = opp.Add(p.Quantity)
		}
	}
	return same, opp
}

// closePosition submits a reduce-only market order to fully close p and
// waits for it to reach a terminal status.
func (c *Cycle) closePosition(ctx context.Context, symbol string, p types.Position, hedge bool, action string) error {
	reduceSide := types.SELL
	if p.Side == types.PositionShort {
		reduceSide = types.BUY
	}

	req := types.OrderRequest{
		Symbol:        symbol,
		Side:          reduceSide,
		Type:          types.OrderTypeMarket,
		Quantity:      p.Quantity,
		ReduceOnly:    true,
		ClientOrderID: uuid.NewString(),
	}
	if hedge {
		req.PositionSide = p.Side
	}

	ack, err := c.exchange.CreateOrder(ctx, req)
	if err != nil {
		c.recordOrder(action, req, types.OrderAck{}, err)
		return err
	}
	c.recordOrder(action, req, ack, nil)

	c.store.Register(symbol, ack.OrderID, reduceSide, req.PositionSide, orderstore.RegisterParams{
		OrderType: types.OrderTypeMarket, Quantity: p.Quantity, ReduceOnly: true,
	})
	c.waitTerminal(ctx, symbol, ack.OrderID, c.exitWSTimeout(), c.exitRESTTimeout())
	c.publisher.AppendCloseHistory(closeHistoryEntry{
		Ts: time.Now().UnixMilli(), Symbol: symbol, Action: action, Side: reduceSide, Quantity: p.Quantity,
	})
	return nil
}

// cleanupProtectiveOrders cancels reduce-only/close-position orders whose
// protected side (or total position in one-way mode) is now zero.
func (c *Cycle) cleanupProtectiveOrders(ctx context.Context, symbol string, hedge bool) {
	positions, err := c.exchange.PositionInformation(ctx, symbol)
	if err != nil {
		c.logger.Warn("cleanup: fetch positions failed", "error", err)
		return
	}

	var longQty, shortQty decimal.Decimal
	for _, p := range positions {
		switch p.Side {
		case types.PositionLong:
			longQty = longQty.Add(p.Quantity)
		case types.PositionShort:
			shortQty = shortQty.Add(p.Quantity)
		}
	}

	orders, err := c.exchange.OpenOrders(ctx, symbol)
	if err != nil {
		c.logger.Warn("cleanup: fetch open orders failed", "error", err)
		return
	}

	for _, o := range orders {
		if !protectiveOrderTypes[o.Type] {
			continue
		}
		if !o.ReduceOnly && !o.ClosePosition {
			continue
		}

		shouldCancel := false
		if hedge {
			switch o.PositionSide {
			case types.PositionLong:
				shouldCancel = !longQty.IsPositive()
			case types.PositionShort:
				shouldCancel = !shortQty.IsPositive()
			}
		} else {
			shouldCancel = !longQty.IsPositive() && !shortQty.IsPositive()
		}

		if !shouldCancel {
			continue
		}
		if err := c.exchange.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			c.logger.Warn("cleanup: cancel failed", "order_id", o.OrderID, "error", err)
		}
	}
}

// enterPosition resolves quantity, snaps price/quantity, places the entry
// order, and returns the executed quantity (requested quantity if DryRun
// reports zero, per spec's dry-run accounting rule for protective sizing).
func (c *Cycle) enterPosition(ctx context.Context, symbol string, hedge bool, targetSide types.PositionSide, advice types.Advice, snapshot types.MarketSnapshot, filter types.SymbolFilter) (decimal.Decimal, error) {
	qty := resolveQuantity(advice.Entry.Size, snapshot.MarkPrice)
	qty = snap(qty, filter.StepSize)
	if !qty.IsPositive() {
		return decimal.Zero, errZeroQuantity
	}

	entryPrice := decimal.Zero
	if advice.Entry.Price != nil {
		entryPrice = snap(*advice.Entry.Price, filter.TickSize)
	}

	side := types.BUY
	if targetSide == types.PositionShort {
		side = types.SELL
	}

	req := types.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Type:          advice.Entry.OrderType,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	}
	if req.Type == types.OrderTypeLimit {
		req.Price = entryPrice
		req.TimeInForce = types.TimeInForceGTC
	}
	if hedge {
		req.PositionSide = targetSide
	}

	ack, err := c.exchange.CreateOrder(ctx, req)
	if err != nil {
		c.recordOrder("entry", req, types.OrderAck{}, err)
		return decimal.Zero, err
	}
	c.recordOrder("entry", req, ack, nil)

	if c.cfg.DryRun {
		return qty, nil
	}

	c.store.Register(symbol, ack.OrderID, side, req.PositionSide, orderstore.RegisterParams{
		OrderType: req.Type, Price: req.Price, Quantity: qty,
	})

	filled := c.waitTerminal(ctx, symbol, ack.OrderID, c.entryWSTimeout(), c.entryRESTTimeout())
	c.cleanupProtectiveOrders(ctx, symbol, hedge)
	if filled.IsZero() {
		return qty, nil
	}
	return filled, nil
}

func resolveQuantity(size types.EntrySize, markPrice decimal.Decimal) decimal.Decimal {
	if size.Contracts != nil && size.Contracts.IsPositive() {
		return *size.Contracts
	}
	if size.QuoteValue != nil && markPrice.IsPositive() {
		return size.QuoteValue.Div(markPrice)
	}
	return decimal.Zero
}

func snap(value, increment decimal.Decimal) decimal.Decimal {
	if increment.IsZero() {
		return value
	}
	return value.DivRound(increment, 0).Mul(increment)
}

// placeProtection places stop-loss, take-profit, and trailing-stop orders
// for a newly filled entry. All are reduce-only and registered with the
// order store but never waited on.
func (c *Cycle) placeProtection(ctx context.Context, symbol string, hedge bool, targetSide types.PositionSide, advice types.Advice, filledQty decimal.Decimal, filter types.SymbolFilter) {
	exitSide := types.SELL
	if targetSide == types.PositionShort {
		exitSide = types.BUY
	}

	if advice.StopLoss != nil {
		workingType := types.WorkingTypeContract
		if advice.StopLoss.TriggerOn == types.TriggerOnMark {
			workingType = types.WorkingTypeMark
		}
		req := types.OrderRequest{
			Symbol:        symbol,
			Side:          exitSide,
			Type:          types.OrderTypeStopMarket,
			Quantity:      filledQty,
			StopPrice:     snap(advice.StopLoss.Price, filter.TickSize),
			ReduceOnly:    true,
			WorkingType:   workingType,
			ClientOrderID: uuid.NewString(),
		}
		if hedge {
			req.PositionSide = targetSide
		}
		c.placeAndRegisterProtective(ctx, symbol, "stop_loss", req)
	}

	for i, tp := range advice.TakeProfits {
		if tp.Percentage <= 0 {
			continue
		}
		qty := snap(filledQty.Mul(decimal.NewFromFloat(tp.Percentage/100.0)), filter.StepSize)
		if !qty.IsPositive() {
			continue
		}
		req := types.OrderRequest{
			Symbol:        symbol,
			Side:          exitSide,
			Type:          types.OrderTypeLimit,
			Quantity:      qty,
			Price:         snap(tp.Price, filter.TickSize),
			TimeInForce:   types.TimeInForceGTC,
			ReduceOnly:    true,
			ClientOrderID: uuid.NewString(),
		}
		if hedge {
			req.PositionSide = targetSide
		}
		c.placeAndRegisterProtective(ctx, symbol, fmt.Sprintf("take_profit_%d", i+1), req)
	}

	if advice.Trailing != nil {
		req := types.OrderRequest{
			Symbol:        symbol,
			Side:          exitSide,
			Type:          types.OrderTypeTrailingStop,
			Quantity:      filledQty,
			StopPrice:     snap(advice.Trailing.ActivatePrice, filter.TickSize),
			ReduceOnly:    true,
			WorkingType:   types.WorkingTypeMark,
			ClientOrderID: uuid.NewString(),
		}
		if hedge {
			req.PositionSide = targetSide
		}
		c.placeAndRegisterProtective(ctx, symbol, "trailing_stop", req)
	}
}

func (c *Cycle) placeAndRegisterProtective(ctx context.Context, symbol, action string, req types.OrderRequest) {
	ack, err := c.exchange.CreateOrder(ctx, req)
	if err != nil {
		c.recordOrder(action, req, types.OrderAck{}, err)
		c.logger.Error("protective order failed", "action", action, "error", err)
		return
	}
	c.recordOrder(action, req, ack, nil)
	c.store.Register(symbol, ack.OrderID, req.Side, req.PositionSide, orderstore.RegisterParams{
		OrderType: req.Type, Price: req.Price, StopPrice: req.StopPrice, Quantity: req.Quantity, ReduceOnly: true,
	})
}

// waitTerminal blocks on the WebSocket path first, falling back to REST
// polling on timeout. Returns the tracker's executed quantity, or zero if
// neither path confirmed within its deadline (surfaced as a warning, not a
// fatal error — protective sizing falls back to the requested quantity).
func (c *Cycle) waitTerminal(ctx context.Context, symbol string, orderID int64, wsTimeout, restTimeout time.Duration) decimal.Decimal {
	if tracker, ok := c.store.Wait(orderID, wsTimeout); ok {
		return tracker.ExecutedQty
	}

	c.logger.Warn("websocket confirmation timed out, polling REST", "order_id", orderID)
	deadline := time.Now().Add(restTimeout)
	for time.Now().Before(deadline) {
		order, err := c.exchange.GetOrder(ctx, symbol, orderID)
		if err != nil {
			c.logger.Warn("REST poll failed", "order_id", orderID, "error", err)
		} else if order.Status.IsTerminal() {
			return order.ExecutedQty
		}
		select {
		case <-ctx.Done():
			return decimal.Zero
		case <-time.After(800 * time.Millisecond):
		}
	}

	c.logger.Warn("order confirmation unknown after REST fallback", "order_id", orderID)
	return decimal.Zero
}

func (c *Cycle) entryWSTimeout() time.Duration {
	if c.cfg.EntryWSTimeout > 0 {
		return c.cfg.EntryWSTimeout
	}
	return 30 * time.Second
}

func (c *Cycle) entryRESTTimeout() time.Duration {
	if c.cfg.EntryRESTTimeout > 0 {
		return c.cfg.EntryRESTTimeout
	}
	return 10 * time.Second
}

func (c *Cycle) exitWSTimeout() time.Duration {
	if c.cfg.ExitWSTimeout > 0 {
		return c.cfg.ExitWSTimeout
	}
	return 30 * time.Second
}

func (c *Cycle) exitRESTTimeout() time.Duration {
	if c.cfg.ExitRESTTimeout > 0 {
		return c.cfg.ExitRESTTimeout
	}
	return 10 * time.Second
}

func (c *Cycle) recordOrder(action string, req types.OrderRequest, ack types.OrderAck, err error) {
	orderStatus := ack.Status
	if err != nil {
		orderStatus = types.OrderStatus("REJECTED")
		c.publisher.AppendEvent(action, fmt.Sprintf("order submit failed: %s", err))
	} else {
		c.publisher.AppendEvent(action, fmt.Sprintf("order %d submitted", ack.OrderID))
	}

	price := req.Price
	if price.IsZero() {
		price = req.StopPrice
	}
	c.publisher.AppendOrder(status.OrderRecord{
		Ts:       time.Now().UnixMilli(),
		OrderID:  ack.OrderID,
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Status:   orderStatus,
		Price:    price,
		Quantity: req.Quantity,
	})
}
