// Package types defines shared data structures used across all packages.
//
// This package is the common vocabulary for the agent — order direction,
// position state, the advisor's decision shape, and the wire-level event
// payloads the exchange emits. It has no dependency on any other internal
// package, so it can be imported by any layer.
package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ————————————————————————————————————————————————————————————————————————
// Core enums
// ————————————————————————————————————————————————————————————————————————

// Side represents the direction of an order: BUY or SELL.
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// PositionSide distinguishes hedge-mode legs; None is used in one-way mode.
type PositionSide string

const (
	PositionLong  PositionSide = "LONG"
	PositionShort PositionSide = "SHORT"
	PositionNone  PositionSide = "BOTH"
)

// OrderType enumerates the order lifecycles the cycle can place.
type OrderType string

const (
	OrderTypeMarket           OrderType = "MARKET"
	OrderTypeLimit            OrderType = "LIMIT"
	OrderTypeStop             OrderType = "STOP"
	OrderTypeTakeProfit       OrderType = "TAKE_PROFIT"
	OrderTypeStopMarket       OrderType = "STOP_MARKET"
	OrderTypeTakeProfitMarket OrderType = "TAKE_PROFIT_MARKET"
	OrderTypeTrailingStop     OrderType = "TRAILING_STOP_MARKET"
)

// OrderStatus is the exchange-reported lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// IsTerminal reports whether the status is one the order store stops
// waiting on: filled, canceled, rejected, or expired.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// TimeInForce for resting limit orders. GTC is the only value this agent uses.
type TimeInForce string

const TimeInForceGTC TimeInForce = "GTC"

// WorkingType selects the trigger reference price for conditional orders.
type WorkingType string

const (
	WorkingTypeMark     WorkingType = "MARK_PRICE"
	WorkingTypeContract WorkingType = "CONTRACT_PRICE"
)

// MarginMode is the account's margining scheme for a symbol.
type MarginMode string

const (
	MarginIsolated MarginMode = "ISOLATED"
	MarginCross    MarginMode = "CROSSED"
)

// Direction is the advisor's trade call. Flat means "no position desired".
type Direction string

const (
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
	DirectionFlat  Direction = "flat"
)

// ValidDirection reports whether d is one of the three accepted decisions.
func ValidDirection(d Direction) bool {
	switch d {
	case DirectionLong, DirectionShort, DirectionFlat:
		return true
	default:
		return false
	}
}

// TriggerMode selects the reference price a stop-loss watches.
type TriggerMode string

const (
	TriggerOnMark TriggerMode = "mark"
	TriggerOnLast TriggerMode = "last"
)

// ————————————————————————————————————————————————————————————————————————
// Symbol metadata
// ————————————————————————————————————————————————————————————————————————

// SymbolFilter holds the per-symbol precision and sizing rules used to snap
// prices and quantities before an order is submitted.
type SymbolFilter struct {
	Symbol         string
	PricePrecision int
	QtyPrecision   int
	TickSize       decimal.Decimal
	StepSize       decimal.Decimal
	MinNotional    decimal.Decimal
	MinOrderQty    decimal.Decimal
}

// ————————————————————————————————————————————————————————————————————————
// Market snapshot
// ————————————————————————————————————————————————————————————————————————

// Candle is one OHLCV bar, closed or still forming.
type Candle struct {
	OpenTime    time.Time
	CloseTime   time.Time
	Open        decimal.Decimal
	High        decimal.Decimal
	Low         decimal.Decimal
	Close       decimal.Decimal
	Volume      decimal.Decimal
	QuoteVolume decimal.Decimal
	Closed      bool
}

// Stats24h mirrors the exchange's rolling 24-hour ticker statistics.
type Stats24h struct {
	LastPrice      decimal.Decimal
	PriceChangePct decimal.Decimal
	HighPrice      decimal.Decimal
	LowPrice       decimal.Decimal
	Volume         decimal.Decimal
	QuoteVolume    decimal.Decimal
}

// VenueConstraints carries venue-level trading restrictions the cycle must
// honor: forbidden time-of-day windows, the configured cooldown, and the
// maximum number of outstanding orders.
type VenueConstraints struct {
	ForbiddenWindowsUTC []string // "HH:MM-HH:MM" spans, UTC
	CooldownMinutes     int
	MaxOrders           int
}

// MarketSnapshot is the composite record assembled fresh each cycle and
// handed to the advisor. It is never persisted.
type MarketSnapshot struct {
	Symbol          string
	GeneratedAt     time.Time
	MarkPrice       decimal.Decimal
	LastPrice       decimal.Decimal
	IndexPrice      decimal.Decimal
	FundingRate     decimal.Decimal
	NextFundingTime time.Time
	OpenInterest    decimal.Decimal
	Stats24h        Stats24h
	BestBid         decimal.Decimal
	BestAsk         decimal.Decimal
	BidQty          decimal.Decimal
	AskQty          decimal.Decimal
	DepthImbalance  float64 // (bidQty-askQty)/(bidQty+askQty), in [-1,1]
	RecentCandles   []Candle
	Indicators      map[string]float64
	Constraints     VenueConstraints
}

// ————————————————————————————————————————————————————————————————————————
// Advice — the advisor's opaque structured decision
// ————————————————————————————————————————————————————————————————————————

// EntrySize expresses the requested position size either in contracts or
// in quote-currency notional; exactly one should be set.
type EntrySize struct {
	Contracts  *decimal.Decimal
	QuoteValue *decimal.Decimal
}

// EntryDirective describes how to open the new position.
type EntryDirective struct {
	OrderType OrderType // market or limit
	Price     *decimal.Decimal
	Size      EntrySize
	Leverage  *int
}

// StopLoss is an optional protective stop attached to the entry.
type StopLoss struct {
	TriggerOn TriggerMode
	Price     decimal.Decimal
}

// TakeProfit is one partial-exit target; Percentage is of filled quantity.
type TakeProfit struct {
	Price      decimal.Decimal
	Percentage float64 // (0,100]
}

// TrailingStop activates once price reaches ActivatePrice, then trails by
// CallbackPct.
type TrailingStop struct {
	ActivatePrice decimal.Decimal
	CallbackPct   float64
}

// Advice is the external advisor's full decision for one cycle. Rationale,
// Notes, and Timeframe are free-form commentary carried through to the AI
// history log; they play no part in execution and are never validated.
type Advice struct {
	Decision    Direction
	Confidence  float64
	Entry       EntryDirective
	StopLoss    *StopLoss
	TakeProfits []TakeProfit
	Trailing    *TrailingStop

	Rationale string
	Notes     string
	Timeframe string
}

// ————————————————————————————————————————————————————————————————————————
// Position
// ————————————————————————————————————————————————————————————————————————

// Position is the account's current holding in one symbol for one side.
// LiquidationPrice is nil when the venue reports "not applicable" — the
// source's 0.0 sentinel is normalized away at the exchange-client boundary.
type Position struct {
	Symbol           string
	Side             PositionSide
	Quantity         decimal.Decimal
	EntryPrice       decimal.Decimal
	UnrealizedPnL    decimal.Decimal
	LiquidationPrice *decimal.Decimal
	BreakEvenPrice   decimal.Decimal
	MarginMode       MarginMode
	Leverage         int
}

// IsFlat reports whether the position carries no quantity.
func (p Position) IsFlat() bool {
	return p.Quantity.IsZero()
}

// ————————————————————————————————————————————————————————————————————————
// Order requests / responses
// ————————————————————————————————————————————————————————————————————————

// OrderRequest is the high-level order the cycle asks the exchange client
// to place. The client translates it into the venue's wire format.
type OrderRequest struct {
	Symbol        string
	Side          Side
	PositionSide  PositionSide // PositionNone in one-way mode
	Type          OrderType
	Price         decimal.Decimal // zero for market orders
	StopPrice     decimal.Decimal // zero unless Type is a conditional order
	Quantity      decimal.Decimal
	ReduceOnly    bool
	ClosePosition bool
	WorkingType   WorkingType // only meaningful for conditional orders
	TimeInForce   TimeInForce
	ClientOrderID string
}

// OrderAck is the exchange's immediate response to a placed order.
type OrderAck struct {
	OrderID       int64
	ClientOrderID string
	Status        OrderStatus
}

// OpenOrder describes one currently-resting order, as returned by a
// list-open-orders style call.
type OpenOrder struct {
	OrderID       int64
	Symbol        string
	Side          Side
	PositionSide  PositionSide
	Type          OrderType
	ReduceOnly    bool
	ClosePosition bool
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	Status        OrderStatus
}

// ————————————————————————————————————————————————————————————————————————
// Wire-level WebSocket event payloads
// ————————————————————————————————————————————————————————————————————————
// These map to the exchange's raw JSON frames. Frames may arrive wrapped
// {"stream": "...", "data": {...}} or flat {"e": "...", ...}; the stream
// subscriber unwraps both shapes before dispatch.

// MarkPriceEvent is a "markPriceUpdate" frame.
type MarkPriceEvent struct {
	EventType       string `json:"e"`
	EventTime       int64  `json:"E"`
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
}

// KlineData is the nested "k" object of a "kline" frame.
type KlineData struct {
	OpenTime    int64  `json:"t"`
	CloseTime   int64  `json:"T"`
	Symbol      string `json:"s"`
	Interval    string `json:"i"`
	Open        string `json:"o"`
	Close       string `json:"c"`
	High        string `json:"h"`
	Low         string `json:"l"`
	Volume      string `json:"v"`
	QuoteVolume string `json:"q"`
	IsClosed    bool   `json:"x"`
}

// KlineEvent is a "kline" frame.
type KlineEvent struct {
	EventType string    `json:"e"`
	EventTime int64     `json:"E"`
	Symbol    string    `json:"s"`
	Kline     KlineData `json:"k"`
}

// OrderUpdateData is the nested "o" object of an "ORDER_TRADE_UPDATE" frame.
// Field names mirror the venue's single-letter keys so the order store can
// merge straight off the wire without an intermediate translation table.
type OrderUpdateData struct {
	Symbol        string `json:"s"`
	ClientOrderID string `json:"c"`
	Side          string `json:"S"`
	OrderType     string `json:"ot"`
	TimeInForce   string `json:"f"`
	Quantity      string `json:"q"`
	Price         string `json:"p"`
	StopPrice     string `json:"sp"`
	Status        string `json:"X"`
	OrderID       int64  `json:"i"`
	LastFillQty   string `json:"l"`
	ExecutedQty   string `json:"z"`
	LastFillPrice string `json:"L"`
	ReduceOnly    bool   `json:"R"`
	WorkingType   string `json:"wt"`
	AvgPrice      string `json:"ap"`
	PositionSide  string `json:"ps"`
	ClosePosition bool   `json:"cp"`
}

// OrderTradeUpdateEvent is the "ORDER_TRADE_UPDATE" user-data-stream frame.
type OrderTradeUpdateEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	TradeTime int64           `json:"T"`
	Order     OrderUpdateData `json:"o"`
}

// StreamEnvelope is the combined-stream wrapper's outer shape. The WS
// subscriber in internal/exchange decodes this shape with its own local
// struct rather than this type.
type StreamEnvelope struct {
	Stream string `json:"stream"`
}
