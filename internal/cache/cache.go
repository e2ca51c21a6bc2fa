// Package cache holds the thread-safe Stream Cache: the latest mark price,
// the last closed candle, and the last-seen event for every order id the
// agent has touched. It is fed by the exchange WebSocket subscriber and read
// once per trading cycle.
package cache

import (
	"sync"
	"time"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// Snapshot is a consistent point-in-time, independently-mutable copy of the
// cache's state, returned by Cache.Snapshot.
type Snapshot struct {
	Symbol        string
	MarkPrice     decimal.Decimal
	HasMarkPrice  bool
	MarkPriceTime time.Time
	LastCandle    types.Candle
	HasLastCandle bool
	OrderEvents   map[int64]types.OrderUpdateData
}

// Primed reports whether the snapshot carries enough state for a cycle to
// run: at least one mark price and one closed candle.
func (s Snapshot) Primed() bool {
	return s.HasMarkPrice && s.HasLastCandle && !s.MarkPriceTime.IsZero()
}

// Cache is the thread-safe, process-lifetime market-data cache for one
// symbol. All mutators and the snapshot accessor serialize through a single
// mutex; per-stream event times are tracked so that out-of-order frames for
// older timestamps are dropped rather than applied.
type Cache struct {
	mu sync.Mutex

	symbol string

	markPrice     decimal.Decimal
	hasMarkPrice  bool
	markEventTime int64 // ms, last applied

	lastCandle      types.Candle
	hasLastCandle   bool
	candleEventTime int64 // ms, last applied

	orderEvents    map[int64]types.OrderUpdateData
	orderEventTime map[int64]int64 // ms, last applied per order id
}

// New creates an empty Stream Cache for the given symbol.
func New(symbol string) *Cache {
	return &Cache{
		symbol:         symbol,
		orderEvents:    make(map[int64]types.OrderUpdateData),
		orderEventTime: make(map[int64]int64),
	}
}

// SetMarkPrice records a mark-price update. Returns false without applying
// the update if eventTimeMs is not newer than the last applied mark event —
// the out-of-order-drop rule from the cache's monotonicity invariant.
func (c *Cache) SetMarkPrice(price decimal.Decimal, eventTimeMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasMarkPrice && eventTimeMs <= c.markEventTime {
		return false
	}
	c.markPrice = price
	c.hasMarkPrice = true
	c.markEventTime = eventTimeMs
	return true
}

// SetClosedCandle records the most recently closed 1-minute candle. Only
// closed candles should be passed; callers filter on Candle.Closed before
// calling. Out-of-order frames are dropped the same way as mark prices.
func (c *Cache) SetClosedCandle(candle types.Candle, eventTimeMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.hasLastCandle && eventTimeMs <= c.candleEventTime {
		return false
	}
	c.lastCandle = candle
	c.hasLastCandle = true
	c.candleEventTime = eventTimeMs
	return true
}

// SetOrderEvent records the latest user-data event seen for an order id.
func (c *Cache) SetOrderEvent(orderID int64, ev types.OrderUpdateData, eventTimeMs int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if last, ok := c.orderEventTime[orderID]; ok && eventTimeMs <= last {
		return false
	}
	c.orderEvents[orderID] = ev
	c.orderEventTime[orderID] = eventTimeMs
	return true
}

// MarkPriceAge returns how long ago the last applied mark-price event time
// was, and false if no mark price has been applied yet.
func (c *Cache) MarkPriceAge() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.hasMarkPrice {
		return 0, false
	}
	return time.Since(time.UnixMilli(c.markEventTime)), true
}

// Snapshot returns a consistent shallow copy of the cache. Mutating the
// returned value (or a later snapshot) never affects any other snapshot.
func (c *Cache) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	events := make(map[int64]types.OrderUpdateData, len(c.orderEvents))
	for id, ev := range c.orderEvents {
		events[id] = ev
	}

	snap := Snapshot{
		Symbol:       c.symbol,
		MarkPrice:    c.markPrice,
		HasMarkPrice: c.hasMarkPrice,
		LastCandle:   c.lastCandle,
		HasLastCandle: c.hasLastCandle,
		OrderEvents:  events,
	}
	if c.hasMarkPrice {
		snap.MarkPriceTime = time.UnixMilli(c.markEventTime)
	}
	return snap
}
