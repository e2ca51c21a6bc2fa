// Package orderstore tracks outgoing orders by exchange-assigned id, merges
// asynchronous trade-update events into per-order state, and lets the
// trading cycle block until an order reaches a terminal status.
package orderstore

import (
	"sync"
	"time"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// pollInterval is how often wait polls for late registration of a tracker
// that does not exist yet when the caller starts waiting.
const pollInterval = 50 * time.Millisecond

// Tracker is the mutable state for one order, keyed by exchange order id.
// Field merges are serialized through mu; the completion signal is a
// separate primitive closed exactly once, on first reaching a terminal
// status.
type Tracker struct {
	mu sync.Mutex

	Symbol        string
	OrderID       int64
	Side          types.Side
	PositionSide  types.PositionSide
	Status        types.OrderStatus
	OrderType     types.OrderType
	ReduceOnly    bool
	Price         decimal.Decimal
	StopPrice     decimal.Decimal
	Quantity      decimal.Decimal
	ExecutedQty   decimal.Decimal
	LastFillQty   decimal.Decimal
	AvgPrice      decimal.Decimal
	LastFillPrice decimal.Decimal
	UpdateTime    int64

	done      chan struct{}
	closeOnce sync.Once
}

func newTracker(symbol string, orderID int64) *Tracker {
	return &Tracker{
		Symbol:  symbol,
		OrderID: orderID,
		Status:  types.OrderStatusNew,
		done:    make(chan struct{}),
	}
}

// setTerminal closes the completion channel exactly once. Safe to call
// repeatedly — only the first call has any effect, which is what keeps
// applying the same terminal event twice from re-signaling waiters.
func (t *Tracker) setTerminal() {
	t.closeOnce.Do(func() { close(t.done) })
}

// Snapshot returns an independent copy of the tracker's current fields.
func (t *Tracker) Snapshot() Tracker {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := *t
	cp.done = nil
	return cp
}

// IsTerminal reports whether the tracker currently holds a terminal status.
func (t *Tracker) IsTerminal() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status.IsTerminal()
}

// RegisterParams carries the optional identity fields known at order
// placement time; zero values mean "unknown, fill in from events".
type RegisterParams struct {
	OrderType  types.OrderType
	Price      decimal.Decimal
	StopPrice  decimal.Decimal
	Quantity   decimal.Decimal
	ReduceOnly bool
}

// Store is a thread-safe id -> Tracker map. The store-wide lock protects
// only the map itself; field merges on an individual tracker go through
// that tracker's own lock.
type Store struct {
	mu     sync.Mutex
	orders map[int64]*Tracker
}

// New creates an empty Order Store.
func New() *Store {
	return &Store{orders: make(map[int64]*Tracker)}
}

// Register idempotently creates (or returns the existing) tracker for
// orderID. Called by the cycle immediately after submitting an order, or
// on-demand by ApplyEvent if the trade-update event arrives first.
func (s *Store) Register(symbol string, orderID int64, side types.Side, positionSide types.PositionSide, params RegisterParams) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.orders[orderID]; ok {
		return existing
	}

	t := newTracker(symbol, orderID)
	t.Side = side
	t.PositionSide = positionSide
	t.OrderType = params.OrderType
	t.Price = params.Price
	t.StopPrice = params.StopPrice
	t.Quantity = params.Quantity
	t.ReduceOnly = params.ReduceOnly
	s.orders[orderID] = t
	return t
}

// Get returns the tracker for orderID, or false if none is registered.
func (s *Store) Get(orderID int64) (*Tracker, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.orders[orderID]
	return t, ok
}

// getOrCreate returns the existing tracker for orderID, creating a bare one
// if the event raced ahead of local registration.
func (s *Store) getOrCreate(symbol string, orderID int64) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.orders[orderID]; ok {
		return t
	}
	t := newTracker(symbol, orderID)
	s.orders[orderID] = t
	return t
}

// ApplyEvent merges an ORDER_TRADE_UPDATE frame into the tracker for
// event.Order.OrderID, creating it on-demand if unseen. On reaching a
// terminal status, the tracker's completion signal is set.
func (s *Store) ApplyEvent(event types.OrderTradeUpdateEvent) {
	o := event.Order
	if o.OrderID == 0 {
		return
	}

	t := s.getOrCreate(o.Symbol, o.OrderID)

	t.mu.Lock()
	if o.Symbol != "" {
		t.Symbol = o.Symbol
	}
	if o.Status != "" {
		t.Status = types.OrderStatus(o.Status)
	}
	if o.Side != "" {
		t.Side = types.Side(o.Side)
	}
	if o.PositionSide != "" {
		t.PositionSide = types.PositionSide(o.PositionSide)
	}
	if o.OrderType != "" {
		t.OrderType = types.OrderType(o.OrderType)
	}
	t.ReduceOnly = o.ReduceOnly

	if d, ok := parseDecimal(o.Price); ok {
		t.Price = d
	}
	if d, ok := parseDecimal(o.StopPrice); ok {
		t.StopPrice = d
	}
	if d, ok := parseDecimal(o.Quantity); ok {
		t.Quantity = d
	}
	if d, ok := parseDecimal(o.ExecutedQty); ok {
		t.ExecutedQty = d
	}
	if d, ok := parseDecimal(o.LastFillQty); ok {
		t.LastFillQty = d
	}
	if d, ok := parseDecimal(o.LastFillPrice); ok {
		t.LastFillPrice = d
	}
	if d, ok := parseDecimal(o.AvgPrice); ok {
		t.AvgPrice = d
	}

	if event.EventTime != 0 {
		t.UpdateTime = event.EventTime
	} else if event.TradeTime != 0 {
		t.UpdateTime = event.TradeTime
	}

	terminal := t.Status.IsTerminal()
	t.mu.Unlock()

	if terminal {
		t.setTerminal()
	}
}

// Wait blocks until the tracker for orderID reaches a terminal status or
// timeout elapses, returning its final snapshot. If the tracker is not yet
// registered, Wait polls briefly for late registration (the event-before-
// register race) before giving up.
func (s *Store) Wait(orderID int64, timeout time.Duration) (Tracker, bool) {
	deadline := time.Now().Add(timeout)

	t, ok := s.Get(orderID)
	for !ok && time.Now().Before(deadline) {
		time.Sleep(pollInterval)
		t, ok = s.Get(orderID)
	}
	if !ok {
		return Tracker{}, false
	}

	remaining := time.Until(deadline)
	if remaining < 0 {
		remaining = 0
	}

	select {
	case <-t.done:
		return t.Snapshot(), true
	case <-time.After(remaining):
		return Tracker{}, false
	}
}

// ListOpen returns a snapshot of every tracker not yet in a terminal state.
func (s *Store) ListOpen() []Tracker {
	s.mu.Lock()
	trackers := make([]*Tracker, 0, len(s.orders))
	for _, t := range s.orders {
		trackers = append(trackers, t)
	}
	s.mu.Unlock()

	open := make([]Tracker, 0, len(trackers))
	for _, t := range trackers {
		if !t.IsTerminal() {
			open = append(open, t.Snapshot())
		}
	}
	return open
}

func parseDecimal(s string) (decimal.Decimal, bool) {
	if s == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
