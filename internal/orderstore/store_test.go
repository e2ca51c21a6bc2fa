package orderstore

import (
	"testing"
	"time"

	"perp-trader/pkg/types"
)

func TestRegisterIsIdempotent(t *testing.T) {
	t.Parallel()

	s := New()
	first := s.Register("ETHUSDT", 1, types.BUY, types.PositionNone, RegisterParams{})
	second := s.Register("ETHUSDT", 1, types.Side("SELL"), types.PositionLong, RegisterParams{})

	if first != second {
		t.Fatalf("Register(1, ...) twice returned different trackers")
	}
	if second.Side != first.Side {
		t.Errorf("second register call must not overwrite the existing tracker's fields")
	}
}

func TestApplyEventCreatesTrackerOnDemand(t *testing.T) {
	t.Parallel()

	s := New()
	s.ApplyEvent(types.OrderTradeUpdateEvent{
		EventType: "ORDER_TRADE_UPDATE",
		Order: types.OrderUpdateData{
			Symbol:  "ETHUSDT",
			OrderID: 42,
			Status:  "NEW",
		},
	})

	tr, ok := s.Get(42)
	if !ok {
		t.Fatalf("expected tracker 42 to exist after an event for an unregistered order")
	}
	if tr.Status != types.OrderStatusNew {
		t.Errorf("Status = %q, want NEW", tr.Status)
	}
}

func TestApplyEventSignalsOnTerminal(t *testing.T) {
	t.Parallel()

	s := New()
	s.Register("ETHUSDT", 5, types.Side("BUY"), types.PositionNone, RegisterParams{})

	done := make(chan Tracker, 1)
	go func() {
		snap, ok := s.Wait(5, 2*time.Second)
		if ok {
			done <- snap
		}
	}()

	time.Sleep(20 * time.Millisecond)
	s.ApplyEvent(types.OrderTradeUpdateEvent{
		Order: types.OrderUpdateData{
			Symbol:      "ETHUSDT",
			OrderID:     5,
			Status:      "FILLED",
			ExecutedQty: "0.1",
		},
	})

	select {
	case snap := <-done:
		if snap.Status != types.OrderStatusFilled {
			t.Errorf("Status = %q, want FILLED", snap.Status)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Wait did not return after terminal event")
	}
}

func TestApplyEventIdempotentOnTerminalEvents(t *testing.T) {
	t.Parallel()

	s := New()
	event := types.OrderTradeUpdateEvent{
		Order: types.OrderUpdateData{
			Symbol:      "ETHUSDT",
			OrderID:     9,
			Status:      "FILLED",
			ExecutedQty: "1.5",
			AvgPrice:    "3000.5",
		},
	}
	s.ApplyEvent(event)
	first, _ := s.Get(9)
	snap1 := first.Snapshot()

	s.ApplyEvent(event)
	second, _ := s.Get(9)
	snap2 := second.Snapshot()

	if !snap1.ExecutedQty.Equal(snap2.ExecutedQty) || snap1.Status != snap2.Status {
		t.Errorf("applying the same terminal event twice changed tracker state")
	}
}

func TestWaitTimesOutWhenOrderNeverRegistered(t *testing.T) {
	t.Parallel()

	s := New()
	_, ok := s.Wait(999, 120*time.Millisecond)
	if ok {
		t.Errorf("Wait on a never-registered order should time out")
	}
}

func TestWaitPollsForLateRegistration(t *testing.T) {
	t.Parallel()

	s := New()
	go func() {
		time.Sleep(80 * time.Millisecond)
		s.Register("ETHUSDT", 11, types.Side("BUY"), types.PositionNone, RegisterParams{})
		s.ApplyEvent(types.OrderTradeUpdateEvent{
			Order: types.OrderUpdateData{Symbol: "ETHUSDT", OrderID: 11, Status: "CANCELED"},
		})
	}()

	snap, ok := s.Wait(11, 2*time.Second)
	if !ok {
		t.Fatalf("Wait should observe the late-registered order reaching terminal")
	}
	if snap.Status != types.OrderStatusCanceled {
		t.Errorf("Status = %q, want CANCELED", snap.Status)
	}
}
