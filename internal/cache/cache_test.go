package cache

import (
	"testing"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

func TestSetMarkPriceDropsOutOfOrder(t *testing.T) {
	t.Parallel()

	c := New("ETHUSDT")

	if !c.SetMarkPrice(decimal.NewFromInt(3000), 100) {
		t.Fatalf("first mark price update should apply")
	}
	if c.SetMarkPrice(decimal.NewFromInt(2900), 50) {
		t.Errorf("older mark price update should be dropped")
	}

	snap := c.Snapshot()
	if !snap.MarkPrice.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("MarkPrice = %s, want 3000 (stale update must not overwrite)", snap.MarkPrice)
	}

	if !c.SetMarkPrice(decimal.NewFromInt(3100), 200) {
		t.Errorf("newer mark price update should apply")
	}
	snap = c.Snapshot()
	if !snap.MarkPrice.Equal(decimal.NewFromInt(3100)) {
		t.Errorf("MarkPrice = %s, want 3100", snap.MarkPrice)
	}
}

func TestSnapshotPrimedRequiresMarkAndCandle(t *testing.T) {
	t.Parallel()

	c := New("ETHUSDT")
	if c.Snapshot().Primed() {
		t.Errorf("empty cache should not be primed")
	}

	c.SetMarkPrice(decimal.NewFromInt(3000), 100)
	if c.Snapshot().Primed() {
		t.Errorf("cache with only mark price should not be primed")
	}

	c.SetClosedCandle(types.Candle{Closed: true}, 100)
	if !c.Snapshot().Primed() {
		t.Errorf("cache with mark price and closed candle should be primed")
	}
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	c := New("ETHUSDT")
	c.SetOrderEvent(1, types.OrderUpdateData{Status: "NEW"}, 10)

	first := c.Snapshot()
	c.SetOrderEvent(1, types.OrderUpdateData{Status: "FILLED"}, 20)
	second := c.Snapshot()

	if first.OrderEvents[1].Status != "NEW" {
		t.Errorf("mutating cache after snapshot changed the earlier snapshot's data")
	}
	if second.OrderEvents[1].Status != "FILLED" {
		t.Errorf("second snapshot did not observe the later update")
	}
}

func TestSetOrderEventDropsOutOfOrder(t *testing.T) {
	t.Parallel()

	c := New("ETHUSDT")
	c.SetOrderEvent(7, types.OrderUpdateData{Status: "PARTIALLY_FILLED"}, 100)
	applied := c.SetOrderEvent(7, types.OrderUpdateData{Status: "NEW"}, 50)
	if applied {
		t.Errorf("older order event should be dropped")
	}

	snap := c.Snapshot()
	if snap.OrderEvents[7].Status != "PARTIALLY_FILLED" {
		t.Errorf("stale event overwrote newer state: got %q", snap.OrderEvents[7].Status)
	}
}
