package trigger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"perp-trader/internal/detector"

	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestTimerModeFiresOnEachTick(t *testing.T) {
	var runs atomic.Int64
	eng := New(Config{Mode: ModeTimer, IntervalSec: 0, CooldownSec: 0, BackoffMaxSec: 4}, "ETHUSDT", nil, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, discardLogger())
	// IntervalSec 0 would create a zero-duration ticker, which panics; use a
	// directly-invoked fireCycle instead to test the cooldown-free timer path.
	eng.fireCycle(context.Background(), true)
	eng.fireCycle(context.Background(), true)
	if got := runs.Load(); got != 2 {
		t.Fatalf("expected 2 runs with implicit cooldown, got %d", got)
	}
}

func TestNonTimerModeEnforcesCooldown(t *testing.T) {
	var runs atomic.Int64
	eng := New(Config{Mode: ModeKline, CooldownSec: 10}, "ETHUSDT", nil, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, discardLogger())

	eng.fireCycle(context.Background(), false)
	eng.fireCycle(context.Background(), false)
	if got := runs.Load(); got != 1 {
		t.Fatalf("expected second fire to be suppressed by cooldown, got %d runs", got)
	}
}

func TestFireCycleBacksOffOnError(t *testing.T) {
	var attempts atomic.Int64
	eng := New(Config{Mode: ModeKline, CooldownSec: 0, BackoffMaxSec: 4}, "ETHUSDT", nil, func(ctx context.Context) error {
		attempts.Add(1)
		return context.DeadlineExceeded
	}, discardLogger())

	start := time.Now()
	eng.fireCycle(context.Background(), false)
	if elapsed := time.Since(start); elapsed < time.Second {
		t.Fatalf("expected first failure to sleep ~1s, elapsed %v", elapsed)
	}
	if eng.backoff != 2*time.Second {
		t.Fatalf("expected backoff doubled to 2s, got %v", eng.backoff)
	}
}

func TestFireCycleResetsBackoffOnSuccess(t *testing.T) {
	eng := New(Config{Mode: ModeKline, CooldownSec: 0, BackoffMaxSec: 4}, "ETHUSDT", nil, func(ctx context.Context) error {
		return nil
	}, discardLogger())
	eng.backoff = 4 * time.Second

	eng.fireCycle(context.Background(), false)
	if eng.backoff != time.Second {
		t.Fatalf("expected backoff reset to 1s after success, got %v", eng.backoff)
	}
}

func TestPushDropsOnFullQueue(t *testing.T) {
	eng := New(Config{Mode: ModeEvent}, "ETHUSDT", detector.New("ETHUSDT", detector.Config{}), func(ctx context.Context) error { return nil }, discardLogger())
	eng.events = make(chan Event, 1)

	eng.Push(Event{Kind: EventMark, Symbol: "ETHUSDT", MarkPrice: decimal.NewFromInt(100)})
	eng.Push(Event{Kind: EventMark, Symbol: "ETHUSDT", MarkPrice: decimal.NewFromInt(101)})

	if eng.dropped.Load() != 1 {
		t.Fatalf("expected one dropped event, got %d", eng.dropped.Load())
	}
}

func TestVolatilityEventModeFiresOnDetectorSpike(t *testing.T) {
	var runs atomic.Int64
	det := detector.New("ETHUSDT", detector.Config{MPWindow: time.Minute, MPDeltaPct: 1.0})
	eng := New(Config{Mode: ModeEvent, CooldownSec: 0}, "ETHUSDT", det, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, discardLogger())

	now := time.Now()
	eng.handleVolatilityModeEvent(context.Background(), Event{Kind: EventMark, Symbol: "ETHUSDT", MarkPrice: decimal.NewFromInt(100), MarkTime: now})
	eng.handleVolatilityModeEvent(context.Background(), Event{Kind: EventMark, Symbol: "ETHUSDT", MarkPrice: decimal.NewFromInt(110), MarkTime: now.Add(time.Second)})

	if runs.Load() != 1 {
		t.Fatalf("expected one cycle run on spike, got %d", runs.Load())
	}
}

func TestVolatilityEventModeIgnoresOtherSymbol(t *testing.T) {
	var runs atomic.Int64
	det := detector.New("ETHUSDT", detector.Config{MPWindow: time.Minute, MPDeltaPct: 1.0})
	eng := New(Config{Mode: ModeEvent, CooldownSec: 0}, "ETHUSDT", det, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}, discardLogger())

	eng.handleVolatilityModeEvent(context.Background(), Event{Kind: EventMark, Symbol: "BTCUSDT", MarkPrice: decimal.NewFromInt(100), MarkTime: time.Now()})
	if runs.Load() != 0 {
		t.Fatalf("expected no cycle run for unrelated symbol, got %d", runs.Load())
	}
}
