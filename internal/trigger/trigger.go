// Package trigger implements the single-threaded scheduler that decides
// when to invoke one trading cycle. It owns the bounded event channel fed
// by the stream subscriber and is the loop's sole invoker of the cycle.
package trigger

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"perp-trader/internal/detector"
	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// Mode selects which of the three scheduling strategies the loop runs.
type Mode string

const (
	ModeTimer Mode = "timer"
	ModeKline Mode = "kline"
	ModeEvent Mode = "event"
)

// eventQueueSize is the bounded channel capacity from spec.md's resource
// model (~4000): large enough that a burst of mark ticks never blocks the
// WS callback, small enough that a stuck trigger loop is noticed quickly.
const eventQueueSize = 4000

// EventKind is the closed set of stream events the trigger loop reacts to.
type EventKind int

const (
	EventMark EventKind = iota
	EventKline
)

// Event is one item pushed onto the bounded channel by the stream subscriber.
type Event struct {
	Kind      EventKind
	Symbol    string
	MarkPrice decimal.Decimal
	MarkTime  time.Time
	Candle    types.Candle
}

// RunCycleFunc invokes one trading cycle. Returning an error applies the
// loop's backoff policy; a nil error resets backoff and updates last-run.
type RunCycleFunc func(ctx context.Context) error

// Config carries the loop-pacing settings relevant to the trigger engine.
type Config struct {
	Mode          Mode
	IntervalSec   int
	CooldownSec   int
	BackoffMaxSec int
	StatPeriod    time.Duration
}

// Engine is the trigger loop: exactly one instance per running agent.
type Engine struct {
	cfg      Config
	symbol   string
	detector *detector.Detector
	runCycle RunCycleFunc
	logger   *slog.Logger

	events  chan Event
	dropped atomic.Int64
	marks   atomic.Int64
	klines  atomic.Int64

	lastRun time.Time
	backoff time.Duration
}

// New creates a trigger Engine. det may be nil unless cfg.Mode is ModeEvent.
func New(cfg Config, symbol string, det *detector.Detector, runCycle RunCycleFunc, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:      cfg,
		symbol:   symbol,
		detector: det,
		runCycle: runCycle,
		logger:   logger.With("component", "trigger"),
		events:   make(chan Event, eventQueueSize),
	}
}

// Push enqueues an event from the stream subscriber. Non-blocking: on a full
// queue the event is dropped and a counter incremented, matching the
// back-pressure policy — losing one mark tick or kline never compromises a
// later cycle's correctness.
func (e *Engine) Push(evt Event) {
	switch evt.Kind {
	case EventMark:
		e.marks.Add(1)
	case EventKline:
		e.klines.Add(1)
	}

	select {
	case e.events <- evt:
	default:
		e.dropped.Add(1)
		e.logger.Warn("event queue full, dropping event", "kind", evt.Kind)
	}
}

// Run blocks until ctx is cancelled, dispatching to the configured mode.
func (e *Engine) Run(ctx context.Context) {
	switch e.cfg.Mode {
	case ModeTimer:
		e.runTimer(ctx)
	case ModeKline:
		e.runDrain(ctx, e.handleKlineModeEvent)
	case ModeEvent:
		e.runDrain(ctx, e.handleVolatilityModeEvent)
	default:
		e.logger.Error("unknown trigger mode, loop not started", "mode", e.cfg.Mode)
	}
}

func (e *Engine) runTimer(ctx context.Context) {
	interval := time.Duration(e.cfg.IntervalSec) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.fireCycle(ctx, true)
		}
	}
}

func (e *Engine) runDrain(ctx context.Context, handler func(context.Context, Event)) {
	var statTicker *time.Ticker
	var statC <-chan time.Time
	if e.cfg.Mode == ModeEvent && e.cfg.StatPeriod > 0 {
		statTicker = time.NewTicker(e.cfg.StatPeriod)
		statC = statTicker.C
		defer statTicker.Stop()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-e.events:
			handler(ctx, evt)
		case <-statC:
			e.reportStats()
		}
	}
}

func (e *Engine) handleKlineModeEvent(ctx context.Context, evt Event) {
	if evt.Kind != EventKline || evt.Symbol != e.symbol || !evt.Candle.Closed {
		return
	}
	e.fireCycle(ctx, false)
}

func (e *Engine) handleVolatilityModeEvent(ctx context.Context, evt Event) {
	if e.detector == nil {
		return
	}

	switch evt.Kind {
	case EventMark:
		if evt.Symbol != e.symbol {
			return
		}
		verdict := e.detector.EvaluateMark(evt.MarkPrice, evt.MarkTime)
		e.logger.Debug("mark verdict", "fire", verdict.Fire, "reason", verdict.Reason, "delta_pct", verdict.DeltaPct)
		if verdict.Fire {
			e.fireCycle(ctx, false)
		}
	case EventKline:
		if evt.Symbol != e.symbol {
			return
		}
		verdict := e.detector.EvaluateCandle(evt.Candle)
		e.logger.Debug("candle verdict", "fire", verdict.Fire, "reason", verdict.Reason, "range_pct", verdict.RangePct)
		if verdict.Fire {
			e.fireCycle(ctx, false)
		}
	}
}

func (e *Engine) reportStats() {
	mark := e.marks.Swap(0)
	kline := e.klines.Swap(0)
	e.logger.Info("trigger stats", "mark", mark, "kline", kline, "queue_depth", len(e.events), "dropped", e.dropped.Load())
}

// fireCycle enforces cooldown (timer mode's cooldown is implicit in its
// interval) and invokes the cycle, applying the error/backoff policy.
func (e *Engine) fireCycle(ctx context.Context, implicitCooldown bool) {
	cooldown := time.Duration(e.cfg.CooldownSec) * time.Second
	if !implicitCooldown && !e.lastRun.IsZero() && time.Since(e.lastRun) < cooldown {
		return
	}

	if err := e.runCycle(ctx); err != nil {
		e.logger.Error("cycle failed", "error", err)
		e.backoffSleep(ctx)
		return
	}

	e.lastRun = time.Now()
	e.backoff = time.Second
}

// backoffSleep sleeps the current backoff duration (starting at 1s, doubled
// up to backoff_max_sec on each consecutive failure, reset to 1s by
// fireCycle after a successful cycle), interruptible by ctx cancellation.
func (e *Engine) backoffSleep(ctx context.Context) {
	if e.backoff == 0 {
		e.backoff = time.Second
	}

	select {
	case <-ctx.Done():
	case <-time.After(e.backoff):
	}

	e.backoff *= 2
	max := time.Duration(e.cfg.BackoffMaxSec) * time.Second
	if e.backoff > max {
		e.backoff = max
	}
}
