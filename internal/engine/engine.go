// Package engine is the central orchestrator of the trading agent.
//
// It wires together every subsystem: the Stream Cache fed by two WebSocket
// feeds (public mark/kline, private order updates), the listen-key keepalive
// worker, the trigger loop, and the Order Store — then runs until the
// process is asked to stop.
//
// Lifecycle: New() -> Start() -> [runs until ctx cancelled] -> Stop()
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"perp-trader/internal/advisor"
	"perp-trader/internal/cache"
	"perp-trader/internal/config"
	"perp-trader/internal/cycle"
	"perp-trader/internal/detector"
	"perp-trader/internal/exchange"
	"perp-trader/internal/orderstore"
	"perp-trader/internal/status"
	"perp-trader/internal/trigger"
	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// listenKeyRenewInterval matches the venue's listen-key expiry window with
// generous headroom (keys expire at 60 minutes; renewing every 45 keeps a
// single missed tick from expiring the stream).
const listenKeyRenewInterval = 45 * time.Minute

// Engine owns the lifecycle of every background goroutine: the public market
// and private user-data WebSocket feeds, the listen-key keepalive worker,
// and the trigger loop that invokes the trading cycle.
type Engine struct {
	cfg    config.Config
	client exchange.Client
	logger *slog.Logger

	cache     *cache.Cache
	store     *orderstore.Store
	publisher *status.Publisher
	trigger   *trigger.Engine

	mktFeed   *exchange.WSFeed
	usrFeed   *exchange.WSFeed
	listenKey string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires every collaborator for one symbol: the trading cycle, trigger
// engine, and status publisher. client and store are constructed by the
// caller, since a paper client's synthesized order events feed directly
// into the same store a live client's user-data stream would populate.
func New(cfg config.Config, client exchange.Client, store *orderstore.Store, logger *slog.Logger) (*Engine, error) {
	logger = logger.With("component", "engine")

	pub, err := status.New(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open status publisher: %w", err)
	}
	pub.SetService(status.ServiceSection{
		Status: "starting", StartedAt: time.Now().UnixMilli(), Env: cfg.Env, Symbol: cfg.Symbol,
	})

	c := cache.New(cfg.Symbol)
	adv := advisor.New(cfg.Advisor.BaseURL, cfg.Advisor.Timeout)

	det := detector.New(cfg.Symbol, detector.Config{
		MPWindow:       time.Duration(cfg.Detector.MPWindowSec) * time.Second,
		MPDeltaPct:     cfg.Detector.MPDeltaPct,
		KlineRangePct:  cfg.Detector.KlineRangePct,
		VolLookback:    cfg.Detector.VolLookback,
		VolMult:        cfg.Detector.VolMult,
		UseQuoteVolume: cfg.Detector.UseQuoteVolume,
	})

	trd := cycle.New(cycle.Config{
		Symbol:              cfg.Symbol,
		ConfThreshold:       cfg.Advisor.ConfThreshold,
		ForbiddenWindowsUTC: cfg.Risk.ForbiddenWindowsUTC,
		DryRun:              cfg.DryRun,
	}, client, adv, store, c, pub, logger)

	trig := trigger.New(trigger.Config{
		Mode:          trigger.Mode(cfg.Loop.Trigger),
		IntervalSec:   cfg.Loop.IntervalSec,
		CooldownSec:   cfg.Loop.CooldownSec,
		BackoffMaxSec: cfg.Loop.BackoffMaxSec,
		StatPeriod:    cfg.Loop.StatPeriod,
	}, cfg.Symbol, det, trd.Run, logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &Engine{
		cfg:       cfg,
		client:    client,
		logger:    logger,
		cache:     c,
		store:     store,
		publisher: pub,
		trigger:   trig,
		ctx:       ctx,
		cancel:    cancel,
	}, nil
}

// Start launches the stream feeds (if enabled), the listen-key keepalive
// worker, and the trigger loop, each in its own goroutine.
func (e *Engine) Start() error {
	if e.cfg.Stream.WSEnable && e.cfg.Stream.WSPriceEnable {
		e.mktFeed = exchange.NewPublicFeed(e.cfg.API.WSBaseURL, []string{
			streamName(e.cfg.Symbol, "markPrice@1s"),
			streamName(e.cfg.Symbol, "kline_1m"),
		}, e.logger)

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			if err := e.mktFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
				e.logger.Error("market feed stopped", "error", err)
			}
		}()

		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.dispatchMarketEvents()
		}()
	}

	// The paper client synthesizes order events synchronously inside
	// CreateOrder/CancelOrder; there is no real user-data socket to open.
	if e.cfg.Env == "live" && e.cfg.Stream.WSEnable && e.cfg.Stream.WSUserEnable {
		if err := e.startUserStream(); err != nil {
			e.logger.Error("user stream not started", "error", err)
		}
	}

	if e.cfg.Loop.Enable {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			e.trigger.Run(e.ctx)
		}()
	}

	e.publisher.SetService(status.ServiceSection{
		Status: "running", StartedAt: time.Now().UnixMilli(), Env: e.cfg.Env, Symbol: e.cfg.Symbol,
	})
	return nil
}

// startUserStream creates a listen key, opens the private order-update
// feed, and starts the renewal worker that keeps the key alive.
func (e *Engine) startUserStream() error {
	key, err := e.client.CreateListenKey(e.ctx)
	if err != nil {
		return fmt.Errorf("create listen key: %w", err)
	}
	e.listenKey = key
	e.usrFeed = exchange.NewUserFeed(e.cfg.API.WSBaseURL, key, e.logger)

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if err := e.usrFeed.Run(e.ctx); err != nil && e.ctx.Err() == nil {
			e.logger.Error("user feed stopped", "error", err)
		}
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.dispatchOrderEvents()
	}()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		exchange.KeepaliveLoop(e.ctx, e.client, e.listenKey, listenKeyRenewInterval, func(err error) {
			e.logger.Error("listen key renewal failed", "error", err)
		})
	}()

	return nil
}

// dispatchMarketEvents feeds mark-price and kline events from the public
// WebSocket feed into the Stream Cache and the trigger loop.
func (e *Engine) dispatchMarketEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.mktFeed.MarkPriceEvents():
			if !ok {
				return
			}
			if ev.Symbol != e.cfg.Symbol {
				continue
			}
			price, err := decimal.NewFromString(ev.MarkPrice)
			if err != nil {
				continue
			}
			ts := time.UnixMilli(ev.EventTime)
			e.cache.SetMarkPrice(price, ev.EventTime)
			e.trigger.Push(trigger.Event{Kind: trigger.EventMark, Symbol: ev.Symbol, MarkPrice: price, MarkTime: ts})
		case ev, ok := <-e.mktFeed.KlineEvents():
			if !ok {
				return
			}
			if ev.Symbol != e.cfg.Symbol {
				continue
			}
			candle := candleFromWire(ev.Kline)
			if candle.Closed {
				e.cache.SetClosedCandle(candle, ev.EventTime)
			}
			e.trigger.Push(trigger.Event{Kind: trigger.EventKline, Symbol: ev.Symbol, Candle: candle})
		}
	}
}

// dispatchOrderEvents feeds ORDER_TRADE_UPDATE frames from the private
// WebSocket feed into the Stream Cache and the Order Store.
func (e *Engine) dispatchOrderEvents() {
	for {
		select {
		case <-e.ctx.Done():
			return
		case ev, ok := <-e.usrFeed.OrderEvents():
			if !ok {
				return
			}
			e.cache.SetOrderEvent(ev.Order.OrderID, ev.Order, ev.EventTime)
			e.store.ApplyEvent(ev)
		}
	}
}

func candleFromWire(k types.KlineData) types.Candle {
	return types.Candle{
		OpenTime:    time.UnixMilli(k.OpenTime),
		CloseTime:   time.UnixMilli(k.CloseTime),
		Open:        parseDecimalOrZero(k.Open),
		High:        parseDecimalOrZero(k.High),
		Low:         parseDecimalOrZero(k.Low),
		Close:       parseDecimalOrZero(k.Close),
		Volume:      parseDecimalOrZero(k.Volume),
		QuoteVolume: parseDecimalOrZero(k.QuoteVolume),
		Closed:      k.IsClosed,
	}
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func streamName(symbol, suffix string) string {
	return fmt.Sprintf("%s@%s", strings.ToLower(symbol), suffix)
}

// Stop cancels every goroutine's context, waits for them to exit, and
// closes the WebSocket feeds and the listen key.
func (e *Engine) Stop() {
	e.logger.Info("shutting down")
	e.cancel()
	e.wg.Wait()

	if e.mktFeed != nil {
		e.mktFeed.Close()
	}
	if e.usrFeed != nil {
		e.usrFeed.Close()
	}
	if e.listenKey != "" {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer closeCancel()
		if err := e.client.CloseListenKey(closeCtx, e.listenKey); err != nil {
			e.logger.Error("failed to close listen key", "error", err)
		}
	}

	e.publisher.SetService(status.ServiceSection{
		Status: "stopped", StartedAt: time.Now().UnixMilli(), Env: e.cfg.Env, Symbol: e.cfg.Symbol,
	})
}
