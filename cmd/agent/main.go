// Command agent runs the automated perpetual-futures trading agent.
//
// Lifecycle: load config -> build exchange client (paper or live) -> wire
// the engine -> start -> wait for SIGINT/SIGTERM -> stop.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"perp-trader/internal/config"
	"perp-trader/internal/engine"
	"perp-trader/internal/exchange"
	"perp-trader/internal/orderstore"

	"github.com/shopspring/decimal"
)

// startingPaperBalance seeds the in-memory paper account; real money never
// changes hands in this mode.
const startingPaperBalance = "10000"

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("TRADER_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(newHandler(cfg.Logging))

	store := orderstore.New()
	client := newExchangeClient(*cfg, store, logger)

	eng, err := engine.New(*cfg, client, store, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("trading agent started",
		"env", cfg.Env, "symbol", cfg.Symbol, "trigger", cfg.Loop.Trigger, "dry_run", cfg.DryRun)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
}

// newExchangeClient builds the Live client for env=live or the in-memory
// Paper client for env=paper. The paper client's synthesized order events
// are wired straight into the Order Store, matching what the live user-data
// WebSocket feed would otherwise deliver.
func newExchangeClient(cfg config.Config, store *orderstore.Store, logger *slog.Logger) exchange.Client {
	if cfg.Env == "live" {
		auth := exchange.NewAuth(cfg.API.ApiKey, cfg.API.Secret)
		return exchange.NewLiveClient(cfg.API.RESTBaseURL, auth, logger)
	}

	live := exchange.NewLiveClient(cfg.API.RESTBaseURL, exchange.NewAuth("", ""), logger)
	balance, _ := decimal.NewFromString(startingPaperBalance)
	return exchange.NewPaperClient(live, balance, store.ApplyEvent)
}

func newHandler(cfg config.LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	if cfg.Format == "json" {
		return slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.NewTextHandler(os.Stdout, opts)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
