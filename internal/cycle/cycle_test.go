package cycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perp-trader/internal/advisor"
	"perp-trader/internal/cache"
	"perp-trader/internal/exchange"
	"perp-trader/internal/orderstore"
	"perp-trader/internal/status"
	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// stubExchange is a minimal in-memory exchange.Client test double. Market
// data and account reads return fixed values; CreateOrder acknowledges every
// order as FILLED with the next sequential id, and GetOrder reports FILLED.
type stubExchange struct {
	filter    types.SymbolFilter
	hedge     bool
	positions []types.Position
	openOrds  []types.OpenOrder
	markPrice decimal.Decimal
	nextID    int64
}

func newStubExchange() *stubExchange {
	return &stubExchange{
		filter:    types.SymbolFilter{Symbol: "ETHUSDT", TickSize: decimal.NewFromFloat(0.01), StepSize: decimal.NewFromFloat(0.001)},
		markPrice: decimal.NewFromInt(3000),
		nextID:    1,
	}
}

func (s *stubExchange) ExchangeInfo(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	return s.filter, nil
}
func (s *stubExchange) PositionMode(ctx context.Context) (bool, error) { return s.hedge, nil }
func (s *stubExchange) Account(ctx context.Context) (exchange.AccountInfo, error) {
	return exchange.AccountInfo{TotalWalletBalance: decimal.NewFromInt(10000), AvailableBalance: decimal.NewFromInt(10000), HedgeMode: s.hedge}, nil
}
func (s *stubExchange) PositionInformation(ctx context.Context, symbol string) ([]types.Position, error) {
	return s.positions, nil
}
func (s *stubExchange) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	return s.openOrds, nil
}
func (s *stubExchange) CreateOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	s.nextID++
	return types.OrderAck{OrderID: s.nextID, ClientOrderID: req.ClientOrderID, Status: types.OrderStatusFilled}, nil
}
func (s *stubExchange) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	return nil
}
func (s *stubExchange) GetOrder(ctx context.Context, symbol string, orderID int64) (types.OpenOrder, error) {
	return types.OpenOrder{OrderID: orderID, Status: types.OrderStatusFilled}, nil
}
func (s *stubExchange) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	return nil
}
func (s *stubExchange) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return s.markPrice, nil
}
func (s *stubExchange) PremiumIndex(ctx context.Context, symbol string) (exchange.PremiumIndexInfo, error) {
	return exchange.PremiumIndexInfo{MarkPrice: s.markPrice, IndexPrice: s.markPrice}, nil
}
func (s *stubExchange) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}
func (s *stubExchange) OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return decimal.NewFromInt(1000), nil
}
func (s *stubExchange) OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]exchange.OpenInterestPoint, error) {
	return nil, nil
}
func (s *stubExchange) GlobalLongShortAccountRatio(ctx context.Context, symbol, period string, limit int) ([]exchange.LongShortRatioPoint, error) {
	return nil, nil
}
func (s *stubExchange) OrderBook(ctx context.Context, symbol string, limit int) (exchange.OrderBookSnapshot, error) {
	return exchange.OrderBookSnapshot{
		Symbol: symbol,
		Bids:   []exchange.OrderBookLevel{{Price: decimal.NewFromInt(2999), Qty: decimal.NewFromInt(5)}},
		Asks:   []exchange.OrderBookLevel{{Price: decimal.NewFromInt(3001), Qty: decimal.NewFromInt(5)}},
	}, nil
}
func (s *stubExchange) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	return []types.Candle{{Closed: true}}, nil
}
func (s *stubExchange) Ticker24hr(ctx context.Context, symbol string) (types.Stats24h, error) {
	return types.Stats24h{}, nil
}
func (s *stubExchange) CreateListenKey(ctx context.Context) (string, error) { return "k", nil }
func (s *stubExchange) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	return nil
}
func (s *stubExchange) CloseListenKey(ctx context.Context, listenKey string) error { return nil }

var _ exchange.Client = (*stubExchange)(nil)

func primedCache(symbol string) *cache.Cache {
	c := cache.New(symbol)
	c.SetMarkPrice(decimal.NewFromInt(3000), 1)
	c.SetClosedCandle(types.Candle{Closed: true}, 1)
	return c
}

func mustPublisher(t *testing.T) *status.Publisher {
	t.Helper()
	pub, err := status.New(t.TempDir())
	if err != nil {
		t.Fatalf("status.New: %v", err)
	}
	return pub
}

func TestRunOnceSkipsWhenCacheNotPrimed(t *testing.T) {
	cyc := New(Config{Symbol: "ETHUSDT", ConfThreshold: 0.5}, newStubExchange(), advisor.New("http://127.0.0.1:0", time.Second), orderstore.New(), cache.New("ETHUSDT"), mustPublisher(t), discardLogger())

	result, err := cyc.runOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != statusSkipped || result.Reason != "ws_priming" {
		t.Fatalf("got %+v, want skipped/ws_priming", result)
	}
}

func TestIsForbiddenWindowMatchesUTCSpan(t *testing.T) {
	cyc := &Cycle{cfg: Config{ForbiddenWindowsUTC: []string{"00:00-00:30", "23:45-23:59"}}}

	inside := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	outside := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	if !cyc.isForbiddenWindow(inside) {
		t.Errorf("expected %v to fall inside a forbidden window", inside)
	}
	if cyc.isForbiddenWindow(outside) {
		t.Errorf("expected %v to fall outside every forbidden window", outside)
	}
}

func TestSnapRoundsToNearestIncrement(t *testing.T) {
	got := snap(decimal.NewFromFloat(100.017), decimal.NewFromFloat(0.01))
	want := decimal.NewFromFloat(100.02)
	if !got.Equal(want) {
		t.Errorf("snap(100.017, 0.01) = %s, want %s", got, want)
	}
}

func TestResolveQuantityPrefersContracts(t *testing.T) {
	contracts := decimal.NewFromInt(2)
	quote := decimal.NewFromInt(1000)
	size := types.EntrySize{Contracts: &contracts, QuoteValue: &quote}

	got := resolveQuantity(size, decimal.NewFromInt(500))
	if !got.Equal(contracts) {
		t.Errorf("resolveQuantity = %s, want contracts value %s", got, contracts)
	}
}

func TestResolveQuantityFallsBackToQuoteValue(t *testing.T) {
	quote := decimal.NewFromInt(1000)
	size := types.EntrySize{QuoteValue: &quote}

	got := resolveQuantity(size, decimal.NewFromInt(500))
	want := decimal.NewFromInt(2)
	if !got.Equal(want) {
		t.Errorf("resolveQuantity = %s, want %s", got, want)
	}
}

func TestSplitExistingQtySeparatesSameAndOpposite(t *testing.T) {
	positions := []types.Position{
		{Side: types.PositionLong, Quantity: decimal.NewFromInt(3)},
		{Side: types.PositionShort, Quantity: decimal.NewFromInt(1)},
	}
	same, opp := splitExistingQty(positions, types.PositionLong, false)
	if !same.Equal(decimal.NewFromInt(3)) || !opp.Equal(decimal.NewFromInt(1)) {
		t.Errorf("same=%s opp=%s, want same=3 opp=1", same, opp)
	}
}

func TestRunOnceInvalidDecisionFromAdvisor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"decision": "sideways", "confidence": 0.9})
	}))
	defer srv.Close()

	cyc := New(Config{Symbol: "ETHUSDT", ConfThreshold: 0.5}, newStubExchange(), advisor.New(srv.URL, time.Second), orderstore.New(), primedCache("ETHUSDT"), mustPublisher(t), discardLogger())

	result, err := cyc.runOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != statusInvalid || result.Reason != "invalid_decision" {
		t.Fatalf("got %+v, want invalid/invalid_decision", result)
	}
}

func TestRunOnceLowConfidenceSkips(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"decision": "long", "confidence": 0.1})
	}))
	defer srv.Close()

	cyc := New(Config{Symbol: "ETHUSDT", ConfThreshold: 0.5}, newStubExchange(), advisor.New(srv.URL, time.Second), orderstore.New(), primedCache("ETHUSDT"), mustPublisher(t), discardLogger())

	result, err := cyc.runOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != statusSkipped || result.Reason != "low_confidence" {
		t.Fatalf("got %+v, want skipped/low_confidence", result)
	}
}

func TestRunOnceFlatDecisionClosesPosition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"decision": "flat", "confidence": 0.9})
	}))
	defer srv.Close()

	ex := newStubExchange()
	ex.positions = []types.Position{{Symbol: "ETHUSDT", Side: types.PositionLong, Quantity: decimal.NewFromInt(1)}}

	cfg := Config{Symbol: "ETHUSDT", ConfThreshold: 0.5, ExitWSTimeout: 10 * time.Millisecond, ExitRESTTimeout: 10 * time.Millisecond}
	cyc := New(cfg, ex, advisor.New(srv.URL, time.Second), orderstore.New(), primedCache("ETHUSDT"), mustPublisher(t), discardLogger())

	result, err := cyc.runOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != statusFlat {
		t.Fatalf("got %+v, want flat", result)
	}
	if ex.nextID != 2 {
		t.Errorf("expected exactly one close order to be submitted, stub order id counter = %d", ex.nextID)
	}
}

func TestRunOnceZeroQuantityEntryIsInvalid(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"decision":   "long",
			"confidence": 0.9,
			"position": map[string]any{
				"size":  map[string]any{},
				"entry": map[string]any{"order_type": "market"},
			},
		})
	}))
	defer srv.Close()

	cyc := New(Config{Symbol: "ETHUSDT", ConfThreshold: 0.5}, newStubExchange(), advisor.New(srv.URL, time.Second), orderstore.New(), primedCache("ETHUSDT"), mustPublisher(t), discardLogger())

	result, err := cyc.runOnce(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Status != statusInvalid || result.Reason != "zero_quantity" {
		t.Fatalf("got %+v, want invalid/zero_quantity", result)
	}
}
