package exchange

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"perp-trader/pkg/types"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// LiveClient is the real REST client for the exchange's futures API. Every
// request except the listen-key calls is rate-limited via per-category
// TokenBuckets; all requests are retried on 5xx errors; trading endpoints
// are signed with Auth's HMAC-SHA256 scheme.
type LiveClient struct {
	http   *resty.Client
	auth   *Auth
	rl     *RateLimiter
	logger *slog.Logger
}

// NewLiveClient creates a REST client against baseURL.
func NewLiveClient(baseURL string, auth *Auth, logger *slog.Logger) *LiveClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetRetryCount(3).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500
		})

	return &LiveClient{
		http:   httpClient,
		auth:   auth,
		rl:     NewRateLimiter(),
		logger: logger.With("component", "exchange_rest"),
	}
}

// signedQuery appends timestamp + recvWindow to params and returns the
// query string with a trailing signature parameter, per Auth's scheme.
func (c *LiveClient) signedQuery(params url.Values) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	raw := params.Encode()
	sig := c.auth.Sign(raw)
	return raw + "&signature=" + sig
}

func (c *LiveClient) signedRequest(ctx context.Context, params url.Values) *resty.Request {
	return c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", c.auth.APIKey()).
		SetQueryString(c.signedQuery(params))
}

func checkStatus(op string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), resp.String())
	}
	return nil
}

type exchangeInfoResponse struct {
	Symbols []struct {
		Symbol        string `json:"symbol"`
		PricePrecision int   `json:"pricePrecision"`
		QtyPrecision   int   `json:"quantityPrecision"`
		Filters        []struct {
			FilterType  string `json:"filterType"`
			TickSize    string `json:"tickSize"`
			StepSize    string `json:"stepSize"`
			MinQty      string `json:"minQty"`
			Notional    string `json:"notional"`
		} `json:"filters"`
	} `json:"symbols"`
}

// ExchangeInfo fetches per-symbol precision, tick/step size, and minimum notional.
func (c *LiveClient) ExchangeInfo(ctx context.Context, symbol string) (types.SymbolFilter, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return types.SymbolFilter{}, err
	}

	var result exchangeInfoResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&result).Get("/fapi/v1/exchangeInfo")
	if err := checkStatus("exchangeInfo", resp, err); err != nil {
		return types.SymbolFilter{}, err
	}

	for _, s := range result.Symbols {
		if s.Symbol != symbol {
			continue
		}
		filter := types.SymbolFilter{
			Symbol:         symbol,
			PricePrecision: s.PricePrecision,
			QtyPrecision:   s.QtyPrecision,
		}
		for _, f := range s.Filters {
			switch f.FilterType {
			case "PRICE_FILTER":
				filter.TickSize = parseDecimalOrZero(f.TickSize)
			case "LOT_SIZE":
				filter.StepSize = parseDecimalOrZero(f.StepSize)
				filter.MinOrderQty = parseDecimalOrZero(f.MinQty)
			case "MIN_NOTIONAL":
				filter.MinNotional = parseDecimalOrZero(f.Notional)
			}
		}
		return filter, nil
	}
	return types.SymbolFilter{}, fmt.Errorf("exchangeInfo: symbol %s not found", symbol)
}

func parseDecimalOrZero(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// PositionMode reports whether the account is in hedge mode.
func (c *LiveClient) PositionMode(ctx context.Context) (bool, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return false, err
	}
	var result struct {
		DualSidePosition bool `json:"dualSidePosition"`
	}
	resp, err := c.signedRequest(ctx, nil).SetResult(&result).Get("/fapi/v1/positionSide/dual")
	if err := checkStatus("positionMode", resp, err); err != nil {
		return false, err
	}
	return result.DualSidePosition, nil
}

// Account fetches wallet balance and hedge-mode flag.
func (c *LiveClient) Account(ctx context.Context) (AccountInfo, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return AccountInfo{}, err
	}
	var result struct {
		TotalWalletBalance string `json:"totalWalletBalance"`
		AvailableBalance   string `json:"availableBalance"`
	}
	resp, err := c.signedRequest(ctx, nil).SetResult(&result).Get("/fapi/v2/account")
	if err := checkStatus("account", resp, err); err != nil {
		return AccountInfo{}, err
	}
	hedge, err := c.PositionMode(ctx)
	if err != nil {
		c.logger.Warn("position mode lookup failed", "error", err)
	}
	return AccountInfo{
		TotalWalletBalance: parseDecimalOrZero(result.TotalWalletBalance),
		AvailableBalance:   parseDecimalOrZero(result.AvailableBalance),
		HedgeMode:          hedge,
	}, nil
}

type positionInfoEntry struct {
	Symbol           string `json:"symbol"`
	PositionSide     string `json:"positionSide"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	LiquidationPrice string `json:"liquidationPrice"`
	BreakEvenPrice   string `json:"breakEvenPrice"`
	MarginType       string `json:"marginType"`
	Leverage         string `json:"leverage"`
}

// PositionInformation returns open positions for symbol. liquidationPrice
// "0.0" is normalized away to a nil/absent value rather than carried as a
// sentinel, per the normalization decided in the source's open questions.
func (c *LiveClient) PositionInformation(ctx context.Context, symbol string) ([]types.Position, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{"symbol": {symbol}}
	var result []positionInfoEntry
	resp, err := c.signedRequest(ctx, params).SetResult(&result).Get("/fapi/v2/positionRisk")
	if err := checkStatus("positionInformation", resp, err); err != nil {
		return nil, err
	}

	positions := make([]types.Position, 0, len(result))
	for _, e := range result {
		qty := parseDecimalOrZero(e.PositionAmt).Abs()
		side := types.PositionLong
		if parseDecimalOrZero(e.PositionAmt).IsNegative() {
			side = types.PositionShort
		}
		if e.PositionSide != "" && e.PositionSide != "BOTH" {
			side = types.PositionSide(e.PositionSide)
		}

		leverage, _ := strconv.Atoi(e.Leverage)
		margin := types.MarginIsolated
		if e.MarginType == "cross" {
			margin = types.MarginCross
		}

		var liq *decimal.Decimal
		if liqVal := parseDecimalOrZero(e.LiquidationPrice); !liqVal.IsZero() {
			liq = &liqVal
		}

		positions = append(positions, types.Position{
			Symbol:           e.Symbol,
			Side:             side,
			Quantity:         qty,
			EntryPrice:       parseDecimalOrZero(e.EntryPrice),
			UnrealizedPnL:    parseDecimalOrZero(e.UnRealizedProfit),
			LiquidationPrice: liq,
			BreakEvenPrice:   parseDecimalOrZero(e.BreakEvenPrice),
			MarginMode:       margin,
			Leverage:         leverage,
		})
	}
	return positions, nil
}

type openOrderEntry struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	PositionSide  string `json:"positionSide"`
	Type          string `json:"type"`
	ReduceOnly    bool   `json:"reduceOnly"`
	ClosePosition bool   `json:"closePosition"`
	Price         string `json:"price"`
	StopPrice     string `json:"stopPrice"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
}

// OpenOrders returns all currently-resting orders for symbol.
func (c *LiveClient) OpenOrders(ctx context.Context, symbol string) ([]types.OpenOrder, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return nil, err
	}
	params := url.Values{"symbol": {symbol}}
	var result []openOrderEntry
	resp, err := c.signedRequest(ctx, params).SetResult(&result).Get("/fapi/v1/openOrders")
	if err := checkStatus("openOrders", resp, err); err != nil {
		return nil, err
	}

	orders := make([]types.OpenOrder, 0, len(result))
	for _, e := range result {
		orders = append(orders, types.OpenOrder{
			OrderID:       e.OrderID,
			Symbol:        e.Symbol,
			Side:          types.Side(e.Side),
			PositionSide:  types.PositionSide(e.PositionSide),
			Type:          types.OrderType(e.Type),
			ReduceOnly:    e.ReduceOnly,
			ClosePosition: e.ClosePosition,
			Price:         parseDecimalOrZero(e.Price),
			StopPrice:     parseDecimalOrZero(e.StopPrice),
			Quantity:      parseDecimalOrZero(e.OrigQty),
			ExecutedQty:   parseDecimalOrZero(e.ExecutedQty),
			Status:        types.OrderStatus(e.Status),
		})
	}
	return orders, nil
}

// CreateOrder places one order.
func (c *LiveClient) CreateOrder(ctx context.Context, req types.OrderRequest) (types.OrderAck, error) {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return types.OrderAck{}, err
	}

	params := url.Values{
		"symbol":   {req.Symbol},
		"side":     {string(req.Side)},
		"type":     {string(req.Type)},
		"quantity": {req.Quantity.String()},
	}
	if req.PositionSide != "" && req.PositionSide != types.PositionNone {
		params.Set("positionSide", string(req.PositionSide))
	}
	if !req.Price.IsZero() {
		params.Set("price", req.Price.String())
		params.Set("timeInForce", string(req.TimeInForce))
	}
	if !req.StopPrice.IsZero() {
		params.Set("stopPrice", req.StopPrice.String())
	}
	if req.ReduceOnly {
		params.Set("reduceOnly", "true")
	}
	if req.ClosePosition {
		params.Set("closePosition", "true")
	}
	if req.WorkingType != "" {
		params.Set("workingType", string(req.WorkingType))
	}
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}

	var result struct {
		OrderID       int64  `json:"orderId"`
		ClientOrderID string `json:"clientOrderId"`
		Status        string `json:"status"`
	}
	resp, err := c.signedRequest(ctx, params).SetResult(&result).Post("/fapi/v1/order")
	if err := checkStatus("createOrder", resp, err); err != nil {
		return types.OrderAck{}, err
	}
	return types.OrderAck{
		OrderID:       result.OrderID,
		ClientOrderID: result.ClientOrderID,
		Status:        types.OrderStatus(result.Status),
	}, nil
}

// CancelOrder cancels one order by exchange id.
func (c *LiveClient) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	if err := c.rl.Order.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{"symbol": {symbol}, "orderId": {strconv.FormatInt(orderID, 10)}}
	resp, err := c.signedRequest(ctx, params).Delete("/fapi/v1/order")
	return checkStatus("cancelOrder", resp, err)
}

// GetOrder fetches one order's current state via REST — used by the
// WebSocket-timeout fallback path.
func (c *LiveClient) GetOrder(ctx context.Context, symbol string, orderID int64) (types.OpenOrder, error) {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return types.OpenOrder{}, err
	}
	params := url.Values{"symbol": {symbol}, "orderId": {strconv.FormatInt(orderID, 10)}}
	var e openOrderEntry
	resp, err := c.signedRequest(ctx, params).SetResult(&e).Get("/fapi/v1/order")
	if err := checkStatus("getOrder", resp, err); err != nil {
		return types.OpenOrder{}, err
	}
	return types.OpenOrder{
		OrderID:       e.OrderID,
		Symbol:        e.Symbol,
		Side:          types.Side(e.Side),
		PositionSide:  types.PositionSide(e.PositionSide),
		Type:          types.OrderType(e.Type),
		ReduceOnly:    e.ReduceOnly,
		ClosePosition: e.ClosePosition,
		Price:         parseDecimalOrZero(e.Price),
		StopPrice:     parseDecimalOrZero(e.StopPrice),
		Quantity:      parseDecimalOrZero(e.OrigQty),
		ExecutedQty:   parseDecimalOrZero(e.ExecutedQty),
		Status:        types.OrderStatus(e.Status),
	}, nil
}

// ChangeLeverage requests a new leverage tier for symbol.
func (c *LiveClient) ChangeLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.rl.Account.Wait(ctx); err != nil {
		return err
	}
	params := url.Values{"symbol": {symbol}, "leverage": {strconv.Itoa(leverage)}}
	resp, err := c.signedRequest(ctx, params).Post("/fapi/v1/leverage")
	return checkStatus("changeLeverage", resp, err)
}

// MarkPrice fetches the current mark price for symbol.
func (c *LiveClient) MarkPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	var result struct {
		MarkPrice string `json:"markPrice"`
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&result).Get("/fapi/v1/premiumIndex")
	if err := checkStatus("markPrice", resp, err); err != nil {
		return decimal.Decimal{}, err
	}
	return parseDecimalOrZero(result.MarkPrice), nil
}

// PremiumIndex fetches mark/index price and the current funding rate.
func (c *LiveClient) PremiumIndex(ctx context.Context, symbol string) (PremiumIndexInfo, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return PremiumIndexInfo{}, err
	}
	var result struct {
		MarkPrice       string `json:"markPrice"`
		IndexPrice      string `json:"indexPrice"`
		LastFundingRate string `json:"lastFundingRate"`
		NextFundingTime int64  `json:"nextFundingTime"`
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&result).Get("/fapi/v1/premiumIndex")
	if err := checkStatus("premiumIndex", resp, err); err != nil {
		return PremiumIndexInfo{}, err
	}
	return PremiumIndexInfo{
		MarkPrice:       parseDecimalOrZero(result.MarkPrice),
		IndexPrice:      parseDecimalOrZero(result.IndexPrice),
		FundingRate:     parseDecimalOrZero(result.LastFundingRate),
		NextFundingTime: time.UnixMilli(result.NextFundingTime),
	}, nil
}

// FundingRate returns the current funding rate for symbol.
func (c *LiveClient) FundingRate(ctx context.Context, symbol string) (decimal.Decimal, error) {
	info, err := c.PremiumIndex(ctx, symbol)
	if err != nil {
		return decimal.Decimal{}, err
	}
	return info.FundingRate, nil
}

// OpenInterest returns the current open interest for symbol.
func (c *LiveClient) OpenInterest(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return decimal.Decimal{}, err
	}
	var result struct {
		OpenInterest string `json:"openInterest"`
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&result).Get("/fapi/v1/openInterest")
	if err := checkStatus("openInterest", resp, err); err != nil {
		return decimal.Decimal{}, err
	}
	return parseDecimalOrZero(result.OpenInterest), nil
}

// OpenInterestHist returns the open-interest history series for symbol.
func (c *LiveClient) OpenInterestHist(ctx context.Context, symbol, period string, limit int) ([]OpenInterestPoint, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}
	var result []struct {
		SumOpenInterest string `json:"sumOpenInterest"`
		Timestamp       int64  `json:"timestamp"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "period": period, "limit": strconv.Itoa(limit)}).
		SetResult(&result).Get("/futures/data/openInterestHist")
	if err := checkStatus("openInterestHist", resp, err); err != nil {
		return nil, err
	}
	points := make([]OpenInterestPoint, 0, len(result))
	for _, e := range result {
		points = append(points, OpenInterestPoint{
			Timestamp:    time.UnixMilli(e.Timestamp),
			OpenInterest: parseDecimalOrZero(e.SumOpenInterest),
		})
	}
	return points, nil
}

// GlobalLongShortAccountRatio returns the global long/short account ratio series.
func (c *LiveClient) GlobalLongShortAccountRatio(ctx context.Context, symbol, period string, limit int) ([]LongShortRatioPoint, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}
	var result []struct {
		LongAccount  string `json:"longAccount"`
		ShortAccount string `json:"shortAccount"`
		Timestamp    int64  `json:"timestamp"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "period": period, "limit": strconv.Itoa(limit)}).
		SetResult(&result).Get("/futures/data/globalLongShortAccountRatio")
	if err := checkStatus("globalLongShortAccountRatio", resp, err); err != nil {
		return nil, err
	}
	points := make([]LongShortRatioPoint, 0, len(result))
	for _, e := range result {
		points = append(points, LongShortRatioPoint{
			Timestamp:  time.UnixMilli(e.Timestamp),
			LongRatio:  parseDecimalOrZero(e.LongAccount),
			ShortRatio: parseDecimalOrZero(e.ShortAccount),
		})
	}
	return points, nil
}

// OrderBook fetches an L2 order book snapshot, up to limit levels per side.
func (c *LiveClient) OrderBook(ctx context.Context, symbol string, limit int) (OrderBookSnapshot, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return OrderBookSnapshot{}, err
	}
	var result struct {
		Bids [][2]string `json:"bids"`
		Asks [][2]string `json:"asks"`
	}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "limit": strconv.Itoa(limit)}).
		SetResult(&result).Get("/fapi/v1/depth")
	if err := checkStatus("orderBook", resp, err); err != nil {
		return OrderBookSnapshot{}, err
	}

	toLevels := func(raw [][2]string) []OrderBookLevel {
		levels := make([]OrderBookLevel, 0, len(raw))
		for _, lvl := range raw {
			levels = append(levels, OrderBookLevel{Price: parseDecimalOrZero(lvl[0]), Qty: parseDecimalOrZero(lvl[1])})
		}
		return levels
	}

	return OrderBookSnapshot{
		Symbol:    symbol,
		Bids:      toLevels(result.Bids),
		Asks:      toLevels(result.Asks),
		Timestamp: time.Now(),
	}, nil
}

// Klines fetches up to limit recent candles for symbol at the given interval.
func (c *LiveClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]types.Candle, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return nil, err
	}
	var raw [][]interface{}
	resp, err := c.http.R().SetContext(ctx).
		SetQueryParams(map[string]string{"symbol": symbol, "interval": interval, "limit": strconv.Itoa(limit)}).
		SetResult(&raw).Get("/fapi/v1/klines")
	if err := checkStatus("klines", resp, err); err != nil {
		return nil, err
	}

	candles := make([]types.Candle, 0, len(raw))
	for _, row := range raw {
		if len(row) < 11 {
			continue
		}
		candles = append(candles, types.Candle{
			OpenTime:    unmarshalMillis(row[0]),
			CloseTime:   unmarshalMillis(row[6]),
			Open:        parseDecimalOrZero(fmt.Sprint(row[1])),
			High:        parseDecimalOrZero(fmt.Sprint(row[2])),
			Low:         parseDecimalOrZero(fmt.Sprint(row[3])),
			Close:       parseDecimalOrZero(fmt.Sprint(row[4])),
			Volume:      parseDecimalOrZero(fmt.Sprint(row[5])),
			QuoteVolume: parseDecimalOrZero(fmt.Sprint(row[7])),
			Closed:      true,
		})
	}
	return candles, nil
}

func unmarshalMillis(v interface{}) time.Time {
	f, ok := v.(float64)
	if !ok {
		return time.Time{}
	}
	return time.UnixMilli(int64(f))
}

// Ticker24hr fetches the rolling 24h ticker statistics for symbol.
func (c *LiveClient) Ticker24hr(ctx context.Context, symbol string) (types.Stats24h, error) {
	if err := c.rl.Market.Wait(ctx); err != nil {
		return types.Stats24h{}, err
	}
	var result struct {
		LastPrice          string `json:"lastPrice"`
		PriceChangePercent string `json:"priceChangePercent"`
		HighPrice          string `json:"highPrice"`
		LowPrice           string `json:"lowPrice"`
		Volume             string `json:"volume"`
		QuoteVolume        string `json:"quoteVolume"`
	}
	resp, err := c.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&result).Get("/fapi/v1/ticker/24hr")
	if err := checkStatus("ticker24hr", resp, err); err != nil {
		return types.Stats24h{}, err
	}
	return types.Stats24h{
		LastPrice:      parseDecimalOrZero(result.LastPrice),
		PriceChangePct: parseDecimalOrZero(result.PriceChangePercent),
		HighPrice:      parseDecimalOrZero(result.HighPrice),
		LowPrice:       parseDecimalOrZero(result.LowPrice),
		Volume:         parseDecimalOrZero(result.Volume),
		QuoteVolume:    parseDecimalOrZero(result.QuoteVolume),
	}, nil
}

// CreateListenKey creates a new user-data-stream listen key.
func (c *LiveClient) CreateListenKey(ctx context.Context) (string, error) {
	var result struct {
		ListenKey string `json:"listenKey"`
	}
	resp, err := c.http.R().SetContext(ctx).SetHeader("X-API-KEY", c.auth.APIKey()).SetResult(&result).Post("/fapi/v1/listenKey")
	if err := checkStatus("createListenKey", resp, err); err != nil {
		return "", err
	}
	return result.ListenKey, nil
}

// KeepAliveListenKey extends a listen key's validity.
func (c *LiveClient) KeepAliveListenKey(ctx context.Context, listenKey string) error {
	resp, err := c.http.R().SetContext(ctx).SetHeader("X-API-KEY", c.auth.APIKey()).Put("/fapi/v1/listenKey")
	return checkStatus("keepAliveListenKey", resp, err)
}

// CloseListenKey closes a listen key.
func (c *LiveClient) CloseListenKey(ctx context.Context, listenKey string) error {
	resp, err := c.http.R().SetContext(ctx).SetHeader("X-API-KEY", c.auth.APIKey()).Delete("/fapi/v1/listenKey")
	return checkStatus("closeListenKey", resp, err)
}

var _ Client = (*LiveClient)(nil)
