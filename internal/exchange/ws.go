// ws.go implements the exchange's WebSocket feeds for real-time data.
//
// Two independent feeds run concurrently:
//
//   - Public feed: a combined-stream connection carrying markPriceUpdate
//     and kline frames, wrapped in {"stream": "...", "data": {...}}.
//
//   - User feed: the authenticated listen-key connection carrying flat
//     {"e": "ORDER_TRADE_UPDATE", ...} frames.
//
// Both feeds auto-reconnect with exponential backoff (1s -> 30s max). A read
// deadline (90s) ensures a silent server is detected within ~2 missed pings;
// the venue's own ping control frames are answered automatically by
// gorilla/websocket's default pong handler, so there is no client-initiated
// keepalive message to send on this connection (unlike the listen key's
// separate REST keepalive, see KeepaliveLoop).
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"perp-trader/pkg/types"
)

const (
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	eventBufferSize  = 256
)

// WSFeed manages a single WebSocket connection (public market data or the
// authenticated user-data stream). It is a concrete type, not a Client
// implementation — the engine talks to it directly the way the source talks
// to its own market/user feeds, rather than through an interface.
type WSFeed struct {
	url    string
	connMu sync.Mutex
	conn   *websocket.Conn

	markPriceCh chan types.MarkPriceEvent
	klineCh     chan types.KlineEvent
	orderCh     chan types.OrderTradeUpdateEvent

	logger *slog.Logger
}

// NewPublicFeed creates a feed against the combined-stream endpoint carrying
// mark-price and kline updates for the given stream names.
func NewPublicFeed(wsBaseURL string, streams []string, logger *slog.Logger) *WSFeed {
	url := wsBaseURL + "/stream?streams=" + joinStreams(streams)
	return &WSFeed{
		url:         url,
		markPriceCh: make(chan types.MarkPriceEvent, eventBufferSize),
		klineCh:     make(chan types.KlineEvent, eventBufferSize),
		orderCh:     make(chan types.OrderTradeUpdateEvent, eventBufferSize),
		logger:      logger.With("component", "ws_public"),
	}
}

// NewUserFeed creates a feed against the authenticated listen-key endpoint
// carrying order-trade-update events.
func NewUserFeed(wsBaseURL, listenKey string, logger *slog.Logger) *WSFeed {
	return &WSFeed{
		url:         wsBaseURL + "/ws/" + listenKey,
		markPriceCh: make(chan types.MarkPriceEvent, eventBufferSize),
		klineCh:     make(chan types.KlineEvent, eventBufferSize),
		orderCh:     make(chan types.OrderTradeUpdateEvent, eventBufferSize),
		logger:      logger.With("component", "ws_user"),
	}
}

func joinStreams(streams []string) string {
	out := ""
	for i, s := range streams {
		if i > 0 {
			out += "/"
		}
		out += s
	}
	return out
}

// MarkPriceEvents returns a read-only channel of mark-price updates.
func (f *WSFeed) MarkPriceEvents() <-chan types.MarkPriceEvent { return f.markPriceCh }

// KlineEvents returns a read-only channel of kline updates.
func (f *WSFeed) KlineEvents() <-chan types.KlineEvent { return f.klineCh }

// OrderEvents returns a read-only channel of order-trade-update events.
func (f *WSFeed) OrderEvents() <-chan types.OrderTradeUpdateEvent { return f.orderCh }

// Run connects and maintains the WebSocket connection with auto-reconnect.
// Blocks until ctx is cancelled.
func (f *WSFeed) Run(ctx context.Context) error {
	backoff := time.Second

	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		f.logger.Warn("websocket disconnected, reconnecting", "error", err, "backoff", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}

		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

// Close gracefully closes the connection.
func (f *WSFeed) Close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

func (f *WSFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()

	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		return nil
	})

	f.logger.Info("websocket connected")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		f.dispatchMessage(msg)
	}
}

// dispatchMessage unwraps the combined-stream envelope if present, then
// peeks at the event type to route to the matching typed channel.
func (f *WSFeed) dispatchMessage(data []byte) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Stream != "" {
		data = envelope.Data
	}

	var peek struct {
		EventType string `json:"e"`
	}
	if err := json.Unmarshal(data, &peek); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}

	switch peek.EventType {
	case "markPriceUpdate":
		var evt types.MarkPriceEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal markPriceUpdate event", "error", err)
			return
		}
		select {
		case f.markPriceCh <- evt:
		default:
			f.logger.Warn("mark price channel full, dropping event", "symbol", evt.Symbol)
		}

	case "kline":
		var evt types.KlineEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal kline event", "error", err)
			return
		}
		select {
		case f.klineCh <- evt:
		default:
			f.logger.Warn("kline channel full, dropping event", "symbol", evt.Symbol)
		}

	case "ORDER_TRADE_UPDATE":
		var evt types.OrderTradeUpdateEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			f.logger.Error("unmarshal ORDER_TRADE_UPDATE event", "error", err)
			return
		}
		select {
		case f.orderCh <- evt:
		default:
			f.logger.Warn("order channel full, dropping event", "order_id", evt.Order.OrderID)
		}

	case "listenKeyExpired", "ACCOUNT_UPDATE":
		f.logger.Debug("ignoring event", "type", peek.EventType)

	default:
		f.logger.Debug("unknown ws event type", "type", peek.EventType)
	}
}

func (f *WSFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
