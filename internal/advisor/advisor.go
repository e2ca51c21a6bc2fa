// Package advisor implements the REST client for the external reasoning
// service that turns a market snapshot into a trade decision.
//
// The advisor is free-form on the wire; this client validates only that the
// envelope parses as JSON with the fields the trading cycle requires, and
// leaves decision semantics (direction, confidence, sizing) to the caller.
package advisor

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"perp-trader/pkg/types"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
)

// Client is a single-operation REST client: advise(snapshot) -> advice.
type Client struct {
	http *resty.Client
}

// New creates an advisor client against baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(2).
			SetRetryWaitTime(300 * time.Millisecond).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				return r.StatusCode() >= 500
			}).
			SetHeader("Content-Type", "application/json"),
	}
}

type sizeWire struct {
	Contracts  *decimal.Decimal `json:"contracts,omitempty"`
	QuoteValue *decimal.Decimal `json:"quote_value,omitempty"`
}

type entryWire struct {
	OrderType string           `json:"order_type"`
	Price     *decimal.Decimal `json:"price,omitempty"`
	Leverage  *int             `json:"leverage,omitempty"`
}

type stopLossWire struct {
	Price     decimal.Decimal `json:"price"`
	TriggerOn string          `json:"trigger_on"`
}

type takeProfitWire struct {
	Price   decimal.Decimal `json:"price"`
	SizePct float64          `json:"size_pct"`
}

type trailingStopWire struct {
	ActivatePrice decimal.Decimal `json:"activate_price"`
	CallbackPct   float64         `json:"callback_pct"`
}

type positionWire struct {
	Size         sizeWire          `json:"size"`
	Entry        entryWire         `json:"entry"`
	StopLoss     *stopLossWire     `json:"stop_loss,omitempty"`
	TakeProfits  []takeProfitWire  `json:"take_profits,omitempty"`
	TrailingStop *trailingStopWire `json:"trailing_stop,omitempty"`
}

type adviceWire struct {
	Decision   string        `json:"decision"`
	Confidence float64       `json:"confidence"`
	Position   *positionWire `json:"position,omitempty"`
	Rationale  string        `json:"rationale,omitempty"`
	Notes      string        `json:"notes,omitempty"`
	Timeframe  string        `json:"timeframe,omitempty"`
}

// Advise submits snapshot and returns the advisor's parsed decision. Callers
// must still validate Decision against the closed {long, short, flat} set
// before acting on it — this client only guarantees the envelope parsed.
func (c *Client) Advise(ctx context.Context, snapshot types.MarketSnapshot) (types.Advice, error) {
	var wire adviceWire
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(snapshotRequest{Snapshot: snapshot}).
		SetResult(&wire).
		Post("/advise")
	if err != nil {
		return types.Advice{}, fmt.Errorf("advise: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return types.Advice{}, fmt.Errorf("advise: status %d: %s", resp.StatusCode(), resp.String())
	}

	advice := types.Advice{
		Decision:   types.Direction(wire.Decision),
		Confidence: wire.Confidence,
		Rationale:  truncate(wire.Rationale, 400),
		Notes:      truncate(wire.Notes, 300),
		Timeframe:  wire.Timeframe,
	}
	if wire.Position == nil {
		return advice, nil
	}

	pos := wire.Position
	advice.Entry = types.EntryDirective{
		OrderType: orderTypeFromWire(pos.Entry.OrderType),
		Price:     pos.Entry.Price,
		Leverage:  pos.Entry.Leverage,
		Size: types.EntrySize{
			Contracts:  pos.Size.Contracts,
			QuoteValue: pos.Size.QuoteValue,
		},
	}
	if pos.StopLoss != nil {
		advice.StopLoss = &types.StopLoss{
			TriggerOn: types.TriggerMode(pos.StopLoss.TriggerOn),
			Price:     pos.StopLoss.Price,
		}
	}
	for _, tp := range pos.TakeProfits {
		advice.TakeProfits = append(advice.TakeProfits, types.TakeProfit{
			Price:      tp.Price,
			Percentage: tp.SizePct,
		})
	}
	if pos.TrailingStop != nil {
		advice.Trailing = &types.TrailingStop{
			ActivatePrice: pos.TrailingStop.ActivatePrice,
			CallbackPct:   pos.TrailingStop.CallbackPct,
		}
	}
	return advice, nil
}

// truncate mirrors the source's ai_history field caps so a verbose advisor
// response never bloats the bounded history file.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func orderTypeFromWire(s string) types.OrderType {
	switch s {
	case "limit":
		return types.OrderTypeLimit
	default:
		return types.OrderTypeMarket
	}
}

// snapshotRequest is the outgoing envelope; its field names are the §3
// market-snapshot wire contract the advisor is built against.
type snapshotRequest struct {
	Snapshot types.MarketSnapshot `json:"snapshot"`
}
