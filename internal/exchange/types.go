package exchange

import (
	"time"

	"github.com/shopspring/decimal"
)

// AccountInfo is the subset of the account endpoint's response the cycle
// and leverage-adjustment step need.
type AccountInfo struct {
	TotalWalletBalance decimal.Decimal
	AvailableBalance   decimal.Decimal
	HedgeMode          bool
}

// OrderBookLevel is one bid or ask level.
type OrderBookLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBookSnapshot is a top-of-book-and-beyond view used to derive depth
// imbalance for the market snapshot.
type OrderBookSnapshot struct {
	Symbol    string
	Bids      []OrderBookLevel
	Asks      []OrderBookLevel
	Timestamp time.Time
}

// BestBidAsk returns the top bid/ask levels, or false if either side is empty.
func (b OrderBookSnapshot) BestBidAsk() (bid, ask OrderBookLevel, ok bool) {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return OrderBookLevel{}, OrderBookLevel{}, false
	}
	return b.Bids[0], b.Asks[0], true
}

// OpenInterestPoint is one sample of the open-interest history series.
type OpenInterestPoint struct {
	Timestamp    time.Time
	OpenInterest decimal.Decimal
}

// LongShortRatioPoint is one sample of the long/short account ratio series.
type LongShortRatioPoint struct {
	Timestamp  time.Time
	LongRatio  decimal.Decimal
	ShortRatio decimal.Decimal
}

// PremiumIndexInfo mirrors the venue's premiumIndex endpoint.
type PremiumIndexInfo struct {
	MarkPrice       decimal.Decimal
	IndexPrice      decimal.Decimal
	FundingRate     decimal.Decimal
	NextFundingTime time.Time
}
