// Package detector implements the volatility detector: a stateful,
// per-symbol set of sliding-window rules over mark-price ticks and closed
// candles that decide whether the current moment warrants a trading cycle.
package detector

import (
	"time"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

// Reason codes surfaced for logging; never user-facing errors.
const (
	ReasonTriggered                = "triggered"
	ReasonInsufficientSamples      = "insufficient_samples"
	ReasonDeltaBelowThreshold      = "delta_below_threshold"
	ReasonCandleNotClosed          = "candle_not_closed"
	ReasonRangeBelowThreshold      = "range_below_threshold"
	ReasonVolumeHistoryUnavailable = "volume_history_unavailable"
	ReasonVolumeBelowThreshold     = "volume_below_threshold"
)

// Config tunes the detector's rules; mirrors config.DetectorConfig so the
// package does not depend on the config package.
type Config struct {
	MPWindow       time.Duration
	MPDeltaPct     float64
	KlineRangePct  float64
	VolLookback    int
	VolMult        float64
	UseQuoteVolume bool
}

// MarkVerdict is the outcome of one mark-price evaluation.
type MarkVerdict struct {
	Fire     bool
	Reason   string
	DeltaPct float64
	Samples  int
}

// CandleVerdict is the outcome of one closed-candle evaluation. RangeFired
// and VolumeFired report the two sub-rules independently; Fire is their OR.
type CandleVerdict struct {
	Fire         bool
	Reason       string
	RangePct     float64
	RangeFired   bool
	RangeReason  string
	Volume       float64
	VolumeMean   float64
	VolumeFired  bool
	VolumeReason string
}

type markSample struct {
	ts    time.Time
	price decimal.Decimal
}

// Detector evaluates each incoming mark price and closed candle for one
// symbol, maintaining its own rolling windows. Not safe for concurrent use
// from more than one goroutine — per §4.4 the trigger loop is the sole
// caller.
type Detector struct {
	symbol string
	cfg    Config

	markSamples []markSample
	volHistory  []float64
}

// New creates a volatility detector for symbol with the given rule config.
func New(symbol string, cfg Config) *Detector {
	return &Detector{symbol: symbol, cfg: cfg}
}

// EvaluateMark applies the mark-price spike rule to a new (price, ts) pair.
func (d *Detector) EvaluateMark(price decimal.Decimal, ts time.Time) MarkVerdict {
	d.markSamples = append(d.markSamples, markSample{ts: ts, price: price})

	cutoff := ts.Add(-d.cfg.MPWindow)
	keep := d.markSamples[:0]
	for _, s := range d.markSamples {
		if s.ts.After(cutoff) {
			keep = append(keep, s)
		}
	}
	d.markSamples = keep

	if len(d.markSamples) < 2 {
		return MarkVerdict{Fire: false, Reason: ReasonInsufficientSamples, Samples: len(d.markSamples)}
	}

	p0 := d.markSamples[0].price
	if p0.IsZero() {
		return MarkVerdict{Fire: false, Reason: ReasonInsufficientSamples, Samples: len(d.markSamples)}
	}

	ratio := price.Div(p0)
	deltaPct := ratio.Sub(decimal.NewFromInt(1)).Abs().Mul(decimal.NewFromInt(100))
	deltaPctF, _ := deltaPct.Float64()

	if deltaPctF >= d.cfg.MPDeltaPct {
		return MarkVerdict{Fire: true, Reason: ReasonTriggered, DeltaPct: deltaPctF, Samples: len(d.markSamples)}
	}
	return MarkVerdict{Fire: false, Reason: ReasonDeltaBelowThreshold, DeltaPct: deltaPctF, Samples: len(d.markSamples)}
}

// EvaluateCandle applies the range and volume sub-rules to a candle. Only
// closed candles are considered; the volume history is appended to *after*
// the mean is computed, so the very first closed candle never fires on the
// volume sub-rule — this mirrors the source's behavior and is preserved
// deliberately.
func (d *Detector) EvaluateCandle(c types.Candle) CandleVerdict {
	if !c.Closed {
		return CandleVerdict{Fire: false, Reason: ReasonCandleNotClosed}
	}

	v := CandleVerdict{}

	if !c.Close.IsZero() {
		rangePct := c.High.Sub(c.Low).Div(c.Close).Mul(decimal.NewFromInt(100))
		v.RangePct, _ = rangePct.Float64()
		if v.RangePct >= d.cfg.KlineRangePct {
			v.RangeFired = true
			v.RangeReason = ReasonTriggered
		} else {
			v.RangeReason = ReasonRangeBelowThreshold
		}
	} else {
		v.RangeReason = ReasonRangeBelowThreshold
	}

	volume := c.Volume
	if d.cfg.UseQuoteVolume {
		volume = c.QuoteVolume
	}
	volF, _ := volume.Float64()
	v.Volume = volF

	if len(d.volHistory) == 0 {
		v.VolumeReason = ReasonVolumeHistoryUnavailable
	} else {
		var sum float64
		for _, h := range d.volHistory {
			sum += h
		}
		mean := sum / float64(len(d.volHistory))
		v.VolumeMean = mean
		if mean > 0 && volF >= d.cfg.VolMult*mean {
			v.VolumeFired = true
			v.VolumeReason = ReasonTriggered
		} else {
			v.VolumeReason = ReasonVolumeBelowThreshold
		}
	}

	d.volHistory = append(d.volHistory, volF)
	if d.cfg.VolLookback > 0 && len(d.volHistory) > d.cfg.VolLookback {
		d.volHistory = d.volHistory[len(d.volHistory)-d.cfg.VolLookback:]
	}

	v.Fire = v.RangeFired || v.VolumeFired
	switch {
	case v.Fire:
		v.Reason = ReasonTriggered
	case v.RangeReason != ReasonTriggered:
		v.Reason = v.RangeReason
	default:
		v.Reason = v.VolumeReason
	}
	return v
}
