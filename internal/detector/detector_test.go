package detector

import (
	"testing"
	"time"

	"perp-trader/pkg/types"

	"github.com/shopspring/decimal"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestEvaluateMarkNeverFiresWithFewerThanTwoSamples(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{MPWindow: 60 * time.Second, MPDeltaPct: 0.5})
	v := d.EvaluateMark(dec(3000), time.Unix(0, 0))
	if v.Fire {
		t.Errorf("first sample should never fire")
	}
	if v.Reason != ReasonInsufficientSamples {
		t.Errorf("Reason = %q, want %q", v.Reason, ReasonInsufficientSamples)
	}
}

func TestEvaluateMarkFiresOnSpike(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	d := New("ETHUSDT", Config{MPWindow: 60 * time.Second, MPDeltaPct: 0.5})
	d.EvaluateMark(dec(3000), base)
	v := d.EvaluateMark(dec(3020), base.Add(2*time.Second))

	if !v.Fire {
		t.Fatalf("expected spike of %.4f%% to fire at threshold 0.5%%", v.DeltaPct)
	}
	if v.Reason != ReasonTriggered {
		t.Errorf("Reason = %q, want %q", v.Reason, ReasonTriggered)
	}
}

func TestEvaluateMarkDropsStaleSamples(t *testing.T) {
	t.Parallel()

	base := time.Unix(1000, 0)
	d := New("ETHUSDT", Config{MPWindow: 5 * time.Second, MPDeltaPct: 0.5})
	d.EvaluateMark(dec(3000), base)
	// second sample arrives after the first has fallen out of the window
	v := d.EvaluateMark(dec(3020), base.Add(10*time.Second))

	if v.Fire {
		t.Errorf("sample outside the window should not contribute, got fire=true")
	}
	if v.Reason != ReasonInsufficientSamples {
		t.Errorf("Reason = %q, want %q (only the fresh sample should remain)", v.Reason, ReasonInsufficientSamples)
	}
}

func TestEvaluateCandleIgnoresUnclosedCandles(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{KlineRangePct: 1.0, VolMult: 2.0, VolLookback: 20, UseQuoteVolume: true})
	v := d.EvaluateCandle(types.Candle{Closed: false, High: dec(3100), Low: dec(2900), Close: dec(3000)})
	if v.Fire {
		t.Errorf("unclosed candle should never fire")
	}
	if v.Reason != ReasonCandleNotClosed {
		t.Errorf("Reason = %q, want %q", v.Reason, ReasonCandleNotClosed)
	}
}

func TestEvaluateCandleRangeRule(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{KlineRangePct: 1.0, VolMult: 2.0, VolLookback: 20, UseQuoteVolume: true})
	v := d.EvaluateCandle(types.Candle{
		Closed: true,
		High:   dec(3100), Low: dec(2900), Close: dec(3000),
		Volume: dec(10), QuoteVolume: dec(1000),
	})

	if !v.RangeFired {
		t.Errorf("range_pct = %.2f should fire at threshold 1.0", v.RangePct)
	}
	if !v.Fire {
		t.Errorf("overall verdict should fire when the range sub-rule fires")
	}
}

func TestEvaluateCandleVolumeRuleNeverFiresOnFirstCandle(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{KlineRangePct: 100, VolMult: 2.0, VolLookback: 20, UseQuoteVolume: true})
	v := d.EvaluateCandle(types.Candle{
		Closed: true,
		High:   dec(3001), Low: dec(2999), Close: dec(3000),
		QuoteVolume: dec(5000),
	})

	if v.VolumeFired {
		t.Errorf("volume sub-rule should never fire on the first closed candle (empty baseline)")
	}
	if v.VolumeReason != ReasonVolumeHistoryUnavailable {
		t.Errorf("VolumeReason = %q, want %q", v.VolumeReason, ReasonVolumeHistoryUnavailable)
	}
}

func TestEvaluateCandleVolumeRuleFiresOnSpike(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{KlineRangePct: 100, VolMult: 2.0, VolLookback: 20, UseQuoteVolume: true})
	for i := 0; i < 5; i++ {
		d.EvaluateCandle(types.Candle{
			Closed: true,
			High:   dec(3001), Low: dec(2999), Close: dec(3000),
			QuoteVolume: dec(1000),
		})
	}
	v := d.EvaluateCandle(types.Candle{
		Closed: true,
		High:   dec(3001), Low: dec(2999), Close: dec(3000),
		QuoteVolume: dec(5000),
	})

	if !v.VolumeFired {
		t.Errorf("volume %.0f vs mean %.0f should fire at 2x multiplier", v.Volume, v.VolumeMean)
	}
}

func TestEvaluateCandleVolumeRuleNeverFiresWithNonPositiveMean(t *testing.T) {
	t.Parallel()

	d := New("ETHUSDT", Config{KlineRangePct: 100, VolMult: 2.0, VolLookback: 20, UseQuoteVolume: true})
	d.EvaluateCandle(types.Candle{Closed: true, High: dec(3001), Low: dec(2999), Close: dec(3000), QuoteVolume: dec(0)})
	v := d.EvaluateCandle(types.Candle{Closed: true, High: dec(3001), Low: dec(2999), Close: dec(3000), QuoteVolume: dec(1000)})

	if v.VolumeFired {
		t.Errorf("avg_vol <= 0 should never fire the volume sub-rule")
	}
}
