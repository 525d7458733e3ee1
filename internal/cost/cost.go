// Package cost estimates the price of a realtime voice session.
package cost

import (
	"math"

	"github.com/ent0n29/cleo/internal/collab"
)

// Rates are USD per million tokens, plus a per-minute estimate used when a
// session reports no usage at all.
type Rates struct {
	AudioInputPerM  float64
	AudioOutputPerM float64
	TextInputPerM   float64
	TextOutputPerM  float64
	PerMinute       float64
}

// DefaultRates match gpt-4o-realtime-preview list pricing.
func DefaultRates() Rates {
	return Rates{
		AudioInputPerM:  40,
		AudioOutputPerM: 80,
		TextInputPerM:   5,
		TextOutputPerM:  20,
		PerMinute:       0.30,
	}
}

// Estimate returns the session cost rounded to a millionth of a dollar.
func (r Rates) Estimate(report collab.SessionReport) float64 {
	tokens := report.AudioInputTokens + report.AudioOutputTokens + report.TextInputTokens + report.TextOutputTokens
	var usd float64
	if tokens == 0 {
		usd = math.Max(report.DurationSeconds, 0) / 60 * r.PerMinute
	} else {
		usd = (float64(report.AudioInputTokens)*r.AudioInputPerM +
			float64(report.AudioOutputTokens)*r.AudioOutputPerM +
			float64(report.TextInputTokens)*r.TextInputPerM +
			float64(report.TextOutputTokens)*r.TextOutputPerM) / 1e6
	}
	return math.Round(usd*1e6) / 1e6
}
