package cost

import (
	"testing"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/stretchr/testify/require"
)

func TestEstimateFromTokens(t *testing.T) {
	got := DefaultRates().Estimate(collab.SessionReport{
		DurationSeconds:   600,
		AudioInputTokens:  10_000,
		AudioOutputTokens: 5_000,
		TextInputTokens:   2_000,
		TextOutputTokens:  1_000,
	})
	// 0.4 + 0.4 + 0.01 + 0.02; duration is ignored once usage is known.
	require.InDelta(t, 0.83, got, 1e-9)
}

func TestEstimateFallsBackToDuration(t *testing.T) {
	r := DefaultRates()
	require.InDelta(t, 0.45, r.Estimate(collab.SessionReport{DurationSeconds: 90}), 1e-9)
	require.Zero(t, r.Estimate(collab.SessionReport{}))
	require.Zero(t, r.Estimate(collab.SessionReport{DurationSeconds: -5}))
}
