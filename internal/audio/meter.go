package audio

import (
	"math"
	"sync/atomic"
)

// Meter tracks the RMS level of the most recent capture frame.
type Meter struct {
	bits atomic.Uint32
}

func NewMeter() *Meter { return &Meter{} }

// Observe updates the level from a frame.
func (m *Meter) Observe(frame []float32) {
	if m == nil || len(frame) == 0 {
		return
	}
	var sum float64
	for _, s := range frame {
		sum += float64(s) * float64(s)
	}
	level := math.Sqrt(sum / float64(len(frame)))
	if level > 1 {
		level = 1
	}
	m.bits.Store(math.Float32bits(float32(level)))
}

// Level returns the latest level in [0, 1].
func (m *Meter) Level() float32 {
	if m == nil {
		return 0
	}
	return math.Float32frombits(m.bits.Load())
}

func (m *Meter) Reset() {
	if m == nil {
		return
	}
	m.bits.Store(0)
}
