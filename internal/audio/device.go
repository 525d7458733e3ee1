// Package audio implements microphone capture, PCM16 framing and playback
// for realtime voice sessions.
package audio

import (
	"context"
	"errors"
)

var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoDevice         = errors.New("no compatible audio input device")
)

// Constraints mirrors the capture settings requested from the input device.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables echo cancellation, noise suppression and gain
// control for a mono stream at sampleRate.
func DefaultConstraints(sampleRate int) Constraints {
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	return Constraints{
		SampleRate:       sampleRate,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Microphone acquires input streams.
type Microphone interface {
	Open(ctx context.Context, c Constraints) (InputStream, error)
}

// InputStream is a live microphone track. Frames are mono float samples in
// [-1, 1]. The channel is closed once the stream stops.
type InputStream interface {
	Frames() <-chan []float32
	SampleRate() int
	SetEnabled(enabled bool)
	Enabled() bool
	Stop() error
}

// Speaker renders PCM16 audio.
type Speaker interface {
	Write(samples []int16) error
	Close() error
}

// DiscardSpeaker drops everything written to it.
type DiscardSpeaker struct{}

func (DiscardSpeaker) Write([]int16) error { return nil }
func (DiscardSpeaker) Close() error        { return nil }
