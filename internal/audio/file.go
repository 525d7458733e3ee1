package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// FileMicrophone replays a PCM16 WAV file as a live input stream, pacing
// frames in real time. When Loop is false the stream ends with the file and
// goes silent afterwards.
type FileMicrophone struct {
	Path          string
	FrameDuration time.Duration
	Loop          bool
}

func (m *FileMicrophone) Open(ctx context.Context, c Constraints) (InputStream, error) {
	data, err := os.ReadFile(m.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, m.Path)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, m.Path)
		}
		return nil, err
	}
	samples, rate, err := DecodeWAVPCM16LE(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if c.SampleRate > 0 && rate != c.SampleRate {
		samples = ResamplePCM16(samples, rate, c.SampleRate)
		rate = c.SampleRate
	}
	frameDur := m.FrameDuration
	if frameDur <= 0 {
		frameDur = 20 * time.Millisecond
	}
	s := newSampleStream(rate)
	go s.play(PCM16ToFloat(samples), frameDur, m.Loop)
	return s, nil
}

type sampleStream struct {
	rate     int
	frames   chan []float32
	enabled  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
}

func newSampleStream(rate int) *sampleStream {
	s := &sampleStream{
		rate:   rate,
		frames: make(chan []float32, 16),
		stop:   make(chan struct{}),
	}
	s.enabled.Store(true)
	return s
}

func (s *sampleStream) Frames() <-chan []float32 { return s.frames }
func (s *sampleStream) SampleRate() int          { return s.rate }
func (s *sampleStream) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }
func (s *sampleStream) Enabled() bool            { return s.enabled.Load() }

func (s *sampleStream) Stop() error {
	s.stopOnce.Do(func() { close(s.stop) })
	return nil
}

func (s *sampleStream) play(samples []float32, frameDur time.Duration, loop bool) {
	defer close(s.frames)
	size := int(int64(s.rate) * int64(frameDur) / int64(time.Second))
	if size <= 0 {
		size = 1
	}
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()
	pos := 0
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}
		frame := make([]float32, size)
		if pos < len(samples) {
			pos += copy(frame, samples[pos:])
		}
		if pos >= len(samples) && loop {
			pos = 0
		}
		select {
		case s.frames <- frame:
		case <-s.stop:
			return
		default:
			// consumer is behind; drop like a real device would
		}
	}
}

// WAVFileSpeaker collects rendered audio and writes it as a WAV file on Close.
type WAVFileSpeaker struct {
	Path       string
	SampleRate int

	mu      sync.Mutex
	samples []int16
	closed  bool
}

func (s *WAVFileSpeaker) Write(samples []int16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrPlaybackClosed
	}
	s.samples = append(s.samples, samples...)
	return nil
}

func (s *WAVFileSpeaker) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return WriteWAVPCM16LEFile(s.Path, PCM16Bytes(s.samples), s.SampleRate)
}
