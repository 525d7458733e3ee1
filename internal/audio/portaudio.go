//go:build portaudio

package audio

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

const portAudioFramesPerBuffer = 480

// PortAudioMicrophone captures from the default input device.
type PortAudioMicrophone struct{}

func (PortAudioMicrophone) Open(_ context.Context, c Constraints) (InputStream, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	if _, err := portaudio.DefaultInputDevice(); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	s := &portAudioInput{
		rate:   c.SampleRate,
		buffer: make([]float32, portAudioFramesPerBuffer),
		frames: make(chan []float32, 32),
		stop:   make(chan struct{}),
	}
	s.enabled.Store(true)
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(c.SampleRate), len(s.buffer), s.buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	s.stream = stream
	s.wg.Add(1)
	go s.readLoop()
	return s, nil
}

type portAudioInput struct {
	stream   *portaudio.Stream
	rate     int
	buffer   []float32
	frames   chan []float32
	enabled  atomic.Bool
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (s *portAudioInput) Frames() <-chan []float32 { return s.frames }
func (s *portAudioInput) SampleRate() int          { return s.rate }
func (s *portAudioInput) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }
func (s *portAudioInput) Enabled() bool            { return s.enabled.Load() }

func (s *portAudioInput) readLoop() {
	defer s.wg.Done()
	defer close(s.frames)
	for {
		select {
		case <-s.stop:
			return
		default:
		}
		if err := s.stream.Read(); err != nil {
			return
		}
		frame := make([]float32, len(s.buffer))
		copy(frame, s.buffer)
		select {
		case s.frames <- frame:
		default:
		}
	}
}

func (s *portAudioInput) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stop)
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = stopErr
		}
		s.wg.Wait()
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		portaudio.Terminate()
	})
	return err
}

// PortAudioSpeaker plays PCM16 through the default output device.
type PortAudioSpeaker struct {
	mu     sync.Mutex
	stream *portaudio.Stream
	buffer []int16
	closed bool
}

func NewPortAudioSpeaker(sampleRate int) (*PortAudioSpeaker, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	sp := &PortAudioSpeaker{buffer: make([]int16, portAudioFramesPerBuffer)}
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(sp.buffer), sp.buffer)
	if err != nil {
		portaudio.Terminate()
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		portaudio.Terminate()
		return nil, err
	}
	sp.stream = stream
	return sp, nil
}

func (sp *PortAudioSpeaker) Write(samples []int16) error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return ErrPlaybackClosed
	}
	for len(samples) > 0 {
		n := copy(sp.buffer, samples)
		for i := n; i < len(sp.buffer); i++ {
			sp.buffer[i] = 0
		}
		samples = samples[n:]
		if err := sp.stream.Write(); err != nil {
			return err
		}
	}
	return nil
}

func (sp *PortAudioSpeaker) Close() error {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if sp.closed {
		return nil
	}
	sp.closed = true
	err := sp.stream.Stop()
	if closeErr := sp.stream.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	portaudio.Terminate()
	return err
}
