package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPlaybackClosed is returned when enqueueing after Close.
var ErrPlaybackClosed = errors.New("playback closed")

// Playback decodes inbound audio fragments and renders them in order on a
// single goroutine so successive deltas play without gaps.
type Playback struct {
	speaker    Speaker
	sampleRate int
	logger     *slog.Logger

	mu     sync.Mutex
	cond   *sync.Cond
	queue  [][]int16
	closed bool
	done   chan struct{}
	once   sync.Once
}

func NewPlayback(speaker Speaker, sampleRate int, logger *slog.Logger) *Playback {
	if speaker == nil {
		speaker = DiscardSpeaker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Playback{
		speaker:    speaker,
		sampleRate: sampleRate,
		logger:     logger,
		done:       make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)
	go p.run()
	return p
}

// EnqueueBase64 decodes a base64 fragment (raw PCM16LE or a WAV blob) and
// queues it. Decode failures are returned and leave the queue untouched.
func (p *Playback) EnqueueBase64(encoded string) error {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}
	var samples []int16
	if bytes.HasPrefix(raw, []byte("RIFF")) {
		samples, _, err = DecodeWAVPCM16LE(raw)
	} else {
		samples, err = PCM16FromBytes(raw)
	}
	if err != nil {
		return fmt.Errorf("decode audio delta: %w", err)
	}
	return p.Enqueue(samples)
}

// Enqueue queues decoded samples for rendering.
func (p *Playback) Enqueue(samples []int16) error {
	if len(samples) == 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPlaybackClosed
	}
	p.queue = append(p.queue, samples)
	p.cond.Signal()
	return nil
}

// Flush drops audio that has not been rendered yet.
func (p *Playback) Flush() {
	p.mu.Lock()
	p.queue = nil
	p.mu.Unlock()
}

// Pending reports queued fragments.
func (p *Playback) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Close stops the renderer and closes the speaker. Safe to call repeatedly.
func (p *Playback) Close() error {
	var err error
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.queue = nil
		p.cond.Broadcast()
		p.mu.Unlock()
		<-p.done
		err = p.speaker.Close()
	})
	return err
}

func (p *Playback) run() {
	defer close(p.done)
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed {
			p.mu.Unlock()
			return
		}
		next := p.queue[0]
		p.queue = p.queue[1:]
		p.mu.Unlock()

		if err := p.speaker.Write(next); err != nil {
			p.logger.Warn("playback write failed", "error", err)
		}
	}
}
