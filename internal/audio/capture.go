package audio

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FrameSink receives framed capture chunks.
type FrameSink func(ctx context.Context, chunk []float32) error

// CaptureConfig controls chunk framing.
type CaptureConfig struct {
	SampleRate    int
	ChunkDuration time.Duration
}

// Capture frames a microphone stream into fixed-size chunks. Chunks are only
// handed to the sink while gate reports true; anything framed before that is
// dropped rather than queued.
type Capture struct {
	stream    InputStream
	meter     *Meter
	sink      FrameSink
	gate      func() bool
	chunkSize int
	logger    *slog.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	stopped  bool
	stopOnce sync.Once
}

func NewCapture(stream InputStream, meter *Meter, cfg CaptureConfig, gate func() bool, sink FrameSink, logger *slog.Logger) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = stream.SampleRate()
	}
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = 100 * time.Millisecond
	}
	chunk := int(int64(cfg.SampleRate) * int64(cfg.ChunkDuration) / int64(time.Second))
	if chunk <= 0 {
		chunk = 1
	}
	if gate == nil {
		gate = func() bool { return true }
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Capture{
		stream:    stream,
		meter:     meter,
		sink:      sink,
		gate:      gate,
		chunkSize: chunk,
		logger:    logger,
	}
}

// ChunkSize is the number of samples per emitted chunk.
func (c *Capture) ChunkSize() int { return c.chunkSize }

// Start launches the framing loop. It is a no-op when already started.
func (c *Capture) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil || c.stopped {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	go c.run(ctx, c.done)
}

// Stop halts framing and waits for the loop to exit. Safe to call repeatedly.
func (c *Capture) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		cancel, done := c.cancel, c.done
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			<-done
		}
	})
}

func (c *Capture) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	frames := c.stream.Frames()
	buf := make([]float32, 0, c.chunkSize*2)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			if !c.stream.Enabled() {
				frame = make([]float32, len(frame))
			}
			c.meter.Observe(frame)
			buf = append(buf, frame...)
			for len(buf) >= c.chunkSize {
				chunk := make([]float32, c.chunkSize)
				copy(chunk, buf[:c.chunkSize])
				buf = append(buf[:0], buf[c.chunkSize:]...)
				if !c.gate() {
					continue
				}
				if err := c.sink(ctx, chunk); err != nil {
					if ctx.Err() != nil {
						return
					}
					c.logger.Warn("capture chunk send failed", "error", err)
				}
			}
		}
	}
}
