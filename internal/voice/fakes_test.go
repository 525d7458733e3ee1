package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/ent0n29/cleo/internal/transport"
)

type fakeCollab struct {
	mu          sync.Mutex
	cfg         collab.HandshakeConfig
	configErr   error
	registerErr error
	sessionID   string
	cost        float64

	// block, when set, is waited on inside the named step.
	blockConfig   chan struct{}
	blockRegister chan struct{}

	configCalls   int
	registerCalls int
	reports       []collab.SessionReport
	transcripts   chan collab.Transcript
}

func newFakeCollab() *fakeCollab {
	return &fakeCollab{
		cfg: collab.HandshakeConfig{
			Model:        "gpt-4o-realtime-preview",
			Voice:        "alloy",
			Instructions: "You are Cleo.",
			Tools:        []protocol.Tool{{Type: "function", Name: "lookup_order"}},
		},
		sessionID:   "sess_1",
		cost:        0.42,
		transcripts: make(chan collab.Transcript, 8),
	}
}

func (f *fakeCollab) FetchConfig(ctx context.Context, conversationID string) (collab.HandshakeConfig, error) {
	f.mu.Lock()
	f.configCalls++
	block := f.blockConfig
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	return f.cfg, f.configErr
}

func (f *fakeCollab) RegisterSession(ctx context.Context, conversationID, provider string) (string, error) {
	f.mu.Lock()
	f.registerCalls++
	block := f.blockRegister
	f.mu.Unlock()
	if block != nil {
		<-block
	}
	if f.registerErr != nil {
		return "", f.registerErr
	}
	return f.sessionID, nil
}

func (f *fakeCollab) ReportSessionEnd(ctx context.Context, sessionID string, report collab.SessionReport) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reports = append(f.reports, report)
	return f.cost, nil
}

func (f *fakeCollab) PostTranscript(ctx context.Context, t collab.Transcript) error {
	f.transcripts <- t
	return nil
}

func (f *fakeCollab) counts() (config, register, reports int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configCalls, f.registerCalls, len(f.reports)
}

type chanStream struct {
	frames   chan []float32
	rate     int
	enabled  atomic.Bool
	stopped  atomic.Int32
	stopOnce sync.Once
}

func newChanStream(rate int) *chanStream {
	s := &chanStream{frames: make(chan []float32, 64), rate: rate}
	s.enabled.Store(true)
	return s
}

func (s *chanStream) Frames() <-chan []float32 { return s.frames }
func (s *chanStream) SampleRate() int          { return s.rate }
func (s *chanStream) SetEnabled(enabled bool)  { s.enabled.Store(enabled) }
func (s *chanStream) Enabled() bool            { return s.enabled.Load() }

func (s *chanStream) Stop() error {
	s.stopped.Add(1)
	s.stopOnce.Do(func() { close(s.frames) })
	return nil
}

// push offers a frame without blocking on a stopped or full stream.
func (s *chanStream) push(frame []float32) {
	defer func() { _ = recover() }()
	select {
	case s.frames <- frame:
	default:
	}
}

type fakeMic struct {
	mu     sync.Mutex
	err    error
	opens  int
	stream *chanStream
}

func (m *fakeMic) Open(ctx context.Context, c audio.Constraints) (audio.InputStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opens++
	if m.err != nil {
		return nil, m.err
	}
	m.stream = newChanStream(c.SampleRate)
	return m.stream, nil
}

func (m *fakeMic) current() *chanStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

// fakeTransport records everything sent to it. respond, when set, decides
// how the remote side answers each outbound event.
type fakeTransport struct {
	kind          transport.Kind
	ready         transport.Ready
	openErr       error
	supportsTools bool
	respond       func(ft *fakeTransport, ev protocol.ClientEvent)

	mu        sync.Mutex
	onEvent   func(protocol.ServerEvent)
	onClose   func(error)
	params    transport.OpenParams
	sent      []protocol.ClientEvent
	audio     int
	acked     bool
	earlySend bool
	closes    int
}

func (ft *fakeTransport) Kind() transport.Kind { return ft.kind }

func (ft *fakeTransport) OnEvent(fn func(protocol.ServerEvent)) {
	ft.mu.Lock()
	ft.onEvent = fn
	ft.mu.Unlock()
}

func (ft *fakeTransport) OnClose(fn func(error)) {
	ft.mu.Lock()
	ft.onClose = fn
	ft.mu.Unlock()
}

func (ft *fakeTransport) Open(ctx context.Context, p transport.OpenParams) (transport.Ready, error) {
	ft.mu.Lock()
	ft.params = p
	ft.mu.Unlock()
	return ft.ready, ft.openErr
}

func (ft *fakeTransport) Send(ctx context.Context, ev protocol.ClientEvent) error {
	ft.mu.Lock()
	if ft.closes > 0 {
		ft.mu.Unlock()
		return transport.ErrClosed
	}
	ft.sent = append(ft.sent, ev)
	respond := ft.respond
	ft.mu.Unlock()
	if respond != nil {
		respond(ft, ev)
	}
	return nil
}

func (ft *fakeTransport) SendAudio(ctx context.Context, frame []float32) error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	if ft.closes > 0 {
		return transport.ErrClosed
	}
	if !ft.acked {
		ft.earlySend = true
	}
	ft.audio++
	return nil
}

func (ft *fakeTransport) SupportsTools() bool { return ft.supportsTools }

func (ft *fakeTransport) Close() error {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	ft.closes++
	return nil
}

func (ft *fakeTransport) emit(ev protocol.ServerEvent) {
	ft.mu.Lock()
	if _, ok := ev.(*protocol.SessionUpdated); ok {
		ft.acked = true
	}
	fn := ft.onEvent
	ft.mu.Unlock()
	if fn != nil {
		fn(ev)
	}
}

func (ft *fakeTransport) dropConnection(err error) {
	ft.mu.Lock()
	fn := ft.onClose
	ft.mu.Unlock()
	if fn != nil {
		fn(err)
	}
}

func (ft *fakeTransport) sessionUpdates() []protocol.SessionConfig {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	var out []protocol.SessionConfig
	for _, ev := range ft.sent {
		if u, ok := ev.(protocol.SessionUpdate); ok {
			out = append(out, u.Session)
		}
	}
	return out
}

func (ft *fakeTransport) sentTypes() []protocol.MessageType {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	out := make([]protocol.MessageType, 0, len(ft.sent))
	for _, ev := range ft.sent {
		out = append(out, ev.EventType())
	}
	return out
}

func (ft *fakeTransport) stats() (audioFrames int, early bool, closes int) {
	ft.mu.Lock()
	defer ft.mu.Unlock()
	return ft.audio, ft.earlySend, ft.closes
}

// ackAfter rejects the first n session.update events and accepts the next.
func ackAfter(n int) func(*fakeTransport, protocol.ClientEvent) {
	var seen atomic.Int32
	return func(ft *fakeTransport, ev protocol.ClientEvent) {
		if ev.EventType() != protocol.TypeSessionUpdate {
			return
		}
		if int(seen.Add(1)) <= n {
			ft.emit(&protocol.ErrorEvent{Error: protocol.ErrorDetail{
				Type:    "invalid_request_error",
				Code:    "invalid_value",
				Message: "session payload too large",
			}})
			return
		}
		ft.emit(&protocol.SessionUpdated{})
	}
}

type fakeTools struct {
	calls chan string
}

func (f *fakeTools) RunTool(ctx context.Context, name, arguments string) (string, error) {
	f.calls <- name
	if name == "broken" {
		return "", errors.New("tool exploded")
	}
	return `{"status":"shipped"}`, nil
}

type harness struct {
	collab *fakeCollab
	mic    *fakeMic
	tr     *fakeTransport
	ctrl   *Controller
	built  atomic.Int32
}

func newHarness(t *testing.T, mutate func(*Options, *harness)) *harness {
	t.Helper()
	h := &harness{
		collab: newFakeCollab(),
		mic:    &fakeMic{},
		tr:     &fakeTransport{kind: transport.KindWebSocket, respond: ackAfter(0)},
	}
	opts := Options{
		Collaborators: h.collab,
		Microphone:    h.mic,
		NewTransport: func(remote transport.RemoteAudioSink) (transport.Transport, error) {
			h.built.Add(1)
			return h.tr, nil
		},
		SampleRate:       24000,
		ChunkDuration:    10 * time.Millisecond,
		ConfigAckTimeout: time.Second,
		MeterInterval:    5 * time.Millisecond,
		ReportTimeout:    time.Second,
	}
	if mutate != nil {
		mutate(&opts, h)
	}
	ctrl, err := New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Close)
	return h
}
