// Package transport implements the interchangeable channels a voice session
// runs over: a JSON WebSocket relay, a WebRTC peer connection with a data
// channel, and WebRTC media with WebSocket-carried signaling.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/gorilla/websocket"
)

type Kind string

const (
	KindWebSocket Kind = "websocket"
	KindWebRTC    Kind = "webrtc"
	KindHybrid    Kind = "hybrid"
)

var (
	ErrClosed   = errors.New("transport closed")
	ErrNotOpen  = errors.New("transport not open")
	ErrDegraded = errors.New("control channel unavailable")
)

// OpenParams identify the session a transport is opened for.
type OpenParams struct {
	SessionID string
	Model     string
	Provider  string
	Session   protocol.SessionConfig
}

// Ready describes the channel once Open returns.
type Ready struct {
	// Degraded is set when media flows but the control channel never opened.
	Degraded bool
}

// Transport is one realtime channel to the speech service. Callbacks must be
// registered before Open.
type Transport interface {
	Kind() Kind
	OnEvent(func(protocol.ServerEvent))
	OnClose(func(error))
	Open(ctx context.Context, p OpenParams) (Ready, error)
	Send(ctx context.Context, ev protocol.ClientEvent) error
	SendAudio(ctx context.Context, frame []float32) error
	SupportsTools() bool
	Close() error
}

// Signaler exchanges a local SDP offer for the remote answer.
type Signaler interface {
	ExchangeSDP(ctx context.Context, offer string, p OpenParams) (string, error)
}

// SignalerFunc adapts a function to Signaler.
type SignalerFunc func(ctx context.Context, offer string, p OpenParams) (string, error)

func (f SignalerFunc) ExchangeSDP(ctx context.Context, offer string, p OpenParams) (string, error) {
	return f(ctx, offer, p)
}

// RemoteAudioSink consumes decoded audio from the remote media track.
type RemoteAudioSink interface {
	Enqueue(samples []int16) error
}

// Options configure New.
type Options struct {
	Kind Kind

	// RelayURL is the WebSocket relay endpoint (websocket kind).
	RelayURL string
	// SignalURL is the WebSocket signaling endpoint (hybrid kind).
	SignalURL string
	// Signaler performs the HTTP SDP exchange (webrtc kind).
	Signaler Signaler

	SampleRate         int
	AudioFormat        string
	DataChannelTimeout time.Duration
	ICEServers         []string
	RemoteAudio        RemoteAudioSink
	Header             http.Header
	Dialer             *websocket.Dialer
	Logger             *slog.Logger
}

// New builds the transport selected by opts.Kind.
func New(opts Options) (Transport, error) {
	if opts.SampleRate <= 0 {
		opts.SampleRate = 24000
	}
	if opts.DataChannelTimeout <= 0 {
		opts.DataChannelTimeout = 5 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	opts.Logger = logging.OrDiscard(opts.Logger).With("transport", string(opts.Kind))

	switch opts.Kind {
	case KindWebSocket:
		if opts.RelayURL == "" {
			return nil, errors.New("websocket transport requires a relay url")
		}
		return newWebSocket(opts), nil
	case KindWebRTC:
		if opts.Signaler == nil {
			return nil, errors.New("webrtc transport requires a signaler")
		}
		return newPeerTransport(KindWebRTC, opts, opts.Signaler), nil
	case KindHybrid:
		if opts.SignalURL == "" {
			return nil, errors.New("hybrid transport requires a signaling url")
		}
		sig := &wsSignaler{url: opts.SignalURL, dialer: opts.Dialer, header: opts.Header}
		t := newPeerTransport(KindHybrid, opts, sig)
		t.control = sig
		return t, nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", opts.Kind)
	}
}

// handlers holds the registered callbacks. OnClose fires at most once.
type handlers struct {
	mu        sync.RWMutex
	onEvent   func(protocol.ServerEvent)
	onClose   func(error)
	closeOnce sync.Once
}

func (h *handlers) OnEvent(fn func(protocol.ServerEvent)) {
	h.mu.Lock()
	h.onEvent = fn
	h.mu.Unlock()
}

func (h *handlers) OnClose(fn func(error)) {
	h.mu.Lock()
	h.onClose = fn
	h.mu.Unlock()
}

func (h *handlers) emit(ev protocol.ServerEvent) {
	h.mu.RLock()
	fn := h.onEvent
	h.mu.RUnlock()
	if fn != nil {
		fn(ev)
	}
}

func (h *handlers) fireClose(err error) {
	h.closeOnce.Do(func() {
		h.mu.RLock()
		fn := h.onClose
		h.mu.RUnlock()
		if fn != nil {
			fn(err)
		}
	})
}

// silence suppresses OnClose after a local Close.
func (h *handlers) silence() {
	h.closeOnce.Do(func() {})
}
