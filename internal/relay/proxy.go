package relay

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/protocol"
)

const (
	dialTimeout    = 10 * time.Second
	writeWait      = 10 * time.Second
	maxMessageSize = 16 << 20
)

// SessionTracker is told when a relay connection starts carrying a session.
// *session.Manager satisfies it.
type SessionTracker interface {
	AttachRelay(sessionID string) (detach func(), err error)
}

type ProxyOptions struct {
	Upstreams   Upstreams
	Dialer      *websocket.Dialer
	CheckOrigin func(*http.Request) bool
	Sessions    SessionTracker
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Proxy relays a client WebSocket to the provider's realtime WebSocket,
// adding the provider credentials on the way out.
type Proxy struct {
	upstreams Upstreams
	dialer    *websocket.Dialer
	upgrader  websocket.Upgrader
	sessions  SessionTracker
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewProxy(opts ProxyOptions) *Proxy {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: dialTimeout}
	}
	return &Proxy{
		upstreams: opts.Upstreams,
		dialer:    dialer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		logger:   logging.OrDiscard(opts.Logger).With("component", "relay"),
	}
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := strings.TrimSpace(q.Get("session_id"))
	provider := strings.TrimSpace(q.Get("provider"))

	up, err := p.upstreams.Select(provider)
	if err != nil || up.WSURL == "" {
		http.Error(w, "no realtime upstream for provider", http.StatusBadRequest)
		return
	}
	if p.sessions != nil {
		if sessionID == "" {
			http.Error(w, "query parameter session_id is required", http.StatusBadRequest)
			return
		}
		detach, err := p.sessions.AttachRelay(sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		defer detach()
	}

	target, err := withModel(up.WSURL, up.model(q.Get("model")))
	if err != nil {
		http.Error(w, "invalid upstream url", http.StatusInternalServerError)
		return
	}
	upstream, resp, err := p.dialer.DialContext(r.Context(), target, up.header(up.APIKey))
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
			_ = resp.Body.Close()
		}
		p.logger.Warn("upstream dial failed", "provider", up.Name, "status", status, "error", err)
		p.metrics.ObserveProviderError(up.Name, "dial_failed")
		http.Error(w, "realtime upstream unavailable", http.StatusBadGateway)
		return
	}
	defer upstream.Close()

	client, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer client.Close()

	client.SetReadLimit(maxMessageSize)
	upstream.SetReadLimit(maxMessageSize)
	p.metrics.ObserveSessionEvent("relay_connected")
	p.logger.Info("relay connected", "provider", up.Name, "session_id", sessionID)

	errc := make(chan error, 2)
	go p.pump(upstream, client, "client", up.Name, errc)
	go p.pump(client, upstream, "upstream", up.Name, errc)

	first := <-errc
	code, text := closeCodeFor(first)
	deadline := time.Now().Add(time.Second)
	msg := websocket.FormatCloseMessage(code, text)
	_ = client.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = upstream.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = client.Close()
	_ = upstream.Close()
	<-errc

	p.metrics.ObserveSessionEvent("relay_disconnected")
	p.logger.Info("relay disconnected", "provider", up.Name, "session_id", sessionID, "code", code)
}

// pump copies messages from src to dst until either side fails. Each conn
// is written by exactly one pump.
func (p *Proxy) pump(dst, src *websocket.Conn, direction, provider string, errc chan<- error) {
	for {
		mt, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if mt == websocket.TextMessage {
			p.observe(direction, provider, data)
		}
		_ = dst.SetWriteDeadline(time.Now().Add(writeWait))
		if err := dst.WriteMessage(mt, data); err != nil {
			errc <- err
			return
		}
	}
}

func (p *Proxy) observe(direction, provider string, data []byte) {
	msgType, err := protocol.PeekType(data)
	if err != nil {
		p.metrics.ObserveWSMessage(direction, "invalid")
		return
	}
	p.metrics.ObserveWSMessage(direction, string(msgType))
	if direction != "upstream" || msgType != protocol.TypeError {
		return
	}
	ev, err := protocol.ParseServerEvent(data)
	if err != nil {
		return
	}
	if e, ok := ev.(*protocol.ErrorEvent); ok {
		code := e.Error.Code
		if code == "" {
			code = e.Error.Type
		}
		p.metrics.ObserveProviderError(provider, code)
	}
}

// closeCodeFor maps the error that ended one leg to the close frame sent on
// both legs. Codes that may not appear on the wire become 1011.
func closeCodeFor(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		switch ce.Code {
		case websocket.CloseNoStatusReceived:
			return websocket.CloseNormalClosure, ""
		case websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
			return websocket.CloseInternalServerErr, "peer connection lost"
		default:
			return ce.Code, ce.Text
		}
	}
	return websocket.CloseInternalServerErr, "peer connection lost"
}
