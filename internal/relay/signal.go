package relay

import (
	"context"
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

const offerWait = 15 * time.Second

type SignalOptions struct {
	Upstreams   Upstreams
	Forwarder   *SDPForwarder
	CheckOrigin func(*http.Request) bool
	Sessions    SessionTracker
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// SignalHandler serves SDP signaling over a WebSocket for hybrid clients.
// The socket stays open after the answer and holds the session alive.
type SignalHandler struct {
	upstreams Upstreams
	forwarder *SDPForwarder
	upgrader  websocket.Upgrader
	sessions  SessionTracker
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewSignalHandler(opts SignalOptions) *SignalHandler {
	forwarder := opts.Forwarder
	if forwarder == nil {
		forwarder = NewSDPForwarder(nil, opts.Logger)
	}
	return &SignalHandler{
		upstreams: opts.Upstreams,
		forwarder: forwarder,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     opts.CheckOrigin,
		},
		sessions: opts.Sessions,
		metrics:  opts.Metrics,
		logger:   logging.OrDiscard(opts.Logger).With("component", "signal"),
	}
}

func (h *SignalHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if h.sessions != nil {
		if sessionID == "" {
			http.Error(w, "query parameter session_id is required", http.StatusBadRequest)
			return
		}
		detach, err := h.sessions.AttachRelay(sessionID)
		if err != nil {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		defer detach()
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	conn.SetReadLimit(1 << 20)

	_ = conn.SetReadDeadline(time.Now().Add(offerWait))
	answered := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if answered {
			continue
		}
		msg, err := protocol.ParseSignalMessage(data)
		if errors.Is(err, protocol.ErrUnsupportedType) {
			continue
		}
		if err != nil {
			h.writeError(conn, err.Error())
			continue
		}
		if msg.Type != protocol.SignalOffer {
			continue
		}
		h.metrics.ObserveWSMessage("signal", protocol.SignalOffer)

		answer, err := h.answer(r.Context(), sessionID, msg)
		if err != nil {
			h.logger.Warn("sdp exchange failed", "session_id", sessionID, "error", err)
			h.writeError(conn, err.Error())
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteJSON(protocol.SignalMessage{Type: protocol.SignalAnswer, SDP: answer}); err != nil {
			return
		}
		answered = true
		_ = conn.SetReadDeadline(time.Time{})
	}
}

func (h *SignalHandler) answer(ctx context.Context, sessionID string, msg protocol.SignalMessage) (string, error) {
	up, err := h.upstreams.Select(msg.Provider)
	if err != nil {
		return "", err
	}
	offer := Offer{SDP: msg.SDP, SessionID: sessionID, Model: msg.Model}
	if msg.Session != nil {
		offer.Session = *msg.Session
	}
	answer, err := h.forwarder.Exchange(ctx, up, offer)
	if err != nil {
		var upErr *UpstreamError
		if errors.As(err, &upErr) {
			h.metrics.ObserveProviderError(up.Name, "sdp_rejected")
		}
		return "", err
	}
	return answer, nil
}

func (h *SignalHandler) writeError(conn *websocket.Conn, message string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(protocol.SignalMessage{Type: protocol.SignalError, Error: message})
}
