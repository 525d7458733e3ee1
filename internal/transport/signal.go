package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/gorilla/websocket"
)

const signalTimeout = 15 * time.Second

// wsSignaler trades SDP over a WebSocket and keeps the socket open for the
// life of the session.
type wsSignaler struct {
	url    string
	dialer *websocket.Dialer
	header http.Header

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *wsSignaler) ExchangeSDP(ctx context.Context, offer string, p OpenParams) (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("parse signaling url: %w", err)
	}
	q := u.Query()
	if p.SessionID != "" {
		q.Set("session_id", p.SessionID)
	}
	u.RawQuery = q.Encode()

	conn, _, err := s.dialer.DialContext(ctx, u.String(), s.header)
	if err != nil {
		return "", fmt.Errorf("dial signaling websocket: %w", err)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = conn.Close()
		return "", ErrClosed
	}
	s.conn = conn
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	deadline := time.Now().Add(signalTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetWriteDeadline(deadline)
	_ = conn.SetReadDeadline(deadline)

	session := p.Session
	if err := conn.WriteJSON(protocol.SignalMessage{
		Type:     protocol.SignalOffer,
		Model:    p.Model,
		Provider: p.Provider,
		SDP:      offer,
		Session:  &session,
	}); err != nil {
		return "", fmt.Errorf("send offer: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			return "", fmt.Errorf("read answer: %w", err)
		}
		msg, err := protocol.ParseSignalMessage(data)
		if errors.Is(err, protocol.ErrUnsupportedType) {
			continue
		}
		if err != nil {
			return "", err
		}
		switch msg.Type {
		case protocol.SignalAnswer:
			_ = conn.SetReadDeadline(time.Time{})
			go drainSignal(conn)
			return msg.SDP, nil
		case protocol.SignalError:
			return "", fmt.Errorf("signaling rejected offer: %s", msg.Error)
		}
	}
}

func drainSignal(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			return
		}
	}
}

func (s *wsSignaler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return s.conn.Close()
}
