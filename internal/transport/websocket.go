package transport

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/gorilla/websocket"
)

const writeTimeout = 10 * time.Second

// WebSocket speaks the JSON event protocol over a single relay socket.
type WebSocket struct {
	handlers

	opts   Options
	logger *slog.Logger

	mu      sync.Mutex
	conn    *websocket.Conn
	closed  bool
	writeMu sync.Mutex
}

func newWebSocket(opts Options) *WebSocket {
	return &WebSocket{opts: opts, logger: opts.Logger}
}

func (w *WebSocket) Kind() Kind { return KindWebSocket }

// SupportsTools is false: the relay path carries no tool delegation.
func (w *WebSocket) SupportsTools() bool { return false }

func (w *WebSocket) Open(ctx context.Context, p OpenParams) (Ready, error) {
	u, err := relayURL(w.opts.RelayURL, p)
	if err != nil {
		return Ready{}, err
	}
	conn, _, err := w.opts.Dialer.DialContext(ctx, u, w.opts.Header)
	if err != nil {
		return Ready{}, fmt.Errorf("dial relay websocket: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		_ = conn.Close()
		return Ready{}, ErrClosed
	}
	w.conn = conn
	w.mu.Unlock()

	go w.readLoop(conn)
	return Ready{}, nil
}

func relayURL(base string, p OpenParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse relay url: %w", err)
	}
	q := u.Query()
	if p.Model != "" {
		q.Set("model", p.Model)
	}
	if p.Provider != "" {
		q.Set("provider", p.Provider)
	}
	if p.SessionID != "" {
		q.Set("session_id", p.SessionID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (w *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			w.mu.Lock()
			local := w.closed
			w.mu.Unlock()
			if !local {
				w.fireClose(fmt.Errorf("websocket connection lost: %w", err))
			}
			return
		}
		ev, err := protocol.ParseServerEvent(data)
		if err != nil {
			w.logger.Warn("dropping malformed server event", "error", err)
			continue
		}
		w.emit(ev)
	}
}

func (w *WebSocket) Send(ctx context.Context, ev protocol.ClientEvent) error {
	raw, err := protocol.Marshal(ev)
	if err != nil {
		return err
	}
	w.mu.Lock()
	conn, closed := w.conn, w.closed
	w.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotOpen
	}

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write %s: %w", ev.EventType(), err)
	}
	return nil
}

func (w *WebSocket) SendAudio(ctx context.Context, frame []float32) error {
	var encoded string
	if w.opts.AudioFormat == "wav" {
		blob, err := audio.EncodeWAVPCM16LE(audio.PCM16Bytes(audio.FloatToPCM16(frame)), w.opts.SampleRate)
		if err != nil {
			return fmt.Errorf("encode wav chunk: %w", err)
		}
		encoded = base64.StdEncoding.EncodeToString(blob)
	} else {
		encoded = audio.EncodePCM16Base64(frame)
	}
	return w.Send(ctx, protocol.NewInputAudioAppend(encoded))
}

// Close is idempotent and never fires OnClose.
func (w *WebSocket) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	conn := w.conn
	w.conn = nil
	w.mu.Unlock()

	w.silence()
	if conn == nil {
		return nil
	}
	w.writeMu.Lock()
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return conn.Close()
}
