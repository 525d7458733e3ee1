package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Signaling message types used when SDP is exchanged over a WebSocket.
const (
	SignalOffer  = "offer"
	SignalAnswer = "answer"
	SignalError  = "error"
)

type SignalMessage struct {
	Type     string         `json:"type"`
	Model    string         `json:"model,omitempty"`
	Provider string         `json:"provider,omitempty"`
	SDP      string         `json:"sdp,omitempty"`
	Session  *SessionConfig `json:"session,omitempty"`
	Error    string         `json:"error,omitempty"`
}

func ParseSignalMessage(raw []byte) (SignalMessage, error) {
	var msg SignalMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return SignalMessage{}, fmt.Errorf("invalid signal message: %w", err)
	}
	switch msg.Type {
	case SignalOffer, SignalAnswer:
		if msg.SDP == "" {
			return SignalMessage{}, fmt.Errorf("invalid %s: missing sdp", msg.Type)
		}
	case SignalError:
	default:
		return SignalMessage{}, ErrUnsupportedType
	}
	return msg, nil
}

// ErrMissingSDP is returned when a signaling exchange yields no answer.
var ErrMissingSDP = errors.New("signaling answer missing sdp")
