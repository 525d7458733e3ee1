package collab

import "github.com/ent0n29/cleo/internal/protocol"

// ConfigRequest is the body of POST /voice/config.
type ConfigRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
}

// HandshakeConfig is the server-issued configuration for one session.
type HandshakeConfig struct {
	Model        string          `json:"model"`
	Voice        string          `json:"voice"`
	Instructions string          `json:"instructions"`
	Tools        []protocol.Tool `json:"tools,omitempty"`
}

// RegisterRequest is the body of POST /voice/session.
type RegisterRequest struct {
	ConversationID string `json:"conversationId,omitempty"`
	Provider       string `json:"provider,omitempty"`
}

type RegisterResponse struct {
	SessionID string `json:"sessionId"`
}

// SessionReport is the body of POST /voice/session/{sessionId}.
type SessionReport struct {
	DurationSeconds   float64 `json:"durationSeconds"`
	AudioInputTokens  int     `json:"audioInputTokens,omitempty"`
	AudioOutputTokens int     `json:"audioOutputTokens,omitempty"`
	TextInputTokens   int     `json:"textInputTokens,omitempty"`
	TextOutputTokens  int     `json:"textOutputTokens,omitempty"`
}

type ReportResponse struct {
	Cost float64 `json:"cost"`
}

// Transcript is the body of POST /voice/transcript.
type Transcript struct {
	ConversationID string `json:"conversationId"`
	Role           string `json:"role"`
	Content        string `json:"content"`
	SessionID      string `json:"sessionId"`
}

// OfferRequest is the body of POST /voice/rtc/offer. The answer is returned
// as plain text.
type OfferRequest struct {
	SDP       string                 `json:"sdp"`
	SessionID string                 `json:"sessionId,omitempty"`
	Model     string                 `json:"model,omitempty"`
	Provider  string                 `json:"provider,omitempty"`
	Session   protocol.SessionConfig `json:"session"`
}
