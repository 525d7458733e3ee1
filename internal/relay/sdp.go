package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/protocol"
)

const maxErrorBody = 4 << 10

// SDPForwarder trades a client's SDP offer for the provider's answer.
type SDPForwarder struct {
	client *http.Client
	logger *slog.Logger
}

func NewSDPForwarder(client *http.Client, logger *slog.Logger) *SDPForwarder {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &SDPForwarder{client: client, logger: logging.OrDiscard(logger).With("component", "sdp")}
}

// Offer is what a client sends to start a peer session.
type Offer struct {
	SDP       string
	SessionID string
	Model     string
	Session   protocol.SessionConfig
}

// Exchange posts the offer to up and returns the answer SDP. When the offer
// carries a session configuration, a short-lived session is minted first so
// the provider applies it before the data channel opens.
func (f *SDPForwarder) Exchange(ctx context.Context, up Upstream, offer Offer) (string, error) {
	if up.RTCURL == "" {
		return "", fmt.Errorf("%w: %s has no rtc endpoint", ErrNoUpstream, up.Name)
	}
	if strings.TrimSpace(offer.SDP) == "" {
		return "", protocol.ErrMissingSDP
	}
	model := up.model(offer.Model)

	token := up.APIKey
	if !emptySession(offer.Session) {
		minted, err := f.mintSession(ctx, up, model, offer.Session)
		if err != nil {
			return "", err
		}
		token = minted
	}

	target, err := withModel(up.RTCURL, model)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, strings.NewReader(offer.SDP))
	if err != nil {
		return "", fmt.Errorf("build sdp request: %w", err)
	}
	req.Header = up.header(token)
	req.Header.Set("Content-Type", "application/sdp")

	body, err := f.do(req, "exchange sdp")
	if err != nil {
		return "", err
	}
	answer := strings.TrimSpace(string(body))
	if answer == "" {
		return "", protocol.ErrMissingSDP
	}
	f.logger.Debug("sdp exchanged", "provider", up.Name, "session_id", offer.SessionID)
	return answer + "\r\n", nil
}

type mintRequest struct {
	Model string `json:"model,omitempty"`
	protocol.SessionConfig
}

type mintResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

func (f *SDPForwarder) mintSession(ctx context.Context, up Upstream, model string, cfg protocol.SessionConfig) (string, error) {
	payload, err := json.Marshal(mintRequest{Model: model, SessionConfig: cfg})
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(up.RTCURL, "/")+"/sessions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header = up.header(up.APIKey)
	req.Header.Set("Content-Type", "application/json")

	body, err := f.do(req, "create session")
	if err != nil {
		return "", err
	}
	var out mintResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode session: %w", err)
	}
	if out.ClientSecret.Value == "" {
		return "", fmt.Errorf("relay: create session: response missing client secret")
	}
	return out.ClientSecret.Value, nil
}

func (f *SDPForwarder) do(req *http.Request, op string) ([]byte, error) {
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("relay: %s: %w", op, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(excerpt))}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("relay: %s: read body: %w", op, err)
	}
	return body, nil
}

func emptySession(cfg protocol.SessionConfig) bool {
	return len(cfg.Modalities) == 0 && cfg.Instructions == "" && cfg.Voice == "" &&
		cfg.TurnDetection == nil && len(cfg.Tools) == 0 && cfg.InputAudioTranscription == nil
}
