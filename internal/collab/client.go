// Package collab is the HTTP client for the configuration, bookkeeping,
// transcript and SDP relay endpoints a voice session depends on.
package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ent0n29/cleo/internal/reliability"
	"github.com/ent0n29/cleo/internal/transport"
)

const (
	reportAttempts  = 3
	reportRetryBase = 250 * time.Millisecond
	reportRetryCap  = 2 * time.Second
)

// StatusError is returned for non-2xx collaborator responses.
type StatusError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s: http status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: http status %d: %s", e.Op, e.StatusCode, body)
}

// Client talks to the Cleo API.
type Client struct {
	baseURL   string
	client    *http.Client
	retryBase time.Duration
}

func NewClient(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &Client{
		baseURL:   strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		client:    httpClient,
		retryBase: reportRetryBase,
	}
}

func (c *Client) FetchConfig(ctx context.Context, conversationID string) (HandshakeConfig, error) {
	var out HandshakeConfig
	if err := c.postJSON(ctx, "fetch config", "/voice/config", ConfigRequest{ConversationID: conversationID}, &out); err != nil {
		return HandshakeConfig{}, err
	}
	if strings.TrimSpace(out.Model) == "" {
		return HandshakeConfig{}, errors.New("fetch config: response missing model")
	}
	return out, nil
}

func (c *Client) RegisterSession(ctx context.Context, conversationID, provider string) (string, error) {
	var out RegisterResponse
	req := RegisterRequest{ConversationID: conversationID, Provider: provider}
	if err := c.postJSON(ctx, "register session", "/voice/session", req, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", errors.New("register session: response missing sessionId")
	}
	return out.SessionID, nil
}

// ReportSessionEnd sends final duration and usage and returns the cost.
// The endpoint overwrites on repeat, so throttled or 5xx responses are
// retried with backoff.
func (c *Client) ReportSessionEnd(ctx context.Context, sessionID string, report SessionReport) (float64, error) {
	path := "/voice/session/" + url.PathEscape(sessionID)
	var err error
	for attempt := 0; attempt < reportAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return 0, err
			case <-time.After(reliability.ExponentialBackoff(attempt-1, c.retryBase, reportRetryCap)):
			}
		}
		var out ReportResponse
		err = c.postJSON(ctx, "report session end", path, report, &out)
		if err == nil {
			return out.Cost, nil
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || !reliability.IsRetryableHTTPStatus(statusErr.StatusCode) {
			return 0, err
		}
	}
	return 0, err
}

func (c *Client) PostTranscript(ctx context.Context, t Transcript) error {
	return c.postJSON(ctx, "post transcript", "/voice/transcript", t, nil)
}

// ExchangeSDP posts a local offer to the SDP relay and returns the answer.
func (c *Client) ExchangeSDP(ctx context.Context, offer OfferRequest) (string, error) {
	res, err := c.post(ctx, "exchange sdp", "/voice/rtc/offer", offer)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("exchange sdp: read answer: %w", err)
	}
	return strings.TrimSpace(string(body)), nil
}

// Signaler exposes ExchangeSDP as a WebRTC transport signaler.
func (c *Client) Signaler() transport.Signaler {
	return transport.SignalerFunc(func(ctx context.Context, offer string, p transport.OpenParams) (string, error) {
		return c.ExchangeSDP(ctx, OfferRequest{
			SDP:       offer,
			SessionID: p.SessionID,
			Model:     p.Model,
			Provider:  p.Provider,
			Session:   p.Session,
		})
	})
}

func (c *Client) postJSON(ctx context.Context, op, path string, in, out any) error {
	res, err := c.post(ctx, op, path, in)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if out == nil {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4<<10))
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, op, path string, in any) (*http.Response, error) {
	payload, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: send request: %w", op, err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		_ = res.Body.Close()
		return nil, &StatusError{Op: op, StatusCode: res.StatusCode, Body: string(body)}
	}
	return res, nil
}
