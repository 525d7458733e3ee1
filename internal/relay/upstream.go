// Package relay forwards client voice sessions to the realtime provider. It
// holds the provider credentials so clients never see them.
package relay

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/ent0n29/cleo/internal/config"
)

var ErrNoUpstream = errors.New("relay: no upstream configured")

const realtimeBetaHeader = "realtime=v1"

// Upstream is one realtime provider endpoint.
type Upstream struct {
	Name   string
	WSURL  string
	RTCURL string
	APIKey string
	// Model, when set, replaces the model the client asked for.
	Model string
}

// Upstreams pairs the primary provider with an optional fallback.
type Upstreams struct {
	Primary  Upstream
	Fallback Upstream
}

func FromConfig(u config.UpstreamConfig) Upstreams {
	return Upstreams{
		Primary: Upstream{
			Name:   "primary",
			WSURL:  u.PrimaryWSURL,
			RTCURL: u.PrimaryRTCURL,
			APIKey: u.PrimaryAPIKey,
		},
		Fallback: Upstream{
			Name:   "fallback",
			WSURL:  u.FallbackWSURL,
			RTCURL: u.FallbackRTCURL,
			APIKey: u.FallbackAPIKey,
			Model:  u.FallbackModel,
		},
	}
}

// Select returns the upstream for a client provider label.
func (u Upstreams) Select(provider string) (Upstream, error) {
	switch provider {
	case "", "primary":
		if u.Primary.WSURL == "" && u.Primary.RTCURL == "" {
			return Upstream{}, fmt.Errorf("%w: primary", ErrNoUpstream)
		}
		return u.Primary, nil
	case "fallback":
		if u.Fallback.WSURL == "" && u.Fallback.RTCURL == "" {
			return Upstream{}, fmt.Errorf("%w: fallback", ErrNoUpstream)
		}
		return u.Fallback, nil
	default:
		return Upstream{}, fmt.Errorf("relay: unknown provider %q", provider)
	}
}

func (u Upstream) model(requested string) string {
	if u.Model != "" {
		return u.Model
	}
	return requested
}

func withModel(raw, model string) (string, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse upstream url: %w", err)
	}
	if model != "" {
		q := parsed.Query()
		q.Set("model", model)
		parsed.RawQuery = q.Encode()
	}
	return parsed.String(), nil
}

func (u Upstream) header(token string) http.Header {
	h := http.Header{}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	h.Set("OpenAI-Beta", realtimeBetaHeader)
	return h
}

// UpstreamError is a non-2xx response from the provider.
type UpstreamError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("relay: %s: upstream returned %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("relay: %s: upstream returned %d: %s", e.Op, e.StatusCode, e.Body)
}
