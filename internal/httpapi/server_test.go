package httpapi

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/session"
	"github.com/ent0n29/cleo/internal/store"
)

type testServer struct {
	ts       *httptest.Server
	client   *collab.Client
	store    *store.InMemoryStore
	sessions *session.Manager
	metrics  *observability.Metrics
}

func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	cfg := config.Config{
		SessionInactivityTimeout: 2 * time.Minute,
		Client: config.ClientConfig{
			Model: "gpt-4o-realtime-preview",
			Voice: "alloy",
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	reg := prometheus.NewRegistry()
	st := store.NewInMemoryStore()
	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	metrics := observability.NewMetrics("test_httpapi", reg)
	srv := New(cfg, Deps{
		Sessions: sessions,
		Store:    st,
		Metrics:  metrics,
		Gatherer: reg,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{
		ts:       ts,
		client:   collab.NewClient(ts.URL, ts.Client()),
		store:    st,
		sessions: sessions,
		metrics:  metrics,
	}
}

func TestRegisterAndEndSession(t *testing.T) {
	s := newTestServer(t, nil)
	ctx := t.Context()

	id, err := s.client.RegisterSession(ctx, "conv-1", "")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(id, "sess_"), id)

	rec, err := s.store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusActive, rec.Status)
	require.Equal(t, "conv-1", rec.ConversationID)
	require.Equal(t, "primary", rec.Provider)
	require.Equal(t, 1, s.sessions.ActiveCount())

	cost, err := s.client.ReportSessionEnd(ctx, id, collab.SessionReport{DurationSeconds: 60})
	require.NoError(t, err)
	require.InDelta(t, 0.30, cost, 1e-9)

	rec, err = s.store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, store.StatusEnded, rec.Status)
	require.InDelta(t, 0.30, rec.Cost, 1e-9)
	require.Zero(t, s.sessions.ActiveCount())

	// A repeated report overwrites the row but is only counted once.
	cost, err = s.client.ReportSessionEnd(ctx, id, collab.SessionReport{DurationSeconds: 60, AudioOutputTokens: 1000})
	require.NoError(t, err)
	require.InDelta(t, 0.08, cost, 1e-9)
	require.InDelta(t, 0.30, testutil.ToFloat64(s.metrics.SessionCost), 1e-9)
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.SessionEvents.WithLabelValues("ended")))
}

func TestEndUnknownSession(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := s.client.ReportSessionEnd(t.Context(), "sess_missing", collab.SessionReport{DurationSeconds: 1})
	var statusErr *collab.StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	require.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRegisterRejectsUnknownProvider(t *testing.T) {
	s := newTestServer(t, nil)

	_, err := s.client.RegisterSession(t.Context(), "", "azure")
	var statusErr *collab.StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	require.Equal(t, http.StatusBadRequest, statusErr.StatusCode)
}

func TestTranscriptsFeedConversationConfig(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Client.Instructions = "You are Cleo."
	})
	ctx := t.Context()

	require.NoError(t, s.client.PostTranscript(ctx, collab.Transcript{
		ConversationID: "conv-1",
		Role:           "user",
		Content:        "mail me at jane@example.com",
		SessionID:      "sess_1",
	}))
	require.NoError(t, s.client.PostTranscript(ctx, collab.Transcript{
		ConversationID: "conv-1",
		Role:           "assistant",
		Content:        "Sure, noted.",
	}))

	stored, err := s.store.RecentTranscripts(ctx, "conv-1", 10)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	require.True(t, stored[0].PIIRedacted)
	require.NotContains(t, stored[0].Content, "jane@example.com")

	cfg, err := s.client.FetchConfig(ctx, "conv-1")
	require.NoError(t, err)
	require.Equal(t, "gpt-4o-realtime-preview", cfg.Model)
	require.Equal(t, "alloy", cfg.Voice)
	require.True(t, strings.HasPrefix(cfg.Instructions, "You are Cleo."))
	require.Contains(t, cfg.Instructions, "user: mail me at [REDACTED_EMAIL]\nassistant: Sure, noted.")

	cfg, err = s.client.FetchConfig(ctx, "")
	require.NoError(t, err)
	require.Equal(t, "You are Cleo.", cfg.Instructions)
}

func TestTranscriptValidation(t *testing.T) {
	s := newTestServer(t, nil)

	for name, body := range map[string]string{
		"missing conversation": `{"role":"user","content":"hi"}`,
		"bad role":             `{"conversationId":"c","role":"system","content":"hi"}`,
		"empty content":        `{"conversationId":"c","role":"user","content":"  "}`,
		"not json":             `{`,
	} {
		t.Run(name, func(t *testing.T) {
			res, err := http.Post(s.ts.URL+"/voice/transcript", "application/json", strings.NewReader(body))
			require.NoError(t, err)
			defer res.Body.Close()
			require.Equal(t, http.StatusBadRequest, res.StatusCode)
		})
	}
}

func TestConversationContextKeepsNewestTurns(t *testing.T) {
	long := strings.Repeat("x", maxContextRunes-20)
	got := conversationContext([]store.TranscriptRecord{
		{Role: "user", Content: long},
		{Role: "assistant", Content: "latest answer"},
	})
	require.Contains(t, got, "assistant: latest answer")
	require.NotContains(t, got, long)
	require.Empty(t, conversationContext(nil))
}

func TestOfferIsRelayed(t *testing.T) {
	var gotSDP string
	rtc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotSDP = string(body)
		_, _ = w.Write([]byte("v=0\r\no=- answer\r\n"))
	}))
	defer rtc.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.PrimaryRTCURL = rtc.URL
		cfg.Upstream.PrimaryAPIKey = "sk-test"
	})

	answer, err := s.client.ExchangeSDP(t.Context(), collab.OfferRequest{SDP: "v=0\r\no=- offer\r\n"})
	require.NoError(t, err)
	require.Equal(t, "v=0\r\no=- answer", answer)
	require.Equal(t, "v=0\r\no=- offer\r\n", gotSDP)

	_, err = s.client.ExchangeSDP(t.Context(), collab.OfferRequest{SDP: "v=0", Provider: "fallback"})
	var statusErr *collab.StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	require.Equal(t, http.StatusServiceUnavailable, statusErr.StatusCode)
}

func TestOfferUpstreamRejection(t *testing.T) {
	rtc := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad offer", http.StatusBadRequest)
	}))
	defer rtc.Close()

	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.PrimaryRTCURL = rtc.URL
	})

	_, err := s.client.ExchangeSDP(t.Context(), collab.OfferRequest{SDP: "v=0"})
	var statusErr *collab.StatusError
	require.True(t, errors.As(err, &statusErr), "err = %v", err)
	require.Equal(t, http.StatusBadGateway, statusErr.StatusCode)
	require.Equal(t, float64(1), testutil.ToFloat64(s.metrics.ProviderErrors.WithLabelValues("primary", "sdp_rejected")))
}

func TestRelayNeedsKnownSession(t *testing.T) {
	s := newTestServer(t, func(cfg *config.Config) {
		cfg.Upstream.PrimaryWSURL = "ws://127.0.0.1:1/v1/realtime"
	})

	res, err := http.Get(s.ts.URL + "/voice/relay?session_id=sess_missing")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestHealthReadyAndMetrics(t *testing.T) {
	s := newTestServer(t, nil)
	_, err := s.client.RegisterSession(t.Context(), "", "")
	require.NoError(t, err)

	res, err := http.Get(s.ts.URL + "/healthz")
	require.NoError(t, err)
	var health map[string]any
	require.NoError(t, json.NewDecoder(res.Body).Decode(&health))
	res.Body.Close()
	require.Equal(t, "ok", health["status"])
	require.Equal(t, "in-memory", health["store_mode"])
	require.Equal(t, float64(1), health["active_sessions"])

	res, err = http.Get(s.ts.URL + "/readyz")
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)

	res, err = http.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	require.Contains(t, string(body), "test_httpapi_active_sessions 1")
}

func TestCheckOrigin(t *testing.T) {
	check := checkOrigin(false)
	req := httptest.NewRequest(http.MethodGet, "http://cleo.local/voice/relay", nil)
	if !check(req) {
		t.Fatalf("request without Origin should be allowed")
	}
	req.Header.Set("Origin", "http://cleo.local")
	if !check(req) {
		t.Fatalf("same origin should be allowed")
	}
	req.Header.Set("Origin", "https://evil.example")
	if check(req) {
		t.Fatalf("cross origin should be rejected")
	}
	req.Header.Set("Origin", "chrome-extension://abc")
	if check(req) {
		t.Fatalf("non-http origin should be rejected")
	}
	if !checkOrigin(true)(req) {
		t.Fatalf("any origin should be allowed when configured")
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/voice/config", bytes.NewReader(nil))
	var out collab.ConfigRequest
	if err := decodeJSON(req, &out); !errors.Is(err, errEmptyBody) {
		t.Fatalf("decodeJSON() error = %v, want errEmptyBody", err)
	}
}
