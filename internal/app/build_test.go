package app

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/cost"
	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/session"
	"github.com/ent0n29/cleo/internal/store"
	"github.com/ent0n29/cleo/internal/voice"
)

func TestBuildServesCollaboratorAPI(t *testing.T) {
	cfg := config.Config{
		MetricsNamespace:         "test_app",
		SessionInactivityTimeout: time.Minute,
		Client:                   config.ClientConfig{Model: "gpt-4o-realtime-preview", Voice: "alloy"},
	}
	built, err := Build(t.Context(), cfg, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = built.Cleanup() })
	require.Equal(t, "in-memory", built.Store.Mode())

	ts := httptest.NewServer(built.API.Router())
	defer ts.Close()

	client := collab.NewClient(ts.URL, ts.Client())
	id, err := client.RegisterSession(t.Context(), "conv-1", "")
	require.NoError(t, err)
	require.Equal(t, 1, built.Sessions.ActiveCount())

	_, err = client.ReportSessionEnd(t.Context(), id, collab.SessionReport{DurationSeconds: 30})
	require.NoError(t, err)

	res, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	require.Equal(t, http.StatusOK, res.StatusCode)
}

func TestExpireStoredSessionUsesWallTime(t *testing.T) {
	st := store.NewInMemoryStore()
	started := time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, st.CreateSession(t.Context(), store.SessionRecord{
		ID:        "sess_1",
		Status:    store.StatusActive,
		StartedAt: started,
	}))

	expireStoredSession(st, cost.DefaultRates(), nil, logging.Discard(), &session.Session{
		ID:             "sess_1",
		StartedAt:      started,
		LastActivityAt: started.Add(time.Minute),
	})

	rec, err := st.GetSession(t.Context(), "sess_1")
	require.NoError(t, err)
	require.Equal(t, store.StatusEnded, rec.Status)
	require.InDelta(t, 60, rec.DurationSeconds, 1e-9)
	require.InDelta(t, 0.30, rec.Cost, 1e-9)

	// Unknown rows are ignored.
	expireStoredSession(st, cost.DefaultRates(), nil, logging.Discard(), &session.Session{ID: "sess_gone"})
}

func TestBuildVoiceClient(t *testing.T) {
	cc := config.ClientConfig{
		APIBaseURL: "http://127.0.0.1:1",
		RelayURL:   "ws://127.0.0.1:1/voice/relay",
		Transport:  config.TransportWebSocket,
		SampleRate: 24000,
	}
	mic := &audio.FileMicrophone{Path: "testdata/missing.wav"}

	vc, err := BuildVoiceClient(cc, ClientOptions{Microphone: mic})
	require.NoError(t, err)
	require.Nil(t, vc.Failover)
	require.Equal(t, voice.StatusIdle, vc.Status())

	cc.FallbackTransport = config.TransportWebRTC
	vc, err = BuildVoiceClient(cc, ClientOptions{Microphone: mic})
	require.NoError(t, err)
	require.NotNil(t, vc.Failover)
	require.Equal(t, voice.ProviderPrimary, vc.Failover.Provider())

	cc.FallbackTransport = "carrier-pigeon"
	_, err = BuildVoiceClient(cc, ClientOptions{Microphone: mic})
	require.ErrorContains(t, err, "unknown transport kind")
}
