package app

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ent0n29/cleo/internal/audio"
	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/config"
	"github.com/ent0n29/cleo/internal/logging"
	"github.com/ent0n29/cleo/internal/observability"
	"github.com/ent0n29/cleo/internal/transport"
	"github.com/ent0n29/cleo/internal/voice"
)

// ClientOptions are the local pieces a voice client needs besides config.
type ClientOptions struct {
	Microphone audio.Microphone
	Speaker    audio.Speaker
	// PushToTalk forces manual turns regardless of CLEO_TURN_DETECTION.
	PushToTalk bool
	Tools      voice.ToolRunner
	HTTPClient *http.Client
	Metrics    *observability.ClientMetrics
	Logger     *slog.Logger
}

// VoiceClient is a runnable voice session plus the handshake timings it
// records.
type VoiceClient struct {
	voice.Runner
	Stages *observability.StageWindow
	// Failover is nil when no fallback transport is configured.
	Failover *voice.Failover
}

// BuildVoiceClient wires controllers for the configured transports. With a
// fallback transport the two controllers sit behind a failover runner.
func BuildVoiceClient(cc config.ClientConfig, opts ClientOptions) (*VoiceClient, error) {
	logger := logging.OrDiscard(opts.Logger)
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	collabClient := collab.NewClient(cc.APIBaseURL, httpClient)
	stages := observability.NewStageWindow(256)

	newController := func(provider, kind string) (*voice.Controller, error) {
		factory, err := transportFactory(cc, kind, collabClient, logger)
		if err != nil {
			return nil, err
		}
		return voice.New(voice.Options{
			Collaborators:      collabClient,
			Microphone:         opts.Microphone,
			Speaker:            opts.Speaker,
			NewTransport:       factory,
			Tools:              opts.Tools,
			Provider:           provider,
			SampleRate:         cc.SampleRate,
			PushToTalk:         opts.PushToTalk || strings.EqualFold(cc.TurnDetection, "none"),
			TranscriptionModel: cc.TranscriptionModel,
			ConfigAckTimeout:   cc.ConfigAckTimeout,
			MaxConfigAttempts:  cc.MaxConfigAttempts,
			Logger:             logger,
			Metrics:            opts.Metrics,
			Stages:             stages,
		})
	}

	primary, err := newController(voice.ProviderPrimary, cc.Transport)
	if err != nil {
		return nil, fmt.Errorf("primary voice controller: %w", err)
	}
	if cc.FallbackTransport == "" {
		return &VoiceClient{Runner: primary, Stages: stages}, nil
	}
	fallback, err := newController(voice.ProviderFallback, cc.FallbackTransport)
	if err != nil {
		primary.Close()
		return nil, fmt.Errorf("fallback voice controller: %w", err)
	}
	failover := voice.NewFailover(primary, fallback, logger, opts.Metrics)
	logger.Info("voice failover enabled", "primary", cc.Transport, "fallback", cc.FallbackTransport)
	return &VoiceClient{Runner: failover, Stages: stages, Failover: failover}, nil
}

// transportFactory validates kind up front so a bad setting fails at build
// time rather than on the first handshake.
func transportFactory(cc config.ClientConfig, kind string, collabClient *collab.Client, logger *slog.Logger) (voice.TransportFactory, error) {
	opts := transport.Options{
		Kind:               transport.Kind(kind),
		RelayURL:           cc.RelayURL,
		SignalURL:          cc.SignalURL,
		Signaler:           collabClient.Signaler(),
		SampleRate:         cc.SampleRate,
		DataChannelTimeout: cc.DataChannelTimeout,
		Logger:             logger,
	}
	switch opts.Kind {
	case transport.KindWebSocket, transport.KindWebRTC, transport.KindHybrid:
	default:
		return nil, fmt.Errorf("unknown transport kind %q", kind)
	}
	return func(remote transport.RemoteAudioSink) (transport.Transport, error) {
		o := opts
		o.RemoteAudio = remote
		return transport.New(o)
	}, nil
}
