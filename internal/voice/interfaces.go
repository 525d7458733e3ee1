package voice

import (
	"context"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/transport"
)

// Collaborators are the backend endpoints a session depends on.
// *collab.Client satisfies it.
type Collaborators interface {
	FetchConfig(ctx context.Context, conversationID string) (collab.HandshakeConfig, error)
	RegisterSession(ctx context.Context, conversationID, provider string) (string, error)
	ReportSessionEnd(ctx context.Context, sessionID string, report collab.SessionReport) (float64, error)
	PostTranscript(ctx context.Context, t collab.Transcript) error
}

// TransportFactory builds a fresh transport for each session. remote
// receives decoded audio from transports that carry a media track.
type TransportFactory func(remote transport.RemoteAudioSink) (transport.Transport, error)

// ToolRunner executes a function call requested by the model and returns
// its JSON output.
type ToolRunner interface {
	RunTool(ctx context.Context, name, arguments string) (string, error)
}

// Runner is a complete voice session implementation. *Controller satisfies it.
type Runner interface {
	StartSession(ctx context.Context, conversationID string) error
	EndSession(ctx context.Context) *VoiceSession
	Status() Status
	Err() error
	Session() *VoiceSession
	ToggleMute() bool
	IsMuted() bool
	CommitTurn(ctx context.Context) error
	Subscribe(fn func(StatusChange)) (unsubscribe func())
}
