package voice

import (
	"time"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/protocol"
)

const (
	ProviderPrimary  = "primary"
	ProviderFallback = "fallback"
)

// Usage accumulates token counts reported by response.done events.
type Usage struct {
	AudioInputTokens  int
	AudioOutputTokens int
	TextInputTokens   int
	TextOutputTokens  int
}

func (u *Usage) Add(in *protocol.Usage) {
	if in == nil {
		return
	}
	u.AudioInputTokens += in.InputTokenDetails.AudioTokens
	u.AudioOutputTokens += in.OutputTokenDetails.AudioTokens
	u.TextInputTokens += in.InputTokenDetails.TextTokens
	u.TextOutputTokens += in.OutputTokenDetails.TextTokens
}

// VoiceSession is one registered realtime conversation.
type VoiceSession struct {
	SessionID      string
	ConversationID string
	Provider       string
	StartedAt      time.Time
	// Elapsed is refreshed by the duration poller and never decreases.
	Elapsed time.Duration
	// EstimatedCost is set only after the session has ended.
	EstimatedCost *float64
	Usage         Usage
}

func (s *VoiceSession) DurationSeconds() float64 {
	return s.Elapsed.Seconds()
}

// refresh recomputes Elapsed from StartedAt.
func (s *VoiceSession) refresh(now time.Time) {
	if d := now.Sub(s.StartedAt); d > s.Elapsed {
		s.Elapsed = d
	}
}

func (s *VoiceSession) report() collab.SessionReport {
	return collab.SessionReport{
		DurationSeconds:   float64(int64(s.DurationSeconds()*10)) / 10,
		AudioInputTokens:  s.Usage.AudioInputTokens,
		AudioOutputTokens: s.Usage.AudioOutputTokens,
		TextInputTokens:   s.Usage.TextInputTokens,
		TextOutputTokens:  s.Usage.TextOutputTokens,
	}
}

func (s *VoiceSession) clone() *VoiceSession {
	if s == nil {
		return nil
	}
	out := *s
	if s.EstimatedCost != nil {
		cost := *s.EstimatedCost
		out.EstimatedCost = &cost
	}
	return &out
}
