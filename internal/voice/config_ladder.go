package voice

import (
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/protocol"
)

const trimmedInstructionsLimit = 1200

type ladderOptions struct {
	pushToTalk         bool
	transcriptionModel string
	pcmFormats         bool
	tools              bool
}

// configLadder returns session payloads from richest to smallest. Each rung
// is tried only after the previous one was rejected.
func configLadder(cfg collab.HandshakeConfig, o ladderOptions) []protocol.SessionConfig {
	turn := protocol.ServerVAD()
	if o.pushToTalk {
		turn = nil
	}
	base := protocol.SessionConfig{
		Modalities:    []string{"audio", "text"},
		Voice:         cfg.Voice,
		TurnDetection: turn,
	}
	if o.pcmFormats {
		base.InputAudioFormat = "pcm16"
		base.OutputAudioFormat = "pcm16"
	}

	full := base
	full.Instructions = cfg.Instructions
	if o.transcriptionModel != "" {
		full.InputAudioTranscription = &protocol.TranscriptionConfig{Model: o.transcriptionModel}
	}
	if o.tools && len(cfg.Tools) > 0 {
		full.Tools = cfg.Tools
		full.ToolChoice = "auto"
	}

	trimmed := full
	trimmed.Tools = nil
	trimmed.ToolChoice = ""
	trimmed.Instructions = trimInstructions(cfg.Instructions, trimmedInstructionsLimit)

	minimal := base
	return []protocol.SessionConfig{full, trimmed, minimal}
}

// trimInstructions cuts s to at most limit runes, preferring a word boundary.
func trimInstructions(s string, limit int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	cut := string(runes[:limit])
	if i := strings.LastIndexAny(cut, " \n\t"); i > limit/2 {
		cut = cut[:i]
	}
	return strings.TrimSpace(cut)
}
