package voice

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/stretchr/testify/require"
)

func TestConfigLadderShrinks(t *testing.T) {
	cfg := collab.HandshakeConfig{
		Voice:        "verse",
		Instructions: strings.Repeat("Answer briefly and politely. ", 100),
		Tools:        []protocol.Tool{{Type: "function", Name: "lookup_order"}},
	}
	ladder := configLadder(cfg, ladderOptions{transcriptionModel: "whisper-1", pcmFormats: true, tools: true})
	require.Len(t, ladder, 3)

	full, trimmed, minimal := ladder[0], ladder[1], ladder[2]
	require.Equal(t, strings.TrimSpace(cfg.Instructions), strings.TrimSpace(full.Instructions))
	require.Len(t, full.Tools, 1)
	require.Equal(t, "whisper-1", full.InputAudioTranscription.Model)

	require.Empty(t, trimmed.Tools)
	require.Empty(t, trimmed.ToolChoice)
	require.LessOrEqual(t, utf8.RuneCountInString(trimmed.Instructions), trimmedInstructionsLimit)
	require.True(t, strings.HasPrefix(cfg.Instructions, trimmed.Instructions))
	require.Equal(t, byte(' '), cfg.Instructions[len(trimmed.Instructions)], "cut on a word boundary")

	require.Empty(t, minimal.Instructions)
	require.Nil(t, minimal.InputAudioTranscription)
	for _, rung := range ladder {
		require.Equal(t, "verse", rung.Voice)
		require.Equal(t, "pcm16", rung.OutputAudioFormat)
		require.Equal(t, protocol.ServerVAD(), rung.TurnDetection)
	}
}

func TestConfigLadderWithoutTools(t *testing.T) {
	cfg := collab.HandshakeConfig{Voice: "alloy", Tools: []protocol.Tool{{Type: "function", Name: "x"}}}
	ladder := configLadder(cfg, ladderOptions{pushToTalk: true})
	require.Empty(t, ladder[0].Tools)
	require.Nil(t, ladder[0].TurnDetection)
	require.Empty(t, ladder[0].InputAudioFormat)
}

func TestTrimInstructions(t *testing.T) {
	require.Equal(t, "short", trimInstructions("  short  ", 10))
	require.Equal(t, "one two", trimInstructions("one two three", 10))
	require.Equal(t, "abcdefghij", trimInstructions("abcdefghijklmnop", 10))
	require.Equal(t, "héllo", trimInstructions("héllo wörld", 8))
}
