package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMarshalSessionUpdateKeepsExplicitNullTurnDetection(t *testing.T) {
	raw, err := Marshal(NewSessionUpdate(SessionConfig{Voice: "alloy"}))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "session.update", decoded["type"])
	require.True(t, strings.HasPrefix(decoded["event_id"].(string), "evt_"))

	session := decoded["session"].(map[string]any)
	value, present := session["turn_detection"]
	require.True(t, present)
	require.Nil(t, value)
	require.Equal(t, "alloy", session["voice"])
}

func TestMarshalInputAudioAppend(t *testing.T) {
	raw, err := Marshal(NewInputAudioAppend("AAAA"))
	require.NoError(t, err)
	require.Contains(t, string(raw), `"type":"input_audio_buffer.append"`)
	require.Contains(t, string(raw), `"audio":"AAAA"`)
}

func TestMarshalFunctionCallOutput(t *testing.T) {
	raw, err := Marshal(NewFunctionCallOutput("call_1", `{"ok":true}`))
	require.NoError(t, err)

	var decoded struct {
		Type string           `json:"type"`
		Item ConversationItem `json:"item"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	require.Equal(t, "conversation.item.create", decoded.Type)
	require.Equal(t, "function_call_output", decoded.Item.Type)
	require.Equal(t, "call_1", decoded.Item.CallID)
}

func TestMarshalNilEvent(t *testing.T) {
	_, err := Marshal(nil)
	require.Error(t, err)
}

func TestEventIDsAreUnique(t *testing.T) {
	a := NewResponseCreate()
	b := NewResponseCreate()
	require.NotEqual(t, a.EventID, b.EventID)
}

func TestParseServerEventAudioDelta(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"response.audio.delta","response_id":"r1","item_id":"i1","delta":"AAE="}`))
	require.NoError(t, err)

	delta, ok := ev.(*ResponseAudioDelta)
	require.True(t, ok, "expected *ResponseAudioDelta, got %T", ev)
	require.Equal(t, "AAE=", delta.Delta)
	require.Equal(t, TypeResponseAudioDelta, delta.EventType())
}

func TestParseServerEventResponseDoneUsage(t *testing.T) {
	raw := `{"type":"response.done","response":{"id":"r1","status":"completed","usage":{
		"total_tokens":30,"input_tokens":10,"output_tokens":20,
		"input_token_details":{"text_tokens":4,"audio_tokens":6},
		"output_token_details":{"text_tokens":5,"audio_tokens":15}}}}`
	ev, err := ParseServerEvent([]byte(raw))
	require.NoError(t, err)

	done, ok := ev.(*ResponseDone)
	require.True(t, ok)
	require.NotNil(t, done.Response.Usage)
	require.Equal(t, 6, done.Response.Usage.InputTokenDetails.AudioTokens)
	require.Equal(t, 15, done.Response.Usage.OutputTokenDetails.AudioTokens)
}

func TestParseServerEventError(t *testing.T) {
	ev, err := ParseServerEvent([]byte(`{"type":"error","error":{"type":"invalid_request_error","code":"unknown_parameter","message":"bad field","param":"session.tools"}}`))
	require.NoError(t, err)

	errEv, ok := ev.(*ErrorEvent)
	require.True(t, ok)
	require.Equal(t, "unknown_parameter", errEv.Error.Code)
	require.Equal(t, "unknown_parameter: bad field", errEv.Error.String())
}

func TestParseServerEventUnknownType(t *testing.T) {
	raw := []byte(`{"type":"rate_limits.updated","rate_limits":[]}`)
	ev, err := ParseServerEvent(raw)
	require.NoError(t, err)

	unknown, ok := ev.(*Unknown)
	require.True(t, ok)
	require.Equal(t, MessageType("rate_limits.updated"), unknown.EventType())
	require.JSONEq(t, string(raw), string(unknown.Raw))
}

func TestParseServerEventRejectsMalformed(t *testing.T) {
	_, err := ParseServerEvent([]byte(`{"type":`))
	require.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"delta":"x"}`))
	require.Error(t, err)

	_, err = ParseServerEvent([]byte(`{"type":"response.audio.delta","delta":5}`))
	require.Error(t, err)
}

func TestParseSignalMessage(t *testing.T) {
	msg, err := ParseSignalMessage([]byte(`{"type":"answer","sdp":"v=0"}`))
	require.NoError(t, err)
	require.Equal(t, SignalAnswer, msg.Type)

	_, err = ParseSignalMessage([]byte(`{"type":"answer"}`))
	require.Error(t, err)

	_, err = ParseSignalMessage([]byte(`{"type":"candidate","sdp":"x"}`))
	require.True(t, errors.Is(err, ErrUnsupportedType))

	msg, err = ParseSignalMessage([]byte(`{"type":"error","error":"upstream refused"}`))
	require.NoError(t, err)
	require.Equal(t, "upstream refused", msg.Error)
}
