package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// MessageType is the `type` discriminator of realtime protocol envelopes.
type MessageType string

// Client events.
const (
	TypeSessionUpdate          MessageType = "session.update"
	TypeInputAudioAppend       MessageType = "input_audio_buffer.append"
	TypeInputAudioCommit       MessageType = "input_audio_buffer.commit"
	TypeInputAudioClear        MessageType = "input_audio_buffer.clear"
	TypeResponseCreate         MessageType = "response.create"
	TypeResponseCancel         MessageType = "response.cancel"
	TypeConversationItemCreate MessageType = "conversation.item.create"
)

// Server events.
const (
	TypeSessionCreated              MessageType = "session.created"
	TypeSessionUpdated              MessageType = "session.updated"
	TypeSpeechStarted               MessageType = "input_audio_buffer.speech_started"
	TypeSpeechStopped               MessageType = "input_audio_buffer.speech_stopped"
	TypeInputAudioCommitted         MessageType = "input_audio_buffer.committed"
	TypeResponseCreated             MessageType = "response.created"
	TypeResponseAudioDelta          MessageType = "response.audio.delta"
	TypeResponseAudioDone           MessageType = "response.audio.done"
	TypeResponseAudioTranscriptDone MessageType = "response.audio_transcript.done"
	TypeFunctionCallArgumentsDone   MessageType = "response.function_call_arguments.done"
	TypeResponseDone                MessageType = "response.done"
	TypeInputTranscriptionCompleted MessageType = "conversation.item.input_audio_transcription.completed"
	TypeOutputAudioStarted          MessageType = "output_audio_buffer.started"
	TypeOutputAudioStopped          MessageType = "output_audio_buffer.stopped"
	TypeError                       MessageType = "error"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// PeekType returns the discriminator of a raw envelope.
func PeekType(raw []byte) (MessageType, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("invalid envelope: %w", err)
	}
	if env.Type == "" {
		return "", errors.New("invalid envelope: missing type")
	}
	return env.Type, nil
}

// ClientEvent is any event sent to the realtime service.
type ClientEvent interface {
	EventType() MessageType
}

type header struct {
	EventID string      `json:"event_id,omitempty"`
	Type    MessageType `json:"type"`
}

func (h header) EventType() MessageType { return h.Type }

func newHeader(t MessageType) header {
	return header{EventID: "evt_" + uuid.NewString(), Type: t}
}

type SessionUpdate struct {
	header
	Session SessionConfig `json:"session"`
}

func NewSessionUpdate(cfg SessionConfig) SessionUpdate {
	return SessionUpdate{header: newHeader(TypeSessionUpdate), Session: cfg}
}

type InputAudioAppend struct {
	header
	Audio string `json:"audio"`
}

func NewInputAudioAppend(audioBase64 string) InputAudioAppend {
	return InputAudioAppend{header: newHeader(TypeInputAudioAppend), Audio: audioBase64}
}

type InputAudioCommit struct{ header }

func NewInputAudioCommit() InputAudioCommit { return InputAudioCommit{newHeader(TypeInputAudioCommit)} }

type InputAudioClear struct{ header }

func NewInputAudioClear() InputAudioClear { return InputAudioClear{newHeader(TypeInputAudioClear)} }

type ResponseCreate struct {
	header
	Response *ResponseOptions `json:"response,omitempty"`
}

type ResponseOptions struct {
	Modalities   []string `json:"modalities,omitempty"`
	Instructions string   `json:"instructions,omitempty"`
}

func NewResponseCreate() ResponseCreate { return ResponseCreate{header: newHeader(TypeResponseCreate)} }

type ResponseCancel struct{ header }

func NewResponseCancel() ResponseCancel { return ResponseCancel{newHeader(TypeResponseCancel)} }

type ConversationItemCreate struct {
	header
	Item ConversationItem `json:"item"`
}

type ConversationItem struct {
	ID     string `json:"id,omitempty"`
	Type   string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Output string `json:"output,omitempty"`
}

// NewFunctionCallOutput returns the item that hands a tool result back to the model.
func NewFunctionCallOutput(callID, output string) ConversationItemCreate {
	return ConversationItemCreate{
		header: newHeader(TypeConversationItemCreate),
		Item: ConversationItem{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

// Marshal encodes a client event.
func Marshal(ev ClientEvent) ([]byte, error) {
	if ev == nil {
		return nil, errors.New("nil client event")
	}
	return json.Marshal(ev)
}
