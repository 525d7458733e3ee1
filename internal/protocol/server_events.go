package protocol

import (
	"encoding/json"
	"fmt"
)

// ServerEvent is any event received from the realtime service.
type ServerEvent interface {
	EventType() MessageType
}

type SessionCreated struct {
	header
	Session SessionInfo `json:"session"`
}

type SessionUpdated struct {
	header
	Session SessionInfo `json:"session"`
}

type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model"`
	Voice string `json:"voice"`
}

type SpeechStarted struct {
	header
	AudioStartMs int    `json:"audio_start_ms"`
	ItemID       string `json:"item_id"`
}

type SpeechStopped struct {
	header
	AudioEndMs int    `json:"audio_end_ms"`
	ItemID     string `json:"item_id"`
}

type InputAudioCommitted struct {
	header
	ItemID string `json:"item_id"`
}

type ResponseCreated struct {
	header
	Response ResponseInfo `json:"response"`
}

type ResponseAudioDelta struct {
	header
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Delta      string `json:"delta"`
}

type ResponseAudioDone struct {
	header
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
}

type ResponseAudioTranscriptDone struct {
	header
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

type FunctionCallArgumentsDone struct {
	header
	ResponseID string `json:"response_id"`
	ItemID     string `json:"item_id"`
	CallID     string `json:"call_id"`
	Name       string `json:"name"`
	Arguments  string `json:"arguments"`
}

type ResponseDone struct {
	header
	Response ResponseInfo `json:"response"`
}

type ResponseInfo struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Usage  *Usage `json:"usage,omitempty"`
}

// Usage is the token accounting attached to response.done.
type Usage struct {
	TotalTokens        int          `json:"total_tokens"`
	InputTokens        int          `json:"input_tokens"`
	OutputTokens       int          `json:"output_tokens"`
	InputTokenDetails  TokenDetails `json:"input_token_details"`
	OutputTokenDetails TokenDetails `json:"output_token_details"`
}

type TokenDetails struct {
	TextTokens  int `json:"text_tokens"`
	AudioTokens int `json:"audio_tokens"`
}

type InputTranscriptionCompleted struct {
	header
	ItemID     string `json:"item_id"`
	Transcript string `json:"transcript"`
}

// OutputAudioStarted and OutputAudioStopped bracket remote playback on
// media-track transports, where no audio deltas are sent.
type OutputAudioStarted struct {
	header
	ResponseID string `json:"response_id"`
}

type OutputAudioStopped struct {
	header
	ResponseID string `json:"response_id"`
}

type ErrorEvent struct {
	header
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	EventID string `json:"event_id,omitempty"`
}

func (e ErrorDetail) String() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unknown carries a server event this client does not interpret.
type Unknown struct {
	header
	Raw json.RawMessage `json:"-"`
}

// ParseServerEvent decodes one inbound envelope into its concrete event.
func ParseServerEvent(raw []byte) (ServerEvent, error) {
	t, err := PeekType(raw)
	if err != nil {
		return nil, err
	}

	var ev ServerEvent
	switch t {
	case TypeSessionCreated:
		ev = &SessionCreated{}
	case TypeSessionUpdated:
		ev = &SessionUpdated{}
	case TypeSpeechStarted:
		ev = &SpeechStarted{}
	case TypeSpeechStopped:
		ev = &SpeechStopped{}
	case TypeInputAudioCommitted:
		ev = &InputAudioCommitted{}
	case TypeResponseCreated:
		ev = &ResponseCreated{}
	case TypeResponseAudioDelta:
		ev = &ResponseAudioDelta{}
	case TypeResponseAudioDone:
		ev = &ResponseAudioDone{}
	case TypeResponseAudioTranscriptDone:
		ev = &ResponseAudioTranscriptDone{}
	case TypeFunctionCallArgumentsDone:
		ev = &FunctionCallArgumentsDone{}
	case TypeResponseDone:
		ev = &ResponseDone{}
	case TypeInputTranscriptionCompleted:
		ev = &InputTranscriptionCompleted{}
	case TypeOutputAudioStarted:
		ev = &OutputAudioStarted{}
	case TypeOutputAudioStopped:
		ev = &OutputAudioStopped{}
	case TypeError:
		ev = &ErrorEvent{}
	default:
		return &Unknown{header: header{Type: t}, Raw: append(json.RawMessage(nil), raw...)}, nil
	}
	if err := json.Unmarshal(raw, ev); err != nil {
		return nil, fmt.Errorf("decode %s: %w", t, err)
	}
	return ev, nil
}
