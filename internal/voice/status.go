package voice

// Status is the externally observable state of a voice session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusListening  Status = "listening"
	StatusSpeaking   Status = "speaking"
	// StatusActive means a response is in progress but no audio has arrived yet.
	StatusActive Status = "active"
	StatusError  Status = "error"
)

// Live reports whether outbound audio may flow in this status.
func (s Status) Live() bool {
	switch s {
	case StatusListening, StatusSpeaking, StatusActive:
		return true
	default:
		return false
	}
}

// StatusChange is delivered to subscribers on every status change.
type StatusChange struct {
	From Status
	To   Status
	Err  error
}
