package voice

import (
	"errors"
	"fmt"
)

// Kind classifies voice session failures.
type Kind string

const (
	ConfigurationError       Kind = "configuration_error"
	DeviceAccessError        Kind = "device_access_error"
	SessionRegistrationError Kind = "session_registration_error"
	TransportError           Kind = "transport_error"
	ProtocolError            Kind = "protocol_error"
	ProcessingError          Kind = "processing_error"
)

var (
	// ErrSessionActive is returned by StartSession while a session is live.
	ErrSessionActive = errors.New("voice session already active")
	// ErrHandshakeAborted is returned when EndSession supersedes a handshake.
	ErrHandshakeAborted = errors.New("voice session ended during handshake")
	ErrControllerClosed = errors.New("voice controller closed")
	ErrNotSteady        = errors.New("voice session not in steady state")
)

// Error is a classified voice failure. Remediation is set for failures the
// user can fix.
type Error struct {
	Kind        Kind
	Op          string
	Message     string
	Remediation string
	Err         error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	} else if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Kind, e.Op, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind, so errors.Is(err, &Error{Kind: K}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

func newError(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the Kind of err, or "" when err is not a voice error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

const (
	remediationPermission = "Grant microphone permission to this application, then start the session again."
	remediationNoDevice   = "Check that a microphone is connected and selected as the input device."
	remediationSettings   = "Check your connection and the operating system audio settings, then retry."
)
