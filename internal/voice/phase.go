package voice

import "fmt"

// Phase is the handshake state of a Controller.
type Phase string

type Event string

const (
	PhaseIdle                 Phase = "idle"
	PhaseConnecting           Phase = "connecting"
	PhaseAwaitingDeviceAccess Phase = "awaiting_device_access"
	PhaseRegistering          Phase = "registering"
	PhaseTransportOpening     Phase = "transport_opening"
	PhaseConfigExchange       Phase = "config_exchange"
	PhaseSteady               Phase = "steady"
	PhaseEnding               Phase = "ending"
	PhaseError                Phase = "error"
)

const (
	EventStart         Event = "start"
	EventConfigLoaded  Event = "config_loaded"
	EventDeviceReady   Event = "device_ready"
	EventRegistered    Event = "registered"
	EventTransportOpen Event = "transport_open"
	EventDegraded      Event = "degraded"
	EventAcknowledged  Event = "acknowledged"
	EventEnd           Event = "end"
	EventReaped        Event = "reaped"
	EventFail          Event = "fail"
)

// Transition returns the phase reached from current on event.
func Transition(current Phase, event Event) (Phase, error) {
	if event == EventFail {
		switch current {
		case PhaseIdle, PhaseError:
			return current, invalidTransition(current, event)
		default:
			return PhaseError, nil
		}
	}
	if event == EventEnd {
		switch current {
		case PhaseIdle, PhaseEnding:
			return current, invalidTransition(current, event)
		default:
			return PhaseEnding, nil
		}
	}

	switch current {
	case PhaseIdle:
		switch event {
		case EventStart:
			return PhaseConnecting, nil
		}
	case PhaseConnecting:
		switch event {
		case EventConfigLoaded:
			return PhaseAwaitingDeviceAccess, nil
		}
	case PhaseAwaitingDeviceAccess:
		switch event {
		case EventDeviceReady:
			return PhaseRegistering, nil
		}
	case PhaseRegistering:
		switch event {
		case EventRegistered:
			return PhaseTransportOpening, nil
		}
	case PhaseTransportOpening:
		switch event {
		case EventTransportOpen:
			return PhaseConfigExchange, nil
		case EventDegraded:
			return PhaseSteady, nil
		}
	case PhaseConfigExchange:
		switch event {
		case EventAcknowledged:
			return PhaseSteady, nil
		}
	case PhaseSteady:
	case PhaseEnding:
		switch event {
		case EventReaped:
			return PhaseIdle, nil
		}
	case PhaseError:
	default:
		return current, fmt.Errorf("unknown phase %q", current)
	}
	return current, invalidTransition(current, event)
}

func invalidTransition(phase Phase, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", phase, event)
}
