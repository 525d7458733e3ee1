package voice

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var allPhases = []Phase{
	PhaseIdle, PhaseConnecting, PhaseAwaitingDeviceAccess, PhaseRegistering,
	PhaseTransportOpening, PhaseConfigExchange, PhaseSteady, PhaseEnding, PhaseError,
}

var allEvents = []Event{
	EventStart, EventConfigLoaded, EventDeviceReady, EventRegistered, EventTransportOpen,
	EventDegraded, EventAcknowledged, EventEnd, EventReaped, EventFail,
}

func TestTransitionTable(t *testing.T) {
	type key struct {
		phase Phase
		event Event
	}
	allowed := map[key]Phase{
		{PhaseIdle, EventStart}:                       PhaseConnecting,
		{PhaseConnecting, EventConfigLoaded}:          PhaseAwaitingDeviceAccess,
		{PhaseAwaitingDeviceAccess, EventDeviceReady}: PhaseRegistering,
		{PhaseRegistering, EventRegistered}:           PhaseTransportOpening,
		{PhaseTransportOpening, EventTransportOpen}:   PhaseConfigExchange,
		{PhaseTransportOpening, EventDegraded}:        PhaseSteady,
		{PhaseConfigExchange, EventAcknowledged}:      PhaseSteady,
		{PhaseEnding, EventReaped}:                    PhaseIdle,
	}
	for _, p := range allPhases {
		if p != PhaseIdle && p != PhaseError {
			allowed[key{p, EventFail}] = PhaseError
		}
		if p != PhaseIdle && p != PhaseEnding {
			allowed[key{p, EventEnd}] = PhaseEnding
		}
	}

	for _, p := range allPhases {
		for _, e := range allEvents {
			next, err := Transition(p, e)
			want, ok := allowed[key{p, e}]
			if ok {
				require.NoError(t, err, "%s --%s-->", p, e)
				require.Equal(t, want, next, "%s --%s-->", p, e)
				continue
			}
			require.Error(t, err, "%s --%s--> should be rejected", p, e)
			require.Equal(t, p, next)
		}
	}
}

func TestTransitionUnknownPhase(t *testing.T) {
	_, err := Transition(Phase("warming_up"), EventStart)
	require.ErrorContains(t, err, "unknown phase")
}

func TestStatusLive(t *testing.T) {
	for _, s := range []Status{StatusListening, StatusSpeaking, StatusActive} {
		require.True(t, s.Live(), s)
	}
	for _, s := range []Status{StatusIdle, StatusConnecting, StatusError} {
		require.False(t, s.Live(), s)
	}
}
