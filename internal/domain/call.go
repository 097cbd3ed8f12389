package domain

type CallKind string

const (
	CallVoice CallKind = "voice"
	CallVideo CallKind = "video"
)

// CallPhase is the local lifecycle state of a call. Each client owns its own
// phase; the relay never allocates session objects.
type CallPhase int

const (
	CallIdle CallPhase = iota
	CallOffering
	CallRinging
	CallConnecting
	CallActive
	CallEnded
)

func (p CallPhase) String() string {
	switch p {
	case CallIdle:
		return "idle"
	case CallOffering:
		return "offering"
	case CallRinging:
		return "ringing"
	case CallConnecting:
		return "connecting"
	case CallActive:
		return "active"
	case CallEnded:
		return "ended"
	}
	return "unknown"
}

// CanTransition reports whether moving from p to next is a legal edge.
// Ended is reachable from anywhere; everything else follows the offer/answer
// handshake strictly so out-of-order signaling cannot corrupt negotiation.
func (p CallPhase) CanTransition(next CallPhase) bool {
	if next == CallEnded {
		return true
	}
	switch p {
	case CallIdle:
		return next == CallOffering || next == CallRinging
	case CallOffering:
		return next == CallActive
	case CallRinging:
		return next == CallConnecting
	case CallConnecting:
		return next == CallActive
	case CallEnded:
		return next == CallIdle
	}
	return false
}
