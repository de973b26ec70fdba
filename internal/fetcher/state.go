package fetcher

// State is a step of the page acquisition protocol.
type State int

// Acquisition states, in the order a clean fetch visits them.
const (
	StateIdle State = iota
	StateLoading
	StatePolling
	StateChallengeDetected
	StateAwaitingManualResolution
	StateContentReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePolling:
		return "polling"
	case StateChallengeDetected:
		return "challenge_detected"
	case StateAwaitingManualResolution:
		return "awaiting_manual_resolution"
	case StateContentReady:
		return "content_ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Observer is notified of every state transition.
type Observer func(from, to State)
