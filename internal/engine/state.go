package engine

// State is the phase of a peer's sync cycle.
type State int

const (
	StateIdle State = iota
	StateFetchingFeed
	StateResolving
	StateFetchingBatch
	StateApplying
	StateAdvanceWatermark
)

var stateNames = [...]string{
	StateIdle:             "IDLE",
	StateFetchingFeed:     "FETCHING_FEED",
	StateResolving:        "RESOLVING",
	StateFetchingBatch:    "FETCHING_BATCH",
	StateApplying:         "APPLYING",
	StateAdvanceWatermark: "ADVANCE_WATERMARK",
}

// String returns the state name.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// Observer is notified of every state transition. It runs on the cycle's
// goroutine and must not block.
type Observer func(peer string, state State)
