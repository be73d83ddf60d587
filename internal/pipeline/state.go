package pipeline

import "fmt"

// State is a stage of one pipeline run.
type State int

const (
	StateIdle State = iota
	StateRasterizing
	StateExtractingText
	StateTranslating
	StateFinalizing
	StateDone
	StateCancelled
	StateFailed
)

var stateNames = map[State]string{
	StateIdle:           "idle",
	StateRasterizing:    "rasterizing",
	StateExtractingText: "extracting_text",
	StateTranslating:    "translating",
	StateFinalizing:     "finalizing",
	StateDone:           "done",
	StateCancelled:      "cancelled",
	StateFailed:         "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// next lists the forward transition of each working state.
var next = map[State]State{
	StateIdle:           StateRasterizing,
	StateRasterizing:    StateExtractingText,
	StateExtractingText: StateTranslating,
	StateTranslating:    StateFinalizing,
	StateFinalizing:     StateDone,
}

// CanTransition reports whether from -> to is allowed. Cancelled and Failed
// are reachable from any non-terminal state.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateCancelled || to == StateFailed {
		return true
	}
	return next[from] == to
}
