package relay

// State is a step of the per-event flow.
type State int

const (
	StateReceived State = iota
	StateHistoryFetched
	StatePromptBuilt
	StateGenerating
	StatePersisting
	StateEmitting
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateHistoryFetched:
		return "history_fetched"
	case StatePromptBuilt:
		return "prompt_built"
	case StateGenerating:
		return "generating"
	case StatePersisting:
		return "persisting"
	case StateEmitting:
		return "emitting"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome summarizes one handled event. Err is informational: the relay has
// already done all user-facing messaging when Handle returns.
type Outcome struct {
	State  State
	Trace  []State
	Err    error
	Chunks int
}

func (o *Outcome) enter(s State) {
	o.State = s
	o.Trace = append(o.Trace, s)
}

func (o Outcome) fail(err error) Outcome {
	o.enter(StateFailed)
	o.Err = err
	return o
}
