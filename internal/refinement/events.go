package refinement

// Event is emitted on every phase transition of a run.
type Event struct {
	Phase     Phase
	Iteration int

	// Set on validating -> accepted/generating transitions.
	Accepted *bool
	Score    *int
	Critique string

	// Set on transitions to PhaseFailed.
	Err error
}

// Observer receives run events synchronously, in order, on the goroutine
// executing the run. Observers must not block.
type Observer func(Event)
