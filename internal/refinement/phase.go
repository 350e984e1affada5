package refinement

import "fmt"

// Phase is a state of the generate/validate state machine.
type Phase string

const (
	PhaseStart      Phase = "start"
	PhaseGenerating Phase = "generating"
	PhaseValidating Phase = "validating"
	PhaseAccepted   Phase = "accepted"
	PhaseFailed     Phase = "failed"
)

var phaseTransitions = map[Phase][]Phase{
	PhaseStart:      {PhaseGenerating, PhaseFailed},
	PhaseGenerating: {PhaseValidating, PhaseFailed},
	PhaseValidating: {PhaseAccepted, PhaseGenerating, PhaseFailed},
	PhaseAccepted:   {}, // Terminal state
	PhaseFailed:     {}, // Terminal state
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	next, ok := phaseTransitions[p]
	return ok && len(next) == 0
}

// validatePhaseTransition validates if a phase transition is allowed
func validatePhaseTransition(from, to Phase) error {
	allowedNext, exists := phaseTransitions[from]
	if !exists {
		return fmt.Errorf("invalid current phase: %s", from)
	}

	for _, allowed := range allowedNext {
		if allowed == to {
			return nil
		}
	}

	return fmt.Errorf("invalid phase transition from %s to %s", from, to)
}
