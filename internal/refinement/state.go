package refinement

// GenerationResult is the output of one Generation call. It is not modified
// after the generator returns it.
type GenerationResult struct {
	Analysis      string
	Configuration string
	Documentation string
	Requirements  string
}

// ValidationResult is the verdict of one Validation call.
type ValidationResult struct {
	Accepted bool
	Critique string
	Score    int
}

// IterationState is the record threaded through a single run. Exactly one
// Controller.Run call owns it; it is never shared between runs.
type IterationState struct {
	SourceSpec string

	// Configuration is nil until the first Generation call completes.
	Configuration *string
	Analysis      string
	Documentation string
	Requirements  string

	// Accepted and Score are nil until the first Validation call completes and
	// afterwards reflect the most recent validation only.
	Accepted *bool
	Critique string
	Score    *int

	Iteration int
	Phase     Phase
}

// Result is the terminal snapshot of an accepted run.
type Result struct {
	Configuration string `json:"configuration"`
	Analysis      string `json:"analysis"`
	Documentation string `json:"documentation,omitempty"`
	Requirements  string `json:"requirements,omitempty"`
	Accepted      bool   `json:"accepted"`
	Score         int    `json:"score"`
	Critique      string `json:"critique"`
	Iterations    int    `json:"iterations"`
}

func (s *IterationState) applyGeneration(r *GenerationResult, trackDocumentation bool) {
	configuration := r.Configuration
	s.Configuration = &configuration
	s.Analysis = r.Analysis
	if trackDocumentation {
		s.Documentation = r.Documentation
		s.Requirements = r.Requirements
	}
}

func (s *IterationState) applyValidation(r *ValidationResult) {
	accepted := r.Accepted
	score := r.Score
	s.Accepted = &accepted
	s.Score = &score
	s.Critique = r.Critique
}

func (s *IterationState) snapshot() *Result {
	res := &Result{
		Analysis:      s.Analysis,
		Documentation: s.Documentation,
		Requirements:  s.Requirements,
		Critique:      s.Critique,
		Iterations:    s.Iteration,
	}
	if s.Configuration != nil {
		res.Configuration = *s.Configuration
	}
	if s.Accepted != nil {
		res.Accepted = *s.Accepted
	}
	if s.Score != nil {
		res.Score = *s.Score
	}
	return res
}
