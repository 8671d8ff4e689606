package detect

import "sync"

// Pipeline step names, in execution order. Modality determines whether the
// extraction step is present.
const (
	StepPreprocessing    = "preprocessing"
	StepExtraction       = "extraction"
	StepInference        = "inference"
	StepFusion           = "fusion"
	StepResultGeneration = "result-generation"
)

type StepStatus string

const (
	StepPending   StepStatus = "Pending"
	StepRunning   StepStatus = "Running"
	StepCompleted StepStatus = "Completed"
	StepFailed    StepStatus = "Failed"
)

type PipelineStep struct {
	Name   string     `json:"name"`
	Status StepStatus `json:"status"`
	Detail string     `json:"detail,omitempty"`
}

// StepsForModality returns the ordered step names for a request. Text skips
// extraction; the binary modalities include it even though extraction itself
// happens upstream, so callers can show the stage as already satisfied.
func StepsForModality(modality Modality) []string {
	if modality == ModalityText {
		return []string{StepPreprocessing, StepInference, StepFusion, StepResultGeneration}
	}
	return []string{StepPreprocessing, StepExtraction, StepInference, StepFusion, StepResultGeneration}
}

// StepTracker is an append-only projection of orchestrator progress for UI
// consumption. It is purely observational: a nil tracker is valid and turns
// every call into a no-op, so non-interactive callers can omit it without
// changing verdicts.
type StepTracker struct {
	mu       sync.Mutex
	steps    []PipelineStep
	observer func(PipelineStep)
}

// NewStepTracker creates all steps in Pending state. The observer, if any,
// is invoked once per effective transition.
func NewStepTracker(names []string, observer func(PipelineStep)) *StepTracker {
	steps := make([]PipelineStep, 0, len(names))
	for _, name := range names {
		steps = append(steps, PipelineStep{Name: name, Status: StepPending})
	}
	return &StepTracker{steps: steps, observer: observer}
}

// Advance records a status transition. It is idempotent for the same
// (name, status) pair and ignores unknown step names.
func (t *StepTracker) Advance(name string, status StepStatus, detail string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	var fired *PipelineStep
	for i := range t.steps {
		if t.steps[i].Name != name {
			continue
		}
		if t.steps[i].Status == status {
			break
		}
		t.steps[i].Status = status
		if detail != "" {
			t.steps[i].Detail = detail
		}
		step := t.steps[i]
		fired = &step
		break
	}
	observer := t.observer
	t.mu.Unlock()
	if fired != nil && observer != nil {
		observer(*fired)
	}
}

// Steps returns a snapshot of the current step sequence.
func (t *StepTracker) Steps() []PipelineStep {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]PipelineStep, len(t.steps))
	copy(out, t.steps)
	return out
}
