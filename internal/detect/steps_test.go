package detect

import "testing"

func TestStepsForModality(t *testing.T) {
	text := StepsForModality(ModalityText)
	if len(text) != 4 {
		t.Fatalf("text pipeline should skip extraction, got %v", text)
	}
	for _, name := range text {
		if name == StepExtraction {
			t.Fatalf("text pipeline must not include extraction")
		}
	}
	image := StepsForModality(ModalityImage)
	if len(image) != 5 || image[1] != StepExtraction {
		t.Fatalf("binary pipeline should include extraction second, got %v", image)
	}
}

func TestTrackerAdvanceIdempotent(t *testing.T) {
	var fired int
	tracker := NewStepTracker([]string{StepInference}, func(PipelineStep) { fired++ })
	tracker.Advance(StepInference, StepRunning, "")
	tracker.Advance(StepInference, StepRunning, "again")
	tracker.Advance(StepInference, StepCompleted, "done")
	tracker.Advance(StepInference, StepCompleted, "done")
	if fired != 2 {
		t.Fatalf("observer should fire once per transition, fired %d times", fired)
	}
	steps := tracker.Steps()
	if steps[0].Status != StepCompleted || steps[0].Detail != "done" {
		t.Fatalf("unexpected final step state: %+v", steps[0])
	}
}

func TestTrackerIgnoresUnknownStep(t *testing.T) {
	var fired int
	tracker := NewStepTracker([]string{StepFusion}, func(PipelineStep) { fired++ })
	tracker.Advance("nonexistent", StepRunning, "")
	if fired != 0 {
		t.Fatalf("unknown step must not fire the observer")
	}
}

func TestNilTrackerIsSafe(t *testing.T) {
	var tracker *StepTracker
	tracker.Advance(StepFusion, StepRunning, "")
	if steps := tracker.Steps(); steps != nil {
		t.Fatalf("nil tracker should return nil steps, got %v", steps)
	}
}
