package detect

import (
	"context"
	"strings"
	"testing"
	"time"
)

type fakeAdapter struct {
	id     string
	weight float64
	score  float64
	fail   bool
	delay  time.Duration
}

func (f *fakeAdapter) ID() string      { return f.id }
func (f *fakeAdapter) Weight() float64 { return f.weight }

func (f *fakeAdapter) Analyze(ctx context.Context, req AnalysisRequest) SignalResult {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return SignalResult{Succeeded: false, FailureReason: ctx.Err().Error()}
		}
	}
	if f.fail {
		return SignalResult{Succeeded: false, FailureReason: "simulated upstream failure"}
	}
	return SignalResult{Score: f.score, Succeeded: true}
}

func TestAnalyzeFusesAdaptersWithHeuristic(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), time.Second)
	tracker := NewStepTracker(StepsForModality(ModalityText), nil)
	adapters := []Adapter{
		&fakeAdapter{id: "judge-a", weight: 0.4, score: 0.9},
		&fakeAdapter{id: "judge-b", weight: 0.25, score: 0.7},
	}
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     "I remember how nervous I felt reading my first draft aloud.",
	}, adapters, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Degraded {
		t.Fatalf("verdict should not be degraded when adapters succeed")
	}
	ids := map[string]bool{}
	for _, signal := range verdict.ContributingSignals {
		ids[signal.SourceID] = true
	}
	for _, want := range []string{"judge-a", "judge-b", HeuristicSourceID} {
		if !ids[want] {
			t.Fatalf("expected %s among contributing signals, got %v", want, ids)
		}
	}
}

func TestAnalyzePartialOutageUsesSurvivors(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), time.Second)
	adapters := []Adapter{
		&fakeAdapter{id: "dead-judge", weight: 0.5, fail: true},
		&fakeAdapter{id: "live-judge", weight: 0.3, score: 0.8},
	}
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     "short sample",
	}, adapters, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Degraded {
		t.Fatalf("one surviving adapter must not degrade the verdict")
	}
	for _, signal := range verdict.ContributingSignals {
		if signal.SourceID == "dead-judge" {
			t.Fatalf("failed adapter leaked into contributing signals")
		}
	}
}

func TestAnalyzeDegradesOnTotalOutage(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), time.Second)
	tracker := NewStepTracker(StepsForModality(ModalityText), nil)
	adapters := []Adapter{
		&fakeAdapter{id: "judge-a", weight: 0.4, fail: true},
		&fakeAdapter{id: "judge-b", weight: 0.25, fail: true},
	}
	// Formal, repetitive, impersonal text pushes the heuristic well above
	// the High band; the degraded cap must pull it back to Medium.
	text := strings.Repeat("the quick brown fox jumps over lazy dogs today ", 6)
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     text,
	}, adapters, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Degraded {
		t.Fatalf("total outage must yield a degraded verdict")
	}
	if verdict.ConfidenceTier == TierHigh {
		t.Fatalf("degraded verdict must not report High confidence")
	}
	if verdict.AIProbability <= 50 {
		t.Fatalf("heuristic indicators should still drive the score, got %d", verdict.AIProbability)
	}
	if len(verdict.ContributingSignals) != 1 || verdict.ContributingSignals[0].SourceID != HeuristicSourceID {
		t.Fatalf("degraded verdict should rest on the heuristic alone: %+v", verdict.ContributingSignals)
	}
	var inferenceFailed bool
	for _, step := range tracker.Steps() {
		if step.Name == StepInference && step.Status == StepFailed {
			inferenceFailed = true
		}
	}
	if !inferenceFailed {
		t.Fatalf("inference step should be marked failed on total outage")
	}
}

func TestAnalyzeDiscardsLateAdapters(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), 50*time.Millisecond)
	adapters := []Adapter{
		&fakeAdapter{id: "slow-judge", weight: 0.5, score: 0.9, delay: 2 * time.Second},
	}
	started := time.Now()
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     "a quick deadline check",
	}, adapters, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(started); elapsed > time.Second {
		t.Fatalf("analysis should return at the deadline, took %s", elapsed)
	}
	if !verdict.Degraded {
		t.Fatalf("a verdict with only the timed-out adapter must degrade")
	}
}

func TestAnalyzeStepProgression(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), time.Second)
	tracker := NewStepTracker(StepsForModality(ModalityImage), nil)
	_, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityImage,
		Payload:  []byte{0xFF, 0xD8},
		Metadata: Metadata{FileName: "IMG_1001.jpg", MIMEType: "image/jpeg"},
	}, []Adapter{&fakeAdapter{id: "judge", weight: 0.4, score: 0.2}}, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	steps := tracker.Steps()
	if len(steps) != 5 {
		t.Fatalf("image pipeline should have 5 steps, got %d", len(steps))
	}
	for _, step := range steps {
		if step.Status != StepCompleted {
			t.Fatalf("step %s should be Completed, got %s", step.Name, step.Status)
		}
	}
}

func TestAnalyzeNoAdaptersStillVerdicts(t *testing.T) {
	orchestrator := NewOrchestrator(nil, 0)
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     "I wrote this by hand, promise.",
	}, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !verdict.Degraded {
		t.Fatalf("no adapters means a degraded heuristic-only verdict")
	}
	if verdict.AIProbability+verdict.HumanProbability != 100 {
		t.Fatalf("probabilities must sum to 100")
	}
}

func TestAnalyzeNoAdaptersStepsAreNotFailures(t *testing.T) {
	orchestrator := NewOrchestrator(NewHeuristicScorer(0.35), time.Second)
	tracker := NewStepTracker(StepsForModality(ModalityText), nil)
	verdict, err := orchestrator.Analyze(context.Background(), AnalysisRequest{
		Modality: ModalityText,
		Text:     "I wrote this by hand, promise.",
	}, nil, tracker)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Running without signal sources is a deliberate configuration, not an
	// outage. The inference step must say so instead of reporting a failure.
	for _, step := range tracker.Steps() {
		if step.Name != StepInference {
			continue
		}
		if step.Status != StepCompleted {
			t.Fatalf("inference step should complete without adapters, got %s", step.Status)
		}
		if !strings.Contains(step.Detail, "no signal sources configured") {
			t.Fatalf("inference detail should describe the configuration, got %q", step.Detail)
		}
	}
	if !strings.Contains(verdict.MethodologyNote, "no upstream signal sources configured") {
		t.Fatalf("methodology note should describe the configuration, got %q", verdict.MethodologyNote)
	}
}
