package detect

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// DefaultOverallDeadline bounds one analysis end to end. Any adapter still
// pending at the deadline is treated as failed and its late result discarded,
// so verdicts stay time-bounded and reproducible within a request.
const DefaultOverallDeadline = 35 * time.Second

// Orchestrator phases. One request walks Init -> AttemptingPrimary -> Fusing
// -> Done on the happy path, or Init -> AttemptingPrimary -> Degrading ->
// Done when every adapter fails.
type phase string

const (
	phaseInit              phase = "init"
	phaseAttemptingPrimary phase = "attempting-primary"
	phaseFusing            phase = "fusing"
	phaseDegrading         phase = "degrading"
	phaseDone              phase = "done"
)

// Orchestrator runs the per-request state machine. It never retries a failed
// adapter within a request and never surfaces upstream failures to the
// caller: the heuristic scorer guarantees a verdict under total outage.
type Orchestrator struct {
	heuristic *HeuristicScorer
	deadline  time.Duration
}

func NewOrchestrator(heuristic *HeuristicScorer, deadline time.Duration) *Orchestrator {
	if heuristic == nil {
		heuristic = NewHeuristicScorer(DefaultHeuristicWeight)
	}
	if deadline <= 0 {
		deadline = DefaultOverallDeadline
	}
	return &Orchestrator{heuristic: heuristic, deadline: deadline}
}

// Analyze produces a verdict for req using the given adapter set. The
// returned error is reserved for fusion precondition violations, which the
// state machine makes unreachable; callers may treat it as an internal fault.
func (o *Orchestrator) Analyze(ctx context.Context, req AnalysisRequest, adapters []Adapter, tracker *StepTracker) (FusedVerdict, error) {
	tracker.Advance(StepPreprocessing, StepRunning, "")
	tracker.Advance(StepPreprocessing, StepCompleted, "")
	if req.Modality != ModalityText {
		tracker.Advance(StepExtraction, StepRunning, "")
		tracker.Advance(StepExtraction, StepCompleted, "content supplied pre-extracted")
	}

	current := phaseAttemptingPrimary
	tracker.Advance(StepInference, StepRunning, fmt.Sprintf("querying %d signal source(s)", len(adapters)))
	attempted := o.collectSignals(ctx, req, adapters)
	succeeded := make([]SignalResult, 0, len(attempted))
	for _, signal := range attempted {
		if signal.Succeeded {
			succeeded = append(succeeded, signal)
		}
	}
	heuristic := o.heuristic.Score(req)

	var verdict FusedVerdict
	var err error
	if len(succeeded) == 0 {
		current = phaseDegrading
		if len(adapters) == 0 {
			// An empty adapter set is a configuration state, not an outage.
			tracker.Advance(StepInference, StepCompleted, "no signal sources configured; relying on local heuristics")
		} else {
			tracker.Advance(StepInference, StepFailed, "every signal source failed; falling back to local heuristics")
		}
		tracker.Advance(StepFusion, StepRunning, string(current))
		verdict, err = Fuse([]SignalResult{heuristic})
		if err != nil {
			return FusedVerdict{}, err
		}
		verdict.Degraded = true
		// A heuristic-only verdict must never self-report High confidence.
		verdict.ConfidenceTier = CapTier(verdict.ConfidenceTier, TierMedium)
		if len(adapters) == 0 {
			verdict.MethodologyNote = "Degraded analysis: no upstream signal sources configured; verdict computed from local heuristics only"
		} else {
			verdict.MethodologyNote = "Degraded analysis: all upstream signal sources were unavailable; verdict computed from local heuristics only"
		}
	} else {
		current = phaseFusing
		tracker.Advance(StepInference, StepCompleted, fmt.Sprintf("%d of %d signal source(s) succeeded", len(succeeded), len(adapters)))
		tracker.Advance(StepFusion, StepRunning, string(current))
		verdict, err = Fuse(append(succeeded, heuristic))
		if err != nil {
			return FusedVerdict{}, err
		}
	}
	tracker.Advance(StepFusion, StepCompleted, fmt.Sprintf("fused probability %d%%", verdict.AIProbability))

	tracker.Advance(StepResultGeneration, StepRunning, "")
	tracker.Advance(StepResultGeneration, StepCompleted, string(phaseDone))

	return verdict, nil
}

// collectSignals invokes every adapter concurrently and waits until all have
// settled or the overall deadline elapses, whichever is first. Adapters
// enforce their own per-call timeouts; the deadline here is the aggregate
// bound. Results arriving after the deadline are discarded.
func (o *Orchestrator) collectSignals(ctx context.Context, req AnalysisRequest, adapters []Adapter) []SignalResult {
	if len(adapters) == 0 {
		return nil
	}
	overall, cancel := context.WithTimeout(ctx, o.deadline)
	defer cancel()

	var mu sync.Mutex
	settled := make(map[int]SignalResult, len(adapters))
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(index int, adapter Adapter) {
			defer wg.Done()
			started := time.Now()
			result := adapter.Analyze(overall, req)
			result.SourceID = adapter.ID()
			result.Weight = adapter.Weight()
			result.DurationMS = time.Since(started).Milliseconds()
			mu.Lock()
			settled[index] = result
			mu.Unlock()
		}(i, adapter)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-overall.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	out := make([]SignalResult, 0, len(adapters))
	for i, adapter := range adapters {
		if result, ok := settled[i]; ok {
			out = append(out, result)
			continue
		}
		out = append(out, SignalResult{
			SourceID:      adapter.ID(),
			Weight:        adapter.Weight(),
			Succeeded:     false,
			FailureReason: "overall analysis deadline exceeded",
		})
	}
	return out
}
