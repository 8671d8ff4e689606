package detect

import (
	"errors"
	"strings"
	"testing"
)

func TestFuseSingleSignal(t *testing.T) {
	verdict, err := Fuse([]SignalResult{
		{SourceID: "gemini-judge", Score: 0.9, Weight: 1.0, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.AIProbability != 90 {
		t.Fatalf("expected 90, got %d", verdict.AIProbability)
	}
	if verdict.HumanProbability != 10 {
		t.Fatalf("expected 10, got %d", verdict.HumanProbability)
	}
	if verdict.Determination != DeterminationAI {
		t.Fatalf("expected AI, got %s", verdict.Determination)
	}
	if verdict.ConfidenceTier != TierHigh {
		t.Fatalf("expected High, got %s", verdict.ConfidenceTier)
	}
}

func TestFuseWeightedSignals(t *testing.T) {
	// 0.8*0.6 + 0.2*0.4 = 0.56
	verdict, err := Fuse([]SignalResult{
		{SourceID: "a", Score: 0.8, Weight: 0.6, Succeeded: true},
		{SourceID: "b", Score: 0.2, Weight: 0.4, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.AIProbability != 56 {
		t.Fatalf("expected 56, got %d", verdict.AIProbability)
	}
	if verdict.Determination != DeterminationAI {
		t.Fatalf("expected AI, got %s", verdict.Determination)
	}
	if verdict.ConfidenceTier != TierLow {
		t.Fatalf("expected Low, got %s", verdict.ConfidenceTier)
	}
}

func TestFuseWeightScaleInvariance(t *testing.T) {
	small, err := Fuse([]SignalResult{
		{SourceID: "a", Score: 0.8, Weight: 0.6, Succeeded: true},
		{SourceID: "b", Score: 0.2, Weight: 0.4, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	large, err := Fuse([]SignalResult{
		{SourceID: "a", Score: 0.8, Weight: 6, Succeeded: true},
		{SourceID: "b", Score: 0.2, Weight: 4, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if small.AIProbability != large.AIProbability {
		t.Fatalf("weights should normalize: %d vs %d", small.AIProbability, large.AIProbability)
	}
}

func TestFuseExcludesFailedSignals(t *testing.T) {
	verdict, err := Fuse([]SignalResult{
		{SourceID: "dead", Score: 0.99, Weight: 0.9, Succeeded: false, FailureReason: "timeout"},
		{SourceID: "live", Score: 0.3, Weight: 0.1, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.AIProbability != 30 {
		t.Fatalf("failed signal leaked into fusion: got %d", verdict.AIProbability)
	}
	if len(verdict.ContributingSignals) != 1 {
		t.Fatalf("expected 1 contributing signal, got %d", len(verdict.ContributingSignals))
	}
	if !strings.Contains(verdict.MethodologyNote, "live") {
		t.Fatalf("methodology should name the used source: %q", verdict.MethodologyNote)
	}
}

func TestFuseProbabilitiesSumTo100(t *testing.T) {
	for _, score := range []float64{0, 0.005, 0.333, 0.5, 0.555, 0.995, 1} {
		verdict, err := Fuse([]SignalResult{
			{SourceID: "a", Score: score, Weight: 1, Succeeded: true},
		})
		if err != nil {
			t.Fatalf("score %.3f: unexpected error: %v", score, err)
		}
		if verdict.AIProbability+verdict.HumanProbability != 100 {
			t.Fatalf("score %.3f: probabilities sum to %d", score, verdict.AIProbability+verdict.HumanProbability)
		}
	}
}

func TestFuseTieBreaksToHuman(t *testing.T) {
	verdict, err := Fuse([]SignalResult{
		{SourceID: "a", Score: 0.5, Weight: 1, Succeeded: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if verdict.Determination != DeterminationHuman {
		t.Fatalf("exact 0.5 must resolve to Human, got %s", verdict.Determination)
	}
}

func TestFuseNoSucceededSignals(t *testing.T) {
	_, err := Fuse([]SignalResult{
		{SourceID: "dead", Succeeded: false},
	})
	if !errors.Is(err, ErrNoSignals) {
		t.Fatalf("expected ErrNoSignals, got %v", err)
	}
	_, err = Fuse(nil)
	if !errors.Is(err, ErrNoSignals) {
		t.Fatalf("expected ErrNoSignals for empty input, got %v", err)
	}
}

func TestTierBands(t *testing.T) {
	cases := []struct {
		fused float64
		want  ConfidenceTier
	}{
		{0.0, TierHigh},
		{0.15, TierHigh},
		{0.2, TierHigh},
		{0.21, TierMedium},
		{0.3, TierMedium},
		{0.31, TierLow},
		{0.5, TierLow},
		{0.69, TierLow},
		{0.7, TierMedium},
		{0.79, TierMedium},
		{0.8, TierHigh},
		{1.0, TierHigh},
	}
	for _, tc := range cases {
		if got := TierFor(tc.fused); got != tc.want {
			t.Errorf("TierFor(%.2f) = %s, want %s", tc.fused, got, tc.want)
		}
	}
}

func TestCapTierOnlyLowers(t *testing.T) {
	if got := CapTier(TierHigh, TierMedium); got != TierMedium {
		t.Fatalf("High capped at Medium should be Medium, got %s", got)
	}
	if got := CapTier(TierLow, TierMedium); got != TierLow {
		t.Fatalf("cap must never raise a tier, got %s", got)
	}
	if got := CapTier(TierMedium, TierMedium); got != TierMedium {
		t.Fatalf("tier at the ceiling stays put, got %s", got)
	}
}
