package detect

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
)

// ErrNoSignals reports a fusion precondition violation: the caller invoked
// Fuse with zero succeeded signals. The orchestrator guarantees this never
// happens (the local heuristic always succeeds), so hitting it is a
// programming error, not an upstream condition.
var ErrNoSignals = errors.New("detect: fusion requires at least one succeeded signal")

// Fuse combines the succeeded signals into one verdict using normalized
// declared weights. Failed signals are excluded entirely; they never bias
// the result toward 0.5. Weights are normalized over the succeeded subset
// so a missing source does not silently down-weight the fused score.
func Fuse(signals []SignalResult) (FusedVerdict, error) {
	used := make([]SignalResult, 0, len(signals))
	totalWeight := 0.0
	for _, signal := range signals {
		if !signal.Succeeded {
			continue
		}
		used = append(used, signal)
		totalWeight += signal.Weight
	}
	if len(used) == 0 {
		return FusedVerdict{}, ErrNoSignals
	}
	if totalWeight <= 0 {
		return FusedVerdict{}, fmt.Errorf("detect: fusion requires positive total weight, got %.4f", totalWeight)
	}

	fused := 0.0
	for _, signal := range used {
		fused += (signal.Weight / totalWeight) * signal.Score
	}
	fused = clamp01(fused)

	aiProbability := int(math.Round(fused * 100))
	// humanProbability is derived, never independently rounded, so the
	// sum invariant holds for every fused value.
	verdict := FusedVerdict{
		AIProbability:       aiProbability,
		HumanProbability:    100 - aiProbability,
		Determination:       determinationFor(fused),
		ConfidenceTier:      TierFor(fused),
		ContributingSignals: used,
		MethodologyNote:     methodologyNote(used),
	}
	return verdict, nil
}

// determinationFor resolves exactly 0.5 to Human, a documented tie-break.
func determinationFor(fused float64) Determination {
	if fused > 0.5 {
		return DeterminationAI
	}
	return DeterminationHuman
}

// TierFor bands the fused probability. High is checked first so the bands
// never overlap: High on [0,0.2] and [0.8,1], Medium on (0.2,0.3] and
// [0.7,0.8), Low on (0.3,0.7).
func TierFor(fused float64) ConfidenceTier {
	switch {
	case fused >= 0.8 || fused <= 0.2:
		return TierHigh
	case fused >= 0.7 || fused <= 0.3:
		return TierMedium
	default:
		return TierLow
	}
}

var tierRank = map[ConfidenceTier]int{
	TierLow:    0,
	TierMedium: 1,
	TierHigh:   2,
}

// CapTier lowers tier to ceiling when it exceeds it. It never raises.
func CapTier(tier, ceiling ConfidenceTier) ConfidenceTier {
	if tierRank[tier] > tierRank[ceiling] {
		return ceiling
	}
	return tier
}

func methodologyNote(used []SignalResult) string {
	ids := make([]string, 0, len(used))
	for _, signal := range used {
		ids = append(ids, fmt.Sprintf("%s (weight %.2f)", signal.SourceID, signal.Weight))
	}
	sort.Strings(ids)
	return fmt.Sprintf("Weighted fusion of %d signal source(s): %s", len(used), strings.Join(ids, ", "))
}

func clamp01(value float64) float64 {
	return math.Max(0, math.Min(1, value))
}
