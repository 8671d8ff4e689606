// Package detect implements the evidence-fusion core: it fans an analysis
// request out to independently fallible signal sources, fuses whatever
// succeeded into a single calibrated verdict, and guarantees a usable
// degraded verdict from local heuristics when every upstream source fails.
package detect

import (
	"context"
	"strings"
)

type Modality string

const (
	ModalityText     Modality = "text"
	ModalityDocument Modality = "document"
	ModalityImage    Modality = "image"
	ModalityVideo    Modality = "video"
)

// ParseModality maps a request path segment to a known modality.
func ParseModality(value string) (Modality, bool) {
	switch Modality(strings.ToLower(strings.TrimSpace(value))) {
	case ModalityText:
		return ModalityText, true
	case ModalityDocument:
		return ModalityDocument, true
	case ModalityImage:
		return ModalityImage, true
	case ModalityVideo:
		return ModalityVideo, true
	default:
		return "", false
	}
}

// Metadata is the caller-declared description of the submitted content.
type Metadata struct {
	FileName   string `json:"file_name,omitempty"`
	MIMEType   string `json:"mime_type,omitempty"`
	ByteLength int64  `json:"byte_length,omitempty"`
}

// AnalysisRequest is the immutable input to one analysis. Text carries
// submitted or pre-extracted text; Payload carries raw bytes for binary
// modalities. Content extraction happens upstream of this package.
type AnalysisRequest struct {
	Modality Modality
	Text     string
	Payload  []byte
	Metadata Metadata
}

// Explanation is one auditable factor behind a signal's score.
type Explanation struct {
	Label        string  `json:"label"`
	Contribution float64 `json:"contribution"`
	Rationale    string  `json:"rationale"`
}

// SignalResult is the normalized output of one signal source. When Succeeded
// is false the Score is meaningless and fusion must treat the signal as
// absent, never as a neutral 0.5.
type SignalResult struct {
	SourceID      string        `json:"source_id"`
	Score         float64       `json:"score"`
	Weight        float64       `json:"weight"`
	Explanations  []Explanation `json:"explanations,omitempty"`
	Succeeded     bool          `json:"succeeded"`
	FailureReason string        `json:"failure_reason,omitempty"`
	DurationMS    int64         `json:"duration_ms,omitempty"`
}

type Determination string

const (
	DeterminationAI    Determination = "AI"
	DeterminationHuman Determination = "Human"
)

type ConfidenceTier string

const (
	TierLow    ConfidenceTier = "Low"
	TierMedium ConfidenceTier = "Medium"
	TierHigh   ConfidenceTier = "High"
)

// FusedVerdict is the final output of one analysis. AIProbability and
// HumanProbability always sum to 100.
type FusedVerdict struct {
	AIProbability       int            `json:"ai_probability"`
	HumanProbability    int            `json:"human_probability"`
	Determination       Determination  `json:"determination"`
	ConfidenceTier      ConfidenceTier `json:"confidence_tier"`
	ContributingSignals []SignalResult `json:"contributing_signals"`
	Degraded            bool           `json:"degraded"`
	MethodologyNote     string         `json:"methodology_note"`
}

// Adapter is one upstream signal source. Analyze must never panic or return
// a partial result: every transport, schema, or timeout fault is converted
// to a SignalResult with Succeeded=false inside the adapter boundary, and
// the adapter enforces its own per-call timeout.
type Adapter interface {
	ID() string
	Weight() float64
	Analyze(ctx context.Context, req AnalysisRequest) SignalResult
}
