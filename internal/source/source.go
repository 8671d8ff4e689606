// Package source holds the signal source adapters: one per upstream
// provider, each normalizing that provider's response into a
// detect.SignalResult and absorbing every failure inside its own boundary.
package source

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"synthscan/internal/detect"
)

// Config is the shared adapter configuration shape.
type Config struct {
	APIKey  string
	Model   string
	Weight  float64
	Timeout time.Duration
}

func (c *Config) normalize(defaultModel string, defaultWeight float64, defaultTimeout time.Duration) {
	if strings.TrimSpace(c.Model) == "" {
		c.Model = defaultModel
	}
	if c.Weight <= 0 || c.Weight > 1 {
		c.Weight = defaultWeight
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Registry maps modalities to the adapters configured for them.
type Registry struct {
	byModality map[detect.Modality][]detect.Adapter
}

func NewRegistry() *Registry {
	return &Registry{byModality: map[detect.Modality][]detect.Adapter{}}
}

func (r *Registry) Register(adapter detect.Adapter, modalities ...detect.Modality) {
	for _, modality := range modalities {
		r.byModality[modality] = append(r.byModality[modality], adapter)
	}
}

// For returns the adapter set for a modality. The returned slice is shared;
// callers must not mutate it.
func (r *Registry) For(modality detect.Modality) []detect.Adapter {
	return r.byModality[modality]
}

// failedSignal converts an adapter-internal fault into a failed signal. The
// score is left at zero but is meaningless: fusion excludes failed signals
// entirely instead of reading them as a neutral guess.
func failedSignal(id string, weight float64, reason string) detect.SignalResult {
	return detect.SignalResult{
		SourceID:      id,
		Weight:        weight,
		Succeeded:     false,
		FailureReason: reason,
	}
}

// judgeVerdict is the JSON document the LLM judges are instructed to emit.
type judgeVerdict struct {
	AIProbability      *float64      `json:"ai_probability"`
	FinalDetermination string        `json:"final_determination"`
	ConfidenceLevel    string        `json:"confidence_level"`
	Methodology        string        `json:"methodology"`
	Interpretation     string        `json:"interpretation"`
	AnalysisFactors    []judgeFactor `json:"analysis_factors"`
	KeyIndicators      []string      `json:"key_indicators"`
}

type judgeFactor struct {
	Factor      string  `json:"factor"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

var errMissingProbability = errors.New("judge response missing ai_probability")

// fenceRe strips the markdown code fences LLMs sometimes wrap around JSON.
var fenceRe = regexp.MustCompile("(?s)^(?:`{3}|~{3})[^\\n]*\\n(.*?)(?:`{3}|~{3})\\s*$")

func stripMarkdownFences(s string) string {
	s = strings.TrimSpace(s)
	if m := fenceRe.FindStringSubmatch(s); m != nil {
		return strings.TrimSpace(m[1])
	}
	return s
}

// parseJudgeResponse parses and validates a judge's raw text output. A 2xx
// upstream response that is unparseable or missing the probability field is
// a failed signal, never a fabricated neutral verdict: returning 0.5 here
// would be indistinguishable from a genuine 50/50 judgment and silently
// corrupt fusion weighting.
func parseJudgeResponse(raw string) (judgeVerdict, error) {
	var verdict judgeVerdict
	cleaned := stripMarkdownFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &verdict); err != nil {
		return judgeVerdict{}, fmt.Errorf("decode judge response: %w", err)
	}
	if verdict.AIProbability == nil {
		return judgeVerdict{}, errMissingProbability
	}
	if *verdict.AIProbability < 0 || *verdict.AIProbability > 1 {
		return judgeVerdict{}, fmt.Errorf("judge ai_probability %.4f outside [0,1]", *verdict.AIProbability)
	}
	return verdict, nil
}

func explanationsFromJudge(verdict judgeVerdict) []detect.Explanation {
	out := make([]detect.Explanation, 0, len(verdict.AnalysisFactors)+len(verdict.KeyIndicators))
	for _, factor := range verdict.AnalysisFactors {
		out = append(out, detect.Explanation{
			Label:        factor.Factor,
			Contribution: factor.Score,
			Rationale:    factor.Explanation,
		})
	}
	for _, indicator := range verdict.KeyIndicators {
		out = append(out, detect.Explanation{
			Label:     "key-indicator",
			Rationale: indicator,
		})
	}
	return out
}

const judgeOutputSchema = `Respond ONLY with valid JSON in exactly this shape:
{
  "ai_probability": 0.0-1.0,
  "final_determination": "AI" or "Human",
  "confidence_level": "High", "Medium" or "Low",
  "methodology": "short description of the methodology applied",
  "interpretation": "plain-language interpretation of the result",
  "analysis_factors": [
    {"factor": "name of the factor", "score": 0.0-1.0, "explanation": "specific evidence"}
  ],
  "key_indicators": ["indicator 1", "indicator 2", "indicator 3"]
}`

// buildJudgePrompt assembles the instruction for an LLM judge. Binary
// payloads are attached by the provider-specific adapter; this prompt only
// carries text and declared metadata.
func buildJudgePrompt(req detect.AnalysisRequest) string {
	var sb strings.Builder
	switch req.Modality {
	case detect.ModalityText, detect.ModalityDocument:
		sb.WriteString("You are an expert at detecting AI-generated text. ")
		sb.WriteString("Analyze the following sample and determine whether it was generated by an AI model or written by a human. ")
		sb.WriteString("Evaluate structure, vocabulary, semantic coherence, repetition patterns, personal voice, and emotional authenticity. ")
		sb.WriteString("Base the probability on concrete evidence from the sample.\n\n")
		sb.WriteString("SAMPLE:\n")
		sb.WriteString(req.Text)
		sb.WriteString("\n\n")
	case detect.ModalityImage:
		sb.WriteString("You are an expert at detecting AI-generated images. ")
		sb.WriteString("Analyze the attached image and determine whether it was generated by an AI model or captured/created by a human. ")
		sb.WriteString("Evaluate textures, lighting coherence, anatomy, fine detail, composition, and generation artifacts.\n\n")
	case detect.ModalityVideo:
		sb.WriteString("You are an expert at detecting AI-generated and deepfake video. ")
		sb.WriteString("Using the declared metadata below, assess how likely the file is synthetic. ")
		sb.WriteString("Consider naming, container/codec conventions, size plausibility, and known generation-pipeline markers.\n\n")
		fmt.Fprintf(&sb, "FILE: name=%q mime=%q bytes=%d\n\n", req.Metadata.FileName, req.Metadata.MIMEType, req.Metadata.ByteLength)
	}
	if req.Modality == detect.ModalityDocument && req.Metadata.FileName != "" {
		fmt.Fprintf(&sb, "SOURCE FILE: name=%q mime=%q bytes=%d\n\n", req.Metadata.FileName, req.Metadata.MIMEType, req.Metadata.ByteLength)
	}
	sb.WriteString(judgeOutputSchema)
	return sb.String()
}
