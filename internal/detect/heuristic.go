package detect

import (
	"fmt"
	"regexp"
	"strings"
)

// HeuristicSourceID identifies the local, network-free scorer.
const HeuristicSourceID = "local-heuristic"

// DefaultHeuristicWeight is the declared reliability of the heuristic signal
// when it is fused alongside network-backed sources.
const DefaultHeuristicWeight = 0.35

// TextFeatures holds the cheap lexical features the heuristic scorer and the
// response layer share.
type TextFeatures struct {
	Length               int  `json:"length"`
	WordCount            int  `json:"wordCount"`
	SentenceCount        int  `json:"sentenceCount"`
	AvgWordsPerSentence  int  `json:"avgWordsPerSentence"`
	HasFirstPerson       bool `json:"hasPersonalPronouns"`
	HasEmotionalLanguage bool `json:"hasEmotionalLanguage"`
	HasRepeatedTrigram   bool `json:"hasRepetitivePatterns"`
}

var (
	sentenceSplitRe = regexp.MustCompile(`[.!?]+`)
	firstPersonRe   = regexp.MustCompile(`(?i)\b(i|i'm|i've|i'd|me|my|mine|myself|we|we're|our|ours)\b`)
	emotionalRe     = regexp.MustCompile(`(?i)\b(feel|felt|feeling|happy|sad|angry|afraid|scared|anxious|excited|frustrat\w*|hope\w*|love\w*|hate\w*|fear\w*|grief|joy)\b`)
	syntheticNameRe = regexp.MustCompile(`(?i)(generated|synthetic|midjourney|dall[-_]?e|stable[-_]?diffusion|sora|deepfake|ai[-_])`)
	cameraNameRe    = regexp.MustCompile(`(?i)^(img|dsc|dcim|mov|vid|pxl)[-_]?\d`)
)

// AnalyzeText computes lexical features deterministically from the sample.
func AnalyzeText(text string) TextFeatures {
	words := strings.Fields(text)
	sentences := 0
	for _, part := range sentenceSplitRe.Split(text, -1) {
		if strings.TrimSpace(part) != "" {
			sentences++
		}
	}
	avg := 0
	if sentences > 0 {
		avg = len(words) / sentences
	}
	return TextFeatures{
		Length:               len(text),
		WordCount:            len(words),
		SentenceCount:        sentences,
		AvgWordsPerSentence:  avg,
		HasFirstPerson:       firstPersonRe.MatchString(text),
		HasEmotionalLanguage: emotionalRe.MatchString(text),
		HasRepeatedTrigram:   hasRepeatedTrigram(words),
	}
}

// hasRepeatedTrigram reports whether any three-word sequence occurs more
// than once, case-insensitively.
func hasRepeatedTrigram(words []string) bool {
	if len(words) < 6 {
		return false
	}
	seen := make(map[string]struct{}, len(words))
	for i := 0; i+2 < len(words); i++ {
		key := strings.ToLower(words[i]) + " " + strings.ToLower(words[i+1]) + " " + strings.ToLower(words[i+2])
		if _, ok := seen[key]; ok {
			return true
		}
		seen[key] = struct{}{}
	}
	return false
}

// adjustment is one (predicate, delta, explanation) triple. Adjustments are
// additive and order-insensitive in effect so the composed score stays
// auditable from the explanation list alone.
type adjustment struct {
	label     string
	delta     float64
	rationale func(req AnalysisRequest, features TextFeatures) string
	applies   func(req AnalysisRequest, features TextFeatures) bool
}

var heuristicAdjustments = []adjustment{
	{
		label: "very-long-sentences",
		delta: 0.18,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.WordCount > 0 && f.AvgWordsPerSentence > 20
		},
		rationale: func(_ AnalysisRequest, f TextFeatures) string {
			return fmt.Sprintf("average of %d words per sentence is typical of generated prose", f.AvgWordsPerSentence)
		},
	},
	{
		label: "long-sentences",
		delta: 0.08,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.WordCount > 0 && f.AvgWordsPerSentence > 15 && f.AvgWordsPerSentence <= 20
		},
		rationale: func(_ AnalysisRequest, f TextFeatures) string {
			return fmt.Sprintf("uniformly complex sentences (%d words on average)", f.AvgWordsPerSentence)
		},
	},
	{
		label: "repeated-trigram",
		delta: 0.15,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.HasRepeatedTrigram
		},
		rationale: func(AnalysisRequest, TextFeatures) string {
			return "repeated three-word sequences are a common generation artifact"
		},
	},
	{
		label: "no-first-person",
		delta: 0.10,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.WordCount >= 20 && !f.HasFirstPerson
		},
		rationale: func(AnalysisRequest, TextFeatures) string {
			return "no first-person pronouns in a sample long enough to expect them"
		},
	},
	{
		label: "first-person-voice",
		delta: -0.15,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.HasFirstPerson
		},
		rationale: func(AnalysisRequest, TextFeatures) string {
			return "first-person voice is consistent with human writing"
		},
	},
	{
		label: "emotional-language",
		delta: -0.10,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.HasEmotionalLanguage
		},
		rationale: func(AnalysisRequest, TextFeatures) string {
			return "emotional vocabulary suggests authentic human expression"
		},
	},
	{
		label: "very-short-sample",
		delta: -0.05,
		applies: func(_ AnalysisRequest, f TextFeatures) bool {
			return f.WordCount > 0 && f.WordCount < 30
		},
		rationale: func(_ AnalysisRequest, f TextFeatures) string {
			return fmt.Sprintf("only %d words; too little evidence of generation", f.WordCount)
		},
	},
	{
		label: "synthetic-filename",
		delta: 0.20,
		applies: func(req AnalysisRequest, _ TextFeatures) bool {
			return syntheticNameRe.MatchString(req.Metadata.FileName)
		},
		rationale: func(req AnalysisRequest, _ TextFeatures) string {
			return fmt.Sprintf("file name %q references a generation tool or synthetic origin", req.Metadata.FileName)
		},
	},
	{
		label: "camera-filename",
		delta: -0.10,
		applies: func(req AnalysisRequest, _ TextFeatures) bool {
			return (req.Modality == ModalityImage || req.Modality == ModalityVideo) &&
				cameraNameRe.MatchString(req.Metadata.FileName)
		},
		rationale: func(AnalysisRequest, TextFeatures) string {
			return "camera-style file naming suggests a captured original"
		},
	},
	{
		label: "large-payload",
		delta: 0.05,
		applies: func(req AnalysisRequest, _ TextFeatures) bool {
			return (req.Modality == ModalityDocument || req.Modality == ModalityVideo) &&
				req.Metadata.ByteLength > 2*1024*1024
		},
		rationale: func(req AnalysisRequest, _ TextFeatures) string {
			return fmt.Sprintf("%.2f MB payload; bulk-produced files trend large", float64(req.Metadata.ByteLength)/(1024*1024))
		},
	},
}

// HeuristicScorer is the deterministic, network-free signal source. It is
// the only component that succeeds unconditionally, which is what makes it
// safe as the terminal fallback.
type HeuristicScorer struct {
	weight float64
}

func NewHeuristicScorer(weight float64) *HeuristicScorer {
	if weight <= 0 || weight > 1 {
		weight = DefaultHeuristicWeight
	}
	return &HeuristicScorer{weight: weight}
}

func (s *HeuristicScorer) Weight() float64 { return s.weight }

// Score starts from a neutral 0.5 baseline, applies the fixed ordered
// adjustment list, and clamps to [0,1]. Identical input always yields an
// identical result.
func (s *HeuristicScorer) Score(req AnalysisRequest) SignalResult {
	features := AnalyzeText(req.Text)
	score := 0.5
	explanations := make([]Explanation, 0, 4)
	for _, adj := range heuristicAdjustments {
		if !adj.applies(req, features) {
			continue
		}
		score += adj.delta
		explanations = append(explanations, Explanation{
			Label:        adj.label,
			Contribution: adj.delta,
			Rationale:    adj.rationale(req, features),
		})
	}
	if len(explanations) == 0 {
		explanations = append(explanations, Explanation{
			Label:     "neutral-baseline",
			Rationale: "no heuristic indicator fired; score stays at the neutral baseline",
		})
	}
	return SignalResult{
		SourceID:     HeuristicSourceID,
		Score:        clamp01(score),
		Weight:       s.weight,
		Explanations: explanations,
		Succeeded:    true,
	}
}
