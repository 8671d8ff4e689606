package server

import (
	"time"

	"synthscan/internal/detect"
)

type Principal struct {
	Subject  string `json:"subject"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// AnalyzeRequest is the per-modality HTTP request body. Content carries the
// text sample directly for text/document, or base64-encoded raw bytes for
// image/video.
type AnalyzeRequest struct {
	Content  string          `json:"content"`
	Metadata AnalyzeMetadata `json:"metadata"`
}

type AnalyzeMetadata struct {
	FileName   string `json:"fileName,omitempty"`
	MimeType   string `json:"mimeType,omitempty"`
	ByteLength int64  `json:"byteLength,omitempty"`
}

type AnalysisFactor struct {
	Factor      string  `json:"factor"`
	Score       float64 `json:"score"`
	Explanation string  `json:"explanation"`
}

type PipelineStepView struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// AnalyzeResponse mirrors the full verdict shape the dashboard consumes.
type AnalyzeResponse struct {
	VerdictID          string               `json:"verdictId"`
	InputLength        int                  `json:"inputLength,omitempty"`
	AIProbability      int                  `json:"aiProbability"`
	HumanProbability   int                  `json:"humanProbability"`
	FinalDetermination string               `json:"finalDetermination"`
	ConfidenceLevel    string               `json:"confidenceLevel"`
	Methodology        string               `json:"methodology"`
	Interpretation     string               `json:"interpretation"`
	AnalysisFactors    []AnalysisFactor     `json:"analysisFactors"`
	KeyIndicators      []string             `json:"keyIndicators"`
	Strengths          []string             `json:"strengths"`
	Weaknesses         []string             `json:"weaknesses"`
	Recommendations    string               `json:"recommendations"`
	TextAnalysis       *detect.TextFeatures `json:"textAnalysis,omitempty"`
	PipelineSteps      []PipelineStepView   `json:"pipelineSteps"`
	TechnicalDetails   map[string]any       `json:"technicalDetails"`
}

// VerdictRecord is the append-only row handed to the verdict sink. The
// submitted content itself is never persisted, only declared metadata and
// the analysis outcome.
type VerdictRecord struct {
	VerdictID       string                `json:"verdict_id"`
	Modality        string                `json:"modality"`
	CreatedAt       string                `json:"created_at"`
	DurationMS      int64                 `json:"duration_ms"`
	Degraded        bool                  `json:"degraded"`
	AIProbability   int                   `json:"ai_probability"`
	Determination   string                `json:"determination"`
	ConfidenceTier  string                `json:"confidence_tier"`
	Metadata        AnalyzeMetadata       `json:"metadata"`
	Signals         []detect.SignalResult `json:"signals"`
	Steps           []detect.PipelineStep `json:"steps"`
	MethodologyNote string                `json:"methodology_note"`
}

type VerdictEvent struct {
	Seq       int64          `json:"seq"`
	Timestamp string         `json:"timestamp"`
	Stage     string         `json:"stage"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
}

type AuditEvent struct {
	Timestamp string `json:"timestamp"`
	VerdictID string `json:"verdict_id,omitempty"`
	ActorType string `json:"actor_type"`
	ActorSub  string `json:"actor_sub,omitempty"`
	Action    string `json:"action"`
	Result    string `json:"result"`
	IPHash    string `json:"ip_hash,omitempty"`
	UAHash    string `json:"ua_hash,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

type MetricsOverview struct {
	GeneratedAt          string         `json:"generated_at"`
	TotalVerdicts        int            `json:"total_verdicts"`
	AIVerdicts           int            `json:"ai_verdicts"`
	HumanVerdicts        int            `json:"human_verdicts"`
	DegradedVerdicts     int            `json:"degraded_verdicts"`
	ByModality           map[string]int `json:"by_modality"`
	AverageAIProbability float64        `json:"average_ai_probability"`
	AverageDurationMS    int64          `json:"average_duration_ms"`
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
