package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"synthscan/internal/detect"
)

const geminiSourceID = "gemini-judge"

// GeminiJudge is the primary contextual judge. It handles every modality:
// text and extracted document text as a prompt, images as inline data, and
// video as a metadata-only assessment.
type GeminiJudge struct {
	client  *genai.Client
	model   string
	weight  float64
	timeout time.Duration
}

func NewGeminiJudge(ctx context.Context, cfg Config) (*GeminiJudge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	cfg.normalize("gemini-2.0-flash", 0.40, 30*time.Second)
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &GeminiJudge{
		client:  client,
		model:   cfg.Model,
		weight:  cfg.Weight,
		timeout: cfg.Timeout,
	}, nil
}

func (j *GeminiJudge) ID() string      { return geminiSourceID }
func (j *GeminiJudge) Weight() float64 { return j.weight }

func (j *GeminiJudge) Close() error { return j.client.Close() }

func (j *GeminiJudge) Analyze(ctx context.Context, req detect.AnalysisRequest) detect.SignalResult {
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	model := j.client.GenerativeModel(j.model)
	model.SetTemperature(0.1)
	model.SetMaxOutputTokens(1024)

	parts := []genai.Part{genai.Text(buildJudgePrompt(req))}
	if req.Modality == detect.ModalityImage && len(req.Payload) > 0 {
		parts = append(parts, genai.ImageData(imageSubtype(req.Metadata.MIMEType), req.Payload))
	}

	resp, err := model.GenerateContent(callCtx, parts...)
	if err != nil {
		return failedSignal(geminiSourceID, j.weight, summarizeFault("generate content", err))
	}
	text := collectGeminiText(resp)
	if strings.TrimSpace(text) == "" {
		return failedSignal(geminiSourceID, j.weight, "empty response from model")
	}
	verdict, err := parseJudgeResponse(text)
	if err != nil {
		return failedSignal(geminiSourceID, j.weight, summarizeFault("parse response", err))
	}
	return detect.SignalResult{
		SourceID:     geminiSourceID,
		Score:        *verdict.AIProbability,
		Weight:       j.weight,
		Explanations: explanationsFromJudge(verdict),
		Succeeded:    true,
	}
}

func collectGeminiText(resp *genai.GenerateContentResponse) string {
	var sb strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				sb.WriteString(string(text))
			}
		}
	}
	return sb.String()
}

func imageSubtype(mimeType string) string {
	subtype := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(mimeType)), "image/")
	if subtype == "" || subtype == mimeType {
		return "jpeg"
	}
	return subtype
}

func summarizeFault(stage string, err error) string {
	return fmt.Sprintf("%s: %v", stage, err)
}
