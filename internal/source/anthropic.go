package source

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"synthscan/internal/detect"
)

const anthropicSourceID = "anthropic-judge"

const anthropicSystemPrompt = "You are a forensic analyst specialized in distinguishing " +
	"AI-generated content from human-produced content. You answer only with the JSON " +
	"document the user requests, with probabilities grounded in concrete evidence."

// AnthropicJudge covers text and image analysis through the Messages API.
type AnthropicJudge struct {
	client  anthropic.Client
	model   string
	weight  float64
	timeout time.Duration
}

func NewAnthropicJudge(cfg Config) (*AnthropicJudge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("anthropic: api key is required")
	}
	cfg.normalize("claude-sonnet-4-5-20250929", 0.30, 30*time.Second)
	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))
	return &AnthropicJudge{
		client:  client,
		model:   cfg.Model,
		weight:  cfg.Weight,
		timeout: cfg.Timeout,
	}, nil
}

func (j *AnthropicJudge) ID() string      { return anthropicSourceID }
func (j *AnthropicJudge) Weight() float64 { return j.weight }

func (j *AnthropicJudge) Analyze(ctx context.Context, req detect.AnalysisRequest) detect.SignalResult {
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	blocks := []anthropic.ContentBlockParamUnion{
		anthropic.NewTextBlock(buildJudgePrompt(req)),
	}
	if req.Modality == detect.ModalityImage && len(req.Payload) > 0 {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			imageMediaType(req.Metadata.MIMEType),
			base64.StdEncoding.EncodeToString(req.Payload),
		))
	}

	msg, err := j.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:       anthropic.Model(j.model),
		MaxTokens:   1024,
		Temperature: anthropic.Float(0.1),
		System: []anthropic.TextBlockParam{
			{Text: anthropicSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(blocks...),
		},
	})
	if err != nil {
		return failedSignal(anthropicSourceID, j.weight, summarizeFault("messages", err))
	}
	var parts []string
	for _, block := range msg.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	text := strings.Join(parts, "")
	if strings.TrimSpace(text) == "" {
		return failedSignal(anthropicSourceID, j.weight, "response contained no text blocks")
	}
	verdict, err := parseJudgeResponse(text)
	if err != nil {
		return failedSignal(anthropicSourceID, j.weight, summarizeFault("parse response", err))
	}
	return detect.SignalResult{
		SourceID:     anthropicSourceID,
		Score:        *verdict.AIProbability,
		Weight:       j.weight,
		Explanations: explanationsFromJudge(verdict),
		Succeeded:    true,
	}
}

func imageMediaType(mimeType string) string {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if strings.HasPrefix(mimeType, "image/") {
		return mimeType
	}
	return "image/jpeg"
}
