package source

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"synthscan/internal/detect"
)

const openaiSourceID = "openai-judge"

const openaiSystemPrompt = "You are a forensic analyst specialized in distinguishing " +
	"machine-generated text from human writing. You answer only with the JSON document " +
	"the user requests, with probabilities grounded in concrete evidence."

// OpenAIJudge is a fast secondary judge for the text-bearing modalities.
type OpenAIJudge struct {
	client  openai.Client
	model   string
	weight  float64
	timeout time.Duration
}

func NewOpenAIJudge(cfg Config) (*OpenAIJudge, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}
	cfg.normalize("gpt-4o-mini", 0.30, 20*time.Second)
	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	return &OpenAIJudge{
		client:  client,
		model:   cfg.Model,
		weight:  cfg.Weight,
		timeout: cfg.Timeout,
	}, nil
}

func (j *OpenAIJudge) ID() string      { return openaiSourceID }
func (j *OpenAIJudge) Weight() float64 { return j.weight }

func (j *OpenAIJudge) Analyze(ctx context.Context, req detect.AnalysisRequest) detect.SignalResult {
	callCtx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	resp, err := j.client.Chat.Completions.New(callCtx, openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(j.model),
		MaxTokens:   openai.Int(1024),
		Temperature: openai.Float(0.1),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(openaiSystemPrompt),
			openai.UserMessage(buildJudgePrompt(req)),
		},
	})
	if err != nil {
		return failedSignal(openaiSourceID, j.weight, summarizeFault("chat completion", err))
	}
	if len(resp.Choices) == 0 {
		return failedSignal(openaiSourceID, j.weight, "response contained no choices")
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return failedSignal(openaiSourceID, j.weight, "empty response from model")
	}
	verdict, err := parseJudgeResponse(content)
	if err != nil {
		return failedSignal(openaiSourceID, j.weight, summarizeFault("parse response", err))
	}
	return detect.SignalResult{
		SourceID:     openaiSourceID,
		Score:        *verdict.AIProbability,
		Weight:       j.weight,
		Explanations: explanationsFromJudge(verdict),
		Succeeded:    true,
	}
}
