package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"synthscan/internal/detect"
	"synthscan/internal/server"
	"synthscan/internal/source"
)

func main() {
	modalityFlag := flag.String("modality", "text", "Content modality: text|document|image|video")
	filePath := flag.String("file", "", "Path to the content file (default: read text from stdin)")
	configPath := flag.String("config", "", "Optional server config for provider API keys")
	verbose := flag.Bool("verbose", false, "Print pipeline progress to stderr")
	flag.Parse()

	if err := run(*modalityFlag, *filePath, *configPath, *verbose); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(modalityFlag, filePath, configPath string, verbose bool) error {
	modality, ok := detect.ParseModality(modalityFlag)
	if !ok {
		return fmt.Errorf("unsupported modality %q", modalityFlag)
	}

	req, err := loadRequest(modality, filePath)
	if err != nil {
		return err
	}

	cfg, err := server.LoadServerConfig(configPath)
	if err != nil {
		return err
	}
	applyEnvKeys(&cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	registry := source.NewRegistry()
	if cfg.Providers.Gemini.APIKey != "" {
		gemini, err := source.NewGeminiJudge(ctx, sourceConfig(cfg.Providers.Gemini))
		if err != nil {
			return fmt.Errorf("gemini judge: %w", err)
		}
		defer func() { _ = gemini.Close() }()
		registry.Register(gemini,
			detect.ModalityText, detect.ModalityDocument,
			detect.ModalityImage, detect.ModalityVideo)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		openai, err := source.NewOpenAIJudge(sourceConfig(cfg.Providers.OpenAI))
		if err != nil {
			return fmt.Errorf("openai judge: %w", err)
		}
		registry.Register(openai, detect.ModalityText, detect.ModalityDocument)
	}
	if cfg.Providers.Anthropic.APIKey != "" {
		anthropic, err := source.NewAnthropicJudge(sourceConfig(cfg.Providers.Anthropic))
		if err != nil {
			return fmt.Errorf("anthropic judge: %w", err)
		}
		registry.Register(anthropic, detect.ModalityText, detect.ModalityImage)
	}

	var observer func(detect.PipelineStep)
	if verbose {
		observer = func(step detect.PipelineStep) {
			fmt.Fprintf(os.Stderr, "[%s] %s %s\n", step.Status, step.Name, step.Detail)
		}
	}
	tracker := detect.NewStepTracker(detect.StepsForModality(modality), observer)

	heuristic := detect.NewHeuristicScorer(cfg.Analysis.HeuristicWeight)
	orchestrator := detect.NewOrchestrator(heuristic, time.Duration(cfg.Analysis.DeadlineSec)*time.Second)

	verdict, err := orchestrator.Analyze(ctx, req, registry.For(modality), tracker)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(verdict)
}

func loadRequest(modality detect.Modality, filePath string) (detect.AnalysisRequest, error) {
	req := detect.AnalysisRequest{Modality: modality}
	switch modality {
	case detect.ModalityText, detect.ModalityDocument:
		var data []byte
		var err error
		if filePath == "" {
			data, err = io.ReadAll(os.Stdin)
		} else {
			data, err = os.ReadFile(filePath)
		}
		if err != nil {
			return req, fmt.Errorf("read content: %w", err)
		}
		if strings.TrimSpace(string(data)) == "" {
			return req, fmt.Errorf("no content supplied")
		}
		req.Text = string(data)
	case detect.ModalityImage, detect.ModalityVideo:
		if filePath == "" {
			return req, fmt.Errorf("%s analysis requires -file", modality)
		}
		data, err := os.ReadFile(filePath)
		if err != nil {
			return req, fmt.Errorf("read content: %w", err)
		}
		req.Payload = data
	}
	if filePath != "" {
		req.Metadata = detect.Metadata{
			FileName:   filepath.Base(filePath),
			MIMEType:   mime.TypeByExtension(filepath.Ext(filePath)),
			ByteLength: int64(len(req.Payload) + len(req.Text)),
		}
	}
	return req, nil
}

// applyEnvKeys lets the CLI run without a config file when the usual
// provider environment variables are set.
func applyEnvKeys(cfg *server.ServerConfig) {
	if cfg.Providers.Gemini.APIKey == "" {
		cfg.Providers.Gemini.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Providers.OpenAI.APIKey == "" {
		cfg.Providers.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Providers.Anthropic.APIKey == "" {
		cfg.Providers.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.Providers.Gemini.APIKey == "" && cfg.Providers.OpenAI.APIKey == "" && cfg.Providers.Anthropic.APIKey == "" {
		slog.Warn("no provider API keys configured, analysis will rely on the local heuristic only")
	}
}

func sourceConfig(cfg server.ProviderConfig) source.Config {
	return source.Config{
		APIKey:  cfg.APIKey,
		Model:   cfg.Model,
		Weight:  cfg.Weight,
		Timeout: time.Duration(cfg.TimeoutSec) * time.Second,
	}
}
