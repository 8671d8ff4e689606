package server

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"synthscan/internal/detect"
	"synthscan/internal/source"
)

var (
	ErrEmptyContent    = errors.New("content is required")
	ErrInvalidContent  = errors.New("content could not be decoded")
	ErrContentTooLarge = errors.New("content exceeds the configured size limit")
	ErrRateLimited     = errors.New("rate limit exceeded, try again shortly")
)

// RequestActor carries deidentified caller info for audit rows. Raw IPs and
// user agents never reach the store.
type RequestActor struct {
	IPHash  string
	UAHash  string
	Subject string
}

type AnalyzerService interface {
	Analyze(ctx context.Context, modality detect.Modality, req AnalyzeRequest, actor RequestActor) (AnalyzeResponse, error)
}

// AnalysisService runs the full verdict pipeline for one submission:
// validate, consult the cache, fan out to the registered signal sources,
// fuse, and hand the outcome to the sink without blocking the response.
type AnalysisService struct {
	cfg          ServerConfig
	store        Store
	registry     *source.Registry
	orchestrator *detect.Orchestrator
	cache        *VerdictCache
	obs          *Observability
	limiter      *ipRateLimiter
	log          *slog.Logger
}

func NewAnalysisService(cfg ServerConfig, store Store, registry *source.Registry, orchestrator *detect.Orchestrator, cache *VerdictCache, obs *Observability, log *slog.Logger) *AnalysisService {
	if log == nil {
		log = slog.Default()
	}
	return &AnalysisService{
		cfg:          cfg,
		store:        store,
		registry:     registry,
		orchestrator: orchestrator,
		cache:        cache,
		obs:          obs,
		limiter:      newIPRateLimiter(cfg.Analysis.AnalyzeRPM),
		log:          log,
	}
}

func (s *AnalysisService) Analyze(ctx context.Context, modality detect.Modality, req AnalyzeRequest, actor RequestActor) (AnalyzeResponse, error) {
	ctx, span := otel.Tracer("synthscan-api").Start(ctx, "analysis.run")
	defer span.End()
	span.SetAttributes(attribute.String("modality", string(modality)))

	if !s.limiter.Allow(actor.IPHash) {
		s.appendAudit(actor, "", "analyze."+string(modality), "rate_limited", "")
		return AnalyzeResponse{}, ErrRateLimited
	}

	analysisReq, err := s.buildAnalysisRequest(modality, req)
	if err != nil {
		s.appendAudit(actor, "", "analyze."+string(modality), "rejected", err.Error())
		return AnalyzeResponse{}, err
	}

	cacheKey := s.cache.Key(string(modality), req.Content)
	if cached, ok := s.cache.Get(ctx, cacheKey); ok {
		if cached.TechnicalDetails == nil {
			cached.TechnicalDetails = map[string]any{}
		}
		cached.TechnicalDetails["cached"] = true
		s.appendAudit(actor, cached.VerdictID, "analyze."+string(modality), "cache_hit", "")
		return cached, nil
	}

	verdictID, err := randomID("vd")
	if err != nil {
		return AnalyzeResponse{}, fmt.Errorf("allocate verdict id: %w", err)
	}

	tracker := detect.NewStepTracker(detect.StepsForModality(modality), func(step detect.PipelineStep) {
		if _, appendErr := s.store.AppendVerdictEvent(verdictID, step.Name, step.Detail, map[string]any{
			"status": string(step.Status),
		}); appendErr != nil {
			s.log.Warn("verdict event append failed", "verdict_id", verdictID, "error", appendErr)
		}
	})

	adapters := s.registry.For(modality)
	started := time.Now()
	verdict, err := s.orchestrator.Analyze(ctx, analysisReq, adapters, tracker)
	durationMS := time.Since(started).Milliseconds()
	if err != nil {
		span.RecordError(err)
		s.appendAudit(actor, verdictID, "analyze."+string(modality), "error", err.Error())
		return AnalyzeResponse{}, fmt.Errorf("analysis failed: %w", err)
	}

	s.obs.MarkAnalysis(ctx, string(modality), string(verdict.Determination))
	if verdict.Degraded {
		s.obs.MarkDegraded(ctx, string(modality))
	}
	for _, signal := range verdict.ContributingSignals {
		s.obs.MarkAdapter(ctx, signal.SourceID, signal.Succeeded, signal.DurationMS)
	}

	response := s.buildResponse(verdictID, modality, analysisReq, verdict, tracker.Steps(), durationMS)
	record := VerdictRecord{
		VerdictID:       verdictID,
		Modality:        string(modality),
		CreatedAt:       nowRFC3339(),
		DurationMS:      durationMS,
		Degraded:        verdict.Degraded,
		AIProbability:   verdict.AIProbability,
		Determination:   string(verdict.Determination),
		ConfidenceTier:  string(verdict.ConfidenceTier),
		Metadata:        req.Metadata,
		Signals:         verdict.ContributingSignals,
		Steps:           tracker.Steps(),
		MethodologyNote: verdict.MethodologyNote,
	}

	// Sink and cache writes never delay or fail the response.
	go s.persistOutcome(record, cacheKey, response)

	s.appendAudit(actor, verdictID, "analyze."+string(modality), "ok", "")
	return response, nil
}

func (s *AnalysisService) buildAnalysisRequest(modality detect.Modality, req AnalyzeRequest) (detect.AnalysisRequest, error) {
	content := req.Content
	if strings.TrimSpace(content) == "" {
		return detect.AnalysisRequest{}, ErrEmptyContent
	}
	out := detect.AnalysisRequest{
		Modality: modality,
		Metadata: detect.Metadata{
			FileName:   strings.TrimSpace(req.Metadata.FileName),
			MIMEType:   strings.TrimSpace(req.Metadata.MimeType),
			ByteLength: req.Metadata.ByteLength,
		},
	}
	switch modality {
	case detect.ModalityText, detect.ModalityDocument:
		if int64(len(content)) > s.cfg.Analysis.MaxContentBytes {
			return detect.AnalysisRequest{}, ErrContentTooLarge
		}
		out.Text = content
	case detect.ModalityImage, detect.ModalityVideo:
		payload, err := base64.StdEncoding.DecodeString(content)
		if err != nil {
			return detect.AnalysisRequest{}, fmt.Errorf("%w: %s payload is not valid base64", ErrInvalidContent, modality)
		}
		if int64(len(payload)) > s.cfg.Analysis.MaxContentBytes {
			return detect.AnalysisRequest{}, ErrContentTooLarge
		}
		out.Payload = payload
		if out.Metadata.ByteLength == 0 {
			out.Metadata.ByteLength = int64(len(payload))
		}
	default:
		return detect.AnalysisRequest{}, fmt.Errorf("%w: unsupported modality %q", ErrInvalidContent, modality)
	}
	return out, nil
}

func (s *AnalysisService) buildResponse(verdictID string, modality detect.Modality, req detect.AnalysisRequest, verdict detect.FusedVerdict, steps []detect.PipelineStep, durationMS int64) AnalyzeResponse {
	response := AnalyzeResponse{
		VerdictID:          verdictID,
		AIProbability:      verdict.AIProbability,
		HumanProbability:   verdict.HumanProbability,
		FinalDetermination: string(verdict.Determination),
		ConfidenceLevel:    string(verdict.ConfidenceTier),
		Methodology:        verdict.MethodologyNote,
		Interpretation:     interpretationFor(verdict),
		AnalysisFactors:    factorsFromSignals(verdict.ContributingSignals),
		KeyIndicators:      keyIndicatorsFromSignals(verdict.ContributingSignals),
		Strengths:          strengthsFor(verdict),
		Weaknesses:         weaknessesFor(verdict),
		Recommendations:    recommendationsFor(verdict),
		PipelineSteps:      stepViews(steps),
		TechnicalDetails:   technicalDetails(modality, verdict, durationMS),
	}
	if req.Text != "" {
		response.InputLength = len(req.Text)
		if modality == detect.ModalityText || modality == detect.ModalityDocument {
			features := detect.AnalyzeText(req.Text)
			response.TextAnalysis = &features
		}
	}
	return response
}

func (s *AnalysisService) persistOutcome(record VerdictRecord, cacheKey string, response AnalyzeResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.AppendVerdict(record); err != nil {
		s.log.Error("verdict sink append failed", "verdict_id", record.VerdictID, "error", err)
		s.obs.MarkSinkFailure(ctx, "verdict")
	}
	s.cache.Put(ctx, cacheKey, response)
}

func (s *AnalysisService) appendAudit(actor RequestActor, verdictID, action, result, detail string) {
	actorType := "anonymous"
	if actor.Subject != "" {
		actorType = "user"
	}
	event := AuditEvent{
		Timestamp: nowRFC3339(),
		VerdictID: verdictID,
		ActorType: actorType,
		ActorSub:  actor.Subject,
		Action:    action,
		Result:    result,
		IPHash:    actor.IPHash,
		UAHash:    actor.UAHash,
		Detail:    detail,
	}
	if err := s.store.AppendAudit(event); err != nil {
		s.log.Warn("audit append failed", "action", action, "error", err)
	}
}

func interpretationFor(verdict detect.FusedVerdict) string {
	var confidence string
	switch verdict.ConfidenceTier {
	case detect.TierHigh:
		confidence = "The contributing signals agree strongly."
	case detect.TierMedium:
		confidence = "The contributing signals mostly agree."
	default:
		confidence = "The contributing signals are mixed, treat this verdict as indicative rather than conclusive."
	}
	if verdict.Determination == detect.DeterminationAI {
		return fmt.Sprintf("This content is assessed as likely AI-generated (%d%% probability). %s", verdict.AIProbability, confidence)
	}
	return fmt.Sprintf("This content is assessed as likely human-produced (%d%% AI probability). %s", verdict.AIProbability, confidence)
}

func factorsFromSignals(signals []detect.SignalResult) []AnalysisFactor {
	factors := []AnalysisFactor{}
	for _, signal := range signals {
		if !signal.Succeeded {
			continue
		}
		for _, explanation := range signal.Explanations {
			if explanation.Label == "key-indicator" {
				continue
			}
			score := explanation.Contribution
			if signal.SourceID == detect.HeuristicSourceID {
				// Heuristic explanations carry score deltas, not absolute
				// scores; re-anchor them on the neutral midpoint.
				score = clampUnit(0.5 + explanation.Contribution)
			}
			factors = append(factors, AnalysisFactor{
				Factor:      explanation.Label,
				Score:       score,
				Explanation: explanation.Rationale,
			})
		}
	}
	return factors
}

func keyIndicatorsFromSignals(signals []detect.SignalResult) []string {
	indicators := []string{}
	seen := map[string]bool{}
	for _, signal := range signals {
		for _, explanation := range signal.Explanations {
			if explanation.Label != "key-indicator" {
				continue
			}
			text := strings.TrimSpace(explanation.Rationale)
			if text == "" || seen[text] {
				continue
			}
			seen[text] = true
			indicators = append(indicators, text)
		}
	}
	if len(indicators) > 0 {
		return indicators
	}
	// No judge supplied indicators; fall back to the strongest factor labels.
	type ranked struct {
		label  string
		weight float64
	}
	var candidates []ranked
	for _, signal := range signals {
		for _, explanation := range signal.Explanations {
			candidates = append(candidates, ranked{
				label:  explanation.Label,
				weight: abs(explanation.Contribution),
			})
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].weight > candidates[j].weight })
	for _, candidate := range candidates {
		if seen[candidate.label] {
			continue
		}
		seen[candidate.label] = true
		indicators = append(indicators, candidate.label)
		if len(indicators) == 5 {
			break
		}
	}
	return indicators
}

func strengthsFor(verdict detect.FusedVerdict) []string {
	if verdict.Degraded {
		return []string{
			"Local statistical analysis remains available when external detection sources are down",
			"Deterministic heuristics produce the same verdict for the same input",
		}
	}
	succeeded := 0
	for _, signal := range verdict.ContributingSignals {
		if signal.Succeeded {
			succeeded++
		}
	}
	return []string{
		fmt.Sprintf("Verdict fuses %d independent detection signal(s) weighted by source reliability", succeeded),
		"Model-based judgments are cross-checked against local statistical features",
		"Failed sources are excluded rather than guessed at",
	}
}

func weaknessesFor(verdict detect.FusedVerdict) []string {
	if verdict.Degraded {
		return []string{
			"All external detection sources were unavailable for this analysis",
			"Heuristic-only verdicts capture surface statistics, not deeper semantic evidence",
			"Confidence is capped at Medium while running degraded",
		}
	}
	return []string{
		"Detection of AI-generated content is probabilistic and can be wrong",
		"Heavily edited AI output and formulaic human writing both blur the signal",
	}
}

func recommendationsFor(verdict detect.FusedVerdict) string {
	if verdict.Degraded {
		return "Re-run this analysis later when external detection sources have recovered; treat the current verdict as a preliminary screen."
	}
	if verdict.ConfidenceTier == detect.TierLow {
		return "Corroborate this verdict with provenance checks (source, edit history, capture metadata) before acting on it."
	}
	if verdict.Determination == detect.DeterminationAI {
		return "Verify the content's provenance with its author or publisher before treating it as human-produced."
	}
	return "No immediate action needed; re-check if the content's provenance is ever disputed."
}

func stepViews(steps []detect.PipelineStep) []PipelineStepView {
	out := make([]PipelineStepView, 0, len(steps))
	for _, step := range steps {
		out = append(out, PipelineStepView{
			Name:   step.Name,
			Status: string(step.Status),
			Detail: step.Detail,
		})
	}
	return out
}

func technicalDetails(modality detect.Modality, verdict detect.FusedVerdict, durationMS int64) map[string]any {
	scores := map[string]float64{}
	failures := map[string]string{}
	for _, signal := range verdict.ContributingSignals {
		if signal.Succeeded {
			scores[signal.SourceID] = signal.Score
		} else {
			failures[signal.SourceID] = signal.FailureReason
		}
	}
	return map[string]any{
		"modality":      string(modality),
		"degraded":      verdict.Degraded,
		"signalScores":  scores,
		"failedSources": failures,
		"durationMs":    durationMS,
		"cached":        false,
	}
}

func clampUnit(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func abs(value float64) float64 {
	if value < 0 {
		return -value
	}
	return value
}

func randomID(prefix string) (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}

type ipRateLimiter struct {
	mu      sync.Mutex
	rpm     int
	records map[string][]time.Time
}

func newIPRateLimiter(rpm int) *ipRateLimiter {
	if rpm <= 0 {
		rpm = 12
	}
	return &ipRateLimiter{
		rpm:     rpm,
		records: map[string][]time.Time{},
	}
}

func (l *ipRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if strings.TrimSpace(key) == "" {
		key = "unknown"
	}
	now := time.Now()
	cutoff := now.Add(-1 * time.Minute)
	recent := l.records[key][:0:0]
	for _, stamp := range l.records[key] {
		if stamp.After(cutoff) {
			recent = append(recent, stamp)
		}
	}
	if len(recent) >= l.rpm {
		l.records[key] = recent
		return false
	}
	l.records[key] = append(recent, now)
	return true
}
