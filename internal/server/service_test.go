package server

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"synthscan/internal/detect"
	"synthscan/internal/source"
)

type stubAdapter struct {
	id     string
	weight float64
	score  float64
	fail   bool
}

func (s *stubAdapter) ID() string      { return s.id }
func (s *stubAdapter) Weight() float64 { return s.weight }
func (s *stubAdapter) Analyze(ctx context.Context, req detect.AnalysisRequest) detect.SignalResult {
	if s.fail {
		return detect.SignalResult{Succeeded: false, FailureReason: "stubbed outage"}
	}
	return detect.SignalResult{Score: s.score, Succeeded: true}
}

func newTestService(t *testing.T, adapters ...detect.Adapter) (*AnalysisService, *MemoryStore) {
	t.Helper()
	cfg := DefaultServerConfig()
	registry := source.NewRegistry()
	for _, adapter := range adapters {
		registry.Register(adapter,
			detect.ModalityText, detect.ModalityDocument,
			detect.ModalityImage, detect.ModalityVideo)
	}
	store := NewMemoryStore()
	orchestrator := detect.NewOrchestrator(detect.NewHeuristicScorer(cfg.Analysis.HeuristicWeight), time.Second)
	service := NewAnalysisService(cfg, store, registry, orchestrator, nil, nil, nil)
	return service, store
}

func waitForVerdict(t *testing.T, store *MemoryStore, verdictID string) VerdictRecord {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if record, ok := store.GetVerdict(verdictID); ok {
			return record
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("verdict %s never reached the sink", verdictID)
	return VerdictRecord{}
}

func TestServiceAnalyzeTextEndToEnd(t *testing.T) {
	service, store := newTestService(t, &stubAdapter{id: "judge", weight: 0.65, score: 0.9})
	response, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{
		Content: "The system delivers comprehensive results through an integrated framework of layered components and robust validation mechanisms designed for scale.",
	}, RequestActor{IPHash: "ip1", UAHash: "ua1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(response.VerdictID, "vd_") {
		t.Fatalf("unexpected verdict id %q", response.VerdictID)
	}
	if response.AIProbability+response.HumanProbability != 100 {
		t.Fatalf("probabilities must sum to 100: %+v", response)
	}
	if response.TextAnalysis == nil {
		t.Fatalf("text analysis missing for text modality")
	}
	if len(response.PipelineSteps) == 0 {
		t.Fatalf("pipeline steps missing")
	}
	for _, step := range response.PipelineSteps {
		if step.Status != string(detect.StepCompleted) {
			t.Fatalf("step %s not completed: %s", step.Name, step.Status)
		}
	}
	if degraded, _ := response.TechnicalDetails["degraded"].(bool); degraded {
		t.Fatalf("verdict should not be degraded")
	}

	record := waitForVerdict(t, store, response.VerdictID)
	if record.Modality != "text" || record.AIProbability != response.AIProbability {
		t.Fatalf("persisted record diverges from response: %+v", record)
	}
	if len(store.ListVerdictEvents(response.VerdictID, 0)) == 0 {
		t.Fatalf("step events should have been streamed to the store")
	}
}

func TestServiceAnalyzeDegraded(t *testing.T) {
	service, store := newTestService(t, &stubAdapter{id: "dead", weight: 0.65, fail: true})
	response, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{
		Content: "This sample will be judged by the heuristic alone because every upstream source is down for the moment.",
	}, RequestActor{IPHash: "ip2"})
	if err != nil {
		t.Fatalf("degraded analysis must not error: %v", err)
	}
	if degraded, _ := response.TechnicalDetails["degraded"].(bool); !degraded {
		t.Fatalf("expected a degraded verdict")
	}
	if response.ConfidenceLevel == string(detect.TierHigh) {
		t.Fatalf("degraded verdict must not be High confidence")
	}
	record := waitForVerdict(t, store, response.VerdictID)
	if !record.Degraded {
		t.Fatalf("degraded flag lost in the sink")
	}
}

func TestServiceValidation(t *testing.T) {
	service, _ := newTestService(t, &stubAdapter{id: "judge", weight: 0.5, score: 0.5})

	_, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{Content: "   "}, RequestActor{IPHash: "ip3"})
	if !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("expected ErrEmptyContent, got %v", err)
	}

	_, err = service.Analyze(context.Background(), detect.ModalityImage, AnalyzeRequest{Content: "not-base64!!"}, RequestActor{IPHash: "ip3"})
	if !errors.Is(err, ErrInvalidContent) {
		t.Fatalf("expected ErrInvalidContent, got %v", err)
	}
}

func TestServiceContentSizeLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Analysis.MaxContentBytes = 64
	registry := source.NewRegistry()
	store := NewMemoryStore()
	orchestrator := detect.NewOrchestrator(nil, time.Second)
	service := NewAnalysisService(cfg, store, registry, orchestrator, nil, nil, nil)

	_, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{
		Content: strings.Repeat("long ", 100),
	}, RequestActor{IPHash: "ip4"})
	if !errors.Is(err, ErrContentTooLarge) {
		t.Fatalf("expected ErrContentTooLarge, got %v", err)
	}
}

func TestServiceImagePayloadDecoding(t *testing.T) {
	adapter := &stubAdapter{id: "judge", weight: 0.5, score: 0.3}
	service, _ := newTestService(t, adapter)
	payload := base64.StdEncoding.EncodeToString([]byte{0xFF, 0xD8, 0xFF, 0xE0})
	response, err := service.Analyze(context.Background(), detect.ModalityImage, AnalyzeRequest{
		Content:  payload,
		Metadata: AnalyzeMetadata{FileName: "IMG_0042.jpg", MimeType: "image/jpeg"},
	}, RequestActor{IPHash: "ip5"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if response.TextAnalysis != nil {
		t.Fatalf("image verdicts should not carry text analysis")
	}
}

func TestServiceRateLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Analysis.AnalyzeRPM = 1
	registry := source.NewRegistry()
	store := NewMemoryStore()
	orchestrator := detect.NewOrchestrator(nil, time.Second)
	service := NewAnalysisService(cfg, store, registry, orchestrator, nil, nil, nil)

	if _, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{Content: "first"}, RequestActor{IPHash: "same-ip"}); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	_, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{Content: "second"}, RequestActor{IPHash: "same-ip"})
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if _, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{Content: "third"}, RequestActor{IPHash: "other-ip"}); err != nil {
		t.Fatalf("limit must be per caller: %v", err)
	}
}

func TestServiceAuditTrail(t *testing.T) {
	service, store := newTestService(t, &stubAdapter{id: "judge", weight: 0.5, score: 0.5})
	_, err := service.Analyze(context.Background(), detect.ModalityText, AnalyzeRequest{
		Content: "an ordinary sample for the audit trail",
	}, RequestActor{IPHash: "iphash", UAHash: "uahash"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	audit := store.ListAudit(10)
	if len(audit) == 0 {
		t.Fatalf("analysis should leave an audit row")
	}
	entry := audit[0]
	if entry.Action != "analyze.text" || entry.Result != "ok" {
		t.Fatalf("unexpected audit entry: %+v", entry)
	}
	if entry.IPHash != "iphash" || entry.UAHash != "uahash" {
		t.Fatalf("actor hashes missing: %+v", entry)
	}
}
