package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Store is the verdict sink plus the read side the dashboard needs. The
// analysis path only ever appends; it never reads its own history to decide
// anything.
type Store interface {
	AppendVerdict(record VerdictRecord) error
	GetVerdict(verdictID string) (VerdictRecord, bool)
	ListVerdicts(limit int) []VerdictRecord
	AppendVerdictEvent(verdictID, stage, message string, data map[string]any) (VerdictEvent, error)
	ListVerdictEvents(verdictID string, sinceSeq int64) []VerdictEvent
	AppendAudit(event AuditEvent) error
	ListAudit(limit int) []AuditEvent
	GetMetricsOverview() MetricsOverview
}

// MemoryStore backs single-node and test deployments; PgStore is the
// durable sink. Events are keyed independently of verdicts because step
// events stream in while the analysis is still running, before the verdict
// row exists.
type MemoryStore struct {
	mu       sync.RWMutex
	verdicts map[string]VerdictRecord
	order    []string
	events   map[string][]VerdictEvent
	audit    []AuditEvent
	nextSeq  map[string]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		verdicts: map[string]VerdictRecord{},
		events:   map[string][]VerdictEvent{},
		audit:    []AuditEvent{},
		nextSeq:  map[string]int64{},
	}
}

func (s *MemoryStore) AppendVerdict(record VerdictRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.verdicts[record.VerdictID]; exists {
		return fmt.Errorf("verdict %s already exists", record.VerdictID)
	}
	s.verdicts[record.VerdictID] = record
	s.order = append(s.order, record.VerdictID)
	return nil
}

func (s *MemoryStore) GetVerdict(verdictID string) (VerdictRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.verdicts[verdictID]
	return record, ok
}

func (s *MemoryStore) ListVerdicts(limit int) []VerdictRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]VerdictRecord, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, s.verdicts[s.order[i]])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (s *MemoryStore) AppendVerdictEvent(verdictID, stage, message string, data map[string]any) (VerdictEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.nextSeq[verdictID]
	if seq < 1 {
		seq = 1
	}
	event := VerdictEvent{
		Seq:       seq,
		Timestamp: nowRFC3339(),
		Stage:     stage,
		Message:   message,
		Data:      cloneMap(data),
	}
	s.nextSeq[verdictID] = seq + 1
	s.events[verdictID] = append(s.events[verdictID], event)
	return event, nil
}

func (s *MemoryStore) ListVerdictEvents(verdictID string, sinceSeq int64) []VerdictEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	events := s.events[verdictID]
	if len(events) == 0 {
		return []VerdictEvent{}
	}
	out := make([]VerdictEvent, 0, len(events))
	for _, event := range events {
		if event.Seq > sinceSeq {
			out = append(out, event)
		}
	}
	return out
}

func (s *MemoryStore) AppendAudit(event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if strings.TrimSpace(event.Timestamp) == "" {
		event.Timestamp = nowRFC3339()
	}
	s.audit = append(s.audit, event)
	if len(s.audit) > 5000 {
		s.audit = s.audit[len(s.audit)-5000:]
	}
	return nil
}

func (s *MemoryStore) ListAudit(limit int) []AuditEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return []AuditEvent{}
	}
	out := make([]AuditEvent, len(s.audit))
	copy(out, s.audit)
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp > out[j].Timestamp
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *MemoryStore) GetMetricsOverview() MetricsOverview {
	s.mu.RLock()
	defer s.mu.RUnlock()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
		ByModality:  map[string]int{},
	}
	var probabilityTotal int64
	var durationTotal int64
	for _, record := range s.verdicts {
		overview.TotalVerdicts++
		overview.ByModality[record.Modality]++
		switch record.Determination {
		case "AI":
			overview.AIVerdicts++
		case "Human":
			overview.HumanVerdicts++
		}
		if record.Degraded {
			overview.DegradedVerdicts++
		}
		probabilityTotal += int64(record.AIProbability)
		durationTotal += record.DurationMS
	}
	if overview.TotalVerdicts > 0 {
		overview.AverageAIProbability = float64(probabilityTotal) / float64(overview.TotalVerdicts)
		overview.AverageDurationMS = durationTotal / int64(overview.TotalVerdicts)
	}
	return overview
}

func cloneMap(input map[string]any) map[string]any {
	if input == nil {
		return nil
	}
	out := make(map[string]any, len(input))
	for key, value := range input {
		out[key] = value
	}
	return out
}
