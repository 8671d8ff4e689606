package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PgStore is the durable verdict sink. Every method takes its own short
// deadline so a stalled database never blocks the analysis path, which only
// ever writes to the sink fire-and-forget.
type PgStore struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

var _ Store = (*PgStore)(nil)

func NewPgStore(pool *pgxpool.Pool, log *slog.Logger) *PgStore {
	if log == nil {
		log = slog.Default()
	}
	return &PgStore{pool: pool, log: log}
}

func (s *PgStore) opCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func (s *PgStore) AppendVerdict(record VerdictRecord) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	signals, err := json.Marshal(record.Signals)
	if err != nil {
		return fmt.Errorf("marshal signals: %w", err)
	}
	steps, err := json.Marshal(record.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO verdicts (
			verdict_id, modality, created_at, duration_ms, degraded,
			ai_probability, determination, confidence_tier,
			metadata, signals, steps, methodology_note
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		record.VerdictID, record.Modality, record.CreatedAt, record.DurationMS,
		record.Degraded, record.AIProbability, record.Determination,
		record.ConfidenceTier, metadata, signals, steps, record.MethodologyNote,
	)
	if err != nil {
		return fmt.Errorf("insert verdict: %w", err)
	}
	return nil
}

func (s *PgStore) GetVerdict(verdictID string) (VerdictRecord, bool) {
	ctx, cancel := s.opCtx()
	defer cancel()
	row := s.pool.QueryRow(ctx, `
		SELECT verdict_id, modality, created_at, duration_ms, degraded,
		       ai_probability, determination, confidence_tier,
		       metadata, signals, steps, methodology_note
		FROM verdicts WHERE verdict_id = $1`, verdictID)
	record, err := scanVerdict(row)
	if err != nil {
		return VerdictRecord{}, false
	}
	return record, true
}

func (s *PgStore) ListVerdicts(limit int) []VerdictRecord {
	ctx, cancel := s.opCtx()
	defer cancel()
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT verdict_id, modality, created_at, duration_ms, degraded,
		       ai_probability, determination, confidence_tier,
		       metadata, signals, steps, methodology_note
		FROM verdicts ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		s.log.Error("list verdicts", "error", err)
		return []VerdictRecord{}
	}
	defer rows.Close()
	out := []VerdictRecord{}
	for rows.Next() {
		record, err := scanVerdict(rows)
		if err != nil {
			s.log.Error("scan verdict", "error", err)
			continue
		}
		out = append(out, record)
	}
	return out
}

type scannable interface {
	Scan(dest ...any) error
}

func scanVerdict(row scannable) (VerdictRecord, error) {
	var record VerdictRecord
	var createdAt time.Time
	var metadata, signals, steps []byte
	err := row.Scan(
		&record.VerdictID, &record.Modality, &createdAt,
		&record.DurationMS, &record.Degraded, &record.AIProbability,
		&record.Determination, &record.ConfidenceTier,
		&metadata, &signals, &steps, &record.MethodologyNote,
	)
	if err != nil {
		return VerdictRecord{}, err
	}
	record.CreatedAt = createdAt.UTC().Format(time.RFC3339)
	if len(metadata) > 0 {
		_ = json.Unmarshal(metadata, &record.Metadata)
	}
	if len(signals) > 0 {
		_ = json.Unmarshal(signals, &record.Signals)
	}
	if len(steps) > 0 {
		_ = json.Unmarshal(steps, &record.Steps)
	}
	return record, nil
}

func (s *PgStore) AppendVerdictEvent(verdictID, stage, message string, data map[string]any) (VerdictEvent, error) {
	ctx, cancel := s.opCtx()
	defer cancel()
	var payload []byte
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			return VerdictEvent{}, fmt.Errorf("marshal event data: %w", err)
		}
		payload = encoded
	}
	event := VerdictEvent{
		Stage:   stage,
		Message: message,
		Data:    data,
	}
	var createdAt time.Time
	err := s.pool.QueryRow(ctx, `
		INSERT INTO verdict_events (verdict_id, seq, stage, message, data)
		SELECT $1, COALESCE(MAX(seq), 0) + 1, $2, $3, $4
		FROM verdict_events WHERE verdict_id = $1
		RETURNING seq, created_at`,
		verdictID, stage, message, payload,
	).Scan(&event.Seq, &createdAt)
	if err != nil {
		return VerdictEvent{}, fmt.Errorf("insert verdict event: %w", err)
	}
	event.Timestamp = createdAt.UTC().Format(time.RFC3339)
	return event, nil
}

func (s *PgStore) ListVerdictEvents(verdictID string, sinceSeq int64) []VerdictEvent {
	ctx, cancel := s.opCtx()
	defer cancel()
	rows, err := s.pool.Query(ctx, `
		SELECT seq, created_at, stage, message, data
		FROM verdict_events
		WHERE verdict_id = $1 AND seq > $2
		ORDER BY seq ASC`, verdictID, sinceSeq)
	if err != nil {
		s.log.Error("list verdict events", "error", err)
		return []VerdictEvent{}
	}
	defer rows.Close()
	out := []VerdictEvent{}
	for rows.Next() {
		var event VerdictEvent
		var createdAt time.Time
		var payload []byte
		if err := rows.Scan(&event.Seq, &createdAt, &event.Stage, &event.Message, &payload); err != nil {
			s.log.Error("scan verdict event", "error", err)
			continue
		}
		event.Timestamp = createdAt.UTC().Format(time.RFC3339)
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &event.Data)
		}
		out = append(out, event)
	}
	return out
}

func (s *PgStore) AppendAudit(event AuditEvent) error {
	ctx, cancel := s.opCtx()
	defer cancel()
	if event.Timestamp == "" {
		event.Timestamp = nowRFC3339()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_events (
			created_at, verdict_id, actor_type, actor_sub,
			action, result, ip_hash, ua_hash, detail
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		event.Timestamp, nullStr(event.VerdictID), event.ActorType,
		nullStr(event.ActorSub), event.Action, event.Result,
		nullStr(event.IPHash), nullStr(event.UAHash), nullStr(event.Detail),
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func (s *PgStore) ListAudit(limit int) []AuditEvent {
	ctx, cancel := s.opCtx()
	defer cancel()
	if limit <= 0 {
		limit = 200
	}
	rows, err := s.pool.Query(ctx, `
		SELECT created_at, verdict_id, actor_type, actor_sub,
		       action, result, ip_hash, ua_hash, detail
		FROM audit_events ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		s.log.Error("list audit", "error", err)
		return []AuditEvent{}
	}
	defer rows.Close()
	out := []AuditEvent{}
	for rows.Next() {
		var event AuditEvent
		var createdAt time.Time
		var verdictID, actorSub, ipHash, uaHash, detail *string
		if err := rows.Scan(&createdAt, &verdictID, &event.ActorType, &actorSub,
			&event.Action, &event.Result, &ipHash, &uaHash, &detail); err != nil {
			s.log.Error("scan audit event", "error", err)
			continue
		}
		event.Timestamp = createdAt.UTC().Format(time.RFC3339)
		event.VerdictID = deref(verdictID)
		event.ActorSub = deref(actorSub)
		event.IPHash = deref(ipHash)
		event.UAHash = deref(uaHash)
		event.Detail = deref(detail)
		out = append(out, event)
	}
	return out
}

func (s *PgStore) GetMetricsOverview() MetricsOverview {
	ctx, cancel := s.opCtx()
	defer cancel()
	overview := MetricsOverview{
		GeneratedAt: nowRFC3339(),
		ByModality:  map[string]int{},
	}
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE determination = 'AI'),
		       COUNT(*) FILTER (WHERE determination = 'Human'),
		       COUNT(*) FILTER (WHERE degraded),
		       COALESCE(AVG(ai_probability), 0),
		       COALESCE(AVG(duration_ms), 0)::bigint
		FROM verdicts`).Scan(
		&overview.TotalVerdicts, &overview.AIVerdicts, &overview.HumanVerdicts,
		&overview.DegradedVerdicts, &overview.AverageAIProbability,
		&overview.AverageDurationMS,
	)
	if err != nil {
		s.log.Error("metrics overview", "error", err)
		return overview
	}
	rows, err := s.pool.Query(ctx, `SELECT modality, COUNT(*) FROM verdicts GROUP BY modality`)
	if err != nil {
		s.log.Error("metrics by modality", "error", err)
		return overview
	}
	defer rows.Close()
	for rows.Next() {
		var modality string
		var count int
		if err := rows.Scan(&modality, &count); err != nil {
			continue
		}
		overview.ByModality[modality] = count
	}
	return overview
}

func nullStr(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
