package server

import (
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// The verdict tables store created_at as timestamptz while the record types
// carry RFC 3339 strings, so every read must scan through time.Time: pgx
// cannot scan a binary timestamptz result into a plain string.
func TestTimestamptzScansThroughTimeTime(t *testing.T) {
	m := pgtype.NewMap()
	created := time.Date(2026, 9, 1, 10, 30, 0, 0, time.UTC)
	encoded, err := m.Encode(pgtype.TimestamptzOID, pgx.BinaryFormatCode, created, nil)
	if err != nil {
		t.Fatalf("encode timestamptz: %v", err)
	}

	var direct string
	if err := m.Scan(pgtype.TimestamptzOID, pgx.BinaryFormatCode, encoded, &direct); err == nil {
		t.Fatalf("scanning timestamptz into a string must fail, got %q", direct)
	}

	var ts time.Time
	if err := m.Scan(pgtype.TimestamptzOID, pgx.BinaryFormatCode, encoded, &ts); err != nil {
		t.Fatalf("scan timestamptz into time.Time: %v", err)
	}
	if got := ts.UTC().Format(time.RFC3339); got != "2026-09-01T10:30:00Z" {
		t.Fatalf("unexpected formatted timestamp %q", got)
	}
}
