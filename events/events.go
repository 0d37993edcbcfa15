// Package events records the report timeline and the transactional outbox.
// Both writers take the caller's transaction so the rows commit or roll back
// together with the state change they describe.
package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Type string

const (
	TypeReportCreated  Type = "REPORT_CREATED"
	TypeMatchConfirmed Type = "MATCH_CONFIRMED"
	TypeMatchResolved  Type = "MATCH_RESOLVED"
)

const (
	TopicReportCreated  = "report.created"
	TopicMatchConfirmed = "match.confirmed"
	TopicMatchResolved  = "match.resolved"
)

// TimelineWriter appends an immutable event to a report's history.
type TimelineWriter interface {
	Append(ctx context.Context, tx pgx.Tx, reportKind, reportID string, eventType Type, payload map[string]any) error
}

// OutboxWriter enqueues a message for downstream delivery.
type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// PGWriter implements both writers on the report_events and outbox tables.
type PGWriter struct{}

func NewWriter() *PGWriter {
	return &PGWriter{}
}

func (w *PGWriter) Append(ctx context.Context, tx pgx.Tx, reportKind, reportID string, eventType Type, payload map[string]any) error {
	body, err := marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal timeline payload: %w", err)
	}
	const q = `
INSERT INTO report_events (report_kind, report_id, type, payload)
VALUES ($1, $2, $3, $4::jsonb)
`
	if _, err := tx.Exec(ctx, q, reportKind, reportID, string(eventType), body); err != nil {
		return fmt.Errorf("events: insert timeline event: %w", err)
	}
	return nil
}

func (w *PGWriter) Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	body, err := marshal(payload)
	if err != nil {
		return fmt.Errorf("events: marshal outbox payload: %w", err)
	}
	const q = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`
	if _, err := tx.Exec(ctx, q, topic, body); err != nil {
		return fmt.Errorf("events: enqueue outbox: %w", err)
	}
	return nil
}

func marshal(payload map[string]any) (string, error) {
	if payload == nil {
		return "{}", nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
