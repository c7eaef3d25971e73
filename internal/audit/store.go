package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/drfirst/go-rxportal/internal/forms"
	"github.com/drfirst/go-rxportal/internal/infrastructure/postgres"
	"github.com/drfirst/go-rxportal/internal/infrastructure/redpanda"
)

// Sink receives submission records
type Sink interface {
	RecordRefill(ctx context.Context, rec RefillRecord) error
	RecordTransfer(ctx context.Context, rec TransferRecord) error
	RecordContact(ctx context.Context, form forms.ContactRequest) error
	RecordWaitlist(ctx context.Context, form forms.WaitlistRequest) error
}

// RefillRecord is a refill form the pharmacy accepted, with its raw reply
type RefillRecord struct {
	Form     forms.RefillRequest
	Response json.RawMessage
}

// TransferRecord is a transfer form the pharmacy accepted, with its raw reply
type TransferRecord struct {
	Form     forms.TransferRequest
	Response json.RawMessage
}

// Submission is a stored row
type Submission struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	CorrelationID    string          `json:"correlationId,omitempty"`
	Form             json.RawMessage `json:"form"`
	UpstreamResponse json.RawMessage `json:"upstreamResponse,omitempty"`
	CreatedAt        time.Time       `json:"createdAt"`
}

const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// Store persists submissions with pgx
type Store struct {
	db     postgres.DB
	logger *zap.Logger
	now    func() time.Time
}

var _ Sink = (*Store)(nil)

// NewStore creates a store
func NewStore(db postgres.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{db: db, logger: logger, now: time.Now}
}

func (s *Store) RecordRefill(ctx context.Context, rec RefillRecord) error {
	return s.record(ctx, KindRefill, rec.Form, rec.Response)
}

func (s *Store) RecordTransfer(ctx context.Context, rec TransferRecord) error {
	return s.record(ctx, KindTransfer, rec.Form, rec.Response)
}

func (s *Store) RecordContact(ctx context.Context, form forms.ContactRequest) error {
	return s.record(ctx, KindContact, form, nil)
}

func (s *Store) RecordWaitlist(ctx context.Context, form forms.WaitlistRequest) error {
	return s.record(ctx, KindWaitlist, form, nil)
}

// record writes the submission row and its outbox entry in one transaction
func (s *Store) record(ctx context.Context, kind Kind, form any, upstream json.RawMessage) error {
	formJSON, err := json.Marshal(form)
	if err != nil {
		return fmt.Errorf("encode %s form: %w", kind, err)
	}
	if len(upstream) > 0 && !json.Valid(upstream) {
		upstream = nil
	}

	id := uuid.New().String()
	correlationID := CorrelationID(ctx)
	now := s.now().UTC()

	event, err := json.Marshal(Event{
		ID:               id,
		Kind:             kind,
		EventType:        EventTypeFor(kind),
		CorrelationID:    correlationID,
		Form:             formJSON,
		UpstreamResponse: upstream,
		OccurredAt:       now,
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", kind, err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO submissions (id, kind, correlation_id, form, upstream_response, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, string(kind), correlationID, formJSON, upstream, now); err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}

	if err := postgres.WriteEntry(ctx, tx, &postgres.OutboxEntry{
		AggregateID:   id,
		AggregateType: "submission",
		EventType:     string(EventTypeFor(kind)),
		Payload:       event,
		Topic:         redpanda.SubmissionTopic(string(kind)),
		Key:           id,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("submission recorded",
		zap.String("id", id),
		zap.String("kind", string(kind)),
		zap.String("correlation_id", correlationID))
	return nil
}

// List returns the most recent submissions, newest first. An empty kind
// lists every kind; limit is clamped to [1, MaxListLimit].
func (s *Store) List(ctx context.Context, kind Kind, limit int) ([]Submission, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}

	rows, err := s.db.Query(ctx, `
		SELECT id::text, kind, correlation_id, form, upstream_response, created_at
		FROM submissions
		WHERE $1 = '' OR kind = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(kind), limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	subs := []Submission{}
	for rows.Next() {
		var sub Submission
		var k string
		if err := rows.Scan(&sub.ID, &k, &sub.CorrelationID, &sub.Form, &sub.UpstreamResponse, &sub.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Kind = Kind(k)
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}
