// Package intake accepts new lost and found reports and answers each one
// with its current candidate counterparts.
package intake

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"lostfound/caption"
	"lostfound/events"
	"lostfound/matching"
	"lostfound/report"
)

const DefaultCaptionTimeout = 10 * time.Second

type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Store interface {
	Create(ctx context.Context, tx pgx.Tx, r report.Report) (report.Report, error)
}

type CandidateFinder interface {
	Search(ctx context.Context, r report.Report) ([]matching.Candidate, error)
}

// Result is the outcome of a submission. When SearchFailed is set the
// report was stored but candidates could not be computed; they can be
// fetched later by id.
type Result struct {
	Report       report.Report
	Candidates   []matching.Candidate
	SearchFailed bool
}

type Service struct {
	pool           TxBeginner
	store          Store
	finder         CandidateFinder
	timeline       events.TimelineWriter
	outbox         events.OutboxWriter
	captioner      caption.Captioner
	captionTimeout time.Duration
	idGenerator    func() string
	now            func() time.Time
	logger         *zap.Logger
}

func NewService(pool TxBeginner, store Store, finder CandidateFinder, timeline events.TimelineWriter, outbox events.OutboxWriter) *Service {
	return &Service{
		pool:           pool,
		store:          store,
		finder:         finder,
		timeline:       timeline,
		outbox:         outbox,
		captionTimeout: DefaultCaptionTimeout,
		idGenerator:    func() string { return uuid.NewString() },
		now:            time.Now,
		logger:         zap.NewNop(),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(logger *zap.Logger) *Service {
	s.logger = logger
	return s
}

// WithCaptioner enables description pre-fill from an uploaded photo.
func (s *Service) WithCaptioner(c caption.Captioner, timeout time.Duration) *Service {
	s.captioner = c
	if timeout > 0 {
		s.captionTimeout = timeout
	}
	return s
}

// Submit validates, stores and searches. Nothing is stored when the draft is
// invalid.
func (s *Service) Submit(ctx context.Context, kind report.Kind, draft report.Draft) (Result, error) {
	draft.Description = s.prefill(ctx, draft)

	rep, err := draft.Validate(kind)
	if err != nil {
		return Result{}, err
	}
	rep.ID = s.idGenerator()
	rep.CreatedAt = s.now().UTC()
	rep.UpdatedAt = rep.CreatedAt

	created, err := s.persist(ctx, rep)
	if err != nil {
		return Result{}, err
	}
	s.logger.Info("report created",
		zap.String("kind", string(created.Kind)),
		zap.String("report_id", created.ID),
		zap.String("category", string(created.Category)))

	candidates, err := s.finder.Search(ctx, created)
	if err != nil {
		s.logger.Error("candidate search after intake failed",
			zap.String("report_id", created.ID),
			zap.Error(err))
		return Result{Report: created, SearchFailed: true}, nil
	}
	return Result{Report: created, Candidates: candidates}, nil
}

func (s *Service) persist(ctx context.Context, rep report.Report) (report.Report, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return report.Report{}, fmt.Errorf("intake: begin: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.store.Create(ctx, tx, rep)
	if err != nil {
		return report.Report{}, fmt.Errorf("intake: create: %w", err)
	}

	if s.timeline != nil {
		payload := map[string]any{
			"owner_id": created.OwnerID,
			"category": created.Category,
			"status":   created.Status,
		}
		if err := s.timeline.Append(ctx, tx, string(created.Kind), created.ID, events.TypeReportCreated, payload); err != nil {
			return report.Report{}, fmt.Errorf("intake: timeline: %w", err)
		}
	}
	if s.outbox != nil {
		payload := map[string]any{
			"kind":      created.Kind,
			"report_id": created.ID,
			"owner_id":  created.OwnerID,
			"category":  created.Category,
			"location":  created.Location,
		}
		if err := s.outbox.Enqueue(ctx, tx, events.TopicReportCreated, payload); err != nil {
			return report.Report{}, fmt.Errorf("intake: outbox: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return report.Report{}, fmt.Errorf("intake: commit: %w", err)
	}
	return created, nil
}

// prefill returns the description to validate. A caption only fills a
// blank description and a failed caption leaves it blank.
func (s *Service) prefill(ctx context.Context, draft report.Draft) string {
	if strings.TrimSpace(draft.Description) != "" || len(draft.Image) == 0 || s.captioner == nil {
		return draft.Description
	}
	ctx, cancel := context.WithTimeout(ctx, s.captionTimeout)
	defer cancel()

	text, err := s.captioner.Caption(ctx, draft.Image)
	if err != nil {
		s.logger.Warn("caption pre-fill failed", zap.Int("image_bytes", len(draft.Image)), zap.Error(err))
		return draft.Description
	}
	s.logger.Debug("description pre-filled from caption", zap.String("caption", text))
	return text
}
