package matching

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"lostfound/events"
	"lostfound/report"
)

const (
	DefaultConfirmTimeout = 5 * time.Second
	DefaultLockTimeout    = 2 * time.Second
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LinkStore is the subset of the Report Store used inside a pair
// transaction.
type LinkStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, kind report.Kind, id string) (report.Report, error)
	Transition(ctx context.Context, tx pgx.Tx, params report.TransitionParams) (report.Report, error)
}

// LinkOptions configures Confirmer and Resolver.
type LinkOptions struct {
	Timeline events.TimelineWriter
	Outbox   events.OutboxWriter
	// Timeout bounds the whole operation, lock waits included.
	Timeout     time.Duration
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Pair is a lost report and a found report returned together.
type Pair struct {
	Lost  report.Report
	Found report.Report
}

// pairTx runs one operation over a (lost, found) pair inside a single
// transaction. Rows are always locked lost first, then found, so two pair
// operations can never deadlock on each other.
type pairTx struct {
	pool TxBeginner
	repo LinkStore
	opts LinkOptions
}

// pairStep inspects the locked rows. It returns the pair to report and
// whether anything was written that needs committing.
type pairStep func(ctx context.Context, tx pgx.Tx, lost, found report.Report) (Pair, bool, error)

func newPairTx(pool TxBeginner, repo LinkStore, opts LinkOptions) pairTx {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultConfirmTimeout
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return pairTx{pool: pool, repo: repo, opts: opts}
}

func (p pairTx) run(ctx context.Context, op, lostID, foundID string, step pairStep) (Pair, error) {
	ctx, cancel := context.WithTimeout(ctx, p.opts.Timeout)
	defer cancel()

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return Pair{}, linkageError(op+" begin", err)
	}
	defer tx.Rollback(context.WithoutCancel(ctx))

	lockSQL := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.opts.LockTimeout.Milliseconds())
	if _, err := tx.Exec(ctx, lockSQL); err != nil {
		return Pair{}, linkageError(op+" lock timeout", err)
	}

	lost, err := p.repo.GetForUpdate(ctx, tx, report.KindLost, lostID)
	if err != nil {
		return Pair{}, classify(op+" lock lost", err)
	}
	found, err := p.repo.GetForUpdate(ctx, tx, report.KindFound, foundID)
	if err != nil {
		return Pair{}, classify(op+" lock found", err)
	}

	pair, write, err := step(ctx, tx, lost, found)
	if err != nil {
		return Pair{}, classify(op, err)
	}
	if !write {
		return pair, nil
	}

	// Past this point the outcome is decided; a caller going away must not
	// abort the commit.
	if err := tx.Commit(context.WithoutCancel(ctx)); err != nil {
		return Pair{}, linkageError(op+" commit", err)
	}
	return pair, nil
}

func (p pairTx) record(ctx context.Context, tx pgx.Tx, eventType events.Type, topic string, pair Pair) error {
	if p.opts.Timeline != nil {
		for _, side := range []struct {
			self, other report.Report
		}{{pair.Lost, pair.Found}, {pair.Found, pair.Lost}} {
			payload := map[string]any{
				"counterpart_id": side.other.ID,
				"status":         side.self.Status,
			}
			if err := p.opts.Timeline.Append(ctx, tx, string(side.self.Kind), side.self.ID, eventType, payload); err != nil {
				return err
			}
		}
	}
	if p.opts.Outbox != nil {
		payload := map[string]any{
			"lost_id":        pair.Lost.ID,
			"found_id":       pair.Found.ID,
			"lost_owner_id":  pair.Lost.OwnerID,
			"found_owner_id": pair.Found.OwnerID,
			"lost_status":    pair.Lost.Status,
			"found_status":   pair.Found.Status,
		}
		if err := p.opts.Outbox.Enqueue(ctx, tx, topic, payload); err != nil {
			return err
		}
	}
	return nil
}

// transition applies one compare-and-swap. A miss means another operation
// changed the row first.
func (p pairTx) transition(ctx context.Context, tx pgx.Tx, params report.TransitionParams) (report.Report, error) {
	updated, err := p.repo.Transition(ctx, tx, params)
	if err != nil {
		if errors.Is(err, report.ErrConflict) {
			return report.Report{}, fmt.Errorf("%w: %s report %s changed concurrently", ErrAlreadyMatched, params.Kind, params.ID)
		}
		return report.Report{}, err
	}
	return updated, nil
}

// classify keeps domain outcomes as they are and turns everything else into
// a retryable LinkageError.
func classify(op string, err error) error {
	switch {
	case errors.Is(err, report.ErrNotFound),
		errors.Is(err, ErrAlreadyMatched),
		errors.Is(err, ErrLinkageFailure):
		return err
	default:
		return linkageError(op, err)
	}
}

func ptr(s string) *string { return &s }
