package matching

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"lostfound/events"
	"lostfound/report"
)

// Resolver applies the terminal hand-over to a matched pair: the lost
// report becomes Resolved and the found report Claimed. References are
// kept so the pair stays traceable.
type Resolver struct {
	pairTx
}

func NewResolver(pool TxBeginner, repo LinkStore, opts LinkOptions) *Resolver {
	return &Resolver{pairTx: newPairTx(pool, repo, opts)}
}

func (r *Resolver) Resolve(ctx context.Context, lostID, foundID string) (Pair, error) {
	pair, err := r.run(ctx, "resolve", lostID, foundID, r.close)
	if err != nil {
		return Pair{}, err
	}
	r.opts.Logger.Info("match resolved",
		zap.String("lost_id", pair.Lost.ID),
		zap.String("found_id", pair.Found.ID))
	return pair, nil
}

func (r *Resolver) close(ctx context.Context, tx pgx.Tx, lost, found report.Report) (Pair, bool, error) {
	if !lost.LinkedTo(found.ID) || !found.LinkedTo(lost.ID) {
		return Pair{}, false, fmt.Errorf("%w: reports %s and %s are not linked", ErrNotEligible, lost.ID, found.ID)
	}
	if lost.Status == report.StatusResolved && found.Status == report.StatusClaimed {
		return Pair{Lost: lost, Found: found}, false, nil
	}
	if lost.Status != report.StatusMatched || found.Status != report.StatusMatched {
		return Pair{}, false, fmt.Errorf("%w: pair is %s/%s", ErrNotEligible, lost.Status, found.Status)
	}

	updatedLost, err := r.transition(ctx, tx, report.TransitionParams{
		Kind:       report.KindLost,
		ID:         lost.ID,
		FromStatus: report.StatusMatched,
		ExpectRef:  ptr(found.ID),
		ToStatus:   report.StatusResolved,
		MatchedRef: ptr(found.ID),
	})
	if err != nil {
		return Pair{}, false, err
	}
	updatedFound, err := r.transition(ctx, tx, report.TransitionParams{
		Kind:       report.KindFound,
		ID:         found.ID,
		FromStatus: report.StatusMatched,
		ExpectRef:  ptr(lost.ID),
		ToStatus:   report.StatusClaimed,
		MatchedRef: ptr(lost.ID),
	})
	if err != nil {
		return Pair{}, false, err
	}

	pair := Pair{Lost: updatedLost, Found: updatedFound}
	if err := r.record(ctx, tx, events.TypeMatchResolved, events.TopicMatchResolved, pair); err != nil {
		return Pair{}, false, err
	}
	return pair, true, nil
}
