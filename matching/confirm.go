package matching

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"lostfound/events"
	"lostfound/report"
)

// Confirmer links a human-selected (lost, found) pair. It is the only
// writer of matched_ref.
type Confirmer struct {
	pairTx
}

func NewConfirmer(pool TxBeginner, repo LinkStore, opts LinkOptions) *Confirmer {
	return &Confirmer{pairTx: newPairTx(pool, repo, opts)}
}

// Confirm moves both reports to Matched with mutual references, or changes
// nothing. Confirming a pair that is already linked to each other returns
// the pair unchanged.
func (c *Confirmer) Confirm(ctx context.Context, lostID, foundID string) (Pair, error) {
	pair, err := c.run(ctx, "confirm", lostID, foundID, c.link)
	if err != nil {
		c.opts.Logger.Info("match confirmation rejected",
			zap.String("lost_id", lostID),
			zap.String("found_id", foundID),
			zap.Error(err))
		return Pair{}, err
	}
	c.opts.Logger.Info("match confirmed",
		zap.String("lost_id", pair.Lost.ID),
		zap.String("found_id", pair.Found.ID))
	return pair, nil
}

func (c *Confirmer) link(ctx context.Context, tx pgx.Tx, lost, found report.Report) (Pair, bool, error) {
	if lost.LinkedTo(found.ID) && found.LinkedTo(lost.ID) {
		return Pair{Lost: lost, Found: found}, false, nil
	}
	if !lost.Eligible() {
		return Pair{}, false, fmt.Errorf("%w: lost report %s is %s", ErrAlreadyMatched, lost.ID, lost.Status)
	}
	if !found.Eligible() {
		return Pair{}, false, fmt.Errorf("%w: found report %s is %s", ErrAlreadyMatched, found.ID, found.Status)
	}

	updatedLost, err := c.transition(ctx, tx, report.TransitionParams{
		Kind:       report.KindLost,
		ID:         lost.ID,
		FromStatus: report.StatusReported,
		ToStatus:   report.StatusMatched,
		MatchedRef: ptr(found.ID),
	})
	if err != nil {
		return Pair{}, false, err
	}
	updatedFound, err := c.transition(ctx, tx, report.TransitionParams{
		Kind:       report.KindFound,
		ID:         found.ID,
		FromStatus: report.StatusAvailable,
		ToStatus:   report.StatusMatched,
		MatchedRef: ptr(lost.ID),
	})
	if err != nil {
		return Pair{}, false, err
	}

	pair := Pair{Lost: updatedLost, Found: updatedFound}
	if err := c.record(ctx, tx, events.TypeMatchConfirmed, events.TopicMatchConfirmed, pair); err != nil {
		return Pair{}, false, err
	}
	return pair, true, nil
}
