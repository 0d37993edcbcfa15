package matching

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/sync/errgroup"

	"lostfound/events"
	"lostfound/report"
)

func TestMain(m *testing.M) {
	// testcontainers pulls in opencensus, whose view worker starts in an
	// init func.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func lostReport(id string) report.Report {
	return report.Report{
		ID:       id,
		Kind:     report.KindLost,
		OwnerID:  "owner-" + id,
		Category: report.CategoryBags,
		Location: "Central Station",
		Status:   report.StatusReported,
	}
}

func foundReport(id string) report.Report {
	return report.Report{
		ID:       id,
		Kind:     report.KindFound,
		OwnerID:  "finder-" + id,
		Category: report.CategoryBags,
		Location: "Central Station, Gate 4",
		Status:   report.StatusAvailable,
	}
}

func newTestConfirmer(store *memStore) *Confirmer {
	return NewConfirmer(store, store, LinkOptions{Timeline: store, Outbox: store})
}

func TestConfirm_LinksBothReports(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))

	pair, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	assert.Equal(t, report.StatusMatched, pair.Lost.Status)
	assert.Equal(t, report.StatusMatched, pair.Found.Status)
	assert.True(t, pair.Lost.LinkedTo("F1"))
	assert.True(t, pair.Found.LinkedTo("L1"))

	lost := store.get(report.KindLost, "L1")
	found := store.get(report.KindFound, "F1")
	assert.True(t, lost.LinkedTo("F1"))
	assert.True(t, found.LinkedTo("L1"))
	assert.Equal(t, 1, store.commits)

	recorded := store.recorded()
	require.Len(t, recorded, 3)
	assert.Equal(t, recordedEvent{kind: "lost", reportID: "L1", eventType: events.TypeMatchConfirmed}, recorded[0])
	assert.Equal(t, recordedEvent{kind: "found", reportID: "F1", eventType: events.TypeMatchConfirmed}, recorded[1])
	assert.Equal(t, events.TopicMatchConfirmed, recorded[2].topic)
}

func TestConfirm_IdempotentReplay(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))
	c := newTestConfirmer(store)

	first, err := c.Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	second, err := c.Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.commits, "replay must not write")
	assert.Len(t, store.recorded(), 3)
}

func TestConfirm_AlreadyMatched(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"), foundReport("F2"))
	c := newTestConfirmer(store)

	_, err := c.Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	_, err = c.Confirm(context.Background(), "L1", "F2")
	require.ErrorIs(t, err, ErrAlreadyMatched)

	f2 := store.get(report.KindFound, "F2")
	assert.Equal(t, report.StatusAvailable, f2.Status)
	assert.Nil(t, f2.MatchedRef)
	assert.True(t, store.get(report.KindLost, "L1").LinkedTo("F1"))
}

func TestConfirm_FoundSideAlreadyTaken(t *testing.T) {
	store := newMemStore(lostReport("L1"), lostReport("L2"), foundReport("F1"))
	c := newTestConfirmer(store)

	_, err := c.Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	_, err = c.Confirm(context.Background(), "L2", "F1")
	require.ErrorIs(t, err, ErrAlreadyMatched)
	assert.True(t, store.get(report.KindLost, "L2").Eligible())
}

func TestConfirm_ResolvedReportIsNotEligible(t *testing.T) {
	lost := lostReport("L1")
	lost.Status = report.StatusResolved
	lost.MatchedRef = ptr("F9")
	store := newMemStore(lost, foundReport("F1"))

	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.ErrorIs(t, err, ErrAlreadyMatched)
	assert.Equal(t, 0, store.commits)
}

func TestConfirm_NotFound(t *testing.T) {
	store := newMemStore(lostReport("L1"))

	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "missing")
	require.ErrorIs(t, err, report.ErrNotFound)
	assert.NotErrorIs(t, err, ErrLinkageFailure)
	assert.True(t, store.get(report.KindLost, "L1").Eligible())
}

func TestConfirm_LinkageFailureRollsBack(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))
	store.transitionErr[rowKey{report.KindFound, "F1"}] = errors.New("connection reset")

	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.ErrorIs(t, err, ErrLinkageFailure)

	var linkErr *LinkageError
	require.True(t, errors.As(err, &linkErr))
	assert.Equal(t, "confirm", linkErr.Op)

	assert.True(t, store.get(report.KindLost, "L1").Eligible(), "lost side must be untouched")
	assert.True(t, store.get(report.KindFound, "F1").Eligible())
	assert.Empty(t, store.recorded())
	assert.Equal(t, 0, store.commits)
}

func TestConfirm_ConflictBecomesAlreadyMatched(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))
	store.transitionErr[rowKey{report.KindFound, "F1"}] = report.ErrConflict

	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.ErrorIs(t, err, ErrAlreadyMatched)
	assert.NotErrorIs(t, err, ErrLinkageFailure)
}

func TestConfirm_BeginAndCommitFailures(t *testing.T) {
	t.Run("begin", func(t *testing.T) {
		store := newMemStore(lostReport("L1"), foundReport("F1"))
		store.beginErr = errors.New("pool exhausted")

		_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
		require.ErrorIs(t, err, ErrLinkageFailure)
	})

	t.Run("commit", func(t *testing.T) {
		store := newMemStore(lostReport("L1"), foundReport("F1"))
		store.commitErr = errors.New("serialization failure")

		_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
		require.ErrorIs(t, err, ErrLinkageFailure)
		assert.True(t, store.get(report.KindLost, "L1").Eligible())
	})
}

func TestConfirm_TimeoutWhileWaitingForLock(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))
	holder, err := store.Begin(context.Background())
	require.NoError(t, err)
	defer holder.Rollback(context.Background())

	c := NewConfirmer(store, store, LinkOptions{Timeout: 20 * time.Millisecond})
	_, err = c.Confirm(context.Background(), "L1", "F1")
	require.ErrorIs(t, err, ErrLinkageFailure)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestConfirm_ConcurrentOperatorsOneWinner(t *testing.T) {
	const operators = 16
	reports := []report.Report{lostReport("L1")}
	for i := 0; i < operators; i++ {
		reports = append(reports, foundReport(fmt.Sprintf("F%d", i)))
	}
	store := newMemStore(reports...)
	c := newTestConfirmer(store)

	var wins, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < operators; i++ {
		foundID := fmt.Sprintf("F%d", i)
		g.Go(func() error {
			_, err := c.Confirm(context.Background(), "L1", foundID)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, ErrAlreadyMatched):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(operators-1), rejected.Load())

	lost := store.get(report.KindLost, "L1")
	require.NotNil(t, lost.MatchedRef)
	linked := 0
	for i := 0; i < operators; i++ {
		f := store.get(report.KindFound, fmt.Sprintf("F%d", i))
		if f.MatchedRef != nil {
			linked++
			assert.Equal(t, *lost.MatchedRef, f.ID)
			assert.True(t, f.LinkedTo("L1"))
		}
	}
	assert.Equal(t, 1, linked)
}
