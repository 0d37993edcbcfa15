package matching

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lostfound/events"
	"lostfound/report"
)

func TestResolve(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))
	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	r := NewResolver(store, store, LinkOptions{Timeline: store, Outbox: store})
	pair, err := r.Resolve(context.Background(), "L1", "F1")
	require.NoError(t, err)

	assert.Equal(t, report.StatusResolved, pair.Lost.Status)
	assert.Equal(t, report.StatusClaimed, pair.Found.Status)
	assert.True(t, pair.Lost.LinkedTo("F1"), "terminal reports keep their reference")
	assert.True(t, pair.Found.LinkedTo("L1"))

	recorded := store.recorded()
	require.Len(t, recorded, 6)
	assert.Equal(t, events.TypeMatchResolved, recorded[3].eventType)
	assert.Equal(t, events.TopicMatchResolved, recorded[5].topic)

	again, err := r.Resolve(context.Background(), "L1", "F1")
	require.NoError(t, err)
	assert.Equal(t, pair, again)
	assert.Equal(t, 2, store.commits)
}

func TestResolve_RequiresLinkedPair(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"), foundReport("F2"))
	_, err := newTestConfirmer(store).Confirm(context.Background(), "L1", "F1")
	require.NoError(t, err)

	r := NewResolver(store, store, LinkOptions{})

	_, err = r.Resolve(context.Background(), "L1", "F2")
	require.ErrorIs(t, err, ErrNotEligible)

	_, err = r.Resolve(context.Background(), "L1", "missing")
	require.ErrorIs(t, err, report.ErrNotFound)

	assert.Equal(t, report.StatusMatched, store.get(report.KindLost, "L1").Status)
}

func TestResolve_UnmatchedPair(t *testing.T) {
	store := newMemStore(lostReport("L1"), foundReport("F1"))

	_, err := NewResolver(store, store, LinkOptions{}).Resolve(context.Background(), "L1", "F1")
	require.ErrorIs(t, err, ErrNotEligible)
	assert.Equal(t, 0, store.commits)
}
