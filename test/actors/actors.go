package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"lostfound/events"
	"lostfound/intake"
	"lostfound/matching"
	"lostfound/report"
)

// Pool remembers submitted reports so operators can pick pairs.
type Pool struct {
	mu    sync.Mutex
	lost  []string
	found []string
}

func (p *Pool) add(r report.Report) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r.Kind == report.KindLost {
		p.lost = append(p.lost, r.ID)
	} else {
		p.found = append(p.found, r.ID)
	}
}

// Pick returns a random (lost, found) pair.
func (p *Pool) Pick(rng *rand.Rand) (string, string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.lost) == 0 || len(p.found) == 0 {
		return "", "", false
	}
	return p.lost[rng.Intn(len(p.lost))], p.found[rng.Intn(len(p.found))], true
}

// Stats counts outcomes across actors.
type Stats struct {
	mu        sync.Mutex
	Submitted int
	Confirmed int
	Rejected  int
	Retryable int
	Resolved  int
}

func (s *Stats) inc(field *int) {
	s.mu.Lock()
	*field++
	s.mu.Unlock()
}

var (
	categories = []report.Category{report.CategoryBags, report.CategoryElectronics}
	locations  = []string{"Central Station", "Central Station, Gate 4", "Library 2nd floor", "Library, 2nd floor entrance"}
)

func stopped(ctx context.Context, stop <-chan struct{}) bool {
	select {
	case <-ctx.Done():
		return true
	case <-stop:
		return true
	default:
		return false
	}
}

// Reporter submits a stream of small-vocabulary reports so many of them
// become candidates of each other.
func Reporter(ctx context.Context, svc *intake.Service, pool *Pool, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; !stopped(ctx, stop); i++ {
		kind := report.KindLost
		if rng.Intn(2) == 0 {
			kind = report.KindFound
		}
		draft := report.Draft{
			OwnerID:     fmt.Sprintf("owner-%d", rng.Intn(20)),
			Category:    categories[rng.Intn(len(categories))],
			Description: fmt.Sprintf("item %d seen near %s", i, locations[rng.Intn(len(locations))]),
			Location:    locations[rng.Intn(len(locations))],
		}
		res, err := svc.Submit(ctx, kind, draft)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			// chaos can drop the connection under an insert
			continue
		}
		pool.add(res.Report)
		stats.inc(&stats.Submitted)
		time.Sleep(time.Duration(5+rng.Intn(15)) * time.Millisecond)
	}
	return nil
}

// Operator confirms random pairs. Competing operators regularly pick
// overlapping pairs; AlreadyMatched and LinkageFailure are expected.
func Operator(ctx context.Context, c *matching.Confirmer, pool *Pool, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for !stopped(ctx, stop) {
		lostID, foundID, ok := pool.Pick(rng)
		if !ok {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		_, err := c.Confirm(ctx, lostID, foundID)
		switch {
		case err == nil:
			stats.inc(&stats.Confirmed)
		case errors.Is(err, matching.ErrAlreadyMatched):
			stats.inc(&stats.Rejected)
		case errors.Is(err, matching.ErrLinkageFailure):
			stats.inc(&stats.Retryable)
		case ctx.Err() != nil:
			return nil
		default:
			return fmt.Errorf("operator confirm %s/%s: %w", lostID, foundID, err)
		}
		time.Sleep(time.Duration(rng.Intn(10)) * time.Millisecond)
	}
	return nil
}

// Closer resolves linked pairs it can find among the known reports.
func Closer(ctx context.Context, r *matching.Resolver, reader report.Reader, pool *Pool, stats *Stats, seed int64, stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(seed))
	for !stopped(ctx, stop) {
		lostID, _, ok := pool.Pick(rng)
		if !ok {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		lost, err := reader.Get(ctx, report.KindLost, lostID)
		if err != nil || lost.MatchedRef == nil || lost.Status != report.StatusMatched {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		if _, err := r.Resolve(ctx, lost.ID, *lost.MatchedRef); err == nil {
			stats.inc(&stats.Resolved)
		}
		time.Sleep(time.Duration(20+rng.Intn(40)) * time.Millisecond)
	}
	return nil
}

// OutboxDrainer runs the relay in a loop.
func OutboxDrainer(ctx context.Context, relay *events.Relay, stop <-chan struct{}) error {
	for !stopped(ctx, stop) {
		if _, err := relay.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	return nil
}
