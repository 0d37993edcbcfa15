package matching

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"lostfound/report"
)

// DefaultLimit bounds the number of candidates returned for one report.
const DefaultLimit = 10

// TextMode controls how description relevance takes part in the search.
type TextMode string

const (
	// TextAnnotate scores candidates but never excludes them.
	TextAnnotate TextMode = "annotate"
	// TextPrefer keeps only text matches, falling back to the unfiltered
	// set when nothing matches.
	TextPrefer TextMode = "prefer"
)

// Candidate is one plausible counterpart.
type Candidate struct {
	Report    report.Report
	Relevance float64
	TextMatch bool
}

// SearchOptions configures a Searcher.
type SearchOptions struct {
	Limit    int
	TextMode TextMode
	OpenOnly bool
}

// Searcher finds counterparts for a report in the opposite collection. It
// only reads, so concurrent searches never interfere.
type Searcher struct {
	reader report.Reader
	opts   SearchOptions
	logger *zap.Logger
}

func NewSearcher(reader report.Reader, opts SearchOptions) *Searcher {
	if opts.Limit <= 0 || opts.Limit > DefaultLimit {
		opts.Limit = DefaultLimit
	}
	if opts.TextMode == "" {
		opts.TextMode = TextAnnotate
	}
	return &Searcher{
		reader: reader,
		opts:   opts,
		logger: zap.NewNop(),
	}
}

func (s *Searcher) WithLogger(logger *zap.Logger) *Searcher {
	s.logger = logger
	return s
}

// Search returns up to Limit candidates for r, newest first.
func (s *Searcher) Search(ctx context.Context, r report.Report) ([]Candidate, error) {
	if !r.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrPreconditionFailed, r.Kind)
	}
	if r.Category == "" {
		return nil, fmt.Errorf("%w: report %s has no category", ErrPreconditionFailed, r.ID)
	}
	if report.NormalizeLocation(r.Location) == "" {
		return nil, fmt.Errorf("%w: report %s has no location", ErrPreconditionFailed, r.ID)
	}

	q := report.CandidateQuery{
		Kind:     r.Kind.Opposite(),
		Category: r.Category,
		Location: strings.TrimSpace(r.Location),
		Text:     strings.TrimSpace(r.Description),
		OpenOnly: s.opts.OpenOnly,
		Limit:    s.opts.Limit,
	}

	var (
		rows []report.Scored
		err  error
	)
	if s.opts.TextMode == TextPrefer && q.Text != "" {
		q.RequireText = true
		rows, err = s.reader.Candidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("matching: text candidates: %w", err)
		}
		q.RequireText = false
	}
	if len(rows) == 0 {
		rows, err = s.reader.Candidates(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("matching: candidates: %w", err)
		}
	}

	out := make([]Candidate, 0, len(rows))
	for _, row := range rows {
		// Category is a hard exclusion whatever the store returned.
		if row.Report.Category != r.Category || row.Report.Kind != q.Kind {
			continue
		}
		out = append(out, Candidate{Report: row.Report, Relevance: row.Relevance, TextMatch: row.TextMatch})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Report.CreatedAt.After(out[j].Report.CreatedAt)
	})
	if len(out) > s.opts.Limit {
		out = out[:s.opts.Limit]
	}

	s.logger.Debug("candidate search",
		zap.String("kind", string(r.Kind)),
		zap.String("report_id", r.ID),
		zap.String("category", string(r.Category)),
		zap.Int("candidates", len(out)))
	return out, nil
}

// SearchByID loads the report and searches for its counterparts.
func (s *Searcher) SearchByID(ctx context.Context, kind report.Kind, id string) ([]Candidate, error) {
	r, err := s.reader.Get(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return s.Search(ctx, r)
}
