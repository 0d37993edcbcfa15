package report

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrConflict signals that a conditional update found the row in a
// different state than expected.
var ErrConflict = errors.New("report: conditional update conflict")

// Reader is the read side used by candidate search and the API layer.
type Reader interface {
	Get(ctx context.Context, kind Kind, id string) (Report, error)
	Candidates(ctx context.Context, q CandidateQuery) ([]Scored, error)
}

// Repository is the full Report Store.
type Repository interface {
	Reader
	Create(ctx context.Context, tx pgx.Tx, r Report) (Report, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, kind Kind, id string) (Report, error)
	Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Report, error)
}

// TransitionParams describes a compare-and-swap on status and matched_ref.
// The update applies only while the row still has FromStatus and
// ExpectRef.
type TransitionParams struct {
	Kind       Kind
	ID         string
	FromStatus Status
	ExpectRef  *string
	ToStatus   Status
	MatchedRef *string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// normalizedLocationParam applies the location_norm column expression to
// the query location so both sides use the database's character classes.
const normalizedLocationParam = `btrim(regexp_replace(lower($2::text), '[^[:alnum:]]+', ' ', 'g'))`

const reportColumns = `id, owner_id, category, description, details, photo_ref, location, status, matched_ref, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, tx pgx.Tx, rep Report) (Report, error) {
	table, err := tableFor(rep.Kind)
	if err != nil {
		return Report{}, err
	}
	details, err := marshalDetails(rep.Details)
	if err != nil {
		return Report{}, err
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, category, description, details, photo_ref, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $9)
		RETURNING %s
	`, table, reportColumns)

	row := tx.QueryRow(ctx, query,
		rep.ID,
		rep.OwnerID,
		rep.Category,
		rep.Description,
		details,
		rep.PhotoRef,
		rep.Location,
		rep.Status,
		rep.CreatedAt,
	)
	created, err := scanReport(rep.Kind, row)
	if err != nil {
		return Report{}, fmt.Errorf("report: create %s: %w", rep.Kind, err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, kind Kind, id string) (Report, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Report{}, err
	}
	if !validID(id) {
		return Report{}, ErrNotFound
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, reportColumns, table)
	rep, err := scanReport(kind, r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("report: get %s: %w", kind, err)
	}
	return rep, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, kind Kind, id string) (Report, error) {
	table, err := tableFor(kind)
	if err != nil {
		return Report{}, err
	}
	if !validID(id) {
		return Report{}, ErrNotFound
	}

	query := fmt.Sprintf(`
		SELECT %s
		FROM %s
		WHERE id = $1
		FOR UPDATE
	`, reportColumns, table)

	rep, err := scanReport(kind, tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrNotFound
		}
		return Report{}, fmt.Errorf("report: get %s for update: %w", kind, err)
	}
	return rep, nil
}

func (r *PGRepository) Transition(ctx context.Context, tx pgx.Tx, params TransitionParams) (Report, error) {
	table, err := tableFor(params.Kind)
	if err != nil {
		return Report{}, err
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = $3,
		    matched_ref = $4::uuid,
		    updated_at = now()
		WHERE id = $1
		  AND status = $2
		  AND matched_ref IS NOT DISTINCT FROM $5::uuid
		RETURNING %s
	`, table, reportColumns)

	row := tx.QueryRow(ctx, query, params.ID, params.FromStatus, params.ToStatus, params.MatchedRef, params.ExpectRef)
	rep, err := scanReport(params.Kind, row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Report{}, ErrConflict
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Report{}, ErrConflict
		}
		return Report{}, fmt.Errorf("report: transition %s %s: %w", params.Kind, params.ID, err)
	}
	return rep, nil
}

// Candidates runs the category, location and text filters against one
// collection, newest first.
func (r *PGRepository) Candidates(ctx context.Context, q CandidateQuery) ([]Scored, error) {
	table, err := tableFor(q.Kind)
	if err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		return []Scored{}, nil
	}

	where := []string{
		"category = $1",
		"location_norm <> ''",
		"wanted.loc <> ''",
		"(strpos(location_norm, wanted.loc) > 0 OR strpos(wanted.loc, location_norm) > 0)",
	}
	args := []any{q.Category, q.Location, q.Text}

	if q.OpenOnly {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, q.Kind.InitialStatus())
	}
	if q.RequireText {
		where = append(where, "search @@ plainto_tsquery('english', $3)")
	}

	query := fmt.Sprintf(`
		WITH wanted AS (SELECT %s AS loc)
		SELECT %s,
		       CASE WHEN $3 = '' THEN 0 ELSE ts_rank(search, plainto_tsquery('english', $3)) END AS relevance,
		       ($3 <> '' AND search @@ plainto_tsquery('english', $3)) AS text_match
		FROM %s, wanted
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT %d
	`, normalizedLocationParam, reportColumns, table, strings.Join(where, " AND "), q.Limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("report: query candidates: %w", err)
	}
	defer rows.Close()

	out := make([]Scored, 0, q.Limit)
	for rows.Next() {
		var (
			s         Scored
			relevance float32
		)
		rep, err := scanReportWith(q.Kind, rows, &relevance, &s.TextMatch)
		if err != nil {
			return nil, fmt.Errorf("report: scan candidate: %w", err)
		}
		s.Report = rep
		s.Relevance = float64(relevance)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("report: iterate candidates: %w", err)
	}
	return out, nil
}

func scanReport(kind Kind, row pgx.Row) (Report, error) {
	return scanReportWith(kind, row)
}

func scanReportWith(kind Kind, row pgx.Row, extra ...any) (Report, error) {
	var (
		rep     Report
		details []byte
	)
	dest := []any{
		&rep.ID,
		&rep.OwnerID,
		&rep.Category,
		&rep.Description,
		&details,
		&rep.PhotoRef,
		&rep.Location,
		&rep.Status,
		&rep.MatchedRef,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return Report{}, err
	}
	rep.Kind = kind

	d, err := unmarshalDetails(rep.Category, details)
	if err != nil {
		return Report{}, err
	}
	rep.Details = d
	return rep, nil
}

func tableFor(kind Kind) (string, error) {
	switch kind {
	case KindLost:
		return "lost_reports", nil
	case KindFound:
		return "found_reports", nil
	default:
		return "", fmt.Errorf("report: unknown kind %q", kind)
	}
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
