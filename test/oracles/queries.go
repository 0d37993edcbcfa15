package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns queries that must come back empty on a consistent database.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_mutual_linkage",
			SQL: `SELECT 'lost' AS side, l.id::text, l.matched_ref::text FROM lost_reports l
                  LEFT JOIN found_reports f ON f.id = l.matched_ref
                  WHERE l.matched_ref IS NOT NULL AND (f.id IS NULL OR f.matched_ref IS DISTINCT FROM l.id)
                  UNION ALL
                  SELECT 'found', f.id::text, f.matched_ref::text FROM found_reports f
                  LEFT JOIN lost_reports l ON l.id = f.matched_ref
                  WHERE f.matched_ref IS NOT NULL AND (l.id IS NULL OR l.matched_ref IS DISTINCT FROM f.id)`,
		},
		{
			Name: "O2_status_link_coherence",
			SQL: `SELECT 'lost' AS side, id::text, status FROM lost_reports
                  WHERE (status = 'Reported') <> (matched_ref IS NULL)
                  UNION ALL
                  SELECT 'found', id::text, status FROM found_reports
                  WHERE (status = 'Available') <> (matched_ref IS NULL)`,
		},
		{
			Name: "O3_pair_status_agree",
			SQL: `SELECT l.id::text, l.status, f.status FROM lost_reports l
                  JOIN found_reports f ON f.id = l.matched_ref
                  WHERE NOT ((l.status = 'Matched' AND f.status = 'Matched')
                          OR (l.status = 'Resolved' AND f.status = 'Claimed'))`,
		},
		{
			Name: "O4_single_counterpart",
			SQL: `SELECT matched_ref::text, COUNT(*) FROM lost_reports
                  WHERE matched_ref IS NOT NULL GROUP BY matched_ref HAVING COUNT(*) > 1
                  UNION ALL
                  SELECT matched_ref::text, COUNT(*) FROM found_reports
                  WHERE matched_ref IS NOT NULL GROUP BY matched_ref HAVING COUNT(*) > 1`,
		},
		{
			Name: "O5_confirm_event_per_link",
			SQL: `SELECT l.id::text FROM lost_reports l
                  WHERE l.matched_ref IS NOT NULL
                    AND (SELECT COUNT(*) FROM report_events e
                         WHERE e.report_kind = 'lost' AND e.report_id = l.id AND e.type = 'MATCH_CONFIRMED') <> 1
                  UNION ALL
                  SELECT f.id::text FROM found_reports f
                  WHERE f.matched_ref IS NULL
                    AND EXISTS (SELECT 1 FROM report_events e
                                WHERE e.report_kind = 'found' AND e.report_id = f.id AND e.type = 'MATCH_CONFIRMED')`,
		},
		{
			Name: "O6_created_event_per_report",
			SQL: `SELECT r.id::text FROM (
                      SELECT 'lost' AS kind, id FROM lost_reports
                      UNION ALL
                      SELECT 'found', id FROM found_reports) r
                  WHERE NOT EXISTS (SELECT 1 FROM report_events e
                                    WHERE e.report_kind = r.kind AND e.report_id = r.id AND e.type = 'REPORT_CREATED')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample
// row text) or an empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
	}
	return "", "", nil
}
