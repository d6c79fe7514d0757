package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Oracle is a query that must return no rows while the system is healthy.
type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_image_cap",
			SQL:  `SELECT id, cardinality(images) FROM properties WHERE cardinality(images) > 12`,
		},
		{
			Name: "O2_proposal_cap",
			SQL: `SELECT p.id, p.type, count(*) FROM properties p,
                         jsonb_array_elements(p.deals) e
                  WHERE e->>'status' <> 'rejected'
                  GROUP BY p.id, p.type
                  HAVING count(*) > CASE WHEN p.type = 'rent' THEN 2 ELSE 4 END`,
		},
		{
			Name: "O3_one_outstanding_per_agent",
			SQL: `SELECT p.id, e->>'agentId', count(*) FROM properties p,
                         jsonb_array_elements(p.deals) e
                  WHERE e->>'status' <> 'rejected'
                  GROUP BY p.id, e->>'agentId'
                  HAVING count(*) > 1`,
		},
		{
			Name: "O4_approved_agent_licensed",
			SQL: `SELECT a.id FROM agents a JOIN users u ON u.id = a.user_id
                  WHERE a.status = 'approved'
                    AND (a.license IS NULL OR NOT ('agent' = ANY (u.roles)))`,
		},
		{
			Name: "O5_role_state",
			SQL: `SELECT id, roles FROM users
                  WHERE NOT ('user' = ANY (roles))
                     OR ('agent' = ANY (roles) AND 'pending_agent' = ANY (roles))`,
		},
		{
			Name: "O6_rejected_agent_has_no_pending_role",
			SQL: `SELECT a.id FROM agents a JOIN users u ON u.id = a.user_id
                  WHERE a.status = 'rejected' AND 'pending_agent' = ANY (u.roles)`,
		},
		{
			Name: "O7_deal_status_domain",
			SQL: `SELECT p.id, e FROM properties p, jsonb_array_elements(p.deals) e
                  WHERE e->>'status' NOT IN ('pending','accepted','rejected')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
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
	}
	return "", "", nil
}
