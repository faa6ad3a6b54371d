package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"callwatch/internal/calls"
	"callwatch/pkg/utils"
)

// PostgresRepo archives finished calls in Postgres (pgx stdlib driver).
//
// Expected schema:
//
//	CREATE TABLE call_archive (
//	    call_id        TEXT PRIMARY KEY,
//	    customer_name  TEXT NOT NULL,
//	    phone_number   TEXT NOT NULL,
//	    outcome        TEXT NOT NULL,
//	    start_time     TIMESTAMPTZ NOT NULL,
//	    payload        JSONB NOT NULL
//	);
//
// The queryable columns exist for List/Filter; payload holds the complete
// call (transcript, audio metrics, counters) and is the source of truth on
// read. INSERT-only by policy; there is no update path in this package.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, c calls.Call) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("history: marshal call %s: %w", c.CallID, err)
	}
	return utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO call_archive (call_id, customer_name, phone_number, outcome, start_time, payload)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			c.CallID, c.CustomerName, c.PhoneNumber, string(c.Outcome), c.StartTime, payload,
		)
		return err
	})
}

func (r *PostgresRepo) List(ctx context.Context, limit int) ([]calls.Call, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT payload FROM call_archive ORDER BY start_time DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalls(rows)
}

func (r *PostgresRepo) Get(ctx context.Context, callID string) (calls.Call, bool, error) {
	var payload []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT payload FROM call_archive WHERE call_id = $1`, callID).Scan(&payload)
	if err == sql.ErrNoRows {
		return calls.Call{}, false, nil
	}
	if err != nil {
		return calls.Call{}, false, err
	}
	var c calls.Call
	if err := json.Unmarshal(payload, &c); err != nil {
		return calls.Call{}, false, fmt.Errorf("history: unmarshal call %s: %w", callID, err)
	}
	return c, true, nil
}

func (r *PostgresRepo) Filter(ctx context.Context, outcome calls.Outcome, searchTerm string) ([]calls.Call, error) {
	q := `SELECT payload FROM call_archive WHERE 1=1`
	args := make([]any, 0, 2)
	if outcome != "" {
		args = append(args, string(outcome))
		q += fmt.Sprintf(` AND outcome = $%d`, len(args))
	}
	if term := strings.TrimSpace(searchTerm); term != "" {
		args = append(args, "%"+strings.ToLower(term)+"%")
		q += fmt.Sprintf(` AND (LOWER(customer_name) LIKE $%d OR LOWER(phone_number) LIKE $%d)`, len(args), len(args))
	}
	q += ` ORDER BY start_time DESC`

	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanCalls(rows)
}

func (r *PostgresRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM call_archive`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func scanCalls(rows *sql.Rows) ([]calls.Call, error) {
	out := make([]calls.Call, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var c calls.Call
		if err := json.Unmarshal(payload, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
