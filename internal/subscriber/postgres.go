package subscriber

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore reads and updates the subscribers table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore on the given pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// List returns every subscriber row.
func (s *PostgresStore) List(ctx context.Context) ([]Recipient, error) {
	query := `
        SELECT email, first_name, status, token
        FROM subscribers
        ORDER BY email
    `
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscribers: %w", err)
	}
	defer rows.Close()

	var out []Recipient
	for rows.Next() {
		var r Recipient
		if err := rows.Scan(&r.Email, &r.FirstName, &r.Status, &r.Token); err != nil {
			return nil, fmt.Errorf("failed to scan subscriber row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subscriber rows: %w", err)
	}
	return out, nil
}

// Unsubscribe flips the status of the subscriber with the given token.
func (s *PostgresStore) Unsubscribe(ctx context.Context, token string) (bool, error) {
	query := `
        UPDATE subscribers
        SET status = $1
        WHERE token = $2
    `
	tag, err := s.db.Exec(ctx, query, StatusUnsubscribed, token)
	if err != nil {
		return false, fmt.Errorf("failed to update subscriber status: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
