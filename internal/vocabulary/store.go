package vocabulary

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/harishambati/fuzzyset/pkg/postgres"
)

// Store keeps the vocabulary in a single-column PostgreSQL table so values
// added at runtime are reloaded on restart.
type Store struct {
	db     *postgres.Client
	table  string
	logger *slog.Logger
}

func NewStore(db *postgres.Client, table string) *Store {
	if table == "" {
		table = "vocabulary"
	}
	return &Store{
		db:     db,
		table:  pq.QuoteIdentifier(table),
		logger: slog.Default().With("component", "vocabulary-store"),
	}
}

// EnsureSchema creates the vocabulary table if it does not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.DB.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id       BIGSERIAL PRIMARY KEY,
		value    TEXT NOT NULL UNIQUE,
		added_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`, s.table))
	if err != nil {
		return fmt.Errorf("creating vocabulary table: %w", err)
	}
	return nil
}

// LoadAll returns every stored value in insertion order.
func (s *Store) LoadAll(ctx context.Context) ([]string, error) {
	rows, err := s.db.DB.QueryContext(ctx, fmt.Sprintf(`SELECT value FROM %s ORDER BY id`, s.table))
	if err != nil {
		return nil, fmt.Errorf("querying vocabulary: %w", err)
	}
	defer rows.Close()
	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scanning vocabulary row: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

// Save inserts values, ignoring ones already stored, and returns how many
// rows were written.
func (s *Store) Save(ctx context.Context, values []string) (int64, error) {
	if len(values) == 0 {
		return 0, nil
	}
	var inserted int64
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			fmt.Sprintf(`INSERT INTO %s (value) VALUES ($1) ON CONFLICT (value) DO NOTHING`, s.table))
		if err != nil {
			return fmt.Errorf("preparing insert: %w", err)
		}
		defer stmt.Close()
		for _, v := range values {
			res, err := stmt.ExecContext(ctx, v)
			if err != nil {
				return fmt.Errorf("inserting %q: %w", v, err)
			}
			n, _ := res.RowsAffected()
			inserted += n
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.logger.Debug("vocabulary saved", "offered", len(values), "inserted", inserted)
	return inserted, nil
}
