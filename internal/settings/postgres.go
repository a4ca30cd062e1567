package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore keeps settings in the settings table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a settings store backed by PostgreSQL.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) GetSetting(ctx context.Context, scope, scopeID, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE scope = $1 AND scope_id = $2 AND key = $3`,
		scope, scopeID, key,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresStore) PutSetting(ctx context.Context, scope, scopeID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (scope, scope_id, key, value, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (scope, scope_id, key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		scope, scopeID, key, value,
	)
	if err != nil {
		return fmt.Errorf("put setting %s: %w", key, err)
	}
	return nil
}
