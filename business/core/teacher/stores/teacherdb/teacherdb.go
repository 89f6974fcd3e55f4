// Package teacherdb contains teacher related CRUD functionality.
package teacherdb

import (
	"context"
	"fmt"

	"github.com/ardanlabs/attendance/business/core/teacher"
	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store manages the set of APIs for teacher database access.
type Store struct {
	log  *zap.SugaredLogger
	pool *pgxpool.Pool
}

// NewStore constructs the api for data access.
func NewStore(log *zap.SugaredLogger, pool *pgxpool.Pool) *Store {
	return &Store{
		log:  log,
		pool: pool,
	}
}

// Upsert inserts the teacher or refreshes the existing row. Rows are never
// deleted.
func (s *Store) Upsert(ctx context.Context, t teacher.Teacher) error {
	const q = `
	INSERT INTO teachers
		(ethereum_address, name, is_active, updated_at)
	VALUES
		($1, $2, $3, $4)
	ON CONFLICT (ethereum_address) DO UPDATE SET
		name       = EXCLUDED.name,
		is_active  = EXCLUDED.is_active,
		updated_at = EXCLUDED.updated_at`

	s.log.Infow("database.Upsert", "table", "teachers", "address", t.Address)

	if _, err := s.pool.Exec(ctx, q, t.Address, t.Name, t.IsActive, t.DateUpdated.UTC()); err != nil {
		return fmt.Errorf("upserting teacher[%s]: %w", t.Address, database.Translate(err))
	}

	return nil
}

// QueryByAddress gets the specified teacher from the database.
func (s *Store) QueryByAddress(ctx context.Context, address string) (teacher.Teacher, error) {
	const q = `
	SELECT
		ethereum_address, name, is_active, updated_at
	FROM
		teachers
	WHERE
		ethereum_address = $1`

	var t teacher.Teacher
	if err := s.pool.QueryRow(ctx, q, address).Scan(&t.Address, &t.Name, &t.IsActive, &t.DateUpdated); err != nil {
		return teacher.Teacher{}, fmt.Errorf("selecting teacher[%s]: %w", address, database.Translate(err))
	}

	return t, nil
}
