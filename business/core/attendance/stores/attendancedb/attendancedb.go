// Package attendancedb contains attendance related CRUD functionality.
package attendancedb

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ardanlabs/attendance/business/core/attendance"
	"github.com/ardanlabs/attendance/business/sys/database"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Store manages the set of APIs for attendance database access.
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

// Create inserts a new attendance record into the database.
func (s *Store) Create(ctx context.Context, rec attendance.Record) error {
	const q = `
	INSERT INTO attendance_records
		(blockchain_id, student_name, subject, teacher_address, is_present,
		 blockchain_timestamp, transaction_hash, block_hash, nonce)
	VALUES
		($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, q,
		int64(rec.BlockchainID), rec.StudentName, rec.Subject, rec.TeacherAddress, rec.IsPresent,
		rec.BlockchainTimestamp, rec.TransactionHash, rec.BlockHash, int64(rec.Nonce),
	)
	if err != nil {
		return fmt.Errorf("inserting attendance[%d]: %w", rec.BlockchainID, database.Translate(err))
	}

	return nil
}

// Query retrieves a page of attendance records, newest first.
func (s *Store) Query(ctx context.Context, filter attendance.QueryFilter, pageNumber int, rowsPerPage int) ([]attendance.Record, error) {
	where, args := applyFilter(filter)

	offset := (pageNumber - 1) * rowsPerPage
	args = append(args, rowsPerPage, offset)

	q := `
	SELECT
		id, blockchain_id, student_name, subject, teacher_address, is_present,
		blockchain_timestamp, transaction_hash, block_hash, nonce, created_at
	FROM
		attendance_records` + where + `
	ORDER BY
		created_at DESC
	LIMIT $` + strconv.Itoa(len(args)-1) + ` OFFSET $` + strconv.Itoa(len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("selecting attendance: %w", database.Translate(err))
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (attendance.Record, error) {
		var r attendance.Record
		var id, nonce int64
		err := row.Scan(&r.ID, &id, &r.StudentName, &r.Subject, &r.TeacherAddress, &r.IsPresent,
			&r.BlockchainTimestamp, &r.TransactionHash, &r.BlockHash, &nonce, &r.DateCreated)
		r.BlockchainID = uint64(id)
		r.Nonce = uint64(nonce)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning attendance: %w", database.Translate(err))
	}

	return recs, nil
}

// Count returns the number of attendance records matching the filter.
func (s *Store) Count(ctx context.Context, filter attendance.QueryFilter) (int, error) {
	where, args := applyFilter(filter)

	q := `
	SELECT
		count(*)
	FROM
		attendance_records` + where

	var count int
	if err := s.pool.QueryRow(ctx, q, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting attendance: %w", database.Translate(err))
	}

	return count, nil
}

// applyFilter builds the where clause and its positional arguments.
func applyFilter(filter attendance.QueryFilter) (string, []any) {
	var wc []string
	var args []any

	if filter.TeacherAddress != nil {
		args = append(args, *filter.TeacherAddress)
		wc = append(wc, "teacher_address = $"+strconv.Itoa(len(args)))
	}

	if filter.StudentName != nil {
		args = append(args, "%"+*filter.StudentName+"%")
		wc = append(wc, "student_name LIKE $"+strconv.Itoa(len(args)))
	}

	if filter.Subject != nil {
		args = append(args, "%"+*filter.Subject+"%")
		wc = append(wc, "subject LIKE $"+strconv.Itoa(len(args)))
	}

	if len(wc) == 0 {
		return "", args
	}

	return "\n\tWHERE\n\t\t" + strings.Join(wc, " AND "), args
}
