package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("already exists")
	ErrConstraint = errors.New("constraint violation")
)

// Postgres SQLSTATE codes the store distinguishes.
const (
	codeUniqueViolation     = "23505"
	codeForeignKeyViolation = "23503"
	codeCheckViolation      = "23514"
	codeNotNullViolation    = "23502"
)

// mapPgError turns constraint violations into store sentinels and keeps the
// server message so callers can surface it.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	case codeForeignKeyViolation, codeCheckViolation, codeNotNullViolation:
		return fmt.Errorf("%w: %s", ErrConstraint, pgErr.Message)
	default:
		return err
	}
}
