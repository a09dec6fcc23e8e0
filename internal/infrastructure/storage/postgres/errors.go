package postgres

import (
	"errors"
	"fmt"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5/pgconn"

	"stockrecon/internal/core/apperror"
)

// PostgreSQL error codes mapped to application errors.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MapError translates driver errors into application errors. Anything it
// does not recognize is wrapped with op.
func MapError(err error, op, entity string, key any) error {
	if err == nil {
		return nil
	}
	if pgxscan.NotFound(err) {
		return apperror.NewNotFound(entity, key)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperror.NewConflict(fmt.Sprintf("%s already exists", entity)).
				WithDetail("constraint", pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return apperror.NewValidation("referenced record does not exist").
				WithDetail("constraint", pgErr.ConstraintName)
		case pgCheckViolation:
			return apperror.NewValidation("value violates a constraint").
				WithDetail("constraint", pgErr.ConstraintName)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
