package database

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/davidleathers/division-billing/internal/domain/errors"
)

// PostgreSQL error codes mapped onto the domain taxonomy
const (
	pgUniqueViolation      = "23505"
	pgForeignKeyViolation  = "23503"
	pgCheckViolation       = "23514"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MapError converts driver errors into AppErrors. Unique violations, serialization
// failures and deadlocks become retryable ConflictErrors.
func MapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NewNotFoundError(operation).WithCause(err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation, pgSerializationFailure, pgDeadlockDetected:
			return apperrors.NewConflictError(fmt.Sprintf("%s: concurrent write conflict", operation)).
				WithCause(err).
				WithDetails(map[string]interface{}{"sqlstate": pgErr.Code, "constraint": pgErr.ConstraintName})
		case pgForeignKeyViolation, pgCheckViolation:
			return apperrors.NewValidationError(apperrors.CodeInvalidInput,
				fmt.Sprintf("%s: constraint %s violated", operation, pgErr.ConstraintName)).WithCause(err)
		}
	}

	return apperrors.NewInternalError(operation + " failed").WithCause(err)
}

// IsUniqueViolation reports whether err stems from a unique constraint
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
