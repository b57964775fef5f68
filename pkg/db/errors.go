package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	pkgerrors "github.com/angelmondragon/circulation-backend/pkg/errors"
)

// IsUniqueViolation reports whether err is a unique violation. When
// constraintName is provided the constraint must match as well. sqlite
// errors are matched on their message so repository tests behave alike.
func IsUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if code, constraint, ok := pgCode(err); ok {
		if code != pkgerrors.SQLStateUniqueViolation {
			return false
		}
		return constraintName == "" || constraint == constraintName
	}
	msg := err.Error()
	if constraintName != "" && strings.Contains(msg, constraintName) {
		return true
	}
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "UNIQUE constraint failed")
}

// IsSerializationFailure reports whether Postgres aborted the transaction
// because of a serialization conflict or deadlock. Such transactions are
// safe to replay from the start.
func IsSerializationFailure(err error) bool {
	code, _, ok := pgCode(err)
	if !ok {
		return false
	}
	return pkgerrors.IsRetryableSQLState(code)
}

func pgCode(err error) (code, constraint string, ok bool) {
	var pgxErr *pgconn.PgError
	if errors.As(err, &pgxErr) {
		return pgxErr.Code, pgxErr.ConstraintName, true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code), pqErr.Constraint, true
	}
	return "", "", false
}
