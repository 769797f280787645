package postgres

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"example.com/healthassistant/internal/projection"
)

// SQLSTATE codes the projection layer reacts to.
const (
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	codeUniqueViolation      = "23505"
)

// classify maps driver errors onto the projection sentinels so callers can retry
// conflicts and treat unique violations as already projected.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %s", projection.ErrConflict, pgErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", projection.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}
