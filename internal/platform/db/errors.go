package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/carebridge/carebridge/pkg/apperrors"
)

// MapError translates a pgx error into the application taxonomy. Row-level
// security and privilege rejections become a single authorization error
// path; callers must never retry them with a reshaped payload. Connection
// and timeout classes are transient. pgx.ErrNoRows becomes NotFound so
// services do not leak driver types.
func MapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound(op + ": not found")
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return apperrors.Transient(op, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42501": // insufficient_privilege, raised by RLS policies
			return apperrors.Wrap(apperrors.CodeAuthorizationDenied, op+": blocked by policy", err)
		case "23505": // unique_violation
			return apperrors.Wrap(apperrors.CodeAlreadyExists, op+": already exists", err)
		}
		// Class 08 covers connection exceptions, 57 operator intervention
		// (shutdown, crash recovery): both are worth retrying later.
		if len(pgErr.Code) >= 2 {
			switch pgErr.Code[:2] {
			case "08", "57":
				return apperrors.Transient(op, err)
			}
		}
	}
	if pgconn.Timeout(err) {
		return apperrors.Transient(op, err)
	}
	return apperrors.Wrap(apperrors.CodeUnknown, op, err)
}
