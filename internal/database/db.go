package database

import (
	"context"
	"errors"

	"github.com/BradenHooton/authgate/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func MapPostgresError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return models.ErrNotFound
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrUpstreamTimeout
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return models.ErrConflict
		case "23503": // foreign_key_violation
			return models.ErrBadRequest
		case "23502": // not_null_violation
			return models.ErrBadRequest
		case "22P02": // invalid_text_representation (bad uuid)
			return models.ErrBadRequest
		}
	}

	return err
}
