// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package pgvector

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	pgvec "github.com/pgvector/pgvector-go"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// vectorParam wraps an embedding for parameter binding. The driver-specific
// encoding stays behind this seam.
func vectorParam(embedding []float32) any {
	return pgvec.NewVector(embedding)
}

// Postgres error codes the store classifies specially.
const (
	pgUndefinedTable  = "42P01"
	pgQueryCanceled   = "57014"
	pgConstraintClass = "23"
)

// classifyPg maps a driver error onto the store error taxonomy. fallback is
// the code used for errors with no more specific classification.
func classifyPg(err error, fallback raglineerr.Code, msg string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return raglineerr.Wrapf(err, raglineerr.CodeStoreTimeout, "%s: statement timed out", msg)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == pgUndefinedTable:
			return raglineerr.Wrapf(err, raglineerr.CodeStoreTableNotFound, "%s: table does not exist", msg)
		case pgErr.Code == pgQueryCanceled:
			return raglineerr.Wrapf(err, raglineerr.CodeStoreTimeout, "%s: statement cancelled", msg)
		case len(pgErr.Code) >= 2 && pgErr.Code[:2] == pgConstraintClass:
			return raglineerr.Wrapf(err, raglineerr.CodeStoreConstraintViolation, "%s: constraint violation", msg)
		}
	}

	return raglineerr.Wrapf(err, fallback, "%s", msg)
}
