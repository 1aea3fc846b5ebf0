// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package store

import (
	"context"
	"sort"
	"time"

	"github.com/ragline-dev/ragline/internal/schema"
	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Filter is one validated equality predicate produced by a FilterResolver.
type Filter struct {
	Column string
	Value  any

	// Many marks a set-membership predicate (column IN values).
	Many bool
}

// ResolveFilters runs resolver on the request context and validates every
// column name and value before anything reaches a query builder. Filters
// come back sorted by column so statement text is stable. A nil resolver
// yields no filters.
func ResolveFilters(ctx context.Context, resolver FilterResolver, queryContext map[string]any) ([]Filter, error) {
	if resolver == nil {
		return nil, nil
	}

	raw, err := resolver(ctx, queryContext)
	if err != nil {
		return nil, raglineerr.Wrapf(err, raglineerr.CodeQueryRequestInvalid, "search: resolving context filters")
	}

	cols := make([]string, 0, len(raw))
	for col := range raw {
		cols = append(cols, col)
	}
	sort.Strings(cols)

	filters := make([]Filter, 0, len(raw))
	for _, col := range cols {
		if !schema.ValidIdentifier(col) {
			return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: unsafe filter column %q", col)
		}
		value := raw[col]
		switch v := value.(type) {
		case nil:
			return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: filter column %q has nil value", col)
		case []string, []int, []int64, []float64, []bool:
			filters = append(filters, Filter{Column: col, Value: v, Many: true})
		case []any:
			for _, item := range v {
				if !scalarFilterValue(item) {
					return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: filter column %q has non-scalar element of type %T", col, item)
				}
			}
			filters = append(filters, Filter{Column: col, Value: v, Many: true})
		default:
			if !scalarFilterValue(value) {
				return nil, raglineerr.Errorf(raglineerr.CodeQueryRequestInvalid, "search: filter column %q has non-scalar value of type %T", col, value)
			}
			filters = append(filters, Filter{Column: col, Value: value})
		}
	}
	return filters, nil
}

func scalarFilterValue(v any) bool {
	switch v.(type) {
	case string, bool,
		int, int32, int64,
		float32, float64,
		time.Time:
		return true
	default:
		return false
	}
}
