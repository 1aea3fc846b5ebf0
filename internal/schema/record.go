// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package schema

import (
	"fmt"
	"math"
	"time"

	raglineerr "github.com/ragline-dev/ragline/pkg/errors"
)

// Issue describes a single validation failure within a metadata record.
type Issue struct {
	Path     string `json:"path"`
	Message  string `json:"message"`
	Expected string `json:"expected"`
	Received string `json:"received"`
}

// IssuesOf extracts the issue list from a validation error produced by this
// package, or nil for any other error.
func IssuesOf(err error) []Issue {
	fields := raglineerr.FieldsOf(err)
	if fields == nil {
		return nil
	}
	issues, _ := fields["issues"].([]Issue)
	return issues
}

// ValidateRecord checks a metadata record against the declared schema.
// Validation is strict: fields outside the declared set are rejected, and a
// value that fails its declared type is rejected. The document key must be
// present and non-nil. Nil values for other fields are allowed and mean
// "absent".
func (m *Mapping) ValidateRecord(record map[string]any) error {
	var issues []Issue

	for name, value := range record {
		ft, ok := m.types[name]
		if !ok {
			issues = append(issues, Issue{
				Path:     name,
				Message:  "field is not declared in the metadata schema",
				Expected: "declared field",
				Received: fmt.Sprintf("%T", value),
			})
			continue
		}
		if value == nil {
			continue
		}
		if _, err := coerce(ft, value); err != nil {
			issues = append(issues, Issue{
				Path:     name,
				Message:  err.Error(),
				Expected: string(ft),
				Received: fmt.Sprintf("%T", value),
			})
		}
	}

	if key, ok := record[m.documentKey]; !ok || key == nil {
		issues = append(issues, Issue{
			Path:     m.documentKey,
			Message:  "document key is required",
			Expected: string(m.types[m.documentKey]),
			Received: "nothing",
		})
	}

	if len(issues) > 0 {
		return raglineerr.New(
			raglineerr.CodeSchemaRecordInvalid,
			"metadata record failed validation",
			raglineerr.Field("issues", issues),
		)
	}
	return nil
}

// DecodeRow converts physical column values read from the database back into
// a logical metadata record, coercing driver types to the declared field
// types. A malformed row fails fast.
func (m *Mapping) DecodeRow(row map[string]any) (map[string]any, error) {
	record := make(map[string]any, len(m.fields))
	for _, f := range m.fields {
		raw, ok := row[m.columns[f.Name]]
		if !ok || raw == nil {
			continue
		}
		v, err := coerce(f.Type, raw)
		if err != nil {
			return nil, raglineerr.Errorf(
				raglineerr.CodeSchemaRowInvalid,
				"decoding column %s into field %s: %v", m.columns[f.Name], f.Name, err,
			)
		}
		record[f.Name] = v
	}
	return record, nil
}

// DocumentKeyValue extracts and coerces the document-key value from a record
// that has already passed ValidateRecord.
func (m *Mapping) DocumentKeyValue(record map[string]any) (any, error) {
	raw, ok := record[m.documentKey]
	if !ok || raw == nil {
		return nil, raglineerr.Errorf(raglineerr.CodeSchemaRecordInvalid, "metadata record is missing document key %q", m.documentKey)
	}
	return coerce(m.types[m.documentKey], raw)
}

// coerce converts value to the canonical Go representation of ft: string,
// int64, float64, bool, or time.Time. Numeric widening is accepted; lossy
// conversions are not.
func coerce(ft FieldType, value any) (any, error) {
	switch ft {
	case TypeString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case TypeInt:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case float64:
			if v == math.Trunc(v) && !math.IsInf(v, 0) {
				return int64(v), nil
			}
			return nil, fmt.Errorf("value %v is not an integer", v)
		}
	case TypeFloat:
		switch v := value.(type) {
		case float32:
			return float64(v), nil
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		}
	case TypeBool:
		switch v := value.(type) {
		case bool:
			return v, nil
		case int64:
			// Relational backends without a boolean type store 0/1.
			if v == 0 || v == 1 {
				return v == 1, nil
			}
			return nil, fmt.Errorf("value %d is not a boolean", v)
		}
	case TypeTime:
		switch v := value.(type) {
		case time.Time:
			return v, nil
		case string:
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, fmt.Errorf("value %q is not an RFC 3339 timestamp", v)
			}
			return ts, nil
		}
	}
	return nil, fmt.Errorf("value of type %T does not satisfy declared type %s", value, ft)
}
