// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Ragline Contributors

package errors

import (
	"fmt"
	"strings"
	"time"

	"github.com/samber/oops"
)

// Code is the machine-readable identifier for an error. Codes are dotted
// paths of the form area.operation.reason; the trailing reason segment
// drives classification.
type Code string

const (
	// Schema / validation.
	CodeSchemaIdentifierInvalid Code = "schema.identifier.invalid"
	CodeSchemaFieldInvalid      Code = "schema.field.invalid"
	CodeSchemaRecordInvalid     Code = "schema.record.invalid_input"
	CodeSchemaRowInvalid        Code = "schema.row.invalid_input"

	// Construction-time configuration.
	CodeConfigMissingValue Code = "config.validate.missing_value"
	CodeConfigInvalidValue Code = "config.validate.invalid_value"

	// Database.
	CodeStoreConnectionFailure   Code = "store.connection.failure"
	CodeStoreQueryFailure        Code = "store.query.failure"
	CodeStoreTransactionFailure  Code = "store.transaction.failure"
	CodeStoreTableNotFound       Code = "store.table.not_found"
	CodeStoreConstraintViolation Code = "store.constraint.violation"
	CodeStoreTimeout             Code = "store.query.timeout"

	// Embedder.
	CodeEmbedAPIFailure      Code = "embed.api.failure"
	CodeEmbedUnauthorized    Code = "embed.auth.unauthorized"
	CodeEmbedRateLimited     Code = "embed.api.rate_limited"
	CodeEmbedInvalidInput    Code = "embed.input.invalid_input"
	CodeEmbedTimeout         Code = "embed.api.timeout"
	CodeEmbedQuotaExceeded   Code = "embed.quota.exceeded"
	CodeEmbedResponseInvalid Code = "embed.response.invalid"

	// Query service.
	CodeQueryRequestInvalid Code = "query.request.invalid_input"

	// Higher-level operations.
	CodeLoaderStreamFailure    Code = "loader.stream.failure"
	CodePipelineDocumentFailed Code = "pipeline.document.failure"
	CodeOperationInvalid       Code = "pipeline.operation.invalid"
	CodeDocumentNotFound       Code = "pipeline.document.not_found"
)

// Attr is a structured key/value context attached to an error.
type Attr struct {
	Key   string
	Value any
}

// Field creates a structured error field.
func Field(key string, value any) Attr {
	return Attr{Key: key, Value: value}
}

func FieldTable(value string) Attr {
	return Field("table", value)
}

func FieldDocumentKey(value any) Attr {
	return Field("document_key", value)
}

func FieldOperation(value string) Attr {
	return Field("operation", value)
}

func FieldAttempt(value int) Attr {
	return Field("attempt", value)
}

// FieldRetryAfter records a provider-supplied pacing hint.
func FieldRetryAfter(value time.Duration) Attr {
	return Field("retry_after", value)
}

func New(code Code, msg string, fields ...Attr) error {
	return oops.Code(code).With(flatten(fields)...).New(msg)
}

func Errorf(code Code, format string, args ...any) error {
	return oops.Code(code).Errorf(format, args...)
}

func Wrap(err error, code Code, msg string, fields ...Attr) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).With(flatten(fields)...).Wrapf(err, "%s", msg)
}

func Wrapf(err error, code Code, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return oops.Code(code).Wrapf(err, format, args...)
}

// With adds structured fields to an existing error chain, preserving its code.
func With(err error, fields ...Attr) error {
	if err == nil {
		return nil
	}

	code := CodeOf(err)
	if code == "" {
		code = CodeStoreQueryFailure
	}

	return oops.Code(code).With(flatten(fields)...).Wrap(err)
}

func CodeOf(err error) Code {
	if err == nil {
		return ""
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return ""
	}

	if code, ok := oopsErr.Code().(Code); ok {
		return code
	}

	if code, ok := oopsErr.Code().(string); ok {
		return Code(code)
	}

	return Code(fmt.Sprintf("%v", oopsErr.Code()))
}

func FieldsOf(err error) map[string]any {
	if err == nil {
		return nil
	}

	oopsErr, ok := oops.AsOops(err)
	if !ok {
		return nil
	}

	return oopsErr.Context()
}

func HasCode(err error, code Code) bool {
	if err == nil {
		return false
	}
	return CodeOf(err) == code
}

func IsNotFound(err error) bool {
	return reason(CodeOf(err)) == "not_found"
}

func IsInvalidInput(err error) bool {
	r := reason(CodeOf(err))
	return r == "invalid" || r == "invalid_input" || r == "invalid_value" || r == "missing_value"
}

func IsValidation(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "schema.") || HasCode(err, CodeQueryRequestInvalid)
}

func IsConfiguration(err error) bool {
	return strings.HasPrefix(string(CodeOf(err)), "config.")
}

func IsTimeout(err error) bool {
	return reason(CodeOf(err)) == "timeout"
}

func IsRateLimited(err error) bool {
	return reason(CodeOf(err)) == "rate_limited"
}

func IsUnauthorized(err error) bool {
	return reason(CodeOf(err)) == "unauthorized"
}

func IsQuotaExceeded(err error) bool {
	return reason(CodeOf(err)) == "exceeded"
}

// IsRetriable reports whether the pipeline may retry the operation that
// produced err. Database errors are retriable except table_not_found and
// constraint violations; embedder rate limits, timeouts, and transient API
// failures are retriable; validation, configuration, and quota errors are
// never retriable.
func IsRetriable(err error) bool {
	switch CodeOf(err) {
	case CodeStoreConnectionFailure,
		CodeStoreQueryFailure,
		CodeStoreTransactionFailure,
		CodeStoreTimeout,
		CodeEmbedAPIFailure,
		CodeEmbedRateLimited,
		CodeEmbedTimeout:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns the provider-supplied pacing hint attached to err,
// or zero if none is present.
func RetryAfterOf(err error) time.Duration {
	fields := FieldsOf(err)
	if fields == nil {
		return 0
	}
	if d, ok := fields["retry_after"].(time.Duration); ok {
		return d
	}
	return 0
}

func flatten(fields []Attr) []any {
	pairs := make([]any, 0, len(fields)*2)
	for _, field := range fields {
		if field.Key == "" {
			continue
		}
		pairs = append(pairs, field.Key, field.Value)
	}
	return pairs
}

func reason(code Code) string {
	if code == "" {
		return ""
	}

	raw := string(code)
	idx := strings.LastIndex(raw, ".")
	if idx == -1 || idx == len(raw)-1 {
		return raw
	}
	return raw[idx+1:]
}
