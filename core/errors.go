package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	IngestErrorUnauthorized   = "INGEST_UNAUTHORIZED"
	IngestErrorInvalidBody    = "INGEST_INVALID_BODY"
	IngestErrorInvalidPayload = "INGEST_INVALID_PAYLOAD"
	IngestErrorProcessing     = "INGEST_PROCESSING_ERROR"
	IngestErrorConfig         = "INGEST_CONFIG_ERROR"
	IngestErrorInternal       = "INGEST_INTERNAL_ERROR"
)

// NewUnauthorizedError covers bad or missing signatures and refresh
// trigger credentials.
func NewUnauthorizedError(message string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, goerrors.CategoryAuth).
			WithTextCode(IngestErrorUnauthorized),
	)
}

// NewInvalidBodyError marks a payload that failed transport-level JSON
// decoding, before any schema is consulted.
func NewInvalidBodyError(message string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, goerrors.CategoryBadInput).
			WithTextCode(IngestErrorInvalidBody),
	)
}

// NewInvalidPayloadError wraps a schema validation failure, preserving
// every field-level violation.
func NewInvalidPayloadError(err error, fields ...goerrors.FieldError) *goerrors.Error {
	rich := goerrors.NewValidation("core: payload schema validation failed", fields...).
		WithTextCode(IngestErrorInvalidPayload)
	if err != nil {
		rich = rich.WithMetadata(map[string]any{"cause": err.Error()})
	}
	return ensureIngestErrorEnvelope(rich)
}

// NewProcessingError marks a reconciliation that exhausted its retries.
func NewProcessingError(err error, message string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.Wrap(err, goerrors.CategoryOperation, message).
			WithTextCode(IngestErrorProcessing),
	)
}

// NewConfigError marks a missing required secret or credential. These
// never self-heal, so they are never retried.
func NewConfigError(message string) *goerrors.Error {
	return ensureIngestErrorEnvelope(
		goerrors.New(message, goerrors.CategoryInternal).
			WithTextCode(IngestErrorConfig),
	)
}

// MapError normalizes any error into the ingest taxonomy envelope.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureIngestErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return NewUnauthorizedError(err.Error())
	case strings.Contains(msg, "unmarshal"), strings.Contains(msg, "unexpected end of json"):
		return NewInvalidBodyError(err.Error())
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return ensureIngestErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryBadInput).
				WithTextCode(IngestErrorInvalidPayload),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureIngestErrorEnvelope(mapped)
}

func ensureIngestErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = ingestHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultIngestTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultIngestTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return IngestErrorInvalidBody
	case goerrors.CategoryValidation:
		return IngestErrorInvalidPayload
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return IngestErrorUnauthorized
	case goerrors.CategoryOperation:
		return IngestErrorProcessing
	default:
		return IngestErrorInternal
	}
}

func ingestHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// HTTPStatus extracts the response status for an ingest error,
// defaulting to 500 for anything outside the taxonomy.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Code != 0 {
		return richErr.Code
	}
	return http.StatusInternalServerError
}

// TextCode extracts the ingest taxonomy code for an error.
func TextCode(err error) string {
	if err == nil {
		return ""
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && strings.TrimSpace(richErr.TextCode) != "" {
		return richErr.TextCode
	}
	return IngestErrorInternal
}
