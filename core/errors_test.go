package core

import (
	stderrors "errors"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestErrorConstructors_AssignStableCodes(t *testing.T) {
	cases := []struct {
		name     string
		err      *goerrors.Error
		status   int
		textCode string
	}{
		{
			name:     "unauthorized",
			err:      NewUnauthorizedError("signature: signature verification failed"),
			status:   http.StatusUnauthorized,
			textCode: IngestErrorUnauthorized,
		},
		{
			name:     "invalid body",
			err:      NewInvalidBodyError("schema: body is not valid JSON"),
			status:   http.StatusBadRequest,
			textCode: IngestErrorInvalidBody,
		},
		{
			name: "invalid payload",
			err: NewInvalidPayloadError(nil,
				goerrors.FieldError{Field: "title", Message: "title is required"},
			),
			status:   http.StatusBadRequest,
			textCode: IngestErrorInvalidPayload,
		},
		{
			name:     "processing",
			err:      NewProcessingError(stderrors.New("upsert failed"), "pipeline: reconcile exhausted retries"),
			status:   http.StatusInternalServerError,
			textCode: IngestErrorProcessing,
		},
		{
			name:     "config",
			err:      NewConfigError("httpapi: refresh trigger secret is not configured"),
			status:   http.StatusInternalServerError,
			textCode: IngestErrorConfig,
		},
	}

	for _, tc := range cases {
		if tc.err.Code != tc.status {
			t.Fatalf("%s: expected status %d, got %d", tc.name, tc.status, tc.err.Code)
		}
		if tc.err.TextCode != tc.textCode {
			t.Fatalf("%s: expected text code %q, got %q", tc.name, tc.textCode, tc.err.TextCode)
		}
	}
}

func TestMapError_PassesRichErrorsThrough(t *testing.T) {
	original := NewUnauthorizedError("signature: signature header is required")
	mapped := MapError(original)
	if mapped != original {
		t.Fatalf("expected the original envelope back, got %#v", mapped)
	}
	if mapped.Code != http.StatusUnauthorized || mapped.TextCode != IngestErrorUnauthorized {
		t.Fatalf("unexpected envelope %d %q", mapped.Code, mapped.TextCode)
	}
}

func TestMapError_ClassifiesPlainErrorsBySubstring(t *testing.T) {
	cases := []struct {
		message  string
		status   int
		textCode string
	}{
		{"signature verification failed", http.StatusUnauthorized, IngestErrorUnauthorized},
		{"request is unauthorized", http.StatusUnauthorized, IngestErrorUnauthorized},
		{"json: cannot unmarshal string into Go value", http.StatusBadRequest, IngestErrorInvalidBody},
		{"unexpected end of JSON input", http.StatusBadRequest, IngestErrorInvalidBody},
		{"title is required", http.StatusBadRequest, IngestErrorInvalidPayload},
		{"invalid event type", http.StatusBadRequest, IngestErrorInvalidPayload},
	}

	for _, tc := range cases {
		mapped := MapError(stderrors.New(tc.message))
		if mapped.Code != tc.status {
			t.Fatalf("%q: expected status %d, got %d", tc.message, tc.status, mapped.Code)
		}
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%q: expected text code %q, got %q", tc.message, tc.textCode, mapped.TextCode)
		}
	}
}

func TestMapError_UnclassifiedErrorsAreInternal(t *testing.T) {
	mapped := MapError(stderrors.New("disk quota exceeded"))
	if mapped == nil {
		t.Fatal("expected an envelope")
	}
	if got := HTTPStatus(mapped); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unclassified error, got %d", got)
	}
	if TextCode(mapped) == "" {
		t.Fatal("expected a text code on the envelope")
	}
	if MapError(nil) != nil {
		t.Fatal("expected nil for nil error")
	}
}

func TestHTTPStatusAndTextCode_Defaults(t *testing.T) {
	if got := HTTPStatus(nil); got != http.StatusOK {
		t.Fatalf("expected 200 for nil error, got %d", got)
	}
	if got := HTTPStatus(stderrors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("expected 500 for plain error, got %d", got)
	}
	if got := TextCode(stderrors.New("plain")); got != IngestErrorInternal {
		t.Fatalf("expected internal text code for plain error, got %q", got)
	}
	if got := TextCode(nil); got != "" {
		t.Fatalf("expected empty text code for nil error, got %q", got)
	}
}

func TestNewInvalidPayloadError_KeepsEveryFieldViolation(t *testing.T) {
	err := NewInvalidPayloadError(stderrors.New("two violations"),
		goerrors.FieldError{Field: "title", Message: "title is required"},
		goerrors.FieldError{Field: "updatedAt", Message: "updatedAt must be RFC 3339"},
	)
	if err.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", err.Code)
	}
	fields := err.AllValidationErrors()
	if len(fields) != 2 {
		t.Fatalf("expected 2 field violations, got %d", len(fields))
	}
	if fields[0].Field != "title" || fields[1].Field != "updatedAt" {
		t.Fatalf("unexpected violation fields %#v", fields)
	}
}
