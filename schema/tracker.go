package schema

import (
	"encoding/json"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/projectpulse/ingest/core"
)

type trackerIssuePayload struct {
	Issue struct {
		Key       string `json:"key"`
		Title     string `json:"title"`
		State     string `json:"state"`
		Assignee  string `json:"assignee"`
		URL       string `json:"url"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"issue"`
}

// issueDecoder handles the tracker's issue lifecycle events. All three
// operations carry a full-state snapshot, so ordering applies.
type issueDecoder struct {
	op string // created | updated | deleted
}

func (d issueDecoder) EventType() string {
	return "issue:" + d.op
}

func (d issueDecoder) Ordered() bool { return true }

func (d issueDecoder) Decode(env Envelope) (core.Event, error) {
	var payload trackerIssuePayload
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return core.Event{}, core.NewInvalidPayloadError(err, goerrors.FieldError{
			Field:   "issue",
			Message: "issue payload could not be decoded",
		})
	}

	var fields []goerrors.FieldError
	issue := payload.Issue
	if strings.TrimSpace(issue.Key) == "" {
		fields = append(fields, goerrors.FieldError{Field: "issue.key", Message: "issue key is required"})
	}
	if d.op != "deleted" && strings.TrimSpace(issue.Title) == "" {
		fields = append(fields, goerrors.FieldError{Field: "issue.title", Message: "issue title is required"})
	}

	updatedAt := env.OccurredAt
	if raw := strings.TrimSpace(issue.UpdatedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields = append(fields, goerrors.FieldError{
				Field:   "issue.updatedAt",
				Message: "issue timestamp must be RFC 3339",
			})
		} else {
			updatedAt = parsed
		}
	}
	if updatedAt.IsZero() {
		fields = append(fields, goerrors.FieldError{
			Field:   "issue.updatedAt",
			Message: "issue timestamp is required",
		})
	}
	if len(fields) > 0 {
		return core.Event{}, core.NewInvalidPayloadError(nil, fields...)
	}

	state := strings.TrimSpace(issue.State)
	if d.op == "deleted" {
		state = "deleted"
	}

	return core.Event{
		CorrelationID:   "",
		SourceUpdatedAt: updatedAt,
		Mutation: core.EntityMutation{
			EntityKey: "issue:" + strings.TrimSpace(issue.Key),
			Category:  core.CategoryIssue,
			Title:     strings.TrimSpace(issue.Title),
			State:     state,
			Assignee:  strings.TrimSpace(issue.Assignee),
			URL:       strings.TrimSpace(issue.URL),
			Snapshot:  env.Fields(),
		},
	}, nil
}

func trackerEntityKeyHint(fields map[string]any) string {
	issue := nestedMap(fields, "issue")
	key := strings.TrimSpace(stringField(issue, "key"))
	if key == "" {
		return ""
	}
	return "issue:" + key
}
