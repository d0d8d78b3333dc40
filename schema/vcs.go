package schema

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/projectpulse/ingest/core"
)

type vcsPushPayload struct {
	Repository struct {
		FullName string `json:"fullName"`
		URL      string `json:"url"`
	} `json:"repository"`
	Push struct {
		Ref        string `json:"ref"`
		Pusher     string `json:"pusher"`
		HeadCommit struct {
			ID      string `json:"id"`
			Message string `json:"message"`
			URL     string `json:"url"`
		} `json:"headCommit"`
	} `json:"push"`
}

// pushDecoder handles append-only push events. Each push is a new fact
// rather than a newer version of an old one, so ordering never applies.
type pushDecoder struct{}

func (pushDecoder) EventType() string { return "push" }

func (pushDecoder) Ordered() bool { return false }

func (pushDecoder) Decode(env Envelope) (core.Event, error) {
	var payload vcsPushPayload
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return core.Event{}, core.NewInvalidPayloadError(err, goerrors.FieldError{
			Field:   "push",
			Message: "push payload could not be decoded",
		})
	}

	var fields []goerrors.FieldError
	if strings.TrimSpace(payload.Repository.FullName) == "" {
		fields = append(fields, goerrors.FieldError{
			Field:   "repository.fullName",
			Message: "repository name is required",
		})
	}
	if strings.TrimSpace(payload.Push.HeadCommit.ID) == "" {
		fields = append(fields, goerrors.FieldError{
			Field:   "push.headCommit.id",
			Message: "head commit id is required",
		})
	}
	if len(fields) > 0 {
		return core.Event{}, core.NewInvalidPayloadError(nil, fields...)
	}

	title := strings.TrimSpace(payload.Push.HeadCommit.Message)
	if title == "" {
		title = "push to " + strings.TrimSpace(payload.Push.Ref)
	}
	url := strings.TrimSpace(payload.Push.HeadCommit.URL)
	if url == "" {
		url = strings.TrimSpace(payload.Repository.URL)
	}

	return core.Event{
		SourceUpdatedAt: env.OccurredAt,
		Mutation: core.EntityMutation{
			EntityKey: pushEntityKey(payload.Repository.FullName, payload.Push.HeadCommit.ID),
			Category:  core.CategoryPush,
			Title:     title,
			State:     strings.TrimSpace(payload.Push.Ref),
			Assignee:  strings.TrimSpace(payload.Push.Pusher),
			URL:       url,
			Snapshot:  env.Fields(),
		},
	}, nil
}

type vcsPullRequestPayload struct {
	Repository struct {
		FullName string `json:"fullName"`
	} `json:"repository"`
	PullRequest struct {
		Number    int    `json:"number"`
		Title     string `json:"title"`
		State     string `json:"state"`
		Author    string `json:"author"`
		URL       string `json:"url"`
		UpdatedAt string `json:"updatedAt"`
	} `json:"pullRequest"`
}

// pullRequestDecoder handles pull request snapshots, which carry the
// full current state and are subject to the ordering check.
type pullRequestDecoder struct{}

func (pullRequestDecoder) EventType() string { return "pull_request" }

func (pullRequestDecoder) Ordered() bool { return true }

func (pullRequestDecoder) Decode(env Envelope) (core.Event, error) {
	var payload vcsPullRequestPayload
	if err := json.Unmarshal(env.Raw, &payload); err != nil {
		return core.Event{}, core.NewInvalidPayloadError(err, goerrors.FieldError{
			Field:   "pullRequest",
			Message: "pull request payload could not be decoded",
		})
	}

	var fields []goerrors.FieldError
	pr := payload.PullRequest
	if strings.TrimSpace(payload.Repository.FullName) == "" {
		fields = append(fields, goerrors.FieldError{
			Field:   "repository.fullName",
			Message: "repository name is required",
		})
	}
	if pr.Number <= 0 {
		fields = append(fields, goerrors.FieldError{
			Field:   "pullRequest.number",
			Message: "pull request number is required",
		})
	}
	if strings.TrimSpace(pr.Title) == "" {
		fields = append(fields, goerrors.FieldError{
			Field:   "pullRequest.title",
			Message: "pull request title is required",
		})
	}

	updatedAt := env.OccurredAt
	if raw := strings.TrimSpace(pr.UpdatedAt); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			fields = append(fields, goerrors.FieldError{
				Field:   "pullRequest.updatedAt",
				Message: "pull request timestamp must be RFC 3339",
			})
		} else {
			updatedAt = parsed
		}
	}
	if updatedAt.IsZero() {
		fields = append(fields, goerrors.FieldError{
			Field:   "pullRequest.updatedAt",
			Message: "pull request timestamp is required",
		})
	}
	if len(fields) > 0 {
		return core.Event{}, core.NewInvalidPayloadError(nil, fields...)
	}

	return core.Event{
		SourceUpdatedAt: updatedAt,
		Mutation: core.EntityMutation{
			EntityKey: pullRequestEntityKey(payload.Repository.FullName, pr.Number),
			Category:  core.CategoryMergeRequest,
			Title:     strings.TrimSpace(pr.Title),
			State:     strings.TrimSpace(pr.State),
			Assignee:  strings.TrimSpace(pr.Author),
			URL:       strings.TrimSpace(pr.URL),
			Snapshot:  env.Fields(),
		},
	}, nil
}

func pushEntityKey(repo string, commitID string) string {
	return fmt.Sprintf("push:%s:%s", strings.TrimSpace(repo), strings.TrimSpace(commitID))
}

func pullRequestEntityKey(repo string, number int) string {
	return fmt.Sprintf("pr:%s:%d", strings.TrimSpace(repo), number)
}

func vcsEntityKeyHint(eventType string, fields map[string]any) string {
	repo := strings.TrimSpace(stringField(nestedMap(fields, "repository"), "fullName"))
	if repo == "" {
		return ""
	}
	switch eventType {
	case "push":
		push := nestedMap(fields, "push")
		commit := strings.TrimSpace(stringField(nestedMap(push, "headCommit"), "id"))
		if commit == "" {
			return ""
		}
		return pushEntityKey(repo, commit)
	case "pull_request":
		pr := nestedMap(fields, "pullRequest")
		if number, ok := pr["number"].(float64); ok && number > 0 {
			return pullRequestEntityKey(repo, int(number))
		}
		return ""
	default:
		return ""
	}
}
