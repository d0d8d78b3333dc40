package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/projectpulse/ingest/core"
)

const defaultClientTimeout = 30 * time.Second
const defaultResponseBodyLimit int64 = 10 << 20 // 10 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client talks to one upstream's subscription management API. It
// implements the refresher's UpstreamAPI against a conventional REST
// surface: GET/POST /subscriptions, DELETE /subscriptions/{id}.
type Client struct {
	Source               core.Source
	BaseURL              string
	Token                string
	HTTPClient           HTTPDoer
	MaxResponseBodyBytes int64
}

func NewClient(source core.Source, baseURL string, token string) *Client {
	return &Client{
		Source:               source,
		BaseURL:              strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		Token:                strings.TrimSpace(token),
		HTTPClient:           &http.Client{Timeout: defaultClientTimeout},
		MaxResponseBodyBytes: defaultResponseBodyLimit,
	}
}

type subscriptionDocument struct {
	ID          string `json:"id"`
	CallbackURL string `json:"callbackUrl"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
	CreatedAt   string `json:"createdAt,omitempty"`
}

func (c *Client) Authenticate(ctx context.Context) error {
	if strings.TrimSpace(c.Token) == "" {
		return core.NewConfigError(fmt.Sprintf("upstream: %s api token is required", c.Source))
	}
	_, err := c.do(ctx, http.MethodGet, "/auth/check", nil)
	return err
}

func (c *Client) ListSubscriptions(ctx context.Context) ([]core.Subscription, error) {
	body, err := c.do(ctx, http.MethodGet, "/subscriptions", nil)
	if err != nil {
		return nil, err
	}
	var docs []subscriptionDocument
	if err := json.Unmarshal(body, &docs); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "upstream: decode subscription list")
	}
	out := make([]core.Subscription, 0, len(docs))
	for _, doc := range docs {
		out = append(out, c.toSubscription(doc))
	}
	return out, nil
}

func (c *Client) RegisterSubscription(ctx context.Context, callbackURL string, expiresAt time.Time) (core.Subscription, error) {
	payload, err := json.Marshal(subscriptionDocument{
		CallbackURL: strings.TrimSpace(callbackURL),
		ExpiresAt:   expiresAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return core.Subscription{}, goerrors.Wrap(err, goerrors.CategoryInternal, "upstream: encode subscription")
	}
	body, err := c.do(ctx, http.MethodPost, "/subscriptions", payload)
	if err != nil {
		return core.Subscription{}, err
	}
	var doc subscriptionDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return core.Subscription{}, goerrors.Wrap(err, goerrors.CategoryExternal, "upstream: decode subscription")
	}
	if strings.TrimSpace(doc.ID) == "" {
		return core.Subscription{}, goerrors.New(
			"upstream: registration response is missing the subscription id",
			goerrors.CategoryExternal,
		)
	}
	return c.toSubscription(doc), nil
}

func (c *Client) DeleteSubscription(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return goerrors.New("upstream: subscription id is required", goerrors.CategoryBadInput)
	}
	_, err := c.do(ctx, http.MethodDelete, "/subscriptions/"+url.PathEscape(id), nil)
	return err
}

func (c *Client) do(ctx context.Context, method string, path string, payload []byte) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, goerrors.New("upstream: client requires an http client", goerrors.CategoryInternal)
	}
	if strings.TrimSpace(c.BaseURL) == "" {
		return nil, core.NewConfigError(fmt.Sprintf("upstream: %s api base url is required", c.Source))
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryBadInput, "upstream: create request")
	}
	req.Header.Set("Accept", "application/json")
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "upstream: execute request").
			WithMetadata(map[string]any{"method": method, "path": path})
	}
	defer res.Body.Close()

	limit := c.MaxResponseBodyBytes
	if limit <= 0 {
		limit = defaultResponseBodyLimit
	}
	body, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryExternal, "upstream: read response body")
	}
	if int64(len(body)) > limit {
		return nil, goerrors.New(
			fmt.Sprintf("upstream: response body exceeds limit of %d bytes", limit),
			goerrors.CategoryExternal,
		)
	}

	switch {
	case res.StatusCode == http.StatusUnauthorized || res.StatusCode == http.StatusForbidden:
		return nil, core.NewUnauthorizedError(
			fmt.Sprintf("upstream: %s %s returned %d", method, path, res.StatusCode),
		)
	case res.StatusCode >= http.StatusBadRequest && res.StatusCode < http.StatusInternalServerError:
		return nil, goerrors.New(
			fmt.Sprintf("upstream: %s %s returned %d", method, path, res.StatusCode),
			goerrors.CategoryBadInput,
		).WithMetadata(map[string]any{"body": string(body)})
	case res.StatusCode >= http.StatusInternalServerError:
		return nil, goerrors.New(
			fmt.Sprintf("upstream: %s %s returned %d", method, path, res.StatusCode),
			goerrors.CategoryExternal,
		)
	}
	return body, nil
}

func (c *Client) toSubscription(doc subscriptionDocument) core.Subscription {
	sub := core.Subscription{
		ID:          strings.TrimSpace(doc.ID),
		Source:      c.Source,
		CallbackURL: strings.TrimSpace(doc.CallbackURL),
	}
	if raw := strings.TrimSpace(doc.ExpiresAt); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			sub.ExpiresAt = &parsed
		}
	}
	if raw := strings.TrimSpace(doc.CreatedAt); raw != "" {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			sub.CreatedAt = parsed
		}
	}
	return sub
}
