package refresh

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/projectpulse/ingest/core"
)

// State names the step the refresher is executing. Recorded in logs and
// in the failure dead letter so an aborted run can be located.
type State string

const (
	StateAuthenticating  State = "authenticating"
	StateListing         State = "listing"
	StateRegistering     State = "registering"
	StateDeletingStale   State = "deleting_stale"
	StateRecordingHealth State = "recording_health"
)

const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Result reports the run outcome and the registration now in effect.
type Result struct {
	Status         string
	SubscriptionID string
	Expiry         *time.Time
}

// UpstreamAPI is the slice of a provider's subscription management API
// the refresher needs.
type UpstreamAPI interface {
	Authenticate(ctx context.Context) error
	ListSubscriptions(ctx context.Context) ([]core.Subscription, error)
	RegisterSubscription(ctx context.Context, callbackURL string, expiresAt time.Time) (core.Subscription, error)
	DeleteSubscription(ctx context.Context, id string) error
}

// Refresher rotates one upstream's webhook registration before it
// expires. A replacement registration is always confirmed before any
// stale one is deleted, so there is never a window with no active
// subscription; stale cleanup failures are left for the next run.
type Refresher struct {
	Source      core.Source
	API         UpstreamAPI
	CallbackURL string
	Interval    time.Duration
	DeadLetters core.DeadLetterStore
	Health      core.HealthStore
	Telemetry   *core.Telemetry
	Now         func() time.Time
}

func NewRefresher(source core.Source, api UpstreamAPI, callbackURL string, interval time.Duration) *Refresher {
	return &Refresher{
		Source:      source,
		API:         api,
		CallbackURL: callbackURL,
		Interval:    interval,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (r *Refresher) Run(ctx context.Context) (Result, error) {
	if r == nil || r.API == nil {
		return Result{}, fmt.Errorf("refresh: refresher requires an upstream API")
	}
	if strings.TrimSpace(r.CallbackURL) == "" {
		return Result{}, core.NewConfigError("refresh: callback url is required")
	}
	ctx, _ = core.EnsureCorrelationID(ctx)

	if err := r.API.Authenticate(ctx); err != nil {
		return r.fail(ctx, StateAuthenticating, err)
	}

	existing, err := r.API.ListSubscriptions(ctx)
	if err != nil {
		return r.fail(ctx, StateListing, err)
	}

	expiresAt := r.now().Add(r.interval())
	replacement, err := r.API.RegisterSubscription(ctx, r.CallbackURL, expiresAt)
	if err != nil {
		return r.fail(ctx, StateRegistering, err)
	}

	for _, stale := range existing {
		if stale.ID == replacement.ID {
			continue
		}
		if !strings.EqualFold(strings.TrimSpace(stale.CallbackURL), strings.TrimSpace(r.CallbackURL)) {
			continue
		}
		if err := r.API.DeleteSubscription(ctx, stale.ID); err != nil {
			// Non-fatal: the replacement is live, the next run retries.
			r.telemetry().Warn(ctx, "stale subscription cleanup failed", map[string]any{
				"source":          r.Source,
				"subscription_id": stale.ID,
				"error":           err.Error(),
			})
		}
	}

	r.recordHealth(ctx, core.HealthStatusHealthy, "")
	r.telemetry().Info(ctx, "subscription refreshed", map[string]any{
		"source":          r.Source,
		"subscription_id": replacement.ID,
		"expires_at":      replacement.ExpiresAt,
	})

	return Result{
		Status:         StatusSuccess,
		SubscriptionID: replacement.ID,
		Expiry:         replacement.ExpiresAt,
	}, nil
}

func (r *Refresher) fail(ctx context.Context, state State, cause error) (Result, error) {
	message := fmt.Sprintf("refresh: %s failed: %v", state, cause)
	r.telemetry().Error(ctx, "subscription refresh failed", map[string]any{
		"source": r.Source,
		"state":  string(state),
		"error":  cause.Error(),
	})

	if r.DeadLetters != nil {
		entry := core.DeadLetter{
			Source:        r.Source,
			EventType:     "webhook:refresh",
			EventID:       core.SynthesizeEventID(r.Source, "webhook:refresh", string(state), r.now()),
			Payload:       []byte(fmt.Sprintf(`{"state":%q,"callbackUrl":%q}`, state, r.CallbackURL)),
			ErrorMessage:  message,
			CorrelationID: core.CorrelationID(ctx),
		}
		if _, err := r.DeadLetters.Record(ctx, entry); err != nil {
			r.telemetry().Error(ctx, "refresh dead letter write failed", map[string]any{
				"source": r.Source,
				"error":  err.Error(),
			})
		}
	}

	r.recordHealth(ctx, core.HealthStatusDegraded, message)
	return Result{Status: StatusFailure}, core.NewProcessingError(cause, message)
}

func (r *Refresher) recordHealth(ctx context.Context, status core.HealthStatus, detail string) {
	if r.Health == nil {
		return
	}
	record := core.HealthRecord{
		Service:   string(r.Source) + ":refresh",
		Status:    status,
		Detail:    detail,
		CheckedAt: r.now(),
	}
	if err := r.Health.Upsert(ctx, record); err != nil {
		r.telemetry().Error(ctx, "refresh health write failed", map[string]any{
			"service": record.Service,
			"error":   err.Error(),
		})
	}
}

func (r *Refresher) interval() time.Duration {
	if r != nil && r.Interval > 0 {
		return r.Interval
	}
	return 25 * 24 * time.Hour
}

func (r *Refresher) now() time.Time {
	if r != nil && r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Refresher) telemetry() *core.Telemetry {
	if r != nil && r.Telemetry != nil {
		return r.Telemetry
	}
	return core.NewTelemetry("refresh", nil, nil)
}
