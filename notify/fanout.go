package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/projectpulse/ingest/core"
)

// DashboardRoles are the audiences that hold live dashboard sessions.
// Every change notice goes to every role channel; role-based filtering
// happens at render time, not at fan-out time.
var DashboardRoles = []string{"admin", "manager", "developer"}

// Fanout pushes the consequences of a durable apply to live consumers:
// cached read-views are invalidated first, then a change notice is
// broadcast per role channel. Both halves are best effort.
type Fanout struct {
	Invalidator   core.CacheInvalidator
	Broadcaster   core.Broadcaster
	ChannelPrefix string
	Roles         []string
	Telemetry     *core.Telemetry
}

func NewFanout(invalidator core.CacheInvalidator, broadcaster core.Broadcaster) *Fanout {
	return &Fanout{
		Invalidator:   invalidator,
		Broadcaster:   broadcaster,
		ChannelPrefix: "dashboard",
		Roles:         DashboardRoles,
	}
}

func (f *Fanout) NotifyChanged(ctx context.Context, event core.Event) error {
	if f == nil {
		return nil
	}
	var firstErr error

	if f.Invalidator != nil {
		if err := f.Invalidator.InvalidateCategory(ctx, event.Mutation.Category); err != nil {
			firstErr = err
			f.telemetry().Error(ctx, "cache invalidation failed", map[string]any{
				"category": event.Mutation.Category,
				"error":    err.Error(),
			})
		}
	}

	if f.Broadcaster != nil {
		notice := core.ChangeNotice{
			EventType:     event.EventType,
			EventID:       event.EventID,
			CorrelationID: event.CorrelationID,
		}
		for _, role := range f.roles() {
			channel := f.channelFor(role)
			if err := f.Broadcaster.Broadcast(ctx, channel, notice); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				f.telemetry().Error(ctx, "broadcast failed", map[string]any{
					"channel": channel,
					"error":   err.Error(),
				})
			}
		}
	}
	return firstErr
}

func (f *Fanout) channelFor(role string) string {
	prefix := strings.TrimSpace(f.ChannelPrefix)
	if prefix == "" {
		prefix = "dashboard"
	}
	return fmt.Sprintf("%s:%s", prefix, role)
}

func (f *Fanout) roles() []string {
	if f != nil && len(f.Roles) > 0 {
		return f.Roles
	}
	return DashboardRoles
}

func (f *Fanout) telemetry() *core.Telemetry {
	if f != nil && f.Telemetry != nil {
		return f.Telemetry
	}
	return core.NewTelemetry("notify", nil, nil)
}

// MemoryBroadcaster delivers notices to in-process subscribers. Used in
// tests and single-node deployments without redis.
type MemoryBroadcaster struct {
	mu       sync.Mutex
	channels map[string][]core.ChangeNotice
}

func NewMemoryBroadcaster() *MemoryBroadcaster {
	return &MemoryBroadcaster{channels: map[string][]core.ChangeNotice{}}
}

func (b *MemoryBroadcaster) Broadcast(_ context.Context, channel string, notice core.ChangeNotice) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channels == nil {
		b.channels = map[string][]core.ChangeNotice{}
	}
	b.channels[channel] = append(b.channels[channel], notice)
	return nil
}

// Notices returns the notices broadcast on channel so far.
func (b *MemoryBroadcaster) Notices(channel string) []core.ChangeNotice {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]core.ChangeNotice(nil), b.channels[channel]...)
}

// LogOperatorNotifier is the default operator alert sink: a structured
// log line loud enough for an alerting rule to match on.
type LogOperatorNotifier struct {
	Telemetry *core.Telemetry
}

func (n LogOperatorNotifier) NotifyOperator(ctx context.Context, entry core.DeadLetter) error {
	telemetry := n.Telemetry
	if telemetry == nil {
		telemetry = core.NewTelemetry("notify", nil, nil)
	}
	telemetry.Error(ctx, "delivery requires operator attention", map[string]any{
		"dead_letter_id": entry.ID,
		"source":         entry.Source,
		"event_type":     entry.EventType,
		"event_id":       entry.EventID,
		"retry_count":    entry.RetryCount,
		"error":          entry.ErrorMessage,
	})
	return nil
}
