package command

import (
	"fmt"
	"strings"

	"github.com/projectpulse/ingest/core"
)

const (
	TypeReplayDeadLetter     = "ingest.command.dead_letter.replay"
	TypeRefreshSubscriptions = "ingest.command.subscriptions.refresh"
)

// ReplayDeadLetterMessage re-runs one preserved delivery through the
// full pipeline.
type ReplayDeadLetterMessage struct {
	DeadLetterID string
}

func (ReplayDeadLetterMessage) Type() string { return TypeReplayDeadLetter }

func (m ReplayDeadLetterMessage) Validate() error {
	if strings.TrimSpace(m.DeadLetterID) == "" {
		return fmt.Errorf("command: dead letter id is required")
	}
	return nil
}

// RefreshSubscriptionsMessage rotates the webhook registration for one
// upstream on demand.
type RefreshSubscriptionsMessage struct {
	Source core.Source
}

func (RefreshSubscriptionsMessage) Type() string { return TypeRefreshSubscriptions }

func (m RefreshSubscriptionsMessage) Validate() error {
	return m.Source.Validate()
}
