package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/pipeline"
	"github.com/projectpulse/ingest/refresh"
)

// Replayer is the slice of the pipeline the replay command needs.
type Replayer interface {
	Replay(ctx context.Context, entry core.DeadLetter) (pipeline.Outcome, error)
}

type ReplayDeadLetterCommand struct {
	deadLetters core.DeadLetterStore
	replayer    Replayer
}

func NewReplayDeadLetterCommand(deadLetters core.DeadLetterStore, replayer Replayer) *ReplayDeadLetterCommand {
	return &ReplayDeadLetterCommand{deadLetters: deadLetters, replayer: replayer}
}

func (c *ReplayDeadLetterCommand) Execute(ctx context.Context, msg ReplayDeadLetterMessage) error {
	if c == nil || c.deadLetters == nil || c.replayer == nil {
		return commandDependencyError("command: replay requires a dead letter store and a pipeline")
	}
	if err := msg.Validate(); err != nil {
		return commandValidationError("deadLetterId", err.Error())
	}
	entry, err := c.deadLetters.Get(ctx, msg.DeadLetterID)
	if err != nil {
		return err
	}
	out, err := c.replayer.Replay(ctx, entry)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type RefreshSubscriptionsCommand struct {
	refreshers map[core.Source]*refresh.Refresher
}

func NewRefreshSubscriptionsCommand(refreshers map[core.Source]*refresh.Refresher) *RefreshSubscriptionsCommand {
	return &RefreshSubscriptionsCommand{refreshers: refreshers}
}

func (c *RefreshSubscriptionsCommand) Execute(ctx context.Context, msg RefreshSubscriptionsMessage) error {
	if c == nil || len(c.refreshers) == 0 {
		return commandDependencyError("command: refresh requires configured refreshers")
	}
	if err := msg.Validate(); err != nil {
		return commandValidationError("source", err.Error())
	}
	refresher, ok := c.refreshers[msg.Source]
	if !ok {
		return commandValidationError("source", "no refresher configured for source "+string(msg.Source))
	}
	out, err := refresher.Run(ctx)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
