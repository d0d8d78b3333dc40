// Package ingest turns at-least-once webhook deliveries from a project
// tracker and a source control system into an exactly-once-effective
// dashboard projection, with dead-lettering, replay, fan-out, and
// subscription rotation around the core pipeline.
package ingest

import (
	"fmt"

	ingestcommand "github.com/projectpulse/ingest/command"
	"github.com/projectpulse/ingest/core"
	"github.com/projectpulse/ingest/pipeline"
	"github.com/projectpulse/ingest/refresh"
)

// Commands bundles the operator-facing command handlers.
type Commands struct {
	ReplayDeadLetter     *ingestcommand.ReplayDeadLetterCommand
	RefreshSubscriptions *ingestcommand.RefreshSubscriptionsCommand
}

// Facade groups the pipeline and its operator commands for embedding
// hosts that wire the ingest module into a larger application.
type Facade struct {
	processor *pipeline.Processor
	commands  Commands
}

func NewFacade(
	processor *pipeline.Processor,
	deadLetters core.DeadLetterStore,
	refreshers map[core.Source]*refresh.Refresher,
) (*Facade, error) {
	if processor == nil {
		return nil, fmt.Errorf("ingest: pipeline processor is required")
	}
	if deadLetters == nil {
		return nil, fmt.Errorf("ingest: dead letter store is required")
	}
	return &Facade{
		processor: processor,
		commands: Commands{
			ReplayDeadLetter:     ingestcommand.NewReplayDeadLetterCommand(deadLetters, processor),
			RefreshSubscriptions: ingestcommand.NewRefreshSubscriptionsCommand(refreshers),
		},
	}, nil
}

func (f *Facade) Processor() *pipeline.Processor {
	if f == nil {
		return nil
	}
	return f.processor
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}
