package command

import gocmd "github.com/goliatone/go-command"

var (
	_ gocmd.Commander[ReplayDeadLetterMessage]     = (*ReplayDeadLetterCommand)(nil)
	_ gocmd.Commander[RefreshSubscriptionsMessage] = (*RefreshSubscriptionsCommand)(nil)
)
