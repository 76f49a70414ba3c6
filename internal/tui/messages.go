package tui

import "github.com/myrjola/storyweaver/internal/models"

// StateMsg carries a state published by the story session.
type StateMsg struct {
	State models.State
}

// SubscriptionClosedMsg is sent when the session stops publishing states.
type SubscriptionClosedMsg struct{}

// CommandErrorMsg is sent when the session rejects a command.
type CommandErrorMsg struct {
	Err error
}
