package interfaces

import (
	"context"

	"coffers/events"
)

// EventPublisher defines the interface for publishing ledger events
type EventPublisher interface {
	Publish(event events.Event) error
}

// Notifier delivers a one-way message to a player by name.
// No delivery confirmation is expected.
type Notifier interface {
	Notify(ctx context.Context, playerName string, message string) error
}

// PlayerInfo is what the game knows about a player name
type PlayerInfo struct {
	Name   string `json:"name"`
	Exists bool   `json:"exists"`
	Rank   string `json:"rank,omitempty"`
}

// PlayerDirectory is the external authority on player existence and rank
type PlayerDirectory interface {
	Lookup(ctx context.Context, name string) (*PlayerInfo, error)
}
