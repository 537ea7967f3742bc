package infrastructure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
)

// ErrIncompleteReply is returned when a directory reply lacks the existence answer
var ErrIncompleteReply = errors.New("reply does not say whether the player exists")

// playerLookupRequest is the body sent to the player directory service
type playerLookupRequest struct {
	Name string `json:"name"`
}

// playerLookupReply is the directory's answer. Exists is a pointer so that a
// reply without it is told apart from an explicit "no such player".
type playerLookupReply struct {
	Name   string `json:"name"`
	Exists *bool  `json:"exists"`
	Rank   string `json:"rank"`
	Error  string `json:"error"`
}

// NATSPlayerDirectory asks the game over NATS request/reply whether a player exists
type NATSPlayerDirectory struct {
	requester MessageRequester
	subject   string
	timeout   time.Duration
}

// NewNATSPlayerDirectory creates a directory querying subject
func NewNATSPlayerDirectory(requester MessageRequester, subject string, timeout time.Duration) *NATSPlayerDirectory {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &NATSPlayerDirectory{
		requester: requester,
		subject:   subject,
		timeout:   timeout,
	}
}

// Lookup returns what the game knows about name. Any transport or decoding
// failure, a reported error or a reply without "exists" is an error, never a
// "does not exist" answer.
func (d *NATSPlayerDirectory) Lookup(ctx context.Context, name string) (*interfaces.PlayerInfo, error) {
	name = entities.NormalizeName(name)
	body, err := json.Marshal(playerLookupRequest{Name: name})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal player lookup: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	reply, err := d.requester.Request(ctx, d.subject, body)
	if err != nil {
		return nil, fmt.Errorf("player lookup for %s failed: %w", name, err)
	}

	var decoded playerLookupReply
	if err := json.Unmarshal(reply, &decoded); err != nil {
		return nil, fmt.Errorf("invalid player lookup reply for %s: %w", name, err)
	}
	if decoded.Error != "" {
		return nil, fmt.Errorf("player directory refused lookup for %s: %s", name, decoded.Error)
	}
	if decoded.Exists == nil {
		return nil, fmt.Errorf("invalid player lookup reply for %s: %w", name, ErrIncompleteReply)
	}

	info := &interfaces.PlayerInfo{
		Name:   decoded.Name,
		Exists: *decoded.Exists,
		Rank:   decoded.Rank,
	}
	if info.Name == "" {
		info.Name = name
	}
	return info, nil
}

// StaticPlayerDirectory reports every player as existing. It is used when no
// directory service is configured so the sweeper never prunes anyone.
type StaticPlayerDirectory struct{}

// NewStaticPlayerDirectory creates a directory in which everyone exists
func NewStaticPlayerDirectory() *StaticPlayerDirectory {
	return &StaticPlayerDirectory{}
}

// Lookup always reports the player as existing
func (StaticPlayerDirectory) Lookup(ctx context.Context, name string) (*interfaces.PlayerInfo, error) {
	return &interfaces.PlayerInfo{Name: entities.NormalizeName(name), Exists: true}, nil
}
