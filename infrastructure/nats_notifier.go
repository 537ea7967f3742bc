package infrastructure

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"coffers/domain/entities"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// NotificationEnvelope is the JSON document published for each player notification
type NotificationEnvelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	Timestamp     time.Time `json:"timestamp"`
	SourceService string    `json:"source_service"`
	Player        string    `json:"player"`
	Message       string    `json:"message"`
}

// NATSNotifier publishes player notifications to <prefix>.<player>
type NATSNotifier struct {
	publisher MessagePublisher
	prefix    string
	now       func() time.Time
}

// NewNATSNotifier creates a notifier publishing under prefix
func NewNATSNotifier(publisher MessagePublisher, prefix string) *NATSNotifier {
	return &NATSNotifier{
		publisher: publisher,
		prefix:    strings.TrimSuffix(prefix, "."),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// StreamSubjects returns the subjects a JetStream stream must capture for this notifier
func (n *NATSNotifier) StreamSubjects() []string {
	return []string{n.prefix + ".>"}
}

// Notify publishes message for playerName
func (n *NATSNotifier) Notify(ctx context.Context, playerName string, message string) error {
	subject, err := n.SubjectFor(playerName)
	if err != nil {
		return err
	}

	envelope := NotificationEnvelope{
		EventID:       uuid.New().String(),
		EventType:     "player_notification",
		Timestamp:     n.now(),
		SourceService: "coffers",
		Player:        entities.NormalizeName(playerName),
		Message:       message,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("failed to marshal notification envelope: %w", err)
	}

	if err := n.publisher.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	log.WithFields(log.Fields{
		"eventId": envelope.EventID,
		"subject": subject,
	}).Debug("Published player notification")
	return nil
}

// SubjectFor maps a player name onto a single NATS subject token
func (n *NATSNotifier) SubjectFor(playerName string) (string, error) {
	name := entities.NormalizeName(playerName)
	if name == "" {
		return "", fmt.Errorf("cannot notify an empty player name")
	}

	token := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\r', '\n':
			return '_'
		}
		return r
	}, name)
	return n.prefix + "." + token, nil
}
