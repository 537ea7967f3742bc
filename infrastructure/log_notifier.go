package infrastructure

import (
	"context"

	log "github.com/sirupsen/logrus"
)

// LogNotifier writes notifications to the log instead of delivering them
type LogNotifier struct{}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (LogNotifier) Notify(ctx context.Context, playerName string, message string) error {
	log.WithFields(log.Fields{
		"player":  playerName,
		"message": message,
	}).Info("Player notification")
	return nil
}
