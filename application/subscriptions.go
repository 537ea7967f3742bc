package application

import (
	"context"
	"time"

	"coffers/domain/interfaces"
	"coffers/events"

	log "github.com/sirupsen/logrus"
)

// notifyTimeout bounds one outbound notification
const notifyTimeout = 10 * time.Second

// RegisterNotificationSubscriptions forwards committed player notifications to
// the notifier. Delivery is fire-and-forget: failures are logged only.
func RegisterNotificationSubscriptions(bus *events.Bus, notifier interfaces.Notifier) {
	bus.Subscribe(events.EventTypePlayerNotification, func(ctx context.Context, event events.Event) {
		e, ok := event.(events.PlayerNotificationEvent)
		if !ok {
			return
		}

		ctx, cancel := context.WithTimeout(ctx, notifyTimeout)
		defer cancel()

		if err := notifier.Notify(ctx, e.PlayerName, e.Message); err != nil {
			log.WithFields(log.Fields{
				"player": e.PlayerName,
				"error":  err,
			}).Warn("Failed to notify player")
		}
	})
}
