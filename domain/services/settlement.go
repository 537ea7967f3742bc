package services

import (
	"context"
	"fmt"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/events"

	log "github.com/sirupsen/logrus"
)

// InsufficientFeesMessage is what a player is told when their coins were seized for fees
const InsufficientFeesMessage = "Your coins were insufficient to pay fees. Your coin balance has been seized."

// RecordSettlement writes the audit entry for a fee settlement and, on default,
// warns the operator and queues a notification for the player. Nothing is
// written when no fee was due.
func RecordSettlement(ctx context.Context, historyRepo interfaces.LedgerHistoryRepository, eventBus interfaces.EventPublisher, account *entities.Account, result SettlementResult, now time.Time) error {
	if result.FeeDue <= 0 {
		return nil
	}

	entry := &entities.LedgerHistory{
		AccountName: account.Name,
		Action:      entities.LedgerActionFeeSettled,
		Amount:      result.Paid,
		Metadata:    map[string]any{"fee_due": result.FeeDue},
		CreatedAt:   now,
	}
	if result.Defaulted {
		entry.Action = entities.LedgerActionFeeDefault
		entry.Metadata["value_lost"] = result.ValueLost
	}

	if err := historyRepo.Record(ctx, entry); err != nil {
		return fmt.Errorf("failed to record fee settlement: %w", err)
	}

	if !result.Defaulted {
		return nil
	}

	log.WithFields(log.Fields{
		"account":    account.Name,
		"fee_due":    result.FeeDue,
		"value_lost": result.ValueLost,
	}).Warn("Account insufficient to pay fees, balance zeroed")

	if err := eventBus.Publish(events.FeeDefaultedEvent{
		AccountName: account.Name,
		FeeDue:      result.FeeDue,
		ValueLost:   result.ValueLost,
	}); err != nil {
		return fmt.Errorf("failed to publish fee default event: %w", err)
	}
	if err := eventBus.Publish(events.PlayerNotificationEvent{
		PlayerName: account.Name,
		Message:    InsufficientFeesMessage,
	}); err != nil {
		return fmt.Errorf("failed to publish fee default notification: %w", err)
	}

	return nil
}
