package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/events"

	log "github.com/sirupsen/logrus"
)

// maxCodeProbes bounds the search for an unused transfer code
const maxCodeProbes = 1000

// TransferOutcome describes how a completion attempt ended
type TransferOutcome string

const (
	TransferOutcomeCompleted       TransferOutcome = "completed"
	TransferOutcomeDestinationGone TransferOutcome = "destination_gone"
	TransferOutcomeOrphaned        TransferOutcome = "orphaned"
	TransferOutcomeAlreadyDone     TransferOutcome = "already_done"
)

// TransferReceipt is what Begin hands back to the caller
type TransferReceipt struct {
	Transfer   *entities.PendingTransfer
	Settlement SettlementResult
	RunAt      time.Time
}

// TransferService implements the gem consolidation protocol against the
// repositories of one unit of work
type TransferService struct {
	pendingRepo interfaces.PendingTransferRepository
	jobRepo     interfaces.JobRepository
	historyRepo interfaces.LedgerHistoryRepository
	bankRepo    interfaces.BankRepository
	eventBus    interfaces.EventPublisher
	feeService  *FeeService
	gemLedger   *GemLedgerService
	baseDelay   time.Duration

	// jitter returns a random duration in [0, d)
	jitter func(d time.Duration) time.Duration
}

// NewTransferService creates a new transfer service
func NewTransferService(
	pendingRepo interfaces.PendingTransferRepository,
	jobRepo interfaces.JobRepository,
	historyRepo interfaces.LedgerHistoryRepository,
	bankRepo interfaces.BankRepository,
	eventBus interfaces.EventPublisher,
	feeService *FeeService,
	gemLedger *GemLedgerService,
	baseDelay time.Duration,
) *TransferService {
	return &TransferService{
		pendingRepo: pendingRepo,
		jobRepo:     jobRepo,
		historyRepo: historyRepo,
		bankRepo:    bankRepo,
		eventBus:    eventBus,
		feeService:  feeService,
		gemLedger:   gemLedger,
		baseDelay:   baseDelay,
		jitter:      randomJitter,
	}
}

// WithJitter replaces the transit delay randomness, mainly for tests
func (s *TransferService) WithJitter(jitter func(d time.Duration) time.Duration) *TransferService {
	s.jitter = jitter
	return s
}

func randomJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(d)))
}

// Begin debits the whole holding at fromBank into a new pending transfer, charges
// the consolidation fee and schedules completion. The caller must hold the
// account's lock and persist the account in the same unit of work.
func (s *TransferService) Begin(ctx context.Context, account *entities.Account, fromBank, toBank int, fee int64, now time.Time) (*TransferReceipt, error) {
	if fromBank <= 0 || toBank <= 0 {
		return nil, fmt.Errorf("bank ids must be positive, got %d and %d: %w", fromBank, toBank, entities.ErrInvalidAmount)
	}
	if fromBank == toBank {
		return nil, fmt.Errorf("cannot transfer bank %d to itself: %w", fromBank, entities.ErrInvalidAmount)
	}
	if fee < 0 {
		return nil, fmt.Errorf("transfer fee must not be negative, got %d: %w", fee, entities.ErrInvalidAmount)
	}

	holding := account.Holding(fromBank)
	if len(holding) == 0 {
		return nil, fmt.Errorf("no gems held at bank %d: %w", fromBank, entities.ErrNotFound)
	}

	code, err := s.generateCode(ctx, now)
	if err != nil {
		return nil, err
	}

	transfer := &entities.PendingTransfer{
		Code:      code,
		OwnerName: account.Name,
		FromBank:  fromBank,
		ToBank:    toBank,
		Gems:      holding.Clone(),
		CreatedAt: now,
	}
	if err := s.pendingRepo.Create(ctx, transfer); err != nil {
		return nil, fmt.Errorf("failed to create pending transfer: %w", err)
	}

	account.PendingFee += fee
	settlement := s.feeService.SettleFee(account)
	if err := RecordSettlement(ctx, s.historyRepo, s.eventBus, account, settlement, now); err != nil {
		return nil, err
	}

	delete(account.GemBanks, fromBank)

	from := fromBank
	if err := s.historyRepo.Record(ctx, &entities.LedgerHistory{
		AccountName: account.Name,
		Action:      entities.LedgerActionTransferOut,
		Amount:      transfer.TotalGems(),
		BankID:      &from,
		Metadata: map[string]any{
			"code":    code,
			"to_bank": toBank,
			"gems":    transfer.Gems,
			"fee":     fee,
		},
		CreatedAt: now,
	}); err != nil {
		return nil, fmt.Errorf("failed to record transfer history: %w", err)
	}

	runAt := now.Add(s.baseDelay + s.jitter(s.baseDelay))
	if _, err := s.jobRepo.Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: code}, runAt); err != nil {
		return nil, fmt.Errorf("failed to schedule transfer completion: %w", err)
	}

	if err := s.eventBus.Publish(events.TransferStartedEvent{
		Code:      code,
		OwnerName: account.Name,
		FromBank:  fromBank,
		ToBank:    toBank,
		GemCount:  transfer.TotalGems(),
	}); err != nil {
		return nil, fmt.Errorf("failed to publish transfer started event: %w", err)
	}

	log.WithFields(log.Fields{
		"code":      code,
		"account":   account.Name,
		"from_bank": fromBank,
		"to_bank":   toBank,
		"gems":      transfer.TotalGems(),
		"run_at":    runAt,
	}).Info("Transfer started")

	return &TransferReceipt{Transfer: transfer, Settlement: settlement, RunAt: runAt}, nil
}

// Complete resolves a pending transfer that the caller has row-locked. owner is
// nil when the owning account no longer exists; otherwise the caller holds the
// owner's lock and persists it afterwards.
func (s *TransferService) Complete(ctx context.Context, transfer *entities.PendingTransfer, owner *entities.Account, now time.Time) (TransferOutcome, error) {
	bank, err := s.bankRepo.GetByID(ctx, transfer.ToBank)
	if err != nil {
		return "", fmt.Errorf("failed to get destination bank: %w", err)
	}

	if bank == nil {
		log.WithFields(log.Fields{
			"code":    transfer.Code,
			"account": transfer.OwnerName,
			"to_bank": transfer.ToBank,
			"gems":    transfer.Gems,
		}).Error("Transfer destination bank no longer exists, gems lost")

		message := fmt.Sprintf("Your gem transfer %s could not be delivered: bank %d no longer exists. The gems were lost.", transfer.Code, transfer.ToBank)
		if err := s.fail(ctx, transfer, entities.LedgerActionTransferLost, string(TransferOutcomeDestinationGone), message, now); err != nil {
			return "", err
		}
		return TransferOutcomeDestinationGone, nil
	}

	if owner == nil {
		log.WithFields(log.Fields{
			"code":    transfer.Code,
			"account": transfer.OwnerName,
			"to_bank": transfer.ToBank,
			"gems":    transfer.Gems,
		}).Error("Transfer owner account was removed, gems orphaned")

		message := fmt.Sprintf("Your gem transfer %s could not be delivered because your account no longer exists.", transfer.Code)
		if err := s.fail(ctx, transfer, entities.LedgerActionTransferOrphaned, string(TransferOutcomeOrphaned), message, now); err != nil {
			return "", err
		}
		return TransferOutcomeOrphaned, nil
	}

	for gem, qty := range transfer.Gems {
		if err := s.gemLedger.AddGem(owner, transfer.ToBank, gem, qty); err != nil {
			return "", fmt.Errorf("failed to credit %s: %w", gem, err)
		}
	}

	to := transfer.ToBank
	if err := s.historyRepo.Record(ctx, &entities.LedgerHistory{
		AccountName: owner.Name,
		Action:      entities.LedgerActionTransferIn,
		Amount:      transfer.TotalGems(),
		BankID:      &to,
		Metadata: map[string]any{
			"code":      transfer.Code,
			"from_bank": transfer.FromBank,
			"gems":      transfer.Gems,
		},
		CreatedAt: now,
	}); err != nil {
		return "", fmt.Errorf("failed to record transfer history: %w", err)
	}

	if err := s.pendingRepo.Delete(ctx, transfer.Code); err != nil {
		return "", fmt.Errorf("failed to delete pending transfer: %w", err)
	}

	if err := s.eventBus.Publish(events.TransferCompletedEvent{
		Code:      transfer.Code,
		OwnerName: owner.Name,
		ToBank:    transfer.ToBank,
		GemCount:  transfer.TotalGems(),
	}); err != nil {
		return "", fmt.Errorf("failed to publish transfer completed event: %w", err)
	}
	if err := s.eventBus.Publish(events.PlayerNotificationEvent{
		PlayerName: owner.Name,
		Message:    fmt.Sprintf("Your gem transfer %s has arrived at %s.", transfer.Code, bank.Description),
	}); err != nil {
		return "", fmt.Errorf("failed to publish transfer notification: %w", err)
	}

	log.WithFields(log.Fields{
		"code":    transfer.Code,
		"account": owner.Name,
		"to_bank": transfer.ToBank,
		"gems":    transfer.TotalGems(),
	}).Info("Transfer completed")

	return TransferOutcomeCompleted, nil
}

// fail records a terminal outcome, consumes the record and tells the owner
func (s *TransferService) fail(ctx context.Context, transfer *entities.PendingTransfer, action entities.LedgerAction, reason, message string, now time.Time) error {
	to := transfer.ToBank
	if err := s.historyRepo.Record(ctx, &entities.LedgerHistory{
		AccountName: transfer.OwnerName,
		Action:      action,
		Amount:      transfer.TotalGems(),
		BankID:      &to,
		Metadata: map[string]any{
			"code":      transfer.Code,
			"from_bank": transfer.FromBank,
			"gems":      transfer.Gems,
		},
		CreatedAt: now,
	}); err != nil {
		return fmt.Errorf("failed to record transfer history: %w", err)
	}

	if err := s.pendingRepo.Delete(ctx, transfer.Code); err != nil {
		return fmt.Errorf("failed to delete pending transfer: %w", err)
	}

	if err := s.eventBus.Publish(events.TransferFailedEvent{
		Code:      transfer.Code,
		OwnerName: transfer.OwnerName,
		ToBank:    transfer.ToBank,
		GemCount:  transfer.TotalGems(),
		Reason:    reason,
	}); err != nil {
		return fmt.Errorf("failed to publish transfer failed event: %w", err)
	}
	if err := s.eventBus.Publish(events.PlayerNotificationEvent{
		PlayerName: transfer.OwnerName,
		Message:    message,
	}); err != nil {
		return fmt.Errorf("failed to publish transfer notification: %w", err)
	}
	return nil
}

// generateCode probes time-seeded candidates until one is not in use
func (s *TransferService) generateCode(ctx context.Context, now time.Time) (string, error) {
	seed := now.UnixMilli()
	for i := 0; i < maxCodeProbes; i++ {
		code := TransferCode(seed + int64(i))
		exists, err := s.pendingRepo.Exists(ctx, code)
		if err != nil {
			return "", fmt.Errorf("failed to check transfer code: %w", err)
		}
		if !exists {
			return code, nil
		}
	}
	return "", fmt.Errorf("no free transfer code after %d probes", maxCodeProbes)
}

// TransferCode formats a candidate seed as a player-facing code
func TransferCode(seed int64) string {
	return "TR" + strings.ToUpper(strconv.FormatInt(seed, 36))
}
