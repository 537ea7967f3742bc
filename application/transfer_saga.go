package application

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"
	"coffers/domain/services"

	log "github.com/sirupsen/logrus"
)

// TransferSaga drives gem consolidations from debit to credit across restarts.
// Begin commits the debit, the pending record and the completion job together;
// Complete is idempotent so completion jobs may run more than once.
type TransferSaga struct {
	store      *AccountStore
	uowFactory interfaces.UnitOfWorkFactory
	feeService *services.FeeService
	gemLedger  *services.GemLedgerService
	baseDelay  time.Duration
	now        func() time.Time
	jitter     func(d time.Duration) time.Duration
}

// NewTransferSaga creates a new transfer saga
func NewTransferSaga(
	store *AccountStore,
	uowFactory interfaces.UnitOfWorkFactory,
	feeService *services.FeeService,
	gemLedger *services.GemLedgerService,
	baseDelay time.Duration,
) *TransferSaga {
	return &TransferSaga{
		store:      store,
		uowFactory: uowFactory,
		feeService: feeService,
		gemLedger:  gemLedger,
		baseDelay:  baseDelay,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source, mainly for tests
func (s *TransferSaga) WithClock(now func() time.Time) *TransferSaga {
	s.now = now
	return s
}

// WithJitter replaces the transit delay randomness, mainly for tests
func (s *TransferSaga) WithJitter(jitter func(d time.Duration) time.Duration) *TransferSaga {
	s.jitter = jitter
	return s
}

func (s *TransferSaga) service(uow interfaces.UnitOfWork) *services.TransferService {
	svc := services.NewTransferService(
		uow.PendingTransferRepository(),
		uow.JobRepository(),
		uow.LedgerHistoryRepository(),
		uow.BankRepository(),
		uow.EventBus(),
		s.feeService,
		s.gemLedger,
		s.baseDelay,
	)
	if s.jitter != nil {
		svc.WithJitter(s.jitter)
	}
	return svc
}

// Begin debits the source bank and schedules delivery to the destination
func (s *TransferSaga) Begin(ctx context.Context, name string, fromBank, toBank int, fee int64) (*services.TransferReceipt, error) {
	now := s.now()
	var receipt *services.TransferReceipt
	_, err := s.store.Update(ctx, name, false, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		s.feeService.UpdateFee(account, now)

		var err error
		receipt, err = s.service(uow).Begin(ctx, account, fromBank, toBank, fee, now)
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// Complete delivers a pending transfer. A record that no longer exists has
// already been resolved and is reported as TransferOutcomeAlreadyDone.
func (s *TransferSaga) Complete(ctx context.Context, code string) (services.TransferOutcome, error) {
	owner, err := s.ownerOf(ctx, code)
	if err != nil {
		return "", err
	}
	if owner == "" {
		log.WithField("code", code).Debug("Transfer already completed")
		return services.TransferOutcomeAlreadyDone, nil
	}

	now := s.now()
	outcome := services.TransferOutcomeAlreadyDone
	err = s.store.UpdateIfExists(ctx, owner, func(uow interfaces.UnitOfWork, account *entities.Account) error {
		// re-read under the row lock; another worker may have consumed it meanwhile
		transfer, err := uow.PendingTransferRepository().GetByCodeForUpdate(ctx, code)
		if err != nil {
			return fmt.Errorf("failed to lock pending transfer: %w", err)
		}
		if transfer == nil {
			return nil
		}

		if account != nil {
			s.feeService.UpdateFee(account, now)
		}

		outcome, err = s.service(uow).Complete(ctx, transfer, account, now)
		return err
	})
	if err != nil {
		return "", err
	}
	return outcome, nil
}

// Recover schedules every surviving pending transfer for immediate completion.
// It runs at startup; duplicate jobs are harmless.
func (s *TransferSaga) Recover(ctx context.Context) (int, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	pending, err := uow.PendingTransferRepository().GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get pending transfers: %w", err)
	}

	now := s.now()
	for _, transfer := range pending {
		if _, err := uow.JobRepository().Enqueue(ctx, entities.JobTypeCompleteTransfer, entities.CompleteTransferPayload{Code: transfer.Code}, now); err != nil {
			return 0, fmt.Errorf("failed to reschedule transfer %s: %w", transfer.Code, err)
		}
	}

	if err := uow.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if len(pending) > 0 {
		log.WithField("count", len(pending)).Info("Rescheduled pending transfers for completion")
	}
	return len(pending), nil
}

// HandleJob is the job worker entry point for complete_transfer jobs
func (s *TransferSaga) HandleJob(ctx context.Context, job *entities.Job) error {
	var payload entities.CompleteTransferPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid complete_transfer payload: %w", err)
	}
	if payload.Code == "" {
		return fmt.Errorf("complete_transfer payload has no code")
	}

	outcome, err := s.Complete(ctx, payload.Code)
	if err != nil {
		return err
	}

	log.WithFields(log.Fields{
		"job_id":  job.ID,
		"code":    payload.Code,
		"outcome": outcome,
	}).Debug("Processed complete_transfer job")
	return nil
}

// Pending lists the transfers currently in transit
func (s *TransferSaga) Pending(ctx context.Context) ([]*entities.PendingTransfer, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	pending, err := uow.PendingTransferRepository().GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending transfers: %w", err)
	}
	return pending, nil
}

func (s *TransferSaga) ownerOf(ctx context.Context, code string) (string, error) {
	uow := s.uowFactory.Create()
	if err := uow.Begin(ctx); err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer uow.Rollback()

	transfer, err := uow.PendingTransferRepository().GetByCode(ctx, code)
	if err != nil {
		return "", fmt.Errorf("failed to get pending transfer: %w", err)
	}
	if transfer == nil {
		return "", nil
	}
	return transfer.OwnerName, nil
}
