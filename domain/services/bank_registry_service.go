package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"coffers/domain/entities"
	"coffers/domain/interfaces"

	log "github.com/sirupsen/logrus"
)

// BankRegistryService maps bank ids to location descriptions
type BankRegistryService struct {
	bankRepo    interfaces.BankRepository
	historyRepo interfaces.LedgerHistoryRepository
}

// NewBankRegistryService creates a new bank registry service
func NewBankRegistryService(bankRepo interfaces.BankRepository, historyRepo interfaces.LedgerHistoryRepository) *BankRegistryService {
	return &BankRegistryService{
		bankRepo:    bankRepo,
		historyRepo: historyRepo,
	}
}

// Register inserts a bank or updates its description. A changed description is
// written to the audit trail before the registry row is overwritten.
func (s *BankRegistryService) Register(ctx context.Context, bankID int, description string, now time.Time) (*entities.Bank, error) {
	description = strings.TrimSpace(description)
	if bankID <= 0 {
		return nil, fmt.Errorf("bank id must be positive, got %d: %w", bankID, entities.ErrInvalidAmount)
	}
	if description == "" {
		return nil, fmt.Errorf("bank description is required: %w", entities.ErrInvalidAmount)
	}

	existing, err := s.bankRepo.GetByID(ctx, bankID)
	if err != nil {
		return nil, fmt.Errorf("failed to get bank: %w", err)
	}

	if existing != nil && existing.Description == description {
		return existing, nil
	}

	id := bankID
	entry := &entities.LedgerHistory{
		Action:    entities.LedgerActionBankRegistered,
		BankID:    &id,
		Metadata:  map[string]any{"description": description},
		CreatedAt: now,
	}
	bank := &entities.Bank{ID: bankID, Description: description, CreatedAt: now, UpdatedAt: now}
	if existing != nil {
		entry.Action = entities.LedgerActionBankRenamed
		entry.Metadata["old_description"] = existing.Description
		bank.CreatedAt = existing.CreatedAt

		log.WithFields(log.Fields{
			"bank_id":         bankID,
			"old_description": existing.Description,
			"new_description": description,
		}).Info("Renaming bank")
	}

	if err := s.historyRepo.Record(ctx, entry); err != nil {
		return nil, fmt.Errorf("failed to record bank history: %w", err)
	}
	if err := s.bankRepo.Upsert(ctx, bank); err != nil {
		return nil, fmt.Errorf("failed to save bank: %w", err)
	}

	return bank, nil
}

// Describe returns the description of a registered bank
func (s *BankRegistryService) Describe(ctx context.Context, bankID int) (string, error) {
	bank, err := s.bankRepo.GetByID(ctx, bankID)
	if err != nil {
		return "", fmt.Errorf("failed to get bank: %w", err)
	}
	if bank == nil {
		return "", fmt.Errorf("bank %d: %w", bankID, entities.ErrNotFound)
	}
	return bank.Description, nil
}

// IsRegistered reports whether a bank id is currently registered
func (s *BankRegistryService) IsRegistered(ctx context.Context, bankID int) (bool, error) {
	bank, err := s.bankRepo.GetByID(ctx, bankID)
	if err != nil {
		return false, fmt.Errorf("failed to get bank: %w", err)
	}
	return bank != nil, nil
}

// ResolveByDescription finds the bank whose description matches text, ignoring case.
// The registry is small so a linear scan is fine.
func (s *BankRegistryService) ResolveByDescription(ctx context.Context, text string) (int, error) {
	banks, err := s.bankRepo.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list banks: %w", err)
	}

	text = strings.TrimSpace(text)
	for _, bank := range banks {
		if strings.EqualFold(bank.Description, text) {
			return bank.ID, nil
		}
	}
	return 0, fmt.Errorf("bank %q: %w", text, entities.ErrNotFound)
}

// List returns every registered bank ordered by id
func (s *BankRegistryService) List(ctx context.Context) ([]*entities.Bank, error) {
	banks, err := s.bankRepo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list banks: %w", err)
	}
	return banks, nil
}
