package services

import (
	"fmt"
	"math"

	"coffers/domain/entities"
)

// CoinService contains pure business logic for coin balances
type CoinService struct{}

// NewCoinService creates a new CoinService
func NewCoinService() *CoinService {
	return &CoinService{}
}

// Deposit adds coins of one denomination to the account
func (s *CoinService) Deposit(account *entities.Account, denom entities.Denomination, amount int64) error {
	if !denom.IsValid() {
		return fmt.Errorf("denomination %d: %w", denom, entities.ErrInvalidAmount)
	}
	if amount <= 0 {
		return fmt.Errorf("deposit amount must be positive, got %d: %w", amount, entities.ErrInvalidAmount)
	}
	if amount > math.MaxInt64/denom.Value() || account.Value() > math.MaxInt64-amount*denom.Value() {
		return fmt.Errorf("deposit of %d %s would overflow account value: %w", amount, denom.Code(), entities.ErrInvalidAmount)
	}

	account.Coins[denom] += amount
	return nil
}

// Withdraw removes coins of one denomination, failing without mutation when the
// account holds fewer than requested
func (s *CoinService) Withdraw(account *entities.Account, denom entities.Denomination, amount int64) error {
	if !denom.IsValid() {
		return fmt.Errorf("denomination %d: %w", denom, entities.ErrInvalidAmount)
	}
	if amount <= 0 {
		return fmt.Errorf("withdrawal amount must be positive, got %d: %w", amount, entities.ErrInvalidAmount)
	}
	if account.Coins[denom] < amount {
		return fmt.Errorf("have %d %s, need %d: %w", account.Coins[denom], denom.Code(), amount, entities.ErrInsufficientFunds)
	}

	account.Coins[denom] -= amount
	return nil
}
