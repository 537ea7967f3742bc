package services

import (
	"math"
	"math/big"
	"time"

	"coffers/domain/entities"
)

// SecondsPerYear is the accrual year used by the fee formula
const SecondsPerYear = 365 * 24 * 60 * 60

// FeePolicy holds the carrying fee parameters
type FeePolicy struct {
	AnnualRatePercent int64
	MinInterval       time.Duration // accrual below this is skipped to avoid rounding noise
	MaxInterval       time.Duration // accrual window is capped for long-idle accounts
}

// DefaultFeePolicy returns the production fee parameters
func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		AnnualRatePercent: 5,
		MinInterval:       time.Minute,
		MaxInterval:       30 * 24 * time.Hour,
	}
}

// SettlementResult describes what settling an account's pending fee did
type SettlementResult struct {
	FeeDue    int64 // pending fee before settlement
	Paid      int64 // amount actually covered by coins
	Defaulted bool  // coins could not cover the fee and were zeroed
	ValueLost int64 // coin value forfeited on default
}

// FeeService contains the pure fee accrual and settlement logic
type FeeService struct {
	policy FeePolicy
}

// NewFeeService creates a new FeeService
func NewFeeService(policy FeePolicy) *FeeService {
	return &FeeService{policy: policy}
}

// Policy returns the parameters the service was built with
func (s *FeeService) Policy() FeePolicy {
	return s.policy
}

// UpdateFee accrues the carrying fee owed since the account's last accrual and
// returns the amount added to PendingFee
func (s *FeeService) UpdateFee(account *entities.Account, now time.Time) int64 {
	elapsed := now.Sub(account.LastFeeTime)
	if elapsed < s.policy.MinInterval {
		return 0
	}
	if s.policy.MaxInterval > 0 && elapsed > s.policy.MaxInterval {
		elapsed = s.policy.MaxInterval
	}
	account.LastFeeTime = now

	fee := AccruedFee(account.Value(), s.policy.AnnualRatePercent, elapsed)
	account.PendingFee = addSaturating(account.PendingFee, fee)
	return fee
}

// AccruedFee computes floor(value * rate * seconds / 100 / SecondsPerYear)
// without overflowing for large balances. A fee beyond int64 is capped, never waived.
func AccruedFee(value, annualRatePercent int64, elapsed time.Duration) int64 {
	seconds := int64(elapsed / time.Second)
	if value <= 0 || annualRatePercent <= 0 || seconds <= 0 {
		return 0
	}

	n := new(big.Int).SetInt64(value)
	n.Mul(n, big.NewInt(annualRatePercent))
	n.Mul(n, big.NewInt(seconds))
	n.Quo(n, big.NewInt(100*SecondsPerYear))
	return saturate(n)
}

// saturate converts a non-negative big value to int64, capping at MaxInt64
func saturate(n *big.Int) int64 {
	if !n.IsInt64() {
		if n.Sign() < 0 {
			return math.MinInt64
		}
		return math.MaxInt64
	}
	return n.Int64()
}

// addSaturating adds two non-negative amounts, capping at MaxInt64
func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// SettleFee pays the pending fee out of the account's coins, smallest denomination
// first, and hands the change back in as few coins as possible. When the coins are
// worth less than the fee the account is zeroed.
func (s *FeeService) SettleFee(account *entities.Account) SettlementResult {
	due := account.PendingFee
	result := SettlementResult{FeeDue: due}
	if due <= 0 {
		account.PendingFee = 0
		return result
	}

	value := account.Value()
	if value < due {
		account.Coins = entities.Coins{}
		account.PendingFee = 0
		result.Paid = value
		result.Defaulted = true
		result.ValueLost = value
		return result
	}

	need := due
	var change int64
	for i := 0; i < entities.NumDenominations && need > 0; i++ {
		if account.Coins[i] == 0 {
			continue
		}
		v := entities.Denomination(i).Value()
		n := (need + v - 1) / v
		if n > account.Coins[i] {
			n = account.Coins[i]
		}
		account.Coins[i] -= n
		paid := n * v
		if paid >= need {
			change = paid - need
			need = 0
		} else {
			need -= paid
		}
	}

	for i := entities.NumDenominations - 1; i >= 0 && change > 0; i-- {
		v := entities.Denomination(i).Value()
		account.Coins[i] += change / v
		change %= v
	}

	account.PendingFee = 0
	result.Paid = due
	return result
}
