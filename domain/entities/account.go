package entities

import (
	"fmt"
	"strings"
	"time"
)

// Denomination identifies a coin slot in an account's coin array
type Denomination int

const (
	Copper Denomination = iota
	Silver
	Gold
	Platinum

	// NumDenominations is the fixed size of the persisted coin array
	NumDenominations = 4
)

var denominationValues = [NumDenominations]int64{1, 10, 100, 1000}
var denominationCodes = [NumDenominations]string{"cc", "sc", "gc", "pc"}

// Value returns the worth of one coin of this denomination in copper
func (d Denomination) Value() int64 {
	return denominationValues[d]
}

// Code returns the short name players type for this denomination
func (d Denomination) Code() string {
	return denominationCodes[d]
}

// IsValid reports whether d indexes a real coin slot
func (d Denomination) IsValid() bool {
	return d >= Copper && d < NumDenominations
}

// ParseDenomination maps a player-facing code ("cc", "gold", ...) to a denomination
func ParseDenomination(s string) (Denomination, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cc", "copper":
		return Copper, nil
	case "sc", "silver":
		return Silver, nil
	case "gc", "gold":
		return Gold, nil
	case "pc", "platinum":
		return Platinum, nil
	}
	return 0, fmt.Errorf("unknown denomination %q: %w", s, ErrInvalidAmount)
}

// Coins holds one balance per denomination, smallest first
type Coins [NumDenominations]int64

// Value returns the total worth of the coins in copper
func (c Coins) Value() int64 {
	var total int64
	for i, n := range c {
		total += n * Denomination(i).Value()
	}
	return total
}

// GemBankHolding maps gem type to a positive quantity at one bank
type GemBankHolding map[string]int64

// Clone returns an independent copy of the holding
func (h GemBankHolding) Clone() GemBankHolding {
	out := make(GemBankHolding, len(h))
	for gem, qty := range h {
		out[gem] = qty
	}
	return out
}

// Account is a player's durable coin and gem ledger record
type Account struct {
	Name        string                 `db:"name"`
	Coins       Coins                  `db:"coins"`
	PendingFee  int64                  `db:"pending_fee"`
	LastFeeTime time.Time              `db:"last_fee_time"`
	GemBanks    map[int]GemBankHolding `db:"gem_banks"`
	CreatedAt   time.Time              `db:"created_at"`
	UpdatedAt   time.Time              `db:"updated_at"`
}

// NewAccount returns an empty, unsaved account whose fee clock starts at now
func NewAccount(name string, now time.Time) *Account {
	return &Account{
		Name:        NormalizeName(name),
		LastFeeTime: now,
		GemBanks:    make(map[int]GemBankHolding),
	}
}

// NormalizeName produces the account identity key for a player name
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Value returns the coin value of the account, excluding any pending fee
func (a *Account) Value() int64 {
	return a.Coins.Value()
}

// Holding returns the gems held at a bank, or nil when there are none
func (a *Account) Holding(bankID int) GemBankHolding {
	if a.GemBanks == nil {
		return nil
	}
	return a.GemBanks[bankID]
}

// Clone returns a deep copy so callers can mutate without touching cached state
func (a *Account) Clone() *Account {
	out := *a
	out.GemBanks = make(map[int]GemBankHolding, len(a.GemBanks))
	for bankID, holding := range a.GemBanks {
		out.GemBanks[bankID] = holding.Clone()
	}
	return &out
}

// Validate checks the persisted invariants of the record
func (a *Account) Validate() error {
	if a.Name == "" {
		return fmt.Errorf("account has empty name: %w", ErrCorruptRecord)
	}
	for i, n := range a.Coins {
		if n < 0 {
			return fmt.Errorf("account %s has negative %s balance %d: %w", a.Name, Denomination(i).Code(), n, ErrCorruptRecord)
		}
	}
	if a.PendingFee < 0 {
		return fmt.Errorf("account %s has negative pending fee %d: %w", a.Name, a.PendingFee, ErrCorruptRecord)
	}
	for bankID, holding := range a.GemBanks {
		if len(holding) == 0 {
			return fmt.Errorf("account %s has empty holding at bank %d: %w", a.Name, bankID, ErrCorruptRecord)
		}
		for gem, qty := range holding {
			if qty <= 0 {
				return fmt.Errorf("account %s has %d %s at bank %d: %w", a.Name, qty, gem, bankID, ErrCorruptRecord)
			}
		}
	}
	return nil
}
