package entities

import "time"

// PendingTransfer is a gem consolidation in transit between two banks.
// It refers to its owner by name only.
type PendingTransfer struct {
	Code      string         `db:"code"`
	OwnerName string         `db:"owner_name"`
	FromBank  int            `db:"from_bank"`
	ToBank    int            `db:"to_bank"`
	Gems      GemBankHolding `db:"gems"`
	CreatedAt time.Time      `db:"created_at"`
}

// TotalGems returns the number of stones in transit
func (p *PendingTransfer) TotalGems() int64 {
	var total int64
	for _, qty := range p.Gems {
		total += qty
	}
	return total
}
