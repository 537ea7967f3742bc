package entities

import "time"

// LedgerAction is the kind of change an audit entry records
type LedgerAction string

const (
	// Coin movements
	LedgerActionDepositCoins  LedgerAction = "deposit_coins"
	LedgerActionWithdrawCoins LedgerAction = "withdraw_coins"

	// Gem movements
	LedgerActionDepositGem  LedgerAction = "deposit_gem"
	LedgerActionWithdrawGem LedgerAction = "withdraw_gem"

	// Fees
	LedgerActionFeeSettled LedgerAction = "fee_settled"
	LedgerActionFeeDefault LedgerAction = "fee_default"

	// Consolidation
	LedgerActionTransferOut      LedgerAction = "transfer_out"
	LedgerActionTransferIn       LedgerAction = "transfer_in"
	LedgerActionTransferLost     LedgerAction = "transfer_lost"
	LedgerActionTransferOrphaned LedgerAction = "transfer_orphaned"

	// Administrative
	LedgerActionAccountSaved   LedgerAction = "account_saved"
	LedgerActionAccountRemoved LedgerAction = "account_removed"
	LedgerActionBankRegistered LedgerAction = "bank_registered"
	LedgerActionBankRenamed    LedgerAction = "bank_renamed"
)

// IsTransfer returns true for consolidation entries
func (a LedgerAction) IsTransfer() bool {
	return a == LedgerActionTransferOut ||
		a == LedgerActionTransferIn ||
		a == LedgerActionTransferLost ||
		a == LedgerActionTransferOrphaned
}

// LedgerHistory is one audit entry. Bank registry entries carry an empty AccountName.
type LedgerHistory struct {
	ID          int64          `db:"id"`
	AccountName string         `db:"account_name"`
	Action      LedgerAction   `db:"action"`
	Amount      int64          `db:"amount"`
	BankID      *int           `db:"bank_id"`
	Metadata    map[string]any `db:"metadata"`
	CreatedAt   time.Time      `db:"created_at"`
}
