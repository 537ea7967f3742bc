package testutil

import (
	"time"

	"coffers/domain/entities"
)

// CreateTestAccount creates an account with a few coins and no gems
func CreateTestAccount(name string) *entities.Account {
	return &entities.Account{
		Name:        entities.NormalizeName(name),
		Coins:       entities.Coins{5, 4, 3, 0},
		LastFeeTime: time.Now().UTC().Truncate(time.Microsecond),
		GemBanks:    make(map[int]entities.GemBankHolding),
	}
}

// CreateTestAccountWithGems creates an account holding gems at the given bank
func CreateTestAccountWithGems(name string, bankID int, gems entities.GemBankHolding) *entities.Account {
	account := CreateTestAccount(name)
	account.GemBanks[bankID] = gems
	return account
}

// CreateTestBank creates a bank registry entry
func CreateTestBank(id int, description string) *entities.Bank {
	return &entities.Bank{ID: id, Description: description}
}

// CreateTestPendingTransfer creates a transfer in transit between two banks
func CreateTestPendingTransfer(code, owner string, fromBank, toBank int) *entities.PendingTransfer {
	return &entities.PendingTransfer{
		Code:      code,
		OwnerName: entities.NormalizeName(owner),
		FromBank:  fromBank,
		ToBank:    toBank,
		Gems:      entities.GemBankHolding{"ruby": 3},
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
}

// CreateTestLedgerHistory creates an audit entry for an account
func CreateTestLedgerHistory(name string, action entities.LedgerAction, amount int64) *entities.LedgerHistory {
	return &entities.LedgerHistory{
		AccountName: entities.NormalizeName(name),
		Action:      action,
		Amount:      amount,
		Metadata: map[string]any{
			"test": true,
		},
	}
}
