package entities

import "errors"

var (
	// ErrNotFound covers a missing account, bank, gem holding or transfer
	ErrNotFound = errors.New("not found")

	// ErrInsufficientFunds is returned when coins cannot cover a withdrawal or fee
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidAmount rejects negative or overflowing quantities
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrDestinationGone marks a transfer whose destination bank is no longer registered.
	// Terminal for that transfer only.
	ErrDestinationGone = errors.New("destination bank no longer exists")

	// ErrCorruptRecord is returned by repositories when a persisted row cannot be decoded
	ErrCorruptRecord = errors.New("corrupt record")
)
