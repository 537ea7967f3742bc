package entities

import "time"

// Bank is a registered deposit location. IDs are stable external identifiers.
type Bank struct {
	ID          int       `db:"id"`
	Description string    `db:"description"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}
