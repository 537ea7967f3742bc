package entities

import (
	"encoding/json"
	"time"
)

// JobType names a kind of durable scheduled work
type JobType string

const (
	JobTypeCompleteTransfer JobType = "complete_transfer"
)

// Job is a persisted unit of scheduled work
type Job struct {
	ID          int64           `db:"id"`
	Type        JobType         `db:"job_type"`
	Payload     json.RawMessage `db:"payload"`
	RunAt       time.Time       `db:"run_at"`
	Attempts    int             `db:"attempts"`
	LockedUntil *time.Time      `db:"locked_until"`
	LastError   *string         `db:"last_error"`
	CreatedAt   time.Time       `db:"created_at"`
}

// CompleteTransferPayload is the payload of a complete_transfer job
type CompleteTransferPayload struct {
	Code string `json:"code"`
}
