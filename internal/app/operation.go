package app

import (
	"time"

	"pwm-go/internal/pm"
)

// Operation tracks the CLI command a PMApp was opened for. Its ID tags every
// log line written during the run.
type Operation struct {
	ID        string
	Name      string
	Status    string // "success" or "error"
	StartedAt time.Time
}

// NewOperation starts an operation at clock's current time.
func NewOperation(id, name string, clock pm.Clock) *Operation {
	return &Operation{
		ID:        id,
		Name:      name,
		Status:    "success",
		StartedAt: clock.Now(),
	}
}

// Fail marks the operation as failed. A nil err leaves the status unchanged.
func (op *Operation) Fail(err error) {
	if err != nil {
		op.Status = "error"
	}
}

// Duration returns how long the operation has been running at now.
func (op *Operation) Duration(now time.Time) time.Duration {
	return now.Sub(op.StartedAt)
}
