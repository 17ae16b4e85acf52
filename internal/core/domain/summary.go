package domain

import (
	"time"

	"github.com/google/uuid"
)

// PassSummary reports the outcome of one reconciliation pass.
type PassSummary struct {
	RunID       uuid.UUID
	Source      string
	Partition   string
	Planned     int
	Attempted   int
	Succeeded   int
	Failed      int
	Transient   int
	Permanent   int
	Persistence int
	Escalated   int
	Interrupted bool
	StartedAt   time.Time
	Elapsed     time.Duration
}

// SuccessRate is the share of attempted items that succeeded, in percent.
func (s *PassSummary) SuccessRate() float64 {
	if s.Attempted == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Attempted) * 100
}
