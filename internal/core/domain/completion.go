package domain

import "time"

// Completion marks a work item as successfully collected.
type Completion struct {
	Source      string
	Signature   Signature
	Partition   string
	RunID       string
	Tables      []string
	Rows        int
	CollectedAt time.Time
}
