package domain

import (
	"time"
	"unicode/utf8"
)

// Classification is the ledger verdict for a failed work item.
type Classification string

const (
	ClassTransient Classification = "transient"
	ClassPermanent Classification = "permanent"
)

// MaxFailureMessage bounds the stored error message length.
const MaxFailureMessage = 500

// FailureRecord is one ledger entry, unique per (Source, Signature).
type FailureRecord struct {
	Source         string         `db:"source"         json:"source"`
	Signature      Signature      `db:"signature"      json:"signature"`
	Partition      string         `db:"partition_name" json:"partition"`
	Classification Classification `db:"classification" json:"classification"`
	Message        string         `db:"message"        json:"message"`
	AttemptCount   int            `db:"attempt_count"  json:"attempt_count"`
	FirstFailed    time.Time      `db:"first_failed"   json:"first_failed"`
	LastAttempt    time.Time      `db:"last_attempt"   json:"last_attempt"`
}

// Merge returns the classification after a new verdict. Permanent never downgrades.
func (c Classification) Merge(next Classification) Classification {
	if c == ClassPermanent {
		return ClassPermanent
	}
	return next
}

// TruncateMessage cuts msg to MaxFailureMessage bytes on a rune boundary.
func TruncateMessage(msg string) string {
	if len(msg) <= MaxFailureMessage {
		return msg
	}
	cut := MaxFailureMessage
	for cut > 0 && !utf8.RuneStart(msg[cut]) {
		cut--
	}
	return msg[:cut]
}
