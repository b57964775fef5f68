package enums

import "fmt"

// LedgerStatus maps to the ledger_status enum in Postgres.
type LedgerStatus string

const (
	LedgerStatusPending  LedgerStatus = "pending"
	LedgerStatusActive   LedgerStatus = "active"
	LedgerStatusReturned LedgerStatus = "returned"
	LedgerStatusRejected LedgerStatus = "rejected"
)

var validLedgerStatuses = []LedgerStatus{
	LedgerStatusPending,
	LedgerStatusActive,
	LedgerStatusReturned,
	LedgerStatusRejected,
}

func (s LedgerStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical ledger_status enum.
func (s LedgerStatus) IsValid() bool {
	for _, candidate := range validLedgerStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition leaves this status.
func (s LedgerStatus) IsTerminal() bool {
	return s == LedgerStatusReturned || s == LedgerStatusRejected
}

// IsOpen reports whether the entry still counts as a hold on its title.
func (s LedgerStatus) IsOpen() bool {
	return s == LedgerStatusPending || s == LedgerStatusActive
}

// ParseLedgerStatus converts raw input into LedgerStatus.
func ParseLedgerStatus(value string) (LedgerStatus, error) {
	for _, candidate := range validLedgerStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger status %q", value)
}
