package enums

import "fmt"

// FineStatus maps to the fine_status enum in Postgres.
type FineStatus string

const (
	FineStatusUnpaid FineStatus = "unpaid"
	FineStatusPaid   FineStatus = "paid"
)

var validFineStatuses = []FineStatus{
	FineStatusUnpaid,
	FineStatusPaid,
}

func (s FineStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical fine_status enum.
func (s FineStatus) IsValid() bool {
	for _, candidate := range validFineStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseFineStatus converts raw input into FineStatus.
func ParseFineStatus(value string) (FineStatus, error) {
	for _, candidate := range validFineStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid fine status %q", value)
}
