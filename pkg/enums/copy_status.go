package enums

import "fmt"

// CopyStatus maps to the copy_status enum in Postgres.
type CopyStatus string

const (
	CopyStatusAvailable   CopyStatus = "available"
	CopyStatusBorrowed    CopyStatus = "borrowed"
	CopyStatusLost        CopyStatus = "lost"
	CopyStatusMaintenance CopyStatus = "maintenance"
)

var validCopyStatuses = []CopyStatus{
	CopyStatusAvailable,
	CopyStatusBorrowed,
	CopyStatusLost,
	CopyStatusMaintenance,
}

func (s CopyStatus) String() string {
	return string(s)
}

// IsValid reports whether the value matches the canonical copy_status enum.
func (s CopyStatus) IsValid() bool {
	for _, candidate := range validCopyStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseCopyStatus converts raw input into CopyStatus.
func ParseCopyStatus(value string) (CopyStatus, error) {
	for _, candidate := range validCopyStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid copy status %q", value)
}
