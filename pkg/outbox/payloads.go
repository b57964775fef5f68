package outbox

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// LedgerTransitionEvent is the data of every ledger_entry event.
type LedgerTransitionEvent struct {
	EntryID    uuid.UUID  `json:"entryId"`
	BorrowerID uuid.UUID  `json:"borrowerId"`
	TitleID    uuid.UUID  `json:"titleId"`
	CopyID     *uuid.UUID `json:"copyId,omitempty"`
	Status     string     `json:"status"`
	DueAt      *time.Time `json:"dueAt,omitempty"`
	ReturnedAt *time.Time `json:"returnedAt,omitempty"`
	RenewCount int        `json:"renewCount"`
}

// LoanOverdueEvent is emitted by the overdue scan, at most once per entry per day.
type LoanOverdueEvent struct {
	EntryID     uuid.UUID       `json:"entryId"`
	BorrowerID  uuid.UUID       `json:"borrowerId"`
	TitleID     uuid.UUID       `json:"titleId"`
	DueAt       time.Time       `json:"dueAt"`
	OverdueDays int             `json:"overdueDays"`
	AccruedFine decimal.Decimal `json:"accruedFine"`
}

// FineEvent covers fine_assessed and fine_paid.
type FineEvent struct {
	FineID        uuid.UUID       `json:"fineId"`
	LedgerEntryID uuid.UUID       `json:"ledgerEntryId"`
	BorrowerID    uuid.UUID       `json:"borrowerId"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
}

// CopyStatusEvent records a manual copy status change.
type CopyStatusEvent struct {
	CopyID  uuid.UUID `json:"copyId"`
	TitleID uuid.UUID `json:"titleId"`
	From    string    `json:"from"`
	To      string    `json:"to"`
}
