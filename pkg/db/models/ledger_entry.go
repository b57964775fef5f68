package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// LedgerEntry is one borrowing transaction from request to return.
// The partial unique index keeps a copy bound to at most one active entry.
type LedgerEntry struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	BorrowerID  uuid.UUID          `gorm:"column:borrower_id;type:uuid;not null;index:idx_ledger_entries_borrower_title,priority:1"`
	TitleID     uuid.UUID          `gorm:"column:title_id;type:uuid;not null;index:idx_ledger_entries_borrower_title,priority:2"`
	CopyID      *uuid.UUID         `gorm:"column:copy_id;type:uuid;uniqueIndex:ux_ledger_entries_active_copy,where:status = 'active'"`
	RequestedAt time.Time          `gorm:"column:requested_at;not null"`
	DueAt       *time.Time         `gorm:"column:due_at"`
	ReturnedAt  *time.Time         `gorm:"column:returned_at"`
	Status      enums.LedgerStatus `gorm:"column:status;type:ledger_status;not null;index:idx_ledger_entries_status"`
	RenewCount  int                `gorm:"column:renew_count;not null;default:0"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
