package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/circulation-backend/pkg/enums"
)

// Fine is assessed once per overdue return.
type Fine struct {
	ID            uuid.UUID        `gorm:"column:id;type:uuid;primaryKey"`
	LedgerEntryID uuid.UUID        `gorm:"column:ledger_entry_id;type:uuid;not null;uniqueIndex:ux_fines_ledger_entry"`
	BorrowerID    uuid.UUID        `gorm:"column:borrower_id;type:uuid;not null;index:idx_fines_borrower"`
	Amount        decimal.Decimal  `gorm:"column:amount;type:numeric(10,2);not null"`
	Status        enums.FineStatus `gorm:"column:status;type:fine_status;not null"`
	CreatedAt     time.Time        `gorm:"column:created_at;autoCreateTime"`
	PaidAt        *time.Time       `gorm:"column:paid_at"`
}

func (Fine) TableName() string { return "fines" }
